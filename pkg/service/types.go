// Copyright 2025 Certen Protocol
//
// Package service implements C4: the per-call verification lifecycle
// that fetches facts, builds and executes a verifier chain, wires
// post-chain relationships, and assembles the final report artifact.
package service

import (
	"time"

	"github.com/certen/tee-verifier/pkg/collector"
	"github.com/certen/tee-verifier/pkg/verifier"
)

// AppConfig is the per-call input to Verify: the subset of a database.App
// record the verification pipeline needs, already routed by versionpolicy
// during app sync (C6) — Verify does not re-derive ContractAddress or
// ModelOrDomain, it consumes them.
type AppConfig struct {
	AppID               string
	BaseImage           string
	ContractAddress     string
	ModelOrDomain       string // domain (modern) used for gateway CAA/cert checks
	KMSChainID          *int64
	GatewayDomainSuffix string
	AcmeCAA             []string
}

// ErrorEntry is one top-level exception, per spec.md §6's output artifact.
type ErrorEntry struct {
	Message string `json:"message"`
}

// FailureEntry is one per-step failure, per spec.md §6's output artifact.
type FailureEntry struct {
	ComponentID string `json:"componentId"`
	Error       string `json:"error"`
}

// Report is the final verification report artifact (spec.md §6).
type Report struct {
	DataObjects []*collector.DataObject `json:"dataObjects"`
	CompletedAt string                  `json:"completedAt"`
	Errors      []ErrorEntry            `json:"errors"`
	Failures    []FailureEntry          `json:"failures"`
	Success     bool                    `json:"success"`
}

func newReport(completedAt time.Time, result verifier.ExecutionResult) Report {
	r := Report{
		CompletedAt: completedAt.UTC().Format(time.RFC3339),
		Errors:      make([]ErrorEntry, 0, len(result.Errors)),
		Failures:    make([]FailureEntry, 0, len(result.Failures)),
	}
	for _, e := range result.Errors {
		r.Errors = append(r.Errors, ErrorEntry{Message: e.Message})
	}
	for _, f := range result.Failures {
		r.Failures = append(r.Failures, FailureEntry{ComponentID: f.ComponentID, Error: f.Error})
	}
	r.Success = len(r.Errors) == 0 && len(r.Failures) == 0
	return r
}
