// Copyright 2025 Certen Protocol
//
// Package verifier implements C3: the composable chain of component
// verifiers (KMS, Gateway, Application) plus their legacy stub
// substitutes, and the step-dispatch orchestration that drives them
// against a shared per-verification collector.
package verifier

import (
	"context"
	"strings"
)

// StepFailure is a deterministic, attributable verification failure:
// componentId identifies which DataObject the failure concerns.
type StepFailure struct {
	ComponentID string `json:"componentId"`
	Error       string `json:"error"`
}

// StepResult is the uniform return shape for every verification step.
type StepResult struct {
	IsValid  bool          `json:"isValid"`
	Failures []StepFailure `json:"failures"`
}

func ok() StepResult { return StepResult{IsValid: true} }

func failed(componentID, message string) StepResult {
	return StepResult{IsValid: false, Failures: []StepFailure{{ComponentID: componentID, Error: message}}}
}

// Flags selects which steps execute(chain, flags) runs, in the fixed
// order hardware, os, sourceCode, then the Gateway-only extensions.
type Flags struct {
	Hardware          bool
	OS                bool
	SourceCode        bool
	TeeControlledKey  bool
	CertificateKey    bool
	DnsCAA            bool
	CTLog             bool
}

// DefaultFlags returns every flag true except CTLog, per spec.md §4.4's
// service-level default (an explicit Open Question resolution: the
// schema's own default of true is overridden here).
func DefaultFlags() Flags {
	return Flags{
		Hardware:         true,
		OS:               true,
		SourceCode:       true,
		TeeControlledKey: true,
		CertificateKey:   true,
		DnsCAA:           true,
		CTLog:            false,
	}
}

// Merge returns override in place of f when override is non-nil,
// implementing C4's "merge flags over defaults" step. Since Flags is
// all-bool, merging means: a caller-supplied *Flags always wins
// entirely — callers wanting partial overrides must start from
// DefaultFlags() themselves.
func (f Flags) Merge(override *Flags) Flags {
	if override == nil {
		return f
	}
	return *override
}

// ParseFlagsCSV parses the VERIFICATION_FLAGS config shape (a
// comma-separated subset of "hardware,os,sourceCode,teeControlledKey,
// certificateKey,dnsCAA,ctLog") into a Flags value with every named flag
// set true and every omitted flag false. An empty string returns nil,
// meaning "no override — use DefaultFlags()".
func ParseFlagsCSV(csv string) *Flags {
	csv = strings.TrimSpace(csv)
	if csv == "" {
		return nil
	}

	var f Flags
	for _, part := range strings.Split(csv, ",") {
		switch strings.TrimSpace(part) {
		case "hardware":
			f.Hardware = true
		case "os":
			f.OS = true
		case "sourceCode":
			f.SourceCode = true
		case "teeControlledKey":
			f.TeeControlledKey = true
		case "certificateKey":
			f.CertificateKey = true
		case "dnsCAA":
			f.DnsCAA = true
		case "ctLog":
			f.CTLog = true
		}
	}
	return &f
}

// TopError is an unexpected exception surfaced at the top level,
// distinct from a step's deterministic Failures.
type TopError struct {
	Message string `json:"message"`
}

// ExecutionResult is the accumulated output of running a chain through
// execute(chain, flags): step failures from every verifier/step plus
// any top-level errors caught along the way.
type ExecutionResult struct {
	Failures []StepFailure
	Errors   []TopError
}

func (r *ExecutionResult) addFailures(failures []StepFailure) {
	r.Failures = append(r.Failures, failures...)
}

func (r *ExecutionResult) addError(message string) {
	r.Errors = append(r.Errors, TopError{Message: message})
}

// Verifier is the contract every component verifier (KMS, Gateway,
// Application) and legacy stub satisfies. A verifier given a flag it
// doesn't support (e.g. sourceCode on a stub) must treat the step as a
// no-op success rather than erroring.
type Verifier interface {
	// Role names this verifier's contribution for DataObject ids, e.g.
	// "kms", "gateway", "app".
	Role() string

	VerifyHardware(ctx context.Context) (StepResult, error)
	VerifyOperatingSystem(ctx context.Context) (StepResult, error)
	VerifySourceCode(ctx context.Context) (StepResult, error)
}

// GatewayExtensions is implemented by verifiers that also perform the
// domain-verification steps (Gateway only).
type GatewayExtensions interface {
	VerifyTeeControlledKey(ctx context.Context) (StepResult, error)
	VerifyCertificateKey(ctx context.Context) (StepResult, error)
	VerifyDnsCAA(ctx context.Context) (StepResult, error)
	VerifyCTLog(ctx context.Context) (StepResult, error)
}
