// Copyright 2025 Certen Protocol

package verifier

import (
	"context"

	"github.com/certen/tee-verifier/pkg/collector"
)

// legacyStub emits three hard-coded DataObjects (main/source/cpu) from
// its hardware step only (see spec.md §4.3 "Stubs emit three hard-coded
// DataObjects each"); every step always reports success
// without performing any real check, substituting for a component the
// pre-0.5.3 dstack generation never exposed a verifiable quote for.
type legacyStub struct {
	role      string
	collector *collector.Collector
}

func (s *legacyStub) Role() string { return s.role }

func (s *legacyStub) emitStubTriplet() {
	s.collector.CreateOrUpdate(&collector.DataObject{
		ID:          s.role + "-main",
		DisplayName: s.role + " component (legacy stub)",
		Fields:      map[string]interface{}{"stub": true},
	})
	s.collector.CreateOrUpdate(&collector.DataObject{
		ID:          s.role + "-source",
		DisplayName: s.role + " source (legacy stub)",
		Fields:      map[string]interface{}{"stub": true},
	})
	s.collector.CreateOrUpdate(&collector.DataObject{
		ID:          s.role + "-cpu",
		DisplayName: s.role + " CPU (legacy stub)",
		Fields:      map[string]interface{}{"stub": true},
	})
}

func (s *legacyStub) VerifyHardware(ctx context.Context) (StepResult, error) {
	s.emitStubTriplet()
	return ok(), nil
}

func (s *legacyStub) VerifyOperatingSystem(ctx context.Context) (StepResult, error) {
	return ok(), nil
}

func (s *legacyStub) VerifySourceCode(ctx context.Context) (StepResult, error) {
	return ok(), nil
}

// LegacyKmsStub substitutes for PhalaCloudKms on pre-onchain-KMS apps.
type LegacyKmsStub struct{ legacyStub }

// NewLegacyKmsStub constructs the KMS legacy stub.
func NewLegacyKmsStub(col *collector.Collector) *LegacyKmsStub {
	return &LegacyKmsStub{legacyStub{role: "kms", collector: col}}
}

// LegacyGatewayStub substitutes for Gateway on pre-onchain-KMS apps. It
// does not implement GatewayExtensions: domain-verification steps are
// simply unavailable on the legacy chain, matching spec.md §4.3's chain
// selection table (only PhalaCloudApp remains a real verifier there).
type LegacyGatewayStub struct{ legacyStub }

// NewLegacyGatewayStub constructs the Gateway legacy stub.
func NewLegacyGatewayStub(col *collector.Collector) *LegacyGatewayStub {
	return &LegacyGatewayStub{legacyStub{role: "gateway", collector: col}}
}
