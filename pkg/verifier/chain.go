// Copyright 2025 Certen Protocol

package verifier

import (
	"context"
	"fmt"

	"github.com/certen/tee-verifier/pkg/collector"
	"github.com/certen/tee-verifier/pkg/fetch"
	"github.com/certen/tee-verifier/pkg/versionpolicy"
)

// ChainInputs gathers everything BuildChain needs to select and
// construct the three (or two-stub-plus-one) component verifiers.
type ChainInputs struct {
	Policy versionpolicy.Policy

	KMSBundle     *fetch.AttestationBundle
	GatewayBundle *fetch.AttestationBundle
	AppBundle     *fetch.AttestationBundle

	ChainID         int64
	ContractAddress string
	ImageFolderName string
	Domain          string
	GatewayRPC      string
	AcmeCAA         []string

	Deps Deps
}

// BuildChain selects [PhalaCloudKms, Gateway, PhalaCloudApp] when the
// app's version policy supports on-chain KMS governance, or
// [LegacyKmsStub, LegacyGatewayStub, PhalaCloudApp] otherwise, per
// spec.md §4.3's chain-selection rule.
func BuildChain(in ChainInputs, col *collector.Collector) []Verifier {
	app := NewPhalaCloudApp(in.AppBundle, in.ChainID, in.ContractAddress, in.ImageFolderName, in.Deps, col)

	if in.Policy.IsLegacyVersion() {
		return []Verifier{
			NewLegacyKmsStub(col),
			NewLegacyGatewayStub(col),
			app,
		}
	}

	kms := NewPhalaCloudKms(in.KMSBundle, in.ChainID, in.ContractAddress, in.ImageFolderName, in.Deps, col)
	gateway := NewGateway(in.GatewayBundle, in.ChainID, in.ContractAddress, in.ImageFolderName, in.Domain, in.GatewayRPC, in.AcmeCAA, in.Deps, col)
	return []Verifier{kms, gateway, app}
}

// Execute runs every verifier in chain, for every flagged step in the
// fixed order (hardware, os, sourceCode, then the Gateway-only
// extensions), per spec.md §4.3's step-dispatch rule: a failing
// verifier does not skip subsequent verifiers, and a step panic/error
// is caught and routed to the top-level Errors channel rather than
// aborting the chain.
func Execute(ctx context.Context, chain []Verifier, flags Flags) ExecutionResult {
	var result ExecutionResult

	for _, v := range chain {
		if flags.Hardware {
			runStep(ctx, &result, v.Role(), "verifyHardware", v.VerifyHardware)
		}
		if flags.OS {
			runStep(ctx, &result, v.Role(), "verifyOperatingSystem", v.VerifyOperatingSystem)
		}
		if flags.SourceCode {
			runStep(ctx, &result, v.Role(), "verifySourceCode", v.VerifySourceCode)
		}

		ext, isGateway := v.(GatewayExtensions)
		if !isGateway {
			continue
		}
		if flags.TeeControlledKey {
			runStep(ctx, &result, v.Role(), "verifyTeeControlledKey", ext.VerifyTeeControlledKey)
		}
		if flags.CertificateKey {
			runStep(ctx, &result, v.Role(), "verifyCertificateKey", ext.VerifyCertificateKey)
		}
		if flags.DnsCAA {
			runStep(ctx, &result, v.Role(), "verifyDnsCAA", ext.VerifyDnsCAA)
		}
		if flags.CTLog {
			runStep(ctx, &result, v.Role(), "verifyCTLog", ext.VerifyCTLog)
		}
	}

	return result
}

// runStep invokes one step, converting a returned error into a
// top-level Errors entry (the "exception" channel) and a successful
// StepResult's Failures into the step-level Failures channel. A panic
// inside a step is also recovered and routed to Errors: step authors
// are not trusted to never panic on malformed upstream data.
func runStep(ctx context.Context, result *ExecutionResult, role, stepName string, step func(context.Context) (StepResult, error)) {
	defer func() {
		if r := recover(); r != nil {
			result.addError(fmt.Sprintf("%s.%s panicked: %v", role, stepName, r))
		}
	}()

	stepResult, err := step(ctx)
	if err != nil {
		result.addError(fmt.Sprintf("%s.%s: %v", role, stepName, err))
		return
	}
	result.addFailures(stepResult.Failures)
}
