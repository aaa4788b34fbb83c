// Copyright 2025 Certen Protocol

package verifier

import (
	"context"
	"fmt"

	"github.com/certen/tee-verifier/pkg/collector"
	"github.com/certen/tee-verifier/pkg/fetch"
)

// Deps bundles the fact-fetcher adapters a componentVerifier needs.
// Unused fields are left nil by callers that don't need them (e.g. a
// KMS verifier has no CTLogClient use).
type Deps struct {
	ToolExec    fetch.ToolExec
	ImageRepo   fetch.ImageRepository
	Registry    fetch.OnChainRegistry
	CTLogClient fetch.CTLogClient
	GatewayCl   fetch.GatewayClient

	// ITAClient and ITAAPIKey are optional: when ITAClient is nil, the
	// Intel Trust Authority corroboration step is skipped entirely. ITA
	// appraisal is additional evidence attached to the cpu DataObject;
	// it does not itself gate hardware pass/fail (spec.md §4.3's step
	// contract table covers only DCAP status and event-log replay).
	ITAClient fetch.ITAClient
	ITAAPIKey string
}

// componentVerifier implements the three-step Verifier contract shared
// by PhalaCloudKms, Gateway, and PhalaCloudApp: hardware quote check
// plus event-log replay, OS measurement comparison, and source-code
// compose-hash verification. Each concrete type embeds this and adds
// its own role name, DataObject wiring nuances, and (for Gateway) the
// domain-verification extensions.
type componentVerifier struct {
	role            string
	chainID         int64
	contractAddress string
	imageFolderName string

	bundle *fetch.AttestationBundle
	deps   Deps

	collector *collector.Collector
}

func (v *componentVerifier) Role() string { return v.role }

func (v *componentVerifier) mainID() string          { return v.role + "-main" }
func (v *componentVerifier) cpuID() string            { return v.role + "-cpu" }
func (v *componentVerifier) quoteID() string          { return v.role + "-quote" }
func (v *componentVerifier) osID() string             { return v.role + "-os" }
func (v *componentVerifier) osCodeID() string         { return v.role + "-os-code" }
func (v *componentVerifier) codeID() string           { return v.role + "-code" }
func (v *componentVerifier) eventLogID(imr int) string { return fmt.Sprintf("%s-event-logs-imr%d", v.role, imr) }

// ensureMain creates the {role}-main object on first use; subsequent
// steps createOrUpdate the same id so the object accumulates fields
// across hardware/os/sourceCode.
func (v *componentVerifier) ensureMain() {
	v.collector.CreateOrUpdate(&collector.DataObject{
		ID:          v.mainID(),
		DisplayName: v.role + " component",
		Fields:      map[string]interface{}{},
	})
}

// VerifyHardware runs DCAP quote verification and, for the App role,
// additionally replays the event log against RTMR0..3 (spec.md §4.3).
func (v *componentVerifier) VerifyHardware(ctx context.Context) (StepResult, error) {
	v.ensureMain()

	if v.bundle == nil || v.bundle.IntelQuote == "" {
		return failed(v.mainID(), "no attestation quote available"), nil
	}

	report, err := v.deps.ToolExec.VerifyQuote(ctx, v.bundle.IntelQuote)
	if err != nil {
		return StepResult{}, fmt.Errorf("verifying quote: %w", err)
	}

	cpuFields := map[string]interface{}{
		"verification_status": report.Status,
	}
	if v.deps.ITAClient != nil {
		if appraisal, itaErr := v.deps.ITAClient.Appraise(ctx, v.bundle.IntelQuote, v.deps.ITAAPIKey); itaErr != nil {
			cpuFields["ita_appraisal_error"] = itaErr.Error()
		} else if appraisal != nil {
			cpuFields["ita_appraisal"] = appraisal
		}
	}

	v.collector.CreateOrUpdate(&collector.DataObject{
		ID:          v.cpuID(),
		DisplayName: v.role + " CPU summary",
		Fields:      cpuFields,
	})
	v.collector.CreateOrUpdate(&collector.DataObject{
		ID:          v.quoteID(),
		DisplayName: v.role + " TD10 report",
		Fields: map[string]interface{}{
			"mrtd":  report.MRTD,
			"rtmr0": report.RTMR0,
			"rtmr1": report.RTMR1,
			"rtmr2": report.RTMR2,
			"rtmr3": report.RTMR3,
		},
	})

	if report.Status != "UpToDate" {
		return failed(v.mainID(), fmt.Sprintf("Hardware verification failed: status %q is not UpToDate", report.Status)), nil
	}

	if v.role != "app" {
		return ok(), nil
	}

	return v.replayEventLog(report)
}

func (v *componentVerifier) replayEventLog(report *fetch.TD10Report) (StepResult, error) {
	computed, mismatches, err := replayAllRTMRs(v.bundle.EventLog, report)
	if err != nil {
		return StepResult{}, fmt.Errorf("replaying event log: %w", err)
	}

	for imr := 0; imr <= 3; imr++ {
		v.collector.CreateOrUpdate(&collector.DataObject{
			ID:          v.eventLogID(imr),
			DisplayName: fmt.Sprintf("%s event log RTMR%d", v.role, imr),
			Fields: map[string]interface{}{
				"imr":          imr,
				"replayed_rtmr": computed[imr],
			},
			Calculations: []Calculation{{
				Name:    "replay_rtmr",
				Inputs:  []string{"event_log"},
				Outputs: []string{"replayed_rtmr"},
			}},
		})
	}

	if len(mismatches) > 0 {
		return failed(v.mainID(), mismatches[0]), nil
	}
	return ok(), nil
}

// Calculation mirrors collector.Calculation to avoid importing the
// collector package's type name directly at every call site.
type Calculation = collector.Calculation

// VerifyOperatingSystem compares the locally recomputed
// {mrtd,rtmr0,rtmr1,rtmr2} against the TCB-reported registers. RTMR3 is
// excluded: it is application-specific, not OS-measured.
func (v *componentVerifier) VerifyOperatingSystem(ctx context.Context) (StepResult, error) {
	v.ensureMain()

	if v.bundle == nil {
		return failed(v.mainID(), "no attestation bundle available"), nil
	}
	if v.deps.ImageRepo == nil {
		return failed(v.mainID(), "no image repository configured"), nil
	}

	localPath, err := v.deps.ImageRepo.Ensure(ctx, v.imageFolderName)
	if err != nil {
		return StepResult{}, fmt.Errorf("ensuring OS image: %w", err)
	}

	measured, err := v.deps.ToolExec.MeasureImages(ctx, localPath, &v.bundle.Info.VMConfig)
	if err != nil {
		return StepResult{}, fmt.Errorf("measuring OS image: %w", err)
	}

	tcb := v.bundle.Info.TcbInfo
	v.collector.CreateOrUpdate(&collector.DataObject{
		ID:          v.osID(),
		DisplayName: v.role + " OS measurement",
		Fields: map[string]interface{}{
			"mrtd":  measured.MRTD,
			"rtmr0": measured.RTMR0,
			"rtmr1": measured.RTMR1,
			"rtmr2": measured.RTMR2,
		},
		Calculations: []Calculation{{
			Name:    "measure_os",
			Inputs:  []string{"bios", "kernel", "cmdline", "initrd", "rootfs", "vm_config"},
			Outputs: []string{"mrtd", "rtmr0", "rtmr1", "rtmr2"},
		}},
	})
	v.collector.CreateOrUpdate(&collector.DataObject{
		ID:          v.osCodeID(),
		DisplayName: v.role + " OS code",
		Fields: map[string]interface{}{
			"os_image_hash": tcb.OSImageHash,
		},
	})

	var mismatches []string
	if normalizeHex(measured.MRTD) != normalizeHex(tcb.MRTD) {
		mismatches = append(mismatches, "MRTD mismatch")
	}
	if normalizeHex(measured.RTMR0) != normalizeHex(tcb.RTMR0) {
		mismatches = append(mismatches, "RTMR0 mismatch")
	}
	if normalizeHex(measured.RTMR1) != normalizeHex(tcb.RTMR1) {
		mismatches = append(mismatches, "RTMR1 mismatch")
	}
	if normalizeHex(measured.RTMR2) != normalizeHex(tcb.RTMR2) {
		mismatches = append(mismatches, "RTMR2 mismatch")
	}

	if len(mismatches) > 0 {
		return failed(v.mainID(), mismatches[0]), nil
	}
	return ok(), nil
}

// VerifySourceCode recomputes the compose hash and cross-checks it
// against the RTMR3 event log entry and, when a registry is wired, the
// on-chain registration record.
func (v *componentVerifier) VerifySourceCode(ctx context.Context) (StepResult, error) {
	v.ensureMain()

	if v.bundle == nil {
		return failed(v.mainID(), "no attestation bundle available"), nil
	}

	result, err := verifyComposeHash(ctx, v.bundle.Info.TcbInfo.AppCompose, v.bundle.EventLog, v.deps.Registry, v.chainID, v.contractAddress)

	v.collector.CreateOrUpdate(&collector.DataObject{
		ID:          v.codeID(),
		DisplayName: v.role + " source code",
		Fields: map[string]interface{}{
			"compose_file":    v.bundle.Info.TcbInfo.AppCompose,
			"calculated_hash": result.calculatedHash,
			"expected_hash":   result.expectedHash,
		},
		Calculations: []Calculation{{
			Name:    "sha256",
			Inputs:  []string{"compose_file"},
			Outputs: []string{"calculated_hash"},
		}},
	})

	if err != nil {
		return failed(v.mainID(), err.Error()), nil
	}
	return ok(), nil
}
