// Copyright 2025 Certen Protocol

package verifier

import (
	"context"

	"github.com/certen/tee-verifier/pkg/collector"
	"github.com/certen/tee-verifier/pkg/fetch"
)

// PhalaCloudApp verifies the application component. On top of the
// shared hardware/OS/source-code steps it additionally records NVIDIA
// GPU evidence when the bundle carries one.
type PhalaCloudApp struct {
	componentVerifier
}

// NewPhalaCloudApp constructs an App verifier for one verification run.
func NewPhalaCloudApp(bundle *fetch.AttestationBundle, chainID int64, contractAddress, imageFolderName string, deps Deps, col *collector.Collector) *PhalaCloudApp {
	return &PhalaCloudApp{componentVerifier{
		role:            "app",
		chainID:         chainID,
		contractAddress: contractAddress,
		imageFolderName: imageFolderName,
		bundle:          bundle,
		deps:            deps,
		collector:       col,
	}}
}

// VerifyHardware extends the shared implementation with GPU evidence
// recording; the GPU evidence itself does not gate verifyHardware's
// pass/fail (spec.md §4.3 only requires the DCAP check and, for App,
// the event-log replay).
func (v *PhalaCloudApp) VerifyHardware(ctx context.Context) (StepResult, error) {
	result, err := v.componentVerifier.VerifyHardware(ctx)
	if err != nil || !result.IsValid {
		return result, err
	}

	if v.bundle.NvidiaPayload != nil {
		v.collector.CreateOrUpdate(&collector.DataObject{
			ID:          "app-gpu",
			DisplayName: "app GPU summary",
			Fields:      map[string]interface{}{},
		})
		v.collector.CreateOrUpdate(&collector.DataObject{
			ID:          "app-gpu-quote",
			DisplayName: "app GPU quote",
			Fields: map[string]interface{}{
				"nvidia_payload": *v.bundle.NvidiaPayload,
			},
		})
	}

	return result, nil
}
