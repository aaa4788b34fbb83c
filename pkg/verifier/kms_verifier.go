// Copyright 2025 Certen Protocol

package verifier

import (
	"github.com/certen/tee-verifier/pkg/collector"
	"github.com/certen/tee-verifier/pkg/fetch"
)

// PhalaCloudKms verifies the KMS component's hardware/OS/source-code
// state, sharing componentVerifier's step implementations under role
// "kms".
type PhalaCloudKms struct {
	componentVerifier
}

// NewPhalaCloudKms constructs a KMS verifier for one verification run.
func NewPhalaCloudKms(bundle *fetch.AttestationBundle, chainID int64, contractAddress, imageFolderName string, deps Deps, col *collector.Collector) *PhalaCloudKms {
	return &PhalaCloudKms{componentVerifier{
		role:            "kms",
		chainID:         chainID,
		contractAddress: contractAddress,
		imageFolderName: imageFolderName,
		bundle:          bundle,
		deps:            deps,
		collector:       col,
	}}
}
