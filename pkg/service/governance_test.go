// Copyright 2025 Certen Protocol

package service

import "testing"

// ============================================================================
// governanceFor
// ============================================================================

func TestGovernanceFor(t *testing.T) {
	base := int64(8453)
	eth := int64(1)
	unknown := int64(999)

	cases := []struct {
		name    string
		chainID *int64
		want    Governance
	}{
		{"nil chain is hosted by Phala", nil, Governance{Kind: "HostedBy", ChainName: "Phala"}},
		{"base mainnet", &base, Governance{Kind: "OnChain", ChainName: "Base", ExplorerURL: "https://basescan.org", ChainID: 8453}},
		{"ethereum mainnet", &eth, Governance{Kind: "OnChain", ChainName: "Ethereum", ExplorerURL: "https://etherscan.io", ChainID: 1}},
		{"unknown chain still reports OnChain", &unknown, Governance{Kind: "OnChain", ChainID: 999}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := governanceFor(tc.chainID)
			if got != tc.want {
				t.Errorf("governanceFor(%v) = %+v, want %+v", tc.chainID, got, tc.want)
			}
		})
	}
}
