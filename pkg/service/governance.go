// Copyright 2025 Certen Protocol

package service

// Governance describes how a KMS component is governed: either hosted
// directly by an operator, or anchored on a public chain with an
// explorer link, per spec.md §8's literal seed-test table.
type Governance struct {
	Kind       string `json:"kind"` // "OnChain" | "HostedBy"
	ChainName  string `json:"chainName,omitempty"`
	ExplorerURL string `json:"explorerUrl,omitempty"`
	ChainID    int64  `json:"chainId,omitempty"`
}

var chainRegistry = map[int64]struct {
	name    string
	explorer string
}{
	1:    {"Ethereum", "https://etherscan.io"},
	8453: {"Base", "https://basescan.org"},
}

// governanceFor maps a chain_id to its governance descriptor. A nil
// chain_id means the KMS is operator-hosted rather than on-chain
// governed. Unknown non-nil chain ids still report OnChain, with an
// empty chain name/explorer rather than guessing.
func governanceFor(chainID *int64) Governance {
	if chainID == nil {
		return Governance{Kind: "HostedBy", ChainName: "Phala"}
	}
	if known, ok := chainRegistry[*chainID]; ok {
		return Governance{Kind: "OnChain", ChainName: known.name, ExplorerURL: known.explorer, ChainID: *chainID}
	}
	return Governance{Kind: "OnChain", ChainID: *chainID}
}
