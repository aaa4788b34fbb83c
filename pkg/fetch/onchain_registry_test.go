// Copyright 2025 Certen Protocol

package fetch

import "testing"

// ============================================================================
// rpcURLsFromJSON
// ============================================================================

func TestRpcURLsFromJSON_DecodesStringKeyedMap(t *testing.T) {
	got, err := rpcURLsFromJSON(`{"1":"https://eth.example.com","8453":"https://base.example.com"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got[1] != "https://eth.example.com" || got[8453] != "https://base.example.com" {
		t.Errorf("unexpected decoded map: %+v", got)
	}
}

func TestRpcURLsFromJSON_InvalidChainIDKeyErrors(t *testing.T) {
	if _, err := rpcURLsFromJSON(`{"not-a-number":"https://x.example.com"}`); err == nil {
		t.Fatal("expected an error for a non-numeric chain_id key, got nil")
	}
}

func TestRpcURLsFromJSON_MalformedJSONErrors(t *testing.T) {
	if _, err := rpcURLsFromJSON(`not json`); err == nil {
		t.Fatal("expected an error for malformed JSON, got nil")
	}
}

// ============================================================================
// clientFor
// ============================================================================

func TestClientFor_UnconfiguredChainIDErrors(t *testing.T) {
	r, err := NewEVMRegistry(map[int64]string{1: "https://eth.example.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.clientFor(999); err == nil {
		t.Fatal("expected an error for an unconfigured chain_id, got nil")
	}
}
