// Copyright 2025 Certen Protocol

package verifier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/certen/tee-verifier/pkg/fetch"
)

type fakeRegistry struct {
	registered bool
	err        error
}

func (f *fakeRegistry) KmsInfo(ctx context.Context, chainID int64, contractAddress string) (string, string, string, error) {
	return "", "", "", nil
}

func (f *fakeRegistry) AppComposeHashRegistered(ctx context.Context, chainID int64, contractAddress, composeHash string) (bool, error) {
	return f.registered, f.err
}

func composeHashEvent(appCompose string) fetch.EventLogEntry {
	sum := sha256.Sum256([]byte(appCompose))
	return fetch.EventLogEntry{IMR: 3, Event: composeHashEventName, EventPayload: hex.EncodeToString(sum[:])}
}

// ============================================================================
// verifyComposeHash
// ============================================================================

func TestVerifyComposeHash_MatchNoRegistry(t *testing.T) {
	compose := `{"docker_compose_file":"version: '3'"}`
	events := []fetch.EventLogEntry{composeHashEvent(compose)}

	result, err := verifyComposeHash(context.Background(), compose, events, nil, 0, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.calculatedHash != result.expectedHash {
		t.Errorf("expected calculated and expected hashes to match: %+v", result)
	}
	if result.registered != nil {
		t.Errorf("expected no registry check to have run")
	}
}

func TestVerifyComposeHash_MismatchFails(t *testing.T) {
	events := []fetch.EventLogEntry{composeHashEvent("some-other-compose")}

	_, err := verifyComposeHash(context.Background(), "actual-compose", events, nil, 0, "")
	if err == nil {
		t.Fatal("expected a mismatch error, got nil")
	}
}

func TestVerifyComposeHash_MissingEventFails(t *testing.T) {
	_, err := verifyComposeHash(context.Background(), "anything", nil, nil, 0, "")
	if err == nil {
		t.Fatal("expected an error for a missing compose-hash event, got nil")
	}
}

// Scenario 5 from spec.md §8: hash matches RTMR3 but registry says unregistered.
func TestVerifyComposeHash_UnregisteredOnChainFails(t *testing.T) {
	compose := "app-compose-payload"
	events := []fetch.EventLogEntry{composeHashEvent(compose)}

	_, err := verifyComposeHash(context.Background(), compose, events, &fakeRegistry{registered: false}, 8453, "0xcontract")
	if err == nil {
		t.Fatal("expected an unregistered-on-chain error, got nil")
	}
	if err.Error() != "Compose hash is not registered in the on-chain registry" {
		t.Errorf("error message = %q, want the literal spec string", err.Error())
	}
}

func TestVerifyComposeHash_RegisteredOnChainSucceeds(t *testing.T) {
	compose := "app-compose-payload"
	events := []fetch.EventLogEntry{composeHashEvent(compose)}

	result, err := verifyComposeHash(context.Background(), compose, events, &fakeRegistry{registered: true}, 8453, "0xcontract")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.registered == nil || !*result.registered {
		t.Errorf("expected registered=true, got %+v", result.registered)
	}
}
