// Copyright 2025 Certen Protocol

package verifier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/certen/tee-verifier/pkg/fetch"
)

// composeHashEventName is the event log entry name whose payload carries
// the expected compose hash, recorded into RTMR3 at boot.
const composeHashEventName = "compose-hash"

// composeHashResult is the outcome of recomputing and cross-checking an
// app_compose manifest's SHA-256 against its RTMR3 event-log entry and
// (optionally) an on-chain registry.
type composeHashResult struct {
	calculatedHash string
	expectedHash   string
	registered     *bool // nil when no registry check was performed
}

func calculateComposeHash(appCompose string) string {
	sum := sha256.Sum256([]byte(appCompose))
	return hex.EncodeToString(sum[:])
}

func expectedComposeHash(events []fetch.EventLogEntry) (string, bool) {
	for _, event := range events {
		if event.IMR == 3 && event.Event == composeHashEventName {
			return event.EventPayload, true
		}
	}
	return "", false
}

// verifyComposeHash recomputes SHA-256(appCompose), compares it against
// the RTMR3 compose-hash event, and — when registry is non-nil —
// additionally requires on-chain registration of that hash.
func verifyComposeHash(ctx context.Context, appCompose string, events []fetch.EventLogEntry, registry fetch.OnChainRegistry, chainID int64, contractAddress string) (composeHashResult, error) {
	calculated := calculateComposeHash(appCompose)

	expected, found := expectedComposeHash(events)
	if !found {
		return composeHashResult{calculatedHash: calculated}, fmt.Errorf("no compose-hash event found in RTMR3 event log")
	}

	if normalizeHex(calculated) != normalizeHex(expected) {
		return composeHashResult{calculatedHash: calculated, expectedHash: expected},
			fmt.Errorf("compose hash mismatch: calculated %s, expected %s", calculated, expected)
	}

	result := composeHashResult{calculatedHash: calculated, expectedHash: expected}
	if registry == nil {
		return result, nil
	}

	registered, err := registry.AppComposeHashRegistered(ctx, chainID, contractAddress, expected)
	if err != nil {
		return result, fmt.Errorf("checking on-chain compose hash registration: %w", err)
	}
	result.registered = &registered
	if !registered {
		return result, fmt.Errorf("Compose hash is not registered in the on-chain registry")
	}

	return result, nil
}
