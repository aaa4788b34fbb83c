// Copyright 2025 Certen Protocol

package service

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/certen/tee-verifier/pkg/fetch"
)

// decodeHexEventLog decodes OnChainRegistry.KmsInfo's hex-encoded JSON
// event log string into the same []EventLogEntry shape the HTTP fetchers
// return directly as JSON, per spec.md §4.1's registry contract.
func decodeHexEventLog(hexJSON string) ([]fetch.EventLogEntry, error) {
	if hexJSON == "" {
		return nil, nil
	}

	raw, err := hex.DecodeString(trimHexPrefix(hexJSON))
	if err != nil {
		return nil, fmt.Errorf("hex-decoding event log: %w", err)
	}

	var events []fetch.EventLogEntry
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, fmt.Errorf("parsing event log JSON: %w", err)
	}
	return events, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
