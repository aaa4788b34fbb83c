// Copyright 2025 Certen Protocol

package verifier

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/certen/tee-verifier/pkg/fetch"
)

const rtmrSize = 48 // SHA-384 digest size

// replayRTMR recomputes RTMR index imrIndex from the event log by
// chaining SHA-384 over each matching event's digest, right-padded to
// 48 bytes: MR := SHA384(MR || digest). Returns the resulting register
// as lowercase hex.
func replayRTMR(events []fetch.EventLogEntry, imrIndex int) (string, error) {
	mr := make([]byte, rtmrSize)

	for _, event := range events {
		if event.IMR != imrIndex {
			continue
		}

		digest, err := hex.DecodeString(event.Digest)
		if err != nil {
			return "", fmt.Errorf("decoding event digest for imr%d: %w", imrIndex, err)
		}
		if len(digest) > rtmrSize {
			return "", fmt.Errorf("event digest for imr%d exceeds %d bytes", imrIndex, rtmrSize)
		}

		padded := make([]byte, rtmrSize)
		copy(padded, digest)

		h := sha512.New384()
		h.Write(mr)
		h.Write(padded)
		mr = h.Sum(nil)
	}

	return hex.EncodeToString(mr), nil
}

// replayAllRTMRs recomputes RTMR0..3 and reports per-index mismatches
// against the TD10 report's registers.
func replayAllRTMRs(events []fetch.EventLogEntry, report *fetch.TD10Report) (map[int]string, []string, error) {
	computed := make(map[int]string, 4)
	expected := map[int]string{0: report.RTMR0, 1: report.RTMR1, 2: report.RTMR2, 3: report.RTMR3}

	var mismatches []string
	for i := 0; i <= 3; i++ {
		mr, err := replayRTMR(events, i)
		if err != nil {
			return nil, nil, err
		}
		computed[i] = mr

		if mr != normalizeHex(expected[i]) {
			mismatches = append(mismatches, fmt.Sprintf("RTMR%d mismatch: replayed %s, expected %s", i, mr, expected[i]))
		}
	}

	return computed, mismatches, nil
}

func normalizeHex(s string) string {
	if len(s) >= 2 && (s[0:2] == "0x" || s[0:2] == "0X") {
		s = s[2:]
	}
	return strings.ToLower(s)
}
