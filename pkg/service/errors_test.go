// Copyright 2025 Certen Protocol

package service

import (
	"errors"
	"strings"
	"testing"
)

// ============================================================================
// mapTopLevelError
// ============================================================================

func TestMapTopLevelError(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		wantHas string
	}{
		{"nil error", nil, "Unknown verification error occurred"},
		{"invalid url", errors.New("fetch() URL is invalid: ::::"), "Verification failed due to invalid URL configuration"},
		{"network failure", errors.New("Failed to fetch: connection refused"), "Network error during verification"},
		{"generic message passes through", errors.New("something else went wrong"), "something else went wrong"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := mapTopLevelError(tc.err)
			if !strings.Contains(got, tc.wantHas) {
				t.Errorf("mapTopLevelError(%v) = %q, want it to contain %q", tc.err, got, tc.wantHas)
			}
		})
	}
}

func TestMapTopLevelError_EmptyMessageFallsBackToUnknown(t *testing.T) {
	got := mapTopLevelError(errors.New(""))
	if got != "Unknown verification error occurred" {
		t.Errorf("mapTopLevelError(empty) = %q, want the unknown-error fallback", got)
	}
}
