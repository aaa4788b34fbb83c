// Copyright 2025 Certen Protocol

package storage

import (
	"strings"
	"testing"
	"time"
)

// ============================================================================
// artifactKey
// ============================================================================

func TestArtifactKey_IsDatePartitionedAndAppScoped(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)

	filename, key := artifactKey("app-123", now)

	if !strings.HasPrefix(filename, "app-123-") || !strings.HasSuffix(filename, ".json") {
		t.Errorf("unexpected filename shape: %q", filename)
	}
	if !strings.HasPrefix(key, "artifacts/2026/07/30/") {
		t.Errorf("expected key to be date-partitioned, got %q", key)
	}
	if !strings.HasSuffix(key, filename) {
		t.Errorf("expected key to end with the filename, got %q", key)
	}
}

func TestArtifactKey_UniquePerCall(t *testing.T) {
	now := time.Now().UTC()
	f1, k1 := artifactKey("app-1", now)
	f2, k2 := artifactKey("app-1", now)

	if f1 == f2 || k1 == k2 {
		t.Errorf("expected distinct UUID-derived keys across calls, got %q / %q", k1, k2)
	}
}
