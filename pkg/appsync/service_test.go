// Copyright 2025 Certen Protocol

package appsync

import (
	"context"
	"testing"

	"github.com/certen/tee-verifier/pkg/database"
)

// Without a configured Metabase client/card id, both sync operations must
// be safe no-ops — a deployment may run the scheduler purely for cleanup
// and verification admission.
func TestSyncApps_NoMetabaseConfiguredIsANoOp(t *testing.T) {
	repos := &database.Repositories{
		Apps:     database.NewAppRepository(nil),
		Tasks:    database.NewTaskRepository(nil),
		Profiles: database.NewProfileRepository(nil),
	}
	svc := NewService(nil, 0, 0, repos, nil)

	result, err := svc.SyncApps(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Synced != 0 {
		t.Errorf("expected Synced=0, got %d", result.Synced)
	}
}

func TestSyncProfiles_NoMetabaseConfiguredIsANoOp(t *testing.T) {
	repos := &database.Repositories{
		Apps:     database.NewAppRepository(nil),
		Tasks:    database.NewTaskRepository(nil),
		Profiles: database.NewProfileRepository(nil),
	}
	svc := NewService(nil, 0, 0, repos, nil)

	result, err := svc.SyncProfiles(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Synced != 0 {
		t.Errorf("expected Synced=0, got %d", result.Synced)
	}
}
