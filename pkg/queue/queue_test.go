// Copyright 2025 Certen Protocol

package queue

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/certen/tee-verifier/pkg/database"
	"github.com/certen/tee-verifier/pkg/service"
	"github.com/certen/tee-verifier/pkg/verifier"
)

type fakeVerifier struct {
	report service.Report
	calls  int
}

func (f *fakeVerifier) Verify(ctx context.Context, app service.AppConfig, flagOverride *verifier.Flags) service.Report {
	f.calls++
	return f.report
}

func newTestQueue(t *testing.T) (*Queue, sqlmock.Sqlmock, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("creating sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	client := database.NewClientForTesting(db)
	tasks := database.NewTaskRepository(client)
	apps := database.NewAppRepository(client)

	q := New(Options{QueueName: "test", Concurrency: 1, VerificationTimeout: 200 * time.Millisecond, PollTimeout: 50 * time.Millisecond},
		rdb, tasks, apps, nil, &fakeVerifier{report: service.Report{Success: true}}, nil)

	return q, mock, mr
}

// ============================================================================
// AddTask dedup
// ============================================================================

func TestAddTask_SecondCallForSameAppIsANoOp(t *testing.T) {
	q, mock, _ := newTestQueue(t)
	ctx := context.Background()

	appRows := sqlmock.NewRows([]string{
		"app_id", "display_name", "config_type", "base_image",
		"kms_contract_address", "kms_chain_id", "gateway_domain_suffix",
		"governance_kind", "contract_address", "model_or_domain",
		"deleted", "last_synced_at", "created_at", "updated_at",
	}).AddRow("app-1", "App One", "cloud", "dstack-0.5.3", "", nil, "",
		"HostedBy", "0xabc", "app.example.com", false, time.Now(), time.Now(), time.Now())

	// GetApp is called unconditionally on every AddTask attempt, so both
	// calls below need their own row.
	mock.ExpectQuery(`(?s)SELECT.*FROM apps WHERE app_id = \$1`).WithArgs("app-1").WillReturnRows(appRows)

	mock.ExpectQuery(`(?s)INSERT INTO verification_tasks.*RETURNING task_id, created_at`).
		WillReturnRows(sqlmock.NewRows([]string{"task_id", "created_at"}).AddRow("11111111-1111-1111-1111-111111111111", time.Now()))

	id1, err := q.AddTask(ctx, "app-1", false)
	if err != nil {
		t.Fatalf("unexpected error on first AddTask: %v", err)
	}
	if id1 == "" {
		t.Fatal("expected a non-empty task id")
	}

	appRows2 := sqlmock.NewRows([]string{
		"app_id", "display_name", "config_type", "base_image",
		"kms_contract_address", "kms_chain_id", "gateway_domain_suffix",
		"governance_kind", "contract_address", "model_or_domain",
		"deleted", "last_synced_at", "created_at", "updated_at",
	}).AddRow("app-1", "App One", "cloud", "dstack-0.5.3", "", nil, "",
		"HostedBy", "0xabc", "app.example.com", false, time.Now(), time.Now(), time.Now())
	mock.ExpectQuery(`(?s)SELECT.*FROM apps WHERE app_id = \$1`).WithArgs("app-1").WillReturnRows(appRows2)

	// Second call: the Redis in-flight lock is already held by the first
	// task, so no CreateTask/LPush is expected this time.
	id2, err := q.AddTask(ctx, "app-1", false)
	if err != nil {
		t.Fatalf("unexpected error on second AddTask: %v", err)
	}
	if id2 != id1 {
		t.Errorf("expected the second AddTask to return the existing task id %q, got %q", id1, id2)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet sqlmock expectations: %v", err)
	}
}

// ============================================================================
// Stats / HealthCheck
// ============================================================================

func TestStats_ReportsWaitingFromRedisLength(t *testing.T) {
	q, _, mr := newTestQueue(t)
	ctx := context.Background()

	mr.Lpush("test:jobs", "task-a")
	mr.Lpush("test:jobs", "task-b")

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Waiting != 2 {
		t.Errorf("expected Waiting=2, got %d", stats.Waiting)
	}
}

func TestHealthCheck_PingsRedisAndReturnsStats(t *testing.T) {
	q, _, _ := newTestQueue(t)
	if _, err := q.HealthCheck(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
