// Copyright 2025 Certen Protocol

package queue

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/certen/tee-verifier/pkg/collector"
	"github.com/certen/tee-verifier/pkg/database"
	"github.com/certen/tee-verifier/pkg/service"
)

func TestSummarizeFailure_JoinsErrorsAndFailures(t *testing.T) {
	report := service.Report{
		Errors:   []service.ErrorEntry{{Message: "chain build failed"}},
		Failures: []service.FailureEntry{{ComponentID: "quote", Error: "mismatch"}},
	}
	got := summarizeFailure(report)
	if !strings.Contains(got, "chain build failed") || !strings.Contains(got, "quote: mismatch") {
		t.Errorf("expected both messages joined, got %q", got)
	}
}

func TestSummarizeFailure_NoPartsFallsBackToGenericMessage(t *testing.T) {
	got := summarizeFailure(service.Report{})
	if got == "" {
		t.Error("expected a non-empty fallback message")
	}
}

func TestToAppConfig_CopiesRoutingFields(t *testing.T) {
	app := &database.App{
		AppID:               "app-1",
		BaseImage:           "dstack-0.5.3",
		ContractAddress:     "0xabc",
		ModelOrDomain:       "app.example.com",
		GatewayDomainSuffix: "gw.example.com",
	}
	cfg := toAppConfig(app)
	if cfg.AppID != app.AppID || cfg.BaseImage != app.BaseImage || cfg.ContractAddress != app.ContractAddress {
		t.Errorf("expected routing fields to carry over, got %+v", cfg)
	}
}

// ============================================================================
// processJob end-to-end against miniredis + sqlmock
// ============================================================================

func TestProcessJob_SuccessMarksTaskCompletedWithDataObjectIDs(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("creating sqlmock: %v", err)
	}
	defer db.Close()

	client := database.NewClientForTesting(db)
	tasks := database.NewTaskRepository(client)
	apps := database.NewAppRepository(client)

	taskID := uuid.New()
	fake := &fakeVerifier{report: service.Report{
		Success:     true,
		DataObjects: []*collector.DataObject{{ID: "obj-1"}, {ID: "obj-2"}},
	}}

	q := New(Options{QueueName: "test", VerificationTimeout: 2 * time.Second}, rdb, tasks, apps, nil, fake, nil)

	// GetTask
	taskRows := sqlmock.NewRows([]string{
		"task_id", "app_id", "status", "queue_job_id", "force_refresh",
		"error_message", "artifact_bucket", "artifact_key", "artifact_filename",
		"data_object_ids", "created_at", "started_at", "finished_at",
	}).AddRow(taskID, "app-1", database.TaskStatusPending, taskID.String(), false,
		nil, nil, nil, nil, nil, time.Now(), nil, nil)
	mock.ExpectQuery(`(?s)SELECT.*FROM verification_tasks WHERE task_id = \$1`).WillReturnRows(taskRows)

	// GetApp
	appRows := sqlmock.NewRows([]string{
		"app_id", "display_name", "config_type", "base_image",
		"kms_contract_address", "kms_chain_id", "gateway_domain_suffix",
		"governance_kind", "contract_address", "model_or_domain",
		"deleted", "last_synced_at", "created_at", "updated_at",
	}).AddRow("app-1", "App One", "cloud", "dstack-0.5.3", "", nil, "",
		"HostedBy", "0xabc", "app.example.com", false, time.Now(), time.Now(), time.Now())
	mock.ExpectQuery(`(?s)SELECT.*FROM apps WHERE app_id = \$1`).WillReturnRows(appRows)

	// UpdateTask: mark active
	mock.ExpectExec(`(?s)UPDATE verification_tasks SET.*WHERE task_id = \$\d+`).WillReturnResult(sqlmock.NewResult(0, 1))
	// UpdateTask: mark completed
	mock.ExpectExec(`(?s)UPDATE verification_tasks SET.*WHERE task_id = \$\d+`).WillReturnResult(sqlmock.NewResult(0, 1))

	q.processJob(context.Background(), taskID.String())

	if fake.calls != 1 {
		t.Errorf("expected exactly one Verify call, got %d", fake.calls)
	}
	stats, _ := q.Stats(context.Background())
	if stats.Completed != 1 {
		t.Errorf("expected Completed=1, got %d", stats.Completed)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet sqlmock expectations: %v", err)
	}
}

func TestProcessJob_InvalidAppFailsWithoutCallingVerify(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("creating sqlmock: %v", err)
	}
	defer db.Close()

	client := database.NewClientForTesting(db)
	tasks := database.NewTaskRepository(client)
	apps := database.NewAppRepository(client)

	taskID := uuid.New()
	fake := &fakeVerifier{report: service.Report{Success: true}}
	q := New(Options{QueueName: "test", VerificationTimeout: 2 * time.Second}, rdb, tasks, apps, nil, fake, nil)

	taskRows := sqlmock.NewRows([]string{
		"task_id", "app_id", "status", "queue_job_id", "force_refresh",
		"error_message", "artifact_bucket", "artifact_key", "artifact_filename",
		"data_object_ids", "created_at", "started_at", "finished_at",
	}).AddRow(taskID, "app-1", database.TaskStatusPending, taskID.String(), false,
		nil, nil, nil, nil, nil, time.Now(), nil, nil)
	mock.ExpectQuery(`(?s)SELECT.*FROM verification_tasks WHERE task_id = \$1`).WillReturnRows(taskRows)

	// App exists but lacks the derived routing fields, so App.IsValid() is false.
	invalidAppRows := sqlmock.NewRows([]string{
		"app_id", "display_name", "config_type", "base_image",
		"kms_contract_address", "kms_chain_id", "gateway_domain_suffix",
		"governance_kind", "contract_address", "model_or_domain",
		"deleted", "last_synced_at", "created_at", "updated_at",
	}).AddRow("app-1", "App One", "cloud", "dstack-0.5.3", "", nil, "",
		"HostedBy", "", "", false, time.Now(), time.Now(), time.Now())
	mock.ExpectQuery(`(?s)SELECT.*FROM apps WHERE app_id = \$1`).WillReturnRows(invalidAppRows)

	mock.ExpectExec(`(?s)UPDATE verification_tasks SET.*WHERE task_id = \$\d+`).WillReturnResult(sqlmock.NewResult(0, 1))

	q.processJob(context.Background(), taskID.String())

	if fake.calls != 0 {
		t.Errorf("expected Verify not to be called for an invalid app, got %d calls", fake.calls)
	}
	stats, _ := q.Stats(context.Background())
	if stats.Failed != 1 {
		t.Errorf("expected Failed=1, got %d", stats.Failed)
	}
}
