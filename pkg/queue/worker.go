// Copyright 2025 Certen Protocol

package queue

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/certen/tee-verifier/pkg/database"
	"github.com/certen/tee-verifier/pkg/service"
)

// processJob implements the per-job worker state machine of spec.md
// §4.5: app lookup, mark active, race verification against the
// verification timeout, then the completion hook.
func (q *Queue) processJob(ctx context.Context, taskID string) {
	task, err := q.tasks.GetTask(ctx, taskID)
	if err != nil {
		q.logger.Printf("task %s: lookup failed: %v", taskID, err)
		return
	}
	defer q.redis.Del(ctx, q.appLockKey(task.AppID))

	app, err := q.apps.GetApp(ctx, task.AppID)
	if err != nil || !app.IsValid() {
		q.failTask(ctx, task, "app not found or invalid: contract_address/model_or_domain missing")
		return
	}

	atomic.AddInt64(&q.active, 1)
	defer atomic.AddInt64(&q.active, -1)

	now := time.Now()
	active := database.TaskStatusActive
	if _, err := q.tasks.UpdateTask(ctx, taskID, database.TaskPatch{Status: &active, StartedAt: &now}); err != nil {
		q.logger.Printf("task %s: marking active failed (continuing): %v", taskID, err)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, q.opts.VerificationTimeout)
	defer cancel()

	type outcome struct{ report service.Report }
	done := make(chan outcome, 1)
	go func() {
		done <- outcome{q.verify.Verify(verifyCtx, toAppConfig(app), q.opts.DefaultFlags)}
	}()

	select {
	case o := <-done:
		q.completeJob(ctx, task, o.report)
	case <-verifyCtx.Done():
		q.timeoutJob(ctx, task)
	}
}

// completeJob implements the completion hook: upload on success, update
// the task row either way, best-effort (logged, not retried, on update
// failure).
func (q *Queue) completeJob(ctx context.Context, task *database.VerificationTask, report service.Report) {
	taskID := task.TaskID.String()

	if !report.Success {
		atomic.AddInt64(&q.failed, 1)
		failed := database.TaskStatusFailed
		finishedAt := time.Now()
		msg := summarizeFailure(report)
		if _, err := q.tasks.UpdateTask(ctx, taskID, database.TaskPatch{
			Status: &failed, FinishedAt: &finishedAt, ErrorMessage: &msg,
		}); err != nil {
			q.logger.Printf("task %s: updating failed status failed: %v", taskID, err)
		}
		return
	}

	finishedAt := time.Now()

	ids := make([]string, 0, len(report.DataObjects))
	for _, obj := range report.DataObjects {
		ids = append(ids, obj.ID)
	}

	if q.sink != nil {
		upload, err := q.sink.UploadJSON(ctx, task.AppID, report)
		if err != nil {
			// A verification success whose artifact fails to persist is not a
			// completed task: post-processing failure is unrecoverable and
			// must not be retried (spec §7), and artifact pointers must be
			// present iff status=completed (spec §3).
			atomic.AddInt64(&q.failed, 1)
			failed := database.TaskStatusFailed
			msg := fmt.Sprintf("post-processing failed: %v", err)
			if _, uerr := q.tasks.UpdateTask(ctx, taskID, database.TaskPatch{
				Status: &failed, FinishedAt: &finishedAt, ErrorMessage: &msg, DataObjectIDs: ids,
			}); uerr != nil {
				q.logger.Printf("task %s: updating post-processing-failed status failed: %v", taskID, uerr)
			}
			return
		}

		atomic.AddInt64(&q.completed, 1)
		completed := database.TaskStatusCompleted
		patch := database.TaskPatch{
			Status: &completed, FinishedAt: &finishedAt, DataObjectIDs: ids,
			ArtifactBucket: &upload.Bucket, ArtifactKey: &upload.Key, ArtifactFilename: &upload.Filename,
		}
		if _, err := q.tasks.UpdateTask(ctx, taskID, patch); err != nil {
			q.logger.Printf("task %s: updating completed status failed: %v", taskID, err)
		}
		return
	}

	atomic.AddInt64(&q.completed, 1)
	completed := database.TaskStatusCompleted
	patch := database.TaskPatch{Status: &completed, FinishedAt: &finishedAt, DataObjectIDs: ids}
	if _, err := q.tasks.UpdateTask(ctx, taskID, patch); err != nil {
		q.logger.Printf("task %s: updating completed status failed: %v", taskID, err)
	}
}

// timeoutJob marks the task as an UnrecoverableError: the queue does
// not retry a verification-timeout failure (spec.md §4.5, §8's P4/P-TMO).
func (q *Queue) timeoutJob(ctx context.Context, task *database.VerificationTask) {
	atomic.AddInt64(&q.failed, 1)
	failed := database.TaskStatusFailed
	finishedAt := time.Now()
	msg := fmt.Sprintf("verification exceeded %s deadline (unrecoverable, not retried)", q.opts.VerificationTimeout)
	if _, err := q.tasks.UpdateTask(ctx, task.TaskID.String(), database.TaskPatch{
		Status: &failed, FinishedAt: &finishedAt, ErrorMessage: &msg,
	}); err != nil {
		q.logger.Printf("task %s: updating timeout status failed: %v", task.TaskID, err)
	}
}

func (q *Queue) failTask(ctx context.Context, task *database.VerificationTask, reason string) {
	atomic.AddInt64(&q.failed, 1)
	failed := database.TaskStatusFailed
	finishedAt := time.Now()
	if _, err := q.tasks.UpdateTask(ctx, task.TaskID.String(), database.TaskPatch{
		Status: &failed, FinishedAt: &finishedAt, ErrorMessage: &reason,
	}); err != nil {
		q.logger.Printf("task %s: updating invalid-app status failed: %v", task.TaskID, err)
	}
}

// summarizeFailure joins every top-level error and step failure message
// into the single error_message column a VerificationTask row carries.
func summarizeFailure(report service.Report) string {
	parts := make([]string, 0, len(report.Errors)+len(report.Failures))
	for _, e := range report.Errors {
		parts = append(parts, e.Message)
	}
	for _, f := range report.Failures {
		parts = append(parts, fmt.Sprintf("%s: %s", f.ComponentID, f.Error))
	}
	if len(parts) == 0 {
		return "verification failed with no reported errors"
	}
	return strings.Join(parts, "; ")
}

// toAppConfig adapts a database.App row to the Service.Verify input.
func toAppConfig(app *database.App) service.AppConfig {
	return service.AppConfig{
		AppID:               app.AppID,
		BaseImage:           app.BaseImage,
		ContractAddress:     app.ContractAddress,
		ModelOrDomain:       app.ModelOrDomain,
		KMSChainID:          app.KMSChainID,
		GatewayDomainSuffix: app.GatewayDomainSuffix,
	}
}
