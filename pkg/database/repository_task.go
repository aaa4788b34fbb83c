// Copyright 2025 Certen Protocol
//
// VerificationTask repository - durable task records driving C5's worker
// completion hook and C8's task service.

package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// TaskRepository handles VerificationTask CRUD.
type TaskRepository struct {
	client *Client
}

// NewTaskRepository creates a new task repository.
func NewTaskRepository(client *Client) *TaskRepository {
	return &TaskRepository{client: client}
}

// CreateTask creates a task row. A duplicate primary key (the task id is
// content-keyed on the queue job id) is treated as a no-op: the existing
// row is fetched and returned rather than surfacing a conflict error,
// matching the queue's at-most-one-in-flight-per-app contract.
func (r *TaskRepository) CreateTask(ctx context.Context, t *VerificationTask) (*VerificationTask, error) {
	query := `
		INSERT INTO verification_tasks (task_id, app_id, status, queue_job_id, force_refresh, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (task_id) DO NOTHING
		RETURNING task_id, created_at`

	err := r.client.QueryRowContext(ctx, query, t.TaskID, t.AppID, t.Status, t.QueueJobID, t.ForceRefresh).
		Scan(&t.TaskID, &t.CreatedAt)

	if err == sql.ErrNoRows {
		// Conflict hit: the row already exists, fetch and return it.
		return r.GetTask(ctx, t.TaskID.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	return t, nil
}

// GetTask retrieves a task by its UUID string.
func (r *TaskRepository) GetTask(ctx context.Context, taskID string) (*VerificationTask, error) {
	query := `
		SELECT task_id, app_id, status, queue_job_id, force_refresh,
			error_message, artifact_bucket, artifact_key, artifact_filename,
			data_object_ids, created_at, started_at, finished_at
		FROM verification_tasks WHERE task_id = $1`

	t := &VerificationTask{}
	var dataObjectIDs pq.StringArray
	err := r.client.QueryRowContext(ctx, query, taskID).Scan(
		&t.TaskID, &t.AppID, &t.Status, &t.QueueJobID, &t.ForceRefresh,
		&t.ErrorMessage, &t.ArtifactBucket, &t.ArtifactKey, &t.ArtifactFilename,
		&dataObjectIDs, &t.CreatedAt, &t.StartedAt, &t.FinishedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	t.DataObjectIDs = dataObjectIDs
	return t, nil
}

// TaskPatch is a partial update applied to a VerificationTask row. Nil
// fields are left unchanged.
type TaskPatch struct {
	Status           *TaskStatus
	ErrorMessage     *string
	ArtifactBucket   *string
	ArtifactKey      *string
	ArtifactFilename *string
	DataObjectIDs    []string
	StartedAt        *time.Time
	FinishedAt       *time.Time
}

// UpdateTask applies a partial update to a task row. Returns whether any
// row was actually changed; updating a missing task is a soft warning to
// the caller, not an error, per spec.md's monotonic-transition contract.
func (r *TaskRepository) UpdateTask(ctx context.Context, taskID string, patch TaskPatch) (bool, error) {
	sets := []string{}
	args := []interface{}{}
	argN := 1

	add := func(col string, val interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, argN))
		args = append(args, val)
		argN++
	}

	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.ErrorMessage != nil {
		add("error_message", *patch.ErrorMessage)
	}
	if patch.ArtifactBucket != nil {
		add("artifact_bucket", *patch.ArtifactBucket)
	}
	if patch.ArtifactKey != nil {
		add("artifact_key", *patch.ArtifactKey)
	}
	if patch.ArtifactFilename != nil {
		add("artifact_filename", *patch.ArtifactFilename)
	}
	if patch.DataObjectIDs != nil {
		add("data_object_ids", pq.Array(patch.DataObjectIDs))
	}
	if patch.StartedAt != nil {
		add("started_at", *patch.StartedAt)
	}
	if patch.FinishedAt != nil {
		add("finished_at", *patch.FinishedAt)
	}

	if len(sets) == 0 {
		return false, nil
	}

	query := fmt.Sprintf("UPDATE verification_tasks SET %s WHERE task_id = $%d", strings.Join(sets, ", "), argN)
	args = append(args, taskID)

	result, err := r.client.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update task: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return rows > 0, nil
}

// GetLatestCompletedTask returns the finished_at timestamp of the most
// recently completed task across all apps, or nil if none exists.
func (r *TaskRepository) GetLatestCompletedTask(ctx context.Context) (*time.Time, error) {
	query := `SELECT finished_at FROM verification_tasks WHERE status = 'completed' ORDER BY finished_at DESC LIMIT 1`

	var finishedAt sql.NullTime
	err := r.client.QueryRowContext(ctx, query).Scan(&finishedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest completed task: %w", err)
	}
	if !finishedAt.Valid {
		return nil, nil
	}
	return &finishedAt.Time, nil
}

// CleanupFailedTasks deletes tasks with status in (failed, cancelled)
// created before now - hours.
func (r *TaskRepository) CleanupFailedTasks(ctx context.Context, hours int) (int64, error) {
	query := `DELETE FROM verification_tasks WHERE status IN ('failed', 'cancelled') AND created_at < now() - ($1 || ' hours')::interval`

	result, err := r.client.ExecContext(ctx, query, hours)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup failed tasks: %w", err)
	}
	return result.RowsAffected()
}
