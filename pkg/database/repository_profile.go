// Copyright 2025 Certen Protocol
//
// Profile repository - mirrors upstream profile entities for the
// sync-profiles cron schedule. Composite key upsert with a stale-deletion
// pass, mirroring apps.UpsertApps/MarkDeletedExcept but keyed on
// (entity_type, entity_id) instead of a single id.

package database

import (
	"context"
	"fmt"

	"github.com/lib/pq"
)

// ProfileRepository handles Profile CRUD.
type ProfileRepository struct {
	client *Client
}

// NewProfileRepository creates a new profile repository.
func NewProfileRepository(client *Client) *ProfileRepository {
	return &ProfileRepository{client: client}
}

// UpsertProfiles inserts or updates profile records keyed by
// (entity_type, entity_id), chunked like AppRepository.UpsertApps.
func (r *ProfileRepository) UpsertProfiles(ctx context.Context, profiles []*Profile) error {
	for start := 0; start < len(profiles); start += upsertChunkSize {
		end := start + upsertChunkSize
		if end > len(profiles) {
			end = len(profiles)
		}
		if err := r.upsertChunk(ctx, profiles[start:end]); err != nil {
			return fmt.Errorf("failed to upsert profiles chunk [%d:%d]: %w", start, end, err)
		}
	}
	return nil
}

func (r *ProfileRepository) upsertChunk(ctx context.Context, profiles []*Profile) error {
	tx, err := r.client.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO profiles (entity_type, entity_id, payload, deleted, updated_at)
		VALUES ($1, $2, $3, false, now())
		ON CONFLICT (entity_type, entity_id) DO UPDATE SET
			payload = EXCLUDED.payload,
			deleted = false,
			updated_at = now()`

	for _, p := range profiles {
		if _, err := tx.Tx().ExecContext(ctx, query, p.EntityType, p.EntityID, p.Payload); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// MarkStaleDeleted soft-deletes profiles not seen in the latest sync pass
// for a given entity_type.
func (r *ProfileRepository) MarkStaleDeleted(ctx context.Context, entityType string, keepIDs []string) error {
	query := `
		UPDATE profiles
		SET deleted = true, updated_at = now()
		WHERE entity_type = $1 AND deleted = false AND NOT (entity_id = ANY($2))`

	_, err := r.client.ExecContext(ctx, query, entityType, pq.Array(keepIDs))
	if err != nil {
		return fmt.Errorf("failed to mark stale profiles: %w", err)
	}
	return nil
}
