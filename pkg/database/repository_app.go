// Copyright 2025 Certen Protocol
//
// App repository - mirrors the upstream app inventory and answers the
// "which apps need re-verification" query that drives the scheduler.

package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// AppRepository handles App CRUD and the sync/lifecycle queries of C6.
type AppRepository struct {
	client *Client
}

// NewAppRepository creates a new app repository.
func NewAppRepository(client *Client) *AppRepository {
	return &AppRepository{client: client}
}

const upsertChunkSize = 100

// UpsertApps inserts or updates app records in chunks of at most
// upsertChunkSize, to respect parameter-count limits on the underlying
// driver. Conflicting rows are updated wholesale and resurrected
// (deleted set back to false). Records are first deduplicated by id: when
// an id appears more than once, the last record for it wins.
func (r *AppRepository) UpsertApps(ctx context.Context, apps []*App) error {
	index := make(map[string]int, len(apps))
	deduped := make([]*App, 0, len(apps))
	for _, app := range apps {
		if i, seen := index[app.AppID]; seen {
			deduped[i] = app
			continue
		}
		index[app.AppID] = len(deduped)
		deduped = append(deduped, app)
	}
	apps = deduped

	for start := 0; start < len(apps); start += upsertChunkSize {
		end := start + upsertChunkSize
		if end > len(apps) {
			end = len(apps)
		}
		if err := r.upsertChunk(ctx, apps[start:end]); err != nil {
			return fmt.Errorf("failed to upsert apps chunk [%d:%d]: %w", start, end, err)
		}
	}
	return nil
}

func (r *AppRepository) upsertChunk(ctx context.Context, apps []*App) error {
	tx, err := r.client.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO apps (
			app_id, display_name, config_type, base_image,
			kms_contract_address, kms_chain_id, gateway_domain_suffix,
			governance_kind, contract_address, model_or_domain,
			deleted, last_synced_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, false, now(), now())
		ON CONFLICT (app_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			config_type = EXCLUDED.config_type,
			base_image = EXCLUDED.base_image,
			kms_contract_address = EXCLUDED.kms_contract_address,
			kms_chain_id = EXCLUDED.kms_chain_id,
			gateway_domain_suffix = EXCLUDED.gateway_domain_suffix,
			governance_kind = EXCLUDED.governance_kind,
			contract_address = EXCLUDED.contract_address,
			model_or_domain = EXCLUDED.model_or_domain,
			deleted = false,
			last_synced_at = now(),
			updated_at = now()`

	for _, app := range apps {
		if _, err := tx.Tx().ExecContext(ctx, query,
			app.AppID, app.DisplayName, app.ConfigType, app.BaseImage,
			app.KMSContractAddress, app.KMSChainID, app.GatewayDomainSuffix,
			app.GovernanceKind, app.ContractAddress, app.ModelOrDomain,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// MarkDeletedExcept soft-deletes every app whose id is not present in the
// given keep set. Used after a sync pass to flag apps that disappeared
// from the upstream inventory.
func (r *AppRepository) MarkDeletedExcept(ctx context.Context, keepIDs []string) error {
	query := `UPDATE apps SET deleted = true, updated_at = now() WHERE deleted = false AND NOT (app_id = ANY($1))`
	_, err := r.client.ExecContext(ctx, query, pq.Array(keepIDs))
	if err != nil {
		return fmt.Errorf("failed to mark deleted apps: %w", err)
	}
	return nil
}

// GetValidApps returns apps with non-empty contract_address and
// model_or_domain that are not soft-deleted.
func (r *AppRepository) GetValidApps(ctx context.Context) ([]*App, error) {
	query := `
		SELECT app_id, display_name, config_type, base_image,
			kms_contract_address, kms_chain_id, gateway_domain_suffix,
			governance_kind, contract_address, model_or_domain,
			deleted, last_synced_at, created_at, updated_at
		FROM apps
		WHERE deleted = false AND contract_address <> '' AND model_or_domain <> ''`

	return r.queryApps(ctx, query)
}

// GetAppsNeedingVerification is the authoritative scheduler query: valid
// apps with either no prior task, or whose most recent task is completed
// and older than 24h, or failed and older than 30min. The "most recent"
// task per app is computed with a window function in a single query.
func (r *AppRepository) GetAppsNeedingVerification(ctx context.Context) ([]*App, error) {
	query := `
		WITH latest_tasks AS (
			SELECT app_id, status, finished_at,
				ROW_NUMBER() OVER (PARTITION BY app_id ORDER BY created_at DESC) AS rn
			FROM verification_tasks
		)
		SELECT a.app_id, a.display_name, a.config_type, a.base_image,
			a.kms_contract_address, a.kms_chain_id, a.gateway_domain_suffix,
			a.governance_kind, a.contract_address, a.model_or_domain,
			a.deleted, a.last_synced_at, a.created_at, a.updated_at
		FROM apps a
		LEFT JOIN latest_tasks lt ON lt.app_id = a.app_id AND lt.rn = 1
		WHERE a.deleted = false
			AND a.contract_address <> ''
			AND a.model_or_domain <> ''
			AND (
				lt.app_id IS NULL
				OR (lt.status = 'completed' AND lt.finished_at < now() - interval '24 hours')
				OR (lt.status = 'failed' AND lt.finished_at < now() - interval '30 minutes')
			)`

	return r.queryApps(ctx, query)
}

func (r *AppRepository) queryApps(ctx context.Context, query string, args ...interface{}) ([]*App, error) {
	rows, err := r.client.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query apps: %w", err)
	}
	defer rows.Close()

	var apps []*App
	for rows.Next() {
		a := &App{}
		if err := rows.Scan(
			&a.AppID, &a.DisplayName, &a.ConfigType, &a.BaseImage,
			&a.KMSContractAddress, &a.KMSChainID, &a.GatewayDomainSuffix,
			&a.GovernanceKind, &a.ContractAddress, &a.ModelOrDomain,
			&a.Deleted, &a.LastSyncedAt, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan app: %w", err)
		}
		apps = append(apps, a)
	}
	return apps, rows.Err()
}

// GetApp retrieves a single app by id.
func (r *AppRepository) GetApp(ctx context.Context, appID string) (*App, error) {
	query := `
		SELECT app_id, display_name, config_type, base_image,
			kms_contract_address, kms_chain_id, gateway_domain_suffix,
			governance_kind, contract_address, model_or_domain,
			deleted, last_synced_at, created_at, updated_at
		FROM apps WHERE app_id = $1`

	a := &App{}
	err := r.client.QueryRowContext(ctx, query, appID).Scan(
		&a.AppID, &a.DisplayName, &a.ConfigType, &a.BaseImage,
		&a.KMSContractAddress, &a.KMSChainID, &a.GatewayDomainSuffix,
		&a.GovernanceKind, &a.ContractAddress, &a.ModelOrDomain,
		&a.Deleted, &a.LastSyncedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrAppNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get app: %w", err)
	}
	return a, nil
}
