// Copyright 2025 Certen Protocol

package appsync

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/certen/tee-verifier/pkg/database"
	"github.com/certen/tee-verifier/pkg/versionpolicy"
)

// Service implements C6's operations: mirroring the upstream app and
// profile inventory, and answering the scheduler's "what needs
// verification" admission query.
type Service struct {
	metabase *MetabaseClient
	appsCard int
	profCard int

	apps     *database.AppRepository
	profiles *database.ProfileRepository
	tasks    *database.TaskRepository
	logger   *log.Logger
}

// NewService constructs a Service. metabase may be nil, in which case
// SyncApps/SyncProfiles are no-ops (reported via the returned counts, not
// an error) — a deployment may run the scheduler purely for cleanup and
// verification admission without a configured upstream mirror.
func NewService(metabase *MetabaseClient, appsCardID, profilesCardID int, repos *database.Repositories, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(log.Writer(), "[appsync] ", log.LstdFlags)
	}
	return &Service{
		metabase: metabase,
		appsCard: appsCardID,
		profCard: profilesCardID,
		apps:     repos.Apps,
		profiles: repos.Profiles,
		tasks:    repos.Tasks,
		logger:   logger,
	}
}

// SyncResult reports how many upstream records were mirrored.
type SyncResult struct {
	Synced int
	Kept   int // ids present in this sync pass, used for the stale-deletion pass
}

// SyncApps implements upsertApps + the stale-deletion pass: fetch the
// current upstream app inventory, upsert every record (chunked and
// deduplicated by id inside AppRepository.UpsertApps), then flag
// anything not seen in this pass as deleted.
func (s *Service) SyncApps(ctx context.Context) (SyncResult, error) {
	if s.metabase == nil || s.appsCard == 0 {
		return SyncResult{}, nil
	}

	rows, err := s.metabase.queryCard(ctx, s.appsCard)
	if err != nil {
		return SyncResult{}, fmt.Errorf("fetching app inventory: %w", err)
	}

	apps := make([]*database.App, 0, len(rows))
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		a := &database.App{
			AppID:               stringField(row, "app_id"),
			DisplayName:         stringField(row, "display_name"),
			ConfigType:          stringField(row, "config_type"),
			BaseImage:           stringField(row, "base_image"),
			KMSContractAddress:  stringField(row, "kms_contract_address"),
			KMSChainID:          int64PtrField(row, "kms_chain_id"),
			GatewayDomainSuffix: stringField(row, "gateway_domain_suffix"),
			GovernanceKind:      stringField(row, "governance_kind"),
		}
		if a.AppID == "" {
			continue
		}

		// contract_address/model_or_domain are derived, not mirrored: §4.1's
		// version-routing table computes them from the parsed base_image
		// plus the upstream contract_address/tproxy_base_domain columns.
		upstreamContractAddress := stringField(row, "contract_address")
		tproxyBaseDomain := stringField(row, "tproxy_base_domain")
		if policy, err := versionpolicy.NewPolicy(a.BaseImage); err != nil {
			s.logger.Printf("app %s: unparseable base_image %q, routing fields left empty: %v", a.AppID, a.BaseImage, err)
		} else {
			routing := policy.Route(a.AppID, upstreamContractAddress, a.GatewayDomainSuffix, tproxyBaseDomain)
			a.ContractAddress = routing.ContractAddress
			a.ModelOrDomain = routing.ModelOrDomain
		}

		apps = append(apps, a)
		ids = append(ids, a.AppID)
	}

	if err := s.apps.UpsertApps(ctx, apps); err != nil {
		return SyncResult{}, fmt.Errorf("upserting apps: %w", err)
	}
	if err := s.apps.MarkDeletedExcept(ctx, ids); err != nil {
		return SyncResult{}, fmt.Errorf("marking deleted apps: %w", err)
	}

	return SyncResult{Synced: len(apps), Kept: len(ids)}, nil
}

// profileEntityType is the single entity type this service mirrors
// today. Metabase card rows that carry their own entity_type column
// override it per row when present.
const profileEntityType = "app"

// SyncProfiles implements the sync-profiles cron schedule: mirror the
// upstream profile rows (arbitrary per-entity JSON payloads) and soft-
// delete anything no longer present, per entity_type.
func (s *Service) SyncProfiles(ctx context.Context) (SyncResult, error) {
	if s.metabase == nil || s.profCard == 0 {
		return SyncResult{}, nil
	}

	rows, err := s.metabase.queryCard(ctx, s.profCard)
	if err != nil {
		return SyncResult{}, fmt.Errorf("fetching profile inventory: %w", err)
	}

	profiles := make([]*database.Profile, 0, len(rows))
	idsByType := make(map[string][]string)
	for _, row := range rows {
		entityType := stringField(row, "entity_type")
		if entityType == "" {
			entityType = profileEntityType
		}
		entityID := stringField(row, "entity_id")
		if entityID == "" {
			continue
		}
		payload, err := json.Marshal(row)
		if err != nil {
			s.logger.Printf("skipping profile row %s/%s: marshal failed: %v", entityType, entityID, err)
			continue
		}
		profiles = append(profiles, &database.Profile{
			EntityType: entityType,
			EntityID:   entityID,
			Payload:    payload,
		})
		idsByType[entityType] = append(idsByType[entityType], entityID)
	}

	if err := s.profiles.UpsertProfiles(ctx, profiles); err != nil {
		return SyncResult{}, fmt.Errorf("upserting profiles: %w", err)
	}
	for entityType, ids := range idsByType {
		if err := s.profiles.MarkStaleDeleted(ctx, entityType, ids); err != nil {
			return SyncResult{}, fmt.Errorf("marking stale %s profiles: %w", entityType, err)
		}
	}

	return SyncResult{Synced: len(profiles)}, nil
}

// GetAppsNeedingVerification passes through to the authoritative
// scheduler query (spec.md §4.6): cooldown-aware admission, not
// reimplemented here.
func (s *Service) GetAppsNeedingVerification(ctx context.Context) ([]*database.App, error) {
	return s.apps.GetAppsNeedingVerification(ctx)
}

// GetValidApps returns every app eligible for verification, ignoring the
// cooldown window — used by forceRefreshAllApps.
func (s *Service) GetValidApps(ctx context.Context) ([]*database.App, error) {
	return s.apps.GetValidApps(ctx)
}

// CleanupFailedTasks implements cleanupFailedTasks(hours).
func (s *Service) CleanupFailedTasks(ctx context.Context, hours int) (int64, error) {
	return s.tasks.CleanupFailedTasks(ctx, hours)
}
