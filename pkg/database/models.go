// Copyright 2025 Certen Protocol

package database

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus enumerates the lifecycle of a VerificationTask.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusActive    TaskStatus = "active"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// App is an application registration mirrored from upstream.
type App struct {
	AppID               string
	DisplayName         string
	ConfigType          string // "agentic" | "cloud"
	BaseImage           string
	KMSContractAddress  string
	KMSChainID          *int64
	GatewayDomainSuffix string
	GovernanceKind      string
	ContractAddress     string // derived, see versionpolicy
	ModelOrDomain       string // derived, see versionpolicy
	Deleted             bool
	LastSyncedAt        time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsValid reports whether an app is eligible for verification scheduling:
// it must carry both derived routing fields and must not be soft-deleted.
func (a *App) IsValid() bool {
	return a != nil && !a.Deleted && a.ContractAddress != "" && a.ModelOrDomain != ""
}

// VerificationTask is one execution attempt against an App.
type VerificationTask struct {
	TaskID           uuid.UUID
	AppID            string
	Status           TaskStatus
	QueueJobID       string
	ForceRefresh     bool
	ErrorMessage     *string
	ArtifactBucket   *string
	ArtifactKey      *string
	ArtifactFilename *string
	DataObjectIDs    []string
	CreatedAt        time.Time
	StartedAt        *time.Time
	FinishedAt       *time.Time
}

// Profile is a mirrored upstream entity keyed by (entity_type, entity_id),
// used by the profile-sync cron schedule.
type Profile struct {
	EntityType string
	EntityID   string
	Payload    []byte // raw JSON
	Deleted    bool
	UpdatedAt  time.Time
}
