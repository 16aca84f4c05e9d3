package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// SyncType selects the reconciliation window for a repository sync.
type SyncType string

const (
	// SyncFull fetches a fixed lookback window regardless of prior history.
	SyncFull SyncType = "full"
	// SyncIncremental fetches only changes since the last successful sync and
	// additionally detects remote deletions inside that window.
	SyncIncremental SyncType = "incremental"
)

// RepoSyncRequest is the payload of a repository-sync job.
type RepoSyncRequest struct {
	UserID             string    `json:"userId"`
	RepositoryFullName string    `json:"repositoryFullName"`
	SyncType           SyncType  `json:"syncType"`
	Since              time.Time `json:"since,omitempty"`
}

// Validate checks the request for the fields a sync cannot run without.
func (r *RepoSyncRequest) Validate() error {
	if r.UserID == "" {
		return fmt.Errorf("userId cannot be empty")
	}
	if r.RepositoryFullName == "" {
		return fmt.Errorf("repositoryFullName cannot be empty")
	}
	if r.SyncType != SyncFull && r.SyncType != SyncIncremental {
		return fmt.Errorf("syncType must be %q or %q, got %q", SyncFull, SyncIncremental, r.SyncType)
	}
	if r.SyncType == SyncIncremental && r.Since.IsZero() {
		return fmt.Errorf("incremental sync requires a since timestamp")
	}
	return nil
}

// OrchestrationRequest is the payload of an incremental-sync or initial-sync
// job. When RepositoryFullNames is empty the orchestrator targets every
// sync-enabled repository of the user.
type OrchestrationRequest struct {
	UserID              string   `json:"userId"`
	RepositoryFullNames []string `json:"repositoryFullNames,omitempty"`
	ForceFull           bool     `json:"forceFull,omitempty"`
}

// SyncStatusState tracks one repository inside a single orchestration run.
type SyncStatusState string

const (
	SyncPending    SyncStatusState = "pending"
	SyncInProgress SyncStatusState = "in_progress"
	SyncCompleted  SyncStatusState = "completed"
	SyncFailed     SyncStatusState = "failed"
)

// SyncStatus is the per-repository progress record held for the duration of
// one orchestration job. It is never persisted outside the job result.
type SyncStatus struct {
	RepositoryFullName string          `json:"repositoryFullName"`
	LastSyncedAt       *time.Time      `json:"lastSyncedAt,omitempty"`
	Status             SyncStatusState `json:"status"`
	Message            string          `json:"message,omitempty"`
}

// DecodePayload unmarshals a job payload map into a typed request struct.
func DecodePayload(payload map[string]any, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// EncodePayload converts a typed request struct into the generic payload map
// stored with the job.
func EncodePayload(in any) (map[string]any, error) {
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return out, nil
}
