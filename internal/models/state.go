package models

import "time"

// NetworkState is the monitor's best current estimate of connectivity.
type NetworkState struct {
	IsOnline      bool      `json:"is_online"`
	LastChangedAt time.Time `json:"last_changed_at"`
}

// SyncError describes the last terminal or transient failure observed,
// carrying enough context for the UI to render it.
type SyncError struct {
	ActionID string    `json:"action_id"`
	Kind     string    `json:"kind"`
	Reason   string    `json:"reason"`
	Terminal bool      `json:"terminal"`
	At       time.Time `json:"at"`
}

// SyncState is the externally observable summary pushed to listeners.
type SyncState struct {
	IsOnline     bool       `json:"is_online"`
	IsSyncing    bool       `json:"is_syncing"`
	PendingCount int        `json:"pending_count"`
	LastError    *SyncError `json:"last_error,omitempty"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
}

// Pass outcomes recorded by the orchestrator after each drain run.
const (
	OutcomeCompletedEmpty   = "completed_empty"
	OutcomeCompletedPartial = "completed_partial"
	OutcomeFailed           = "failed"
)
