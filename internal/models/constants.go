package models

import "time"

// Queue statuses
const (
	StatusPending = "pending"
	StatusFailed  = "failed"
)

const (
	// DefaultMaxRetries ceiling applied when the caller passes a negative value
	DefaultMaxRetries = 5

	// DefaultMaxAttemptsPerPass safety valve against pathological queues
	DefaultMaxAttemptsPerPass = 100

	// DefaultDebounceWindow suppresses connectivity flaps in the monitor
	DefaultDebounceWindow = 300 * time.Millisecond

	// DefaultProbeInterval polling cadence of the pull-based reachability prober
	DefaultProbeInterval = 5 * time.Second

	// DefaultSyncNowRate manual sync triggers allowed per second
	DefaultSyncNowRate = 1.0

	// DefaultSyncNowBurst burst of manual sync triggers absorbed at once
	DefaultSyncNowBurst = 3

	// DefaultExecuteTimeout per-request ceiling for the HTTP executor
	DefaultExecuteTimeout = 15 * time.Second
)
