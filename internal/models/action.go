package models

import "time"

// Action kinds understood by the engine. The payload shape for each kind
// belongs to the executor wired for it; the engine never looks inside.
const (
	KindCreateBooking = "create_booking"
	KindCancelBooking = "cancel_booking"
	KindCheckIn       = "check_in"
	KindCheckOut      = "check_out"
	KindUpdateProfile = "update_profile"
)

// Action is one durable pending mutation awaiting replay against the backend.
type Action struct {
	Seq        int64      `json:"seq"`
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	Payload    []byte     `json:"payload"`
	Status     string     `json:"status"`
	RetryCount int        `json:"retry_count"`
	MaxRetries int        `json:"max_retries"`
	LastError  *string    `json:"last_error"`
	CreatedAt  time.Time  `json:"created_at"`
	FailedAt   *time.Time `json:"failed_at"`
}

// RetriesLeft reports whether another transient failure may still be retried.
func (a *Action) RetriesLeft() bool {
	return a.RetryCount < a.MaxRetries
}

// KnownKind reports whether kind is one of the closed enumeration.
func KnownKind(kind string) bool {
	switch kind {
	case KindCreateBooking, KindCancelBooking, KindCheckIn, KindCheckOut, KindUpdateProfile:
		return true
	}
	return false
}
