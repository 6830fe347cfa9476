package model

import "time"

// ActivityLogEntry is an append-only audit fact in the
// `activity_log` table. The user reference is nullable so entries
// survive user deletion, and metadata is free-form JSON owned by
// whoever emitted the event.
type ActivityLogEntry struct {
	ID        uint64    `db:"id"`
	UserID    *uint64   `db:"user_id"`
	EventType string    `db:"event_type"`
	Metadata  []byte    `db:"metadata"`
	CreatedAt time.Time `db:"created_at"`
}

// Event types emitted by the core.
const (
	EventUserRegistered = "user.registered"
	EventUserLogin      = "user.login"
	EventUserLogout     = "user.logout"
	EventTokenRefresh   = "token.refresh"
	EventPropertySearch = "property.search"
)
