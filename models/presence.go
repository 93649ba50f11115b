package models

import "time"

// UserPresence is one user's liveness record. Mutated only by that user's own
// heartbeat; overwritten, never deleted.
type UserPresence struct {
	UserID   string    `json:"user_id"`
	LastSeen time.Time `json:"last_seen"`
}

// PresenceStatusResponse is the body of GET /api/presence/status.
type PresenceStatusResponse struct {
	UserID   string     `json:"user_id"`
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}
