// Package session keeps the primary application session and the secondary
// token issued by the embedded content system consistent for one principal.
// The primary session is the source of truth; the secondary token is a
// derived artifact that never outlives it.
package session

import (
	"time"

	"github.com/google/uuid"
)

// Principal identifies an authenticated user.
type Principal struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// PrimarySession is the main application credential. The secondary token is
// carried alongside but is never serialized outward; only the dedicated
// store implementation persists it.
type PrimarySession struct {
	ID        string    `json:"session_id"`
	User      Principal `json:"user"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`

	// SecondaryToken authenticates against the content system's API. It is
	// derived from this session and treated as invalid the moment the
	// session is destroyed, regardless of the token's own expiry.
	SecondaryToken string `json:"-"`
}

// New creates a primary session for a principal with the given lifetime.
func New(user Principal, ttl time.Duration) *PrimarySession {
	now := time.Now()
	return &PrimarySession{
		ID:        uuid.NewString(),
		User:      user,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
}

// State describes the synchronization state of one browser session.
type State string

const (
	// StateUnauthenticated means no primary session exists
	StateUnauthenticated State = "unauthenticated"
	// StateUnsynced means a primary session exists but no secondary token
	// has been derived yet
	StateUnsynced State = "unsynced"
	// StateSynced means the secondary token's last probe succeeded
	StateSynced State = "synced"
	// StateStale means a secondary token is attached but its last probe
	// failed, or no probe has run since the session was refreshed
	StateStale State = "stale"
)

// Status is a point-in-time view of both credentials.
type Status struct {
	Primary        *PrimarySession `json:"primary,omitempty"`
	SecondaryValid bool            `json:"secondary_valid"`
	State          State           `json:"state"`
}
