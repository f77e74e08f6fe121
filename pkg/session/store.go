package session

import "context"

// Store persists primary sessions. Implementations must treat the stored
// session as a single value: a save either fully replaces the previous
// value or leaves it intact, never a partial write.
type Store interface {
	// Get returns the session, or (nil, nil) when it does not exist
	Get(ctx context.Context, sessionID string) (*PrimarySession, error)

	// Save writes the session with a TTL derived from its expiry
	Save(ctx context.Context, s *PrimarySession) error

	// Delete removes the session. Deleting a missing session is not an error.
	Delete(ctx context.Context, sessionID string) error
}
