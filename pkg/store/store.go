package store

import (
	"context"

	"github.com/rkapoor/dbagent/pkg/domain"
)

// SessionStore manages the persistence of agent sessions.
type SessionStore interface {
	// Create persists a new session. The ID field must be set by the caller.
	Create(ctx context.Context, s *domain.Session) error

	// Get retrieves a session by its unique ID.
	// Returns an error if the session does not exist.
	Get(ctx context.Context, id string) (*domain.Session, error)

	// List returns all sessions, ordered by creation time descending.
	List(ctx context.Context) ([]domain.Session, error)

	// Update persists changes to an existing session.
	Update(ctx context.Context, s *domain.Session) error

	// Delete removes a session by ID along with its trajectory entries.
	Delete(ctx context.Context, id string) error
}

// TrajectoryStore persists the append-only trajectory of each session.
// Entries are immutable once appended and are returned in insertion order.
// Clear is the only sanctioned removal, backing the explicit reset
// operation; the step loop itself never deletes anything.
type TrajectoryStore interface {
	// Append adds an entry to the end of the session's trajectory. The
	// entry's ID and SessionID must be set by the caller; a zero Timestamp
	// is filled in.
	Append(ctx context.Context, entry *domain.TrajectoryEntry) error

	// Entries returns the session's trajectory in insertion order.
	Entries(ctx context.Context, sessionID string) ([]domain.TrajectoryEntry, error)

	// Clear removes all entries for the session.
	Clear(ctx context.Context, sessionID string) error
}
