package store

import (
	"context"

	"github.com/rkapoor/dbagent/pkg/domain"
	"github.com/rkapoor/dbagent/pkg/trajectory"
)

// SessionTrajectory adapts a TrajectoryStore to the per-session trajectory
// view the orchestrator works against. Each instance is bound to exactly
// one session; concurrent sessions get independent instances.
type SessionTrajectory struct {
	store     TrajectoryStore
	sessionID string
}

// NewSessionTrajectory binds a trajectory store to a session.
func NewSessionTrajectory(store TrajectoryStore, sessionID string) *SessionTrajectory {
	return &SessionTrajectory{store: store, sessionID: sessionID}
}

// Append persists an entry at the end of the session's trajectory.
func (t *SessionTrajectory) Append(ctx context.Context, entry domain.TrajectoryEntry) error {
	entry.SessionID = t.sessionID
	return t.store.Append(ctx, &entry)
}

// Render returns the session's full history block for prompt embedding.
func (t *SessionTrajectory) Render(ctx context.Context) (string, error) {
	entries, err := t.store.Entries(ctx, t.sessionID)
	if err != nil {
		return "", err
	}
	return trajectory.Render(entries), nil
}

// Clear empties the session's trajectory. Backs the explicit reset
// operation only.
func (t *SessionTrajectory) Clear(ctx context.Context) error {
	return t.store.Clear(ctx, t.sessionID)
}
