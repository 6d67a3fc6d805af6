// Package trajectory holds the append-only conversational history that
// drives future prompts. Entries are never mutated or reordered after being
// appended, and they persist across objectives within one session until an
// explicit clear.
package trajectory

import (
	"context"
	"strings"
	"sync"

	"github.com/rkapoor/dbagent/pkg/domain"
)

// Render joins entries in insertion order into the history block embedded in
// the next prompt. Each entry kind carries its own fixed label.
func Render(entries []domain.TrajectoryEntry) string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, e.Render())
	}
	return strings.Join(lines, "\n")
}

// Log is an in-memory trajectory owned by a single session. Appends are
// O(1); the zero value is ready to use.
type Log struct {
	mu      sync.Mutex
	entries []domain.TrajectoryEntry
}

// New creates an empty Log.
func New() *Log {
	return &Log{}
}

// Append adds an entry to the end of the log.
func (l *Log) Append(_ context.Context, e domain.TrajectoryEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	return nil
}

// Render returns the full history block for prompt embedding.
func (l *Log) Render(_ context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Render(l.entries), nil
}

// Clear empties the log. Used only by the explicit reset operation, never
// implicitly by the step loop.
func (l *Log) Clear(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	return nil
}

// Entries returns a copy of the log contents in insertion order.
func (l *Log) Entries() []domain.TrajectoryEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.TrajectoryEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
