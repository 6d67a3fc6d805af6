package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rkapoor/dbagent/pkg/domain"
	"github.com/rkapoor/dbagent/pkg/store"
)

// Store implements SessionStore and TrajectoryStore using SQLite.
type Store struct {
	db *sql.DB
}

// Verify interface compliance at compile time.
var _ store.SessionStore = (*Store)(nil)
var _ store.TrajectoryStore = (*Store)(nil)

// New opens (or creates) a SQLite database at the given path and runs
// migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS trajectory_entries (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		text TEXT NOT NULL DEFAULT '',
		tool_name TEXT NOT NULL DEFAULT '',
		arguments TEXT NOT NULL DEFAULT '',
		timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		seq INTEGER NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_trajectory_session_seq ON trajectory_entries(session_id, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- SessionStore ---

func (s *Store) Create(ctx context.Context, sess *domain.Session) error {
	now := time.Now().UTC()
	sess.CreatedAt = now
	sess.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, name, model, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.Name, sess.Model, sess.CreatedAt, sess.UpdatedAt,
	)
	return err
}

func (s *Store) Get(ctx context.Context, id string) (*domain.Session, error) {
	sess := &domain.Session{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, model, created_at, updated_at FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.Name, &sess.Model, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session not found: %s", id)
	}
	return sess, err
}

func (s *Store) List(ctx context.Context) ([]domain.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, model, created_at, updated_at FROM sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		var sess domain.Session
		if err := rows.Scan(&sess.ID, &sess.Name, &sess.Model, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *Store) Update(ctx context.Context, sess *domain.Session) error {
	sess.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET name=?, model=?, updated_at=? WHERE id=?`,
		sess.Name, sess.Model, sess.UpdatedAt, sess.ID,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("session not found: %s", sess.ID)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM trajectory_entries WHERE session_id=?`, id); err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id=?`, id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("session not found: %s", id)
	}
	return nil
}

// --- TrajectoryStore ---

func (s *Store) Append(ctx context.Context, entry *domain.TrajectoryEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	var arguments string
	if entry.Arguments != nil {
		b, err := json.Marshal(entry.Arguments)
		if err != nil {
			return fmt.Errorf("encode arguments: %w", err)
		}
		arguments = string(b)
	}

	// Sequence assignment and insert happen in one statement so concurrent
	// appenders cannot claim the same slot.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trajectory_entries (id, session_id, kind, text, tool_name, arguments, timestamp, seq)
		 SELECT ?, ?, ?, ?, ?, ?, ?, COALESCE(MAX(seq), 0) + 1
		 FROM trajectory_entries WHERE session_id=?`,
		entry.ID, entry.SessionID, entry.Kind, entry.Text,
		entry.ToolName, arguments, entry.Timestamp, entry.SessionID,
	)
	return err
}

func (s *Store) Entries(ctx context.Context, sessionID string) ([]domain.TrajectoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, kind, text, tool_name, arguments, timestamp
		 FROM trajectory_entries WHERE session_id=? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.TrajectoryEntry
	for rows.Next() {
		var e domain.TrajectoryEntry
		var arguments string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Kind, &e.Text, &e.ToolName, &arguments, &e.Timestamp); err != nil {
			return nil, err
		}
		if arguments != "" {
			if err := json.Unmarshal([]byte(arguments), &e.Arguments); err != nil {
				return nil, fmt.Errorf("decode arguments for entry %s: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) Clear(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM trajectory_entries WHERE session_id=?`, sessionID)
	return err
}
