// Package dbtools implements the database administration capabilities
// exposed by the capability server: one SQLite database file per logical
// database under a data directory, with a single selected database at a
// time.
package dbtools

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrNoDatabaseSelected indicates an operation that needs a selected
	// database ran before use_database.
	ErrNoDatabaseSelected = errors.New("no database selected; call use_database first")

	// ErrInvalidName indicates a database or table name failed validation.
	ErrInvalidName = errors.New("invalid name")
)

// Database names become file names, so they are restricted to a safe set.
var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]{0,63}$`)

// Manager administers a directory of SQLite databases.
type Manager struct {
	dataDir string

	mu      sync.Mutex
	current string
	db      *sql.DB
}

// New creates a Manager rooted at dataDir, creating the directory if needed.
func New(dataDir string) (*Manager, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	return &Manager{dataDir: dataDir}, nil
}

// Close releases the open database handle, if any.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db != nil {
		err := m.db.Close()
		m.db = nil
		m.current = ""
		return err
	}
	return nil
}

func (m *Manager) path(name string) string {
	return filepath.Join(m.dataDir, name+".db")
}

func validName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// ListDatabases returns the names of all databases, sorted.
func (m *Manager) ListDatabases(ctx context.Context) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(m.dataDir, "*.db"))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(matches))
	for _, path := range matches {
		names = append(names, strings.TrimSuffix(filepath.Base(path), ".db"))
	}
	sort.Strings(names)
	return names, nil
}

// CreateDatabase creates a new empty database.
func (m *Manager) CreateDatabase(ctx context.Context, name string) error {
	if err := validName(name); err != nil {
		return err
	}
	path := m.path(name)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("database %q already exists", name)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	defer db.Close()
	// Ping forces the file into existence.
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	return nil
}

// DeleteDatabase removes a database. Deleting the selected database
// deselects it first.
func (m *Manager) DeleteDatabase(ctx context.Context, name string) error {
	if err := validName(name); err != nil {
		return err
	}

	m.mu.Lock()
	if m.current == name && m.db != nil {
		m.db.Close()
		m.db = nil
		m.current = ""
	}
	m.mu.Unlock()

	path := m.path(name)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("database %q does not exist", name)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("deleting database: %w", err)
	}
	// WAL sidecar files, if present.
	os.Remove(path + "-wal")
	os.Remove(path + "-shm")
	return nil
}

// UseDatabase selects a database for subsequent table and query operations.
func (m *Manager) UseDatabase(ctx context.Context, name string) error {
	if err := validName(name); err != nil {
		return err
	}
	path := m.path(name)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("database %q does not exist", name)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("opening database: %w", err)
	}

	m.mu.Lock()
	if m.db != nil {
		m.db.Close()
	}
	m.db = db
	m.current = name
	m.mu.Unlock()
	return nil
}

// CurrentDatabase returns the selected database name, or empty when none
// is selected.
func (m *Manager) CurrentDatabase(ctx context.Context) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *Manager) handle() (*sql.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db == nil {
		return nil, ErrNoDatabaseSelected
	}
	return m.db, nil
}

// ListTables returns the user tables of the selected database, sorted.
func (m *Manager) ListTables(ctx context.Context) ([]string, error) {
	db, err := m.handle()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// Column describes one column of a table.
type Column struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	NotNull    bool   `json:"not_null"`
	Default    string `json:"default,omitempty"`
	PrimaryKey bool   `json:"primary_key"`
}

// DescribeTable returns the column definitions of a table in the selected
// database.
func (m *Manager) DescribeTable(ctx context.Context, table string) ([]Column, error) {
	if err := validName(table); err != nil {
		return nil, err
	}
	db, err := m.handle()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%q)`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			cid     int
			col     Column
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &col.Name, &col.Type, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		col.NotNull = notNull != 0
		col.PrimaryKey = pk != 0
		if dflt.Valid {
			col.Default = dflt.String
		}
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %q does not exist", table)
	}
	return cols, nil
}

// RunQuery executes a read-only SELECT against the selected database and
// returns the rows as a JSON array of objects.
func (m *Manager) RunQuery(ctx context.Context, query string) (string, error) {
	trimmed := strings.TrimSpace(strings.ToUpper(query))
	if !strings.HasPrefix(trimmed, "SELECT") && !strings.HasPrefix(trimmed, "WITH") {
		return "", errors.New("run_query accepts SELECT statements only; use execute_sql for writes")
	}
	db, err := m.handle()
	if err != nil {
		return "", err
	}

	// The prefix check alone does not stop writable CTEs such as
	// "WITH ... DELETE", so the query runs on a query_only connection.
	conn, err := db.Conn(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, `PRAGMA query_only = ON`); err != nil {
		return "", err
	}
	defer conn.ExecContext(ctx, `PRAGMA query_only = OFF`)

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return "", err
	}

	results := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return "", err
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[col] = v
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	out, err := json.Marshal(results)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// ExecuteSQL runs a DDL or DML statement against the selected database and
// reports the number of affected rows.
func (m *Manager) ExecuteSQL(ctx context.Context, statement string) (int64, error) {
	db, err := m.handle()
	if err != nil {
		return 0, err
	}
	result, err := db.ExecContext(ctx, statement)
	if err != nil {
		return 0, err
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// CheckIntegrity runs the integrity and foreign-key checks on the selected
// database. The returned string is empty when no violation exists.
func (m *Manager) CheckIntegrity(ctx context.Context) (string, error) {
	db, err := m.handle()
	if err != nil {
		return "", err
	}

	var violations []string

	var integrity string
	if err := db.QueryRowContext(ctx, `PRAGMA integrity_check`).Scan(&integrity); err != nil {
		return "", err
	}
	if integrity != "ok" {
		violations = append(violations, "integrity_check: "+integrity)
	}

	rows, err := db.QueryContext(ctx, `PRAGMA foreign_key_check`)
	if err != nil {
		return "", err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			table  string
			rowid  sql.NullInt64
			parent string
			fkid   int
		)
		if err := rows.Scan(&table, &rowid, &parent, &fkid); err != nil {
			return "", err
		}
		violations = append(violations, fmt.Sprintf(
			"foreign_key_check: table %s rowid %d violates reference to %s", table, rowid.Int64, parent))
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	return strings.Join(violations, "\n"), nil
}
