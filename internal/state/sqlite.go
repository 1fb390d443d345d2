// Package state records build history in SQLite.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	// sqlite driver for the state database.
	_ "modernc.org/sqlite"
)

var errNotOpened = errors.New("database not opened")

// ErrNotFound is returned when a build does not exist.
var ErrNotFound = errors.New("not found")

// BuildStatus is the outcome of a build.
type BuildStatus string

// BuildStatus values.
const (
	BuildSucceeded BuildStatus = "succeeded"
	BuildFailed    BuildStatus = "failed"
)

// Build is one recorded template build.
type Build struct {
	ID          string        `json:"id" yaml:"id"`
	Template    string        `json:"template" yaml:"template"`
	Name        string        `json:"name,omitempty" yaml:"name,omitempty"`
	GrammarHash string        `json:"grammar_hash,omitempty" yaml:"grammar_hash,omitempty"`
	Actions     int           `json:"actions" yaml:"actions"`
	Bytes       int           `json:"bytes" yaml:"bytes"`
	Status      BuildStatus   `json:"status" yaml:"status"`
	Error       string        `json:"error,omitempty" yaml:"error,omitempty"`
	Duration    time.Duration `json:"duration" yaml:"duration"`
	CreatedAt   time.Time     `json:"created_at" yaml:"created_at"`
}

// SQLiteStore stores build history in SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore creates a new SQLite state store instance.
func NewSQLiteStore() *SQLiteStore {
	return &SQLiteStore{}
}

// Open opens the database at path and runs migrations.
// Use ":memory:" for an in-memory database.
func (s *SQLiteStore) Open(ctx context.Context, path string) error {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	if path == ":memory:" {
		dsn = ":memory:"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if path == ":memory:" {
		// every connection would get its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	s.db = db
	s.path = path
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		s.db = nil
		return err
	}
	return nil
}

// Path returns the database path.
func (s *SQLiteStore) Path() string { return s.path }

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// RecordBuild stores b, assigning its ID and CreatedAt when unset.
func (s *SQLiteStore) RecordBuild(ctx context.Context, b *Build) error {
	if s.db == nil {
		return errNotOpened
	}
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}

	var errMsg *string
	if b.Error != "" {
		errMsg = &b.Error
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO builds (id, template, name, grammar_hash, actions, bytes, status, error, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Template, b.Name, b.GrammarHash, b.Actions, b.Bytes, string(b.Status), errMsg,
		b.Duration.Milliseconds(), b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record build: %w", err)
	}
	return nil
}

const buildColumns = `id, template, name, grammar_hash, actions, bytes, status, error, duration_ms, created_at`

// GetBuild retrieves a build by ID.
func (s *SQLiteStore) GetBuild(ctx context.Context, id string) (*Build, error) {
	if s.db == nil {
		return nil, errNotOpened
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+buildColumns+` FROM builds WHERE id = ?`, id)
	b, err := scanBuild(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("build %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get build: %w", err)
	}
	return b, nil
}

// ListBuilds returns the most recent builds, newest first. A non-empty
// template restricts the list to that template.
func (s *SQLiteStore) ListBuilds(ctx context.Context, template string, limit int) ([]*Build, error) {
	if s.db == nil {
		return nil, errNotOpened
	}
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT ` + buildColumns + ` FROM builds`
	args := []any{}
	if template != "" {
		query += ` WHERE template = ?`
		args = append(args, template)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list builds: %w", err)
	}
	defer rows.Close()

	var builds []*Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan build: %w", err)
		}
		builds = append(builds, b)
	}
	return builds, rows.Err()
}

// PruneBuilds deletes all but the newest keep builds and returns the
// number deleted.
func (s *SQLiteStore) PruneBuilds(ctx context.Context, keep int) (int64, error) {
	if s.db == nil {
		return 0, errNotOpened
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM builds WHERE id NOT IN (
			SELECT id FROM builds ORDER BY created_at DESC, rowid DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune builds: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBuild(row scanner) (*Build, error) {
	b := &Build{}
	var status string
	var errMsg sql.NullString
	var durationMS int64
	err := row.Scan(&b.ID, &b.Template, &b.Name, &b.GrammarHash, &b.Actions, &b.Bytes,
		&status, &errMsg, &durationMS, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	b.Status = BuildStatus(status)
	b.Error = errMsg.String
	b.Duration = time.Duration(durationMS) * time.Millisecond
	return b, nil
}
