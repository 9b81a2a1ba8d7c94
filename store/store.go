// Package store is the durable registry of projects and users, backed by
// SQLite. Every mutation is a single-row statement so concurrent writers to
// the same project never lose each other's updates.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"launchpad/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	name         TEXT PRIMARY KEY,
	source_url   TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'idle',
	environment  TEXT NOT NULL DEFAULT '{}',
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	username      TEXT UNIQUE NOT NULL,
	password_hash TEXT NOT NULL,
	created_at    INTEGER NOT NULL
);
`

// Store wraps the SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite serialises writers anyway; one connection avoids SQLITE_BUSY between our own goroutines.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create inserts a new project in state idle. Fails with ALREADY_EXISTS when
// the name is taken.
func (s *Store) Create(ctx context.Context, project types.Project) (types.Project, error) {
	if project.Environment == nil {
		project.Environment = map[string]string{}
	}
	env, err := json.Marshal(project.Environment)
	if err != nil {
		return types.Project{}, types.NewError(types.CodeInvalidInput, "create project", project.Name, err)
	}

	now := s.now().UTC().Truncate(time.Millisecond)
	project.Status = types.StatusIdle
	project.CreatedAt = now
	project.UpdatedAt = now

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO projects (name, source_url, status, environment, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		project.Name, project.SourceURL, string(project.Status), string(env), now.UnixMilli(), now.UnixMilli())
	if err != nil {
		if isConstraintViolation(err) {
			return types.Project{}, types.Errorf(types.CodeAlreadyExists, "create project", project.Name, "project already exists")
		}
		return types.Project{}, dbError("create project", project.Name, err)
	}
	return project, nil
}

// Get returns a project by name.
func (s *Store) Get(ctx context.Context, name string) (types.Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT name, source_url, status, environment, created_at, updated_at FROM projects WHERE name = ?`, name)
	project, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Project{}, types.Errorf(types.CodeNotFound, "get project", name, "project not found")
	}
	if err != nil {
		return types.Project{}, dbError("get project", name, err)
	}
	return project, nil
}

// List returns all projects ordered by name.
func (s *Store) List(ctx context.Context) ([]types.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, source_url, status, environment, created_at, updated_at FROM projects ORDER BY name`)
	if err != nil {
		return nil, dbError("list projects", "", err)
	}
	defer rows.Close()

	projects := []types.Project{}
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, dbError("list projects", "", err)
		}
		projects = append(projects, project)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("list projects", "", err)
	}
	return projects, nil
}

// UpdateEnvironment replaces a project's environment document.
func (s *Store) UpdateEnvironment(ctx context.Context, name string, env map[string]string) error {
	if env == nil {
		env = map[string]string{}
	}
	doc, err := json.Marshal(env)
	if err != nil {
		return types.NewError(types.CodeInvalidInput, "update environment", name, err)
	}
	return s.updateOne(ctx, "update environment", name,
		`UPDATE projects SET environment = ?, updated_at = ? WHERE name = ?`, string(doc))
}

// UpdateStatus sets a project's status.
func (s *Store) UpdateStatus(ctx context.Context, name string, status types.Status) error {
	if !status.Valid() {
		return types.Errorf(types.CodeInvalidInput, "update status", name, "unknown status %q", status)
	}
	return s.updateOne(ctx, "update status", name,
		`UPDATE projects SET status = ?, updated_at = ? WHERE name = ?`, string(status))
}

func (s *Store) updateOne(ctx context.Context, op, name, query string, value string) error {
	res, err := s.db.ExecContext(ctx, query, value, s.now().UTC().UnixMilli(), name)
	if err != nil {
		return dbError(op, name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbError(op, name, err)
	}
	if n == 0 {
		return types.Errorf(types.CodeNotFound, op, name, "project not found")
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProject(row scanner) (types.Project, error) {
	var (
		project          types.Project
		status, env      string
		created, updated int64
	)
	if err := row.Scan(&project.Name, &project.SourceURL, &status, &env, &created, &updated); err != nil {
		return types.Project{}, err
	}
	project.Status = types.Status(status)
	project.CreatedAt = time.UnixMilli(created).UTC()
	project.UpdatedAt = time.UnixMilli(updated).UTC()
	project.Environment = map[string]string{}
	if env != "" {
		if err := json.Unmarshal([]byte(env), &project.Environment); err != nil {
			return types.Project{}, fmt.Errorf("decode environment of %s: %w", project.Name, err)
		}
	}
	return project, nil
}

func isConstraintViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}

func dbError(op, name string, err error) error {
	return types.NewError(types.CodeDatabase, op, name, err)
}
