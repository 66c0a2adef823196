// Package sqlite provides an embedded SQLite implementation of store.GraphStorage.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/OFFIS-RIT/spans/pkg/store"
)

// Repository implements store.GraphStorage using SQLite.
type Repository struct {
	db   *sql.DB
	path string
}

// NewRepository opens (or creates) the database at path. ":memory:" keeps
// everything in one private in-memory database.
func NewRepository(path string) (*Repository, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	// One connection: transactions serialise and :memory: stays a single database.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	return &Repository{
		db:   db,
		path: path,
	}, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) Path() string {
	return r.path
}

// EnsureSchema creates the tables if they don't exist.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS spans (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		start_year INTEGER,
		start_month INTEGER,
		start_day INTEGER,
		end_year INTEGER,
		end_month INTEGER,
		end_day INTEGER,
		access_level TEXT NOT NULL DEFAULT 'private',
		metadata TEXT NOT NULL DEFAULT '{}',
		sources TEXT NOT NULL DEFAULT '[]',
		owner_id TEXT NOT NULL DEFAULT '',
		updater_id TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		name_folded TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_spans_type_name ON spans(type, name);
	CREATE INDEX IF NOT EXISTS idx_spans_type_name_folded ON spans(type, name_folded);

	CREATE TABLE IF NOT EXISTS connection_types (
		key TEXT PRIMARY KEY,
		constraint_type TEXT NOT NULL CHECK (constraint_type IN ('single', 'multiple', 'timeless')),
		single_by TEXT NOT NULL DEFAULT '',
		allowed_parent_types TEXT NOT NULL DEFAULT '[]',
		allowed_child_types TEXT NOT NULL DEFAULT '[]',
		forward_predicate TEXT NOT NULL DEFAULT '',
		inverse_predicate TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS connections (
		id TEXT PRIMARY KEY,
		parent_id TEXT NOT NULL REFERENCES spans(id),
		child_id TEXT NOT NULL REFERENCES spans(id),
		type TEXT NOT NULL REFERENCES connection_types(key),
		span_id TEXT NOT NULL UNIQUE REFERENCES spans(id),
		created_at INTEGER NOT NULL,
		CHECK (parent_id <> child_id)
	);
	CREATE INDEX IF NOT EXISTS idx_connections_parent ON connections(parent_id, type);
	CREATE INDEX IF NOT EXISTS idx_connections_child ON connections(child_id, type);

	CREATE TABLE IF NOT EXISTS repair_runs (
		run_id TEXT PRIMARY KEY,
		total_groups INTEGER NOT NULL DEFAULT 0,
		groups_processed INTEGER NOT NULL DEFAULT 0,
		deleted_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		actor_id TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

var _ store.GraphStorage = (*Repository)(nil)

func (r *Repository) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&repoTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// repoTx implements store.Tx over one *sql.Tx.
type repoTx struct {
	tx *sql.Tx
}

var _ store.Tx = (*repoTx)(nil)

// maxVars bounds the number of bound parameters per IN list.
const maxVars = 500

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
