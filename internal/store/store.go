// Package store provides SQLite-backed storage for declared table schemas.
//
// The store executes only SQL produced by the query compiler, bootstraps
// idempotent DDL for the declared tables, and maintains an append-only
// change log populated by triggers on every mutating statement. The change
// log lives in the persisted database (not in memory), so external writers
// to the same file are observable too.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/relata/internal/query"
	"github.com/roach88/relata/internal/relation"
	"github.com/roach88/relata/internal/schema"
)

// Row is a stored record keyed by column name. It is a type alias so rows
// flow into the condition DSL (which matches on map[string]any) unchanged.
type Row = map[string]any

// Action identifies the kind of a mutating statement.
type Action string

const (
	ActionInsert Action = "INSERT"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// Event describes one successful mutation. Events are delivered
// synchronously on the mutating caller's goroutine, before the mutating
// call returns.
//
// RowID carries the integer primary key of the affected row. The bootstrap
// DDL declares every primary key as INTEGER, but Update and Delete accept
// the key as any value; when the caller passes a non-integer (a string id,
// say), RowID is 0 and the key is available under the table's primary-key
// column in Row instead. Delete events carry no Row.
type Event struct {
	Table  string
	Action Action
	RowID  int64
	Row    Row // Post-mutation values for insert/update; nil for delete.
}

// Notifier receives mutation events. The reactive event bus implements it.
// Delivery is best-effort and not transactional with the mutation: a
// panicking listener propagates to the mutating caller.
type Notifier interface {
	Emit(Event)
}

// Store provides CRUD access over the declared schemas.
type Store struct {
	db        *sql.DB
	schemas   *schema.Registry
	relations *relation.Registry
	compiler  *query.Compiler
	notifier  Notifier
}

// Open creates or opens a SQLite database at the given path, applies the
// required pragmas, and bootstraps DDL for the declared tables plus the
// change log and its triggers. Idempotent - safe to call on an existing
// database.
func Open(path string, schemas *schema.Registry, relations *relation.Registry) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	s := &Store{
		db:        db,
		schemas:   schemas,
		relations: relations,
		compiler:  query.NewCompiler(schemas, relations),
	}

	if err := s.ensureTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries. Use with caution -
// prefer Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Compiler returns the store's query compiler, shared with the reactivity
// engine for fingerprint queries.
func (s *Store) Compiler() *query.Compiler {
	return s.compiler
}

// SetNotifier registers the event sink for mutation events. Call before
// issuing mutations; a nil notifier disables emission.
func (s *Store) SetNotifier(n Notifier) {
	s.notifier = n
}

func (s *Store) emit(ev Event) {
	if s.notifier != nil {
		s.notifier.Emit(ev)
	}
}

// Query executes a compiled statement and maps the result set to rows.
// Used for descriptor-compiled SQL, which the Spec-based Find cannot express.
func (s *Store) Query(ctx context.Context, sqlText string, args ...any) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// scanRows maps a result set into Row maps. Text affinity can come back
// from the driver as []byte; widen it to string.
func scanRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		row := make(Row, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}
