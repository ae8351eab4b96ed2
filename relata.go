// Package relata is a schema-driven data-access layer over embedded SQLite.
//
// Applications declare table schemas and optional relationship rules; the
// layer infers foreign-key structure, compiles structured query
// descriptions into parameterized SQL, and offers two change-notification
// mechanisms - synchronous events and polling-based reactivity - on top of
// an ordinary CRUD surface.
package relata

import (
	"context"
	"fmt"

	"github.com/roach88/relata/internal/descriptor"
	"github.com/roach88/relata/internal/query"
	"github.com/roach88/relata/internal/reactive"
	"github.com/roach88/relata/internal/relation"
	"github.com/roach88/relata/internal/schema"
	"github.com/roach88/relata/internal/store"
)

// DB is one database instance: schemas, the derived relationship registry,
// the SQLite store, the synchronous event bus, and the polling engine.
//
// The relationship registry is built once at Open and read-only thereafter;
// all compiler components share it.
type DB struct {
	schemas   *schema.Registry
	relations *relation.Registry
	store     *store.Store
	bus       *reactive.Bus
	engine    *reactive.Engine
}

// Open builds the relationship registry from the declared schemas plus the
// optional explicit config, opens (or creates) the SQLite database at path,
// and wires mutation events to the bus.
func Open(path string, schemas *schema.Registry, cfg relation.Config, opts ...relation.Option) (*DB, error) {
	relations := relation.NewRegistry(schemas, opts...)
	if err := relations.AddFromSchemas(); err != nil {
		return nil, fmt.Errorf("derive relationships: %w", err)
	}
	if cfg != nil {
		if err := relations.AddConfig(cfg); err != nil {
			return nil, fmt.Errorf("apply relationship config: %w", err)
		}
	}

	st, err := store.Open(path, schemas, relations)
	if err != nil {
		return nil, err
	}

	bus := reactive.NewBus()
	st.SetNotifier(bus)

	return &DB{
		schemas:   schemas,
		relations: relations,
		store:     st,
		bus:       bus,
		engine:    reactive.NewEngine(st),
	}, nil
}

// Close closes the underlying database. Active subscriptions should be
// unsubscribed first.
func (db *DB) Close() error {
	return db.store.Close()
}

// Store exposes the underlying store for direct access.
func (db *DB) Store() *store.Store { return db.store }

// Relations exposes the read-only relationship registry.
func (db *DB) Relations() *relation.Registry { return db.relations }

// Insert writes one row and returns its new primary key.
func (db *DB) Insert(ctx context.Context, table string, row store.Row) (int64, error) {
	return db.store.Insert(ctx, table, row)
}

// Update rewrites columns of one row by primary key.
func (db *DB) Update(ctx context.Context, table string, id any, row store.Row) (int64, error) {
	return db.store.Update(ctx, table, id, row)
}

// Delete removes one row by primary key.
func (db *DB) Delete(ctx context.Context, table string, id any) (int64, error) {
	return db.store.Delete(ctx, table, id)
}

// Get returns one row by primary key, or nil when absent.
func (db *DB) Get(ctx context.Context, table string, id any) (store.Row, error) {
	return db.store.Get(ctx, table, id)
}

// Find compiles and executes a query spec.
func (db *DB) Find(ctx context.Context, spec query.Spec) ([]store.Row, error) {
	return db.store.Find(ctx, spec)
}

// Count returns the number of rows matching the spec's WHERE scope.
func (db *DB) Count(ctx context.Context, spec query.Spec) (int64, error) {
	return db.store.Count(ctx, spec)
}

// ToSQL compiles a query spec and returns the SQL plus parameters without
// executing anything.
func (db *DB) ToSQL(spec query.Spec) (string, []any, error) {
	return db.store.Compiler().CompileSelect(spec)
}

// Namespace starts a descriptor compilation: a fresh per-query namespace of
// aliased table references.
func (db *DB) Namespace() *descriptor.Namespace {
	return descriptor.NewNamespace(db.schemas, db.relations)
}

// Describe compiles a descriptor against its namespace and executes it.
func (db *DB) Describe(ctx context.Context, ns *descriptor.Namespace, d descriptor.Descriptor) ([]store.Row, error) {
	sqlText, params, err := descriptor.Compile(ns, d)
	if err != nil {
		return nil, err
	}
	return db.store.Query(ctx, sqlText, params...)
}

// On registers a synchronous listener for one table and event kind.
// Listeners run on the mutating caller's goroutine, in registration order,
// before the mutating call returns.
func (db *DB) On(table string, action store.Action, fn reactive.Listener) reactive.Handle {
	return db.bus.Subscribe(table, action, fn)
}

// Off removes a listener by handle.
func (db *DB) Off(h reactive.Handle) {
	db.bus.Unsubscribe(h)
}

// Watch subscribes to a query's result set via fingerprint polling.
func (db *DB) Watch(spec query.Spec, opts reactive.WatchOptions, fn func([]store.Row)) (*reactive.Subscription, error) {
	return db.engine.Watch(spec, opts, fn)
}

// Tail subscribes to newly-appended change-log entries for one table.
func (db *DB) Tail(table string, opts reactive.TailOptions, fn func(store.ChangeLogEntry)) (*reactive.Subscription, error) {
	return db.engine.Tail(table, opts, fn)
}
