// Package relation derives and serves the relationship descriptors used by
// both query compilers for navigation-field rewriting and join inference.
//
// Descriptors come from two independent construction paths - explicit
// configuration and schema introspection - which produce structurally
// identical shapes. The registry is built once per database instance and is
// read-only thereafter; compilers hold shared references.
package relation

import (
	"sort"
	"strings"

	"github.com/roach88/relata/internal/qerr"
	"github.com/roach88/relata/internal/schema"
)

// Kind distinguishes the two relationship directions.
type Kind string

const (
	// BelongsTo: From holds a foreign key referencing To's primary key.
	BelongsTo Kind = "belongs-to"

	// OneToMany: the inverse view - To holds the foreign key, From is the
	// referenced side.
	OneToMany Kind = "one-to-many"
)

// Descriptor is one normalized relationship.
//
// For every BelongsTo(from=A, to=B, fk=F) the registry holds exactly one
// inferred OneToMany(from=B, to=A) unless an equivalent descriptor was
// already registered.
type Descriptor struct {
	Kind             Kind
	From             string // Owning table of the navigation field.
	To               string // Target table the navigation resolves to.
	NavigationField  string // Logical field name used in queries.
	ForeignKeyColumn string // Physical FK column (always on the belongs-to side).
}

// Config declares relationships explicitly: {childTable: {fkColumn: parentTable}}.
type Config map[string]map[string]string

// DefaultFKSuffix is stripped from configured FK column names to derive the
// navigation field, and appended to navigation fields to synthesize FK
// column names from schema-declared references.
const DefaultFKSuffix = "_id"

type dedupKey struct {
	from string
	key  string // FK column for BelongsTo, navigation field for OneToMany.
	kind Kind
}

// Registry holds all relationship descriptors for one database instance.
type Registry struct {
	schemas  *schema.Registry
	fkSuffix string
	byTable  map[string][]Descriptor
	seen     map[dedupKey]bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithFKSuffix overrides the foreign-key naming suffix (default "_id").
func WithFKSuffix(suffix string) Option {
	return func(r *Registry) { r.fkSuffix = suffix }
}

// NewRegistry creates an empty relationship registry over the given schemas.
func NewRegistry(schemas *schema.Registry, opts ...Option) *Registry {
	r := &Registry{
		schemas:  schemas,
		fkSuffix: DefaultFKSuffix,
		byTable:  make(map[string][]Descriptor),
		seen:     make(map[dedupKey]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddConfig registers relationships from explicit configuration.
//
// Each entry {child: {fk: parent}} yields one BelongsTo plus a synthesized
// OneToMany inverse. Both table names must exist in the schema registry
// (fail fast with a named-table error otherwise). Re-registering the same
// config is idempotent: duplicates are silently ignored after the first
// write.
func (r *Registry) AddConfig(cfg Config) error {
	// Sort for deterministic registration order across map iteration.
	children := make([]string, 0, len(cfg))
	for child := range cfg {
		children = append(children, child)
	}
	sort.Strings(children)

	for _, child := range children {
		if _, ok := r.schemas.Lookup(child); !ok {
			return qerr.NewConfigError(child, "relationship config references unknown table %q", child)
		}

		fks := make([]string, 0, len(cfg[child]))
		for fk := range cfg[child] {
			fks = append(fks, fk)
		}
		sort.Strings(fks)

		for _, fk := range fks {
			parent := cfg[child][fk]
			if _, ok := r.schemas.Lookup(parent); !ok {
				return qerr.NewConfigError(parent, "relationship config for %q.%q references unknown table %q", child, fk, parent)
			}
			nav := strings.TrimSuffix(fk, r.fkSuffix)
			r.register(Descriptor{
				Kind:             BelongsTo,
				From:             child,
				To:               parent,
				NavigationField:  nav,
				ForeignKeyColumn: fk,
			})
			r.registerInverse(child, parent, fk)
		}
	}
	return nil
}

// AddFromSchemas registers relationships declared in the schemas themselves.
//
// A scalar reference field is a BelongsTo with a synthesized FK column
// (navigation field + suffix). An array-wrapped reference is a OneToMany;
// its FK column on the child side is synthesized from the owning table's
// name + suffix unless a scalar back-reference already registered it.
// Targets are resolved by name against the schema registry; an unknown
// target is a ConfigError.
func (r *Registry) AddFromSchemas() error {
	for _, t := range r.schemas.Tables() {
		for _, f := range t.Fields {
			if !f.IsRelationship() {
				continue
			}
			if _, ok := r.schemas.Lookup(f.Ref); !ok {
				return qerr.NewConfigError(t.Name, "field %q.%q references unknown table %q", t.Name, f.Name, f.Ref)
			}

			if f.Many {
				r.register(Descriptor{
					Kind:             OneToMany,
					From:             t.Name,
					To:               f.Ref,
					NavigationField:  f.Name,
					ForeignKeyColumn: t.Name + r.fkSuffix,
				})
				r.register(Descriptor{
					Kind:             BelongsTo,
					From:             f.Ref,
					To:               t.Name,
					NavigationField:  t.Name,
					ForeignKeyColumn: t.Name + r.fkSuffix,
				})
				continue
			}

			fk := f.Name + r.fkSuffix
			r.register(Descriptor{
				Kind:             BelongsTo,
				From:             t.Name,
				To:               f.Ref,
				NavigationField:  f.Name,
				ForeignKeyColumn: fk,
			})
			r.registerInverse(t.Name, f.Ref, fk)
		}
	}
	return nil
}

// registerInverse synthesizes the OneToMany inverse of a BelongsTo. The
// navigation field of the inverse is the child table's name.
func (r *Registry) registerInverse(child, parent, fk string) {
	r.register(Descriptor{
		Kind:             OneToMany,
		From:             parent,
		To:               child,
		NavigationField:  child,
		ForeignKeyColumn: fk,
	})
}

// register adds a descriptor unless its dedup key was already seen.
// Silently ignoring duplicates keeps multiple declarations of the same
// relationship (config + schema, or repeated config) idempotent.
func (r *Registry) register(d Descriptor) {
	key := dedupKey{from: d.From, kind: d.Kind}
	if d.Kind == BelongsTo {
		key.key = d.ForeignKeyColumn
	} else {
		key.key = d.NavigationField
	}
	if r.seen[key] {
		return
	}
	r.seen[key] = true
	r.byTable[d.From] = append(r.byTable[d.From], d)
}

// ForTable returns all descriptors owned by the given table, in
// registration order.
func (r *Registry) ForTable(table string) []Descriptor {
	return r.byTable[table]
}

// BelongsToFor resolves a navigation field on table to its BelongsTo
// descriptor, if one is registered.
func (r *Registry) BelongsToFor(table, navField string) (Descriptor, bool) {
	for _, d := range r.byTable[table] {
		if d.Kind == BelongsTo && d.NavigationField == navField {
			return d, true
		}
	}
	return Descriptor{}, false
}

// IsNavigationField reports whether key names a registered navigation field
// (of either kind) on table.
func (r *Registry) IsNavigationField(table, key string) bool {
	for _, d := range r.byTable[table] {
		if d.NavigationField == key {
			return true
		}
	}
	return false
}

// JoinColumns resolves the join columns between two tables via a BelongsTo
// in either direction.
//
// Returns (fkColumn, pkColumn, swapped, ok): fkColumn lives on the
// belongs-to side, pkColumn is the referenced side's primary key, and
// swapped is true when the BelongsTo runs from b to a (i.e. the FK is on b).
// If no relationship exists the join cannot be auto-inferred and the caller
// must supply explicit join columns.
func (r *Registry) JoinColumns(a, b string) (fkColumn, pkColumn string, swapped, ok bool) {
	if d, found := r.belongsToBetween(a, b); found {
		return d.ForeignKeyColumn, r.pk(b), false, true
	}
	if d, found := r.belongsToBetween(b, a); found {
		return d.ForeignKeyColumn, r.pk(a), true, true
	}
	return "", "", false, false
}

func (r *Registry) belongsToBetween(from, to string) (Descriptor, bool) {
	for _, d := range r.byTable[from] {
		if d.Kind == BelongsTo && d.To == to {
			return d, true
		}
	}
	return Descriptor{}, false
}

func (r *Registry) pk(table string) string {
	if t, ok := r.schemas.Lookup(table); ok {
		return t.PK()
	}
	return "id"
}
