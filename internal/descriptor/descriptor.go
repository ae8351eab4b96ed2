// Package descriptor provides the second query surface: the caller builds a
// declarative query descriptor against a per-compilation namespace of
// aliased table references, and the compiler emits SQL under the same rules
// as the builder core.
//
// References are constructed explicitly - Namespace.Table and TableRef.Col -
// backed by the schema registry; there is no dynamic property interception.
package descriptor

import (
	"fmt"

	"github.com/roach88/relata/internal/qerr"
	"github.com/roach88/relata/internal/query"
	"github.com/roach88/relata/internal/relation"
	"github.com/roach88/relata/internal/schema"
	"github.com/roach88/relata/internal/sqlast"
)

// ColumnRef is an alias-scoped column reference. Immutable value type; it
// has no ownership beyond the compilation that produced it.
type ColumnRef struct {
	Table  string
	Alias  string
	Column string
}

// String renders the reference as a quoted "alias"."column" pair.
func (c ColumnRef) String() string {
	return sqlast.QuoteIdent(c.Alias) + "." + sqlast.QuoteIdent(c.Column)
}

// Descriptor is a declarative query description. Transient: constructed per
// call, consumed once by Compile, then discarded.
type Descriptor struct {
	// Select maps output names to ColumnRefs or literal scalars. Empty
	// selects every column of the primary table.
	Select map[string]any

	// Joins are explicit (left, right) column pairs. The compiler infers
	// which side names the table to append as the JOIN target.
	Joins [][2]ColumnRef

	// Where uses the condition DSL. Keys may be bare column names
	// (implicitly scoped to the primary table) or fully-qualified
	// "alias"."column" strings.
	Where query.Conditions

	OrderBy []query.Order
	GroupBy []string
	Limit   *int
	Offset  *int
}

// aliasEntry is one assignment in the per-compilation alias table.
type aliasEntry struct {
	alias string
	table *schema.Table
}

// Namespace assigns fresh aliases to table accesses for the lifetime of one
// compilation. Accessing the same table twice yields two independent aliases
// sharing the underlying table (self-joins, two roles).
type Namespace struct {
	schemas   *schema.Registry
	relations *relation.Registry
	entries   []aliasEntry
	byAlias   map[string]*schema.Table
}

// NewNamespace creates an empty namespace over the given registries.
func NewNamespace(schemas *schema.Registry, relations *relation.Registry) *Namespace {
	return &Namespace{
		schemas:   schemas,
		relations: relations,
		byAlias:   make(map[string]*schema.Table),
	}
}

// Table returns a reference to the named table under a fresh alias
// (t1, t2, ... monotonically for this namespace only).
func (n *Namespace) Table(name string) (*TableRef, error) {
	t, ok := n.schemas.Lookup(name)
	if !ok {
		return nil, qerr.NewCompileError(qerr.ErrCodeUnknownTable, "unknown table %q", name)
	}
	alias := fmt.Sprintf("t%d", len(n.entries)+1)
	n.entries = append(n.entries, aliasEntry{alias: alias, table: t})
	n.byAlias[alias] = t
	return &TableRef{ns: n, table: t, alias: alias}, nil
}

// primary returns the first table referenced, the implicit FROM target.
func (n *Namespace) primary() (aliasEntry, bool) {
	if len(n.entries) == 0 {
		return aliasEntry{}, false
	}
	return n.entries[0], true
}

func (n *Namespace) lookupAlias(alias string) (*schema.Table, bool) {
	t, ok := n.byAlias[alias]
	return t, ok
}

// TableRef is one aliased table role inside a namespace.
type TableRef struct {
	ns    *Namespace
	table *schema.Table
	alias string
}

// Alias returns the assigned alias.
func (t *TableRef) Alias() string { return t.alias }

// Name returns the underlying table name.
func (t *TableRef) Name() string { return t.table.Name }

// Col returns a ColumnRef for the named column. A navigation field resolves
// to the underlying FK column (belongs-to) or the primary key (one-to-many),
// never the logical field name.
func (t *TableRef) Col(name string) (ColumnRef, error) {
	for _, d := range t.ns.relations.ForTable(t.table.Name) {
		if d.NavigationField != name {
			continue
		}
		if d.Kind == relation.BelongsTo {
			return ColumnRef{Table: t.table.Name, Alias: t.alias, Column: d.ForeignKeyColumn}, nil
		}
		return ColumnRef{Table: t.table.Name, Alias: t.alias, Column: t.table.PK()}, nil
	}
	if !t.table.HasColumn(name) {
		return ColumnRef{}, qerr.NewCompileError(qerr.ErrCodeUnknownColumn,
			"table %q has no column or navigation field %q", t.table.Name, name)
	}
	return ColumnRef{Table: t.table.Name, Alias: t.alias, Column: name}, nil
}

// PK returns a ColumnRef for the table's primary key.
func (t *TableRef) PK() ColumnRef {
	return ColumnRef{Table: t.table.Name, Alias: t.alias, Column: t.table.PK()}
}
