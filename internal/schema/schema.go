// Package schema holds the declared table model consumed by the relation
// registry and both query compilers.
//
// Relationships between tables are declared by NAME: a field that references
// another table carries the target table's name string, resolved once against
// the registry. There is no identity comparison of lazily-evaluated schema
// objects anywhere in this package.
package schema

import (
	"sort"

	"github.com/roach88/relata/internal/qerr"
)

// FieldType enumerates the scalar column types the layer understands.
// Value validation and defaults are owned by an external schema-validation
// collaborator; this layer only needs types for DDL bootstrap.
type FieldType string

const (
	TypeInt    FieldType = "int"
	TypeText   FieldType = "text"
	TypeReal   FieldType = "real"
	TypeBool   FieldType = "bool"
	TypeTime   FieldType = "time"
	TypeBlob   FieldType = "blob"
)

// Field declares one column or relationship field of a table.
//
// A plain column sets Name and Type. A relationship field sets Ref to the
// target table's name: a scalar reference declares a belongs-to (the field
// name becomes the navigation field, with a synthesized FK column), and
// Many=true declares a one-to-many (an array-wrapped reference in the
// original declaration).
type Field struct {
	Name string
	Type FieldType

	// Ref names the referenced table for relationship fields. Empty for
	// plain columns.
	Ref string

	// Many marks an array-wrapped reference (one-to-many).
	Many bool
}

// IsRelationship reports whether the field declares a table reference.
func (f Field) IsRelationship() bool {
	return f.Ref != ""
}

// Table declares one table: its name, primary key and ordered fields.
type Table struct {
	Name       string
	PrimaryKey string // Defaults to "id" when empty.
	Fields     []Field
}

// PK returns the table's primary key column name.
func (t *Table) PK() string {
	if t.PrimaryKey == "" {
		return "id"
	}
	return t.PrimaryKey
}

// Field looks up a field by name.
func (t *Table) Field(name string) (Field, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// HasColumn reports whether name is a plain (non-relationship) column or the
// primary key. The primary key is always addressable even when not declared
// as an explicit field.
func (t *Table) HasColumn(name string) bool {
	if name == t.PK() {
		return true
	}
	f, ok := t.Field(name)
	return ok && !f.IsRelationship()
}

// Registry maps table names to their declared schemas. Built once at
// startup; read-only thereafter.
type Registry struct {
	tables map[string]*Table
}

// NewRegistry creates an empty schema registry.
func NewRegistry() *Registry {
	return &Registry{tables: make(map[string]*Table)}
}

// Add registers a table schema. Registering the same table name twice is a
// ConfigError: two declarations for one table is ambiguous, unlike
// relationship re-registration which the relation registry ignores silently.
func (r *Registry) Add(t *Table) error {
	if t.Name == "" {
		return qerr.NewConfigError("", "table declared without a name")
	}
	if _, exists := r.tables[t.Name]; exists {
		return qerr.NewConfigError(t.Name, "table %q declared twice", t.Name)
	}
	r.tables[t.Name] = t
	return nil
}

// Lookup returns the schema for a table name.
func (r *Registry) Lookup(name string) (*Table, bool) {
	t, ok := r.tables[name]
	return t, ok
}

// Tables returns all declared tables sorted by name for deterministic
// iteration.
func (r *Registry) Tables() []*Table {
	names := make([]string, 0, len(r.tables))
	for name := range r.tables {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*Table, 0, len(names))
	for _, name := range names {
		out = append(out, r.tables[name])
	}
	return out
}
