// Package query compiles structured query descriptions - table, column
// selection, a conditions map, joins, ordering and pagination - into single
// parameterized SQL statements.
//
// All user-supplied values become bound parameters; nothing is interpolated
// into SQL text. Compilation is synchronous and side-effect-free.
package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/relata/internal/qerr"
	"github.com/roach88/relata/internal/relation"
	"github.com/roach88/relata/internal/schema"
	"github.com/roach88/relata/internal/sqlast"
)

// Compiler compiles query specs against a schema and relationship registry.
// It holds read-only references and is safe to share.
type Compiler struct {
	Schemas   *schema.Registry
	Relations *relation.Registry
}

// NewCompiler creates a Compiler over the given registries.
func NewCompiler(schemas *schema.Registry, relations *relation.Registry) *Compiler {
	return &Compiler{Schemas: schemas, Relations: relations}
}

// tableScope resolves condition keys against a single table. When the query
// has joins, emitted identifiers are qualified with the table name to avoid
// ambiguity; single-table queries stay unqualified.
type tableScope struct {
	c       *Compiler
	table   *schema.Table
	qualify bool
}

func (s tableScope) ident(column string) string {
	if s.qualify {
		return sqlast.QuoteIdent(s.table.Name) + "." + sqlast.QuoteIdent(column)
	}
	return sqlast.QuoteIdent(column)
}

// ResolveConditionKey implements ColumnResolver. Navigation fields rewrite
// to the FK column (belongs-to) or the primary key (one-to-many inverse).
func (s tableScope) ResolveConditionKey(key string) (string, string, bool, error) {
	for _, d := range s.c.Relations.ForTable(s.table.Name) {
		if d.NavigationField != key {
			continue
		}
		if d.Kind == relation.BelongsTo {
			targetPK := "id"
			if target, ok := s.c.Schemas.Lookup(d.To); ok {
				targetPK = target.PK()
			}
			return s.ident(d.ForeignKeyColumn), targetPK, true, nil
		}
		// One-to-many: the condition pins this table's primary key to the
		// child row's FK value.
		return s.ident(s.table.PK()), d.ForeignKeyColumn, true, nil
	}

	if !s.table.HasColumn(key) {
		return "", "", false, qerr.NewCompileError(qerr.ErrCodeUnknownColumn,
			"table %q has no column or navigation field %q", s.table.Name, key)
	}
	return s.ident(key), "", false, nil
}

// CompileSelect compiles a Spec to a SELECT statement plus parameters.
func (c *Compiler) CompileSelect(spec Spec) (string, []any, error) {
	table, ok := c.Schemas.Lookup(spec.Table)
	if !ok {
		return "", nil, qerr.NewCompileError(qerr.ErrCodeUnknownTable, "unknown table %q", spec.Table)
	}

	scope := tableScope{c: c, table: table, qualify: len(spec.Joins) > 0}

	selectClause, err := c.compileColumns(scope, spec.Columns)
	if err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(selectClause)
	sb.WriteString(" FROM ")
	sb.WriteString(sqlast.QuoteIdent(spec.Table))

	for _, join := range spec.Joins {
		clause, err := c.compileJoin(table, join)
		if err != nil {
			return "", nil, err
		}
		sb.WriteString(clause)
	}

	var params []any
	where, err := CompileConditions(spec.Conditions, scope)
	if err != nil {
		return "", nil, err
	}
	if where.SQL != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(where.SQL)
		params = append(params, where.Params...)
	}

	orderBy, err := c.compileOrderBy(scope, spec)
	if err != nil {
		return "", nil, err
	}
	sb.WriteString(orderBy)

	limitSQL, limitParams := CompileLimitOffset(spec.Limit, spec.Offset)
	sb.WriteString(limitSQL)
	params = append(params, limitParams...)

	return sb.String(), params, nil
}

// CompileCount compiles the spec's WHERE scope to a COUNT(*) statement.
func (c *Compiler) CompileCount(spec Spec) (string, []any, error) {
	return c.compileAggregate(spec, "COUNT(*)")
}

// CompileFingerprint compiles the spec's WHERE scope to the lightweight
// aggregate used by polling observers: row count plus max primary key.
func (c *Compiler) CompileFingerprint(spec Spec) (string, []any, error) {
	table, ok := c.Schemas.Lookup(spec.Table)
	if !ok {
		return "", nil, qerr.NewCompileError(qerr.ErrCodeUnknownTable, "unknown table %q", spec.Table)
	}
	maxPK, err := sqlast.Compile(sqlast.Function{Name: "MAX", Args: []sqlast.Node{sqlast.Column{Name: table.PK()}}})
	if err != nil {
		return "", nil, err
	}
	return c.compileAggregate(spec, "COUNT(*), "+maxPK.SQL)
}

func (c *Compiler) compileAggregate(spec Spec, selectClause string) (string, []any, error) {
	table, ok := c.Schemas.Lookup(spec.Table)
	if !ok {
		return "", nil, qerr.NewCompileError(qerr.ErrCodeUnknownTable, "unknown table %q", spec.Table)
	}
	scope := tableScope{c: c, table: table}

	sql := "SELECT " + selectClause + " FROM " + sqlast.QuoteIdent(spec.Table)

	where, err := CompileConditions(spec.Conditions, scope)
	if err != nil {
		return "", nil, err
	}
	if where.SQL != "" {
		sql += " WHERE " + where.SQL
	}
	return sql, where.Params, nil
}

// CompileInsert compiles an INSERT for the given row. Columns are emitted
// in sorted order for deterministic output.
func (c *Compiler) CompileInsert(tableName string, row map[string]any) (string, []any, error) {
	if _, ok := c.Schemas.Lookup(tableName); !ok {
		return "", nil, qerr.NewCompileError(qerr.ErrCodeUnknownTable, "unknown table %q", tableName)
	}
	if len(row) == 0 {
		return "", nil, qerr.NewCompileError(qerr.ErrCodeUnknownColumn, "insert into %q with no columns", tableName)
	}

	cols := sortedKeys(row)
	quoted := make([]string, 0, len(cols))
	placeholders := make([]string, 0, len(cols))
	params := make([]any, 0, len(cols))
	for _, col := range cols {
		quoted = append(quoted, sqlast.QuoteIdent(col))
		placeholders = append(placeholders, "?")
		params = append(params, sqlast.NormalizeValue(row[col]))
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		sqlast.QuoteIdent(tableName),
		strings.Join(quoted, ", "),
		strings.Join(placeholders, ", "))
	return sql, params, nil
}

// CompileUpdate compiles an UPDATE of one row by primary key.
func (c *Compiler) CompileUpdate(tableName string, id any, row map[string]any) (string, []any, error) {
	table, ok := c.Schemas.Lookup(tableName)
	if !ok {
		return "", nil, qerr.NewCompileError(qerr.ErrCodeUnknownTable, "unknown table %q", tableName)
	}
	if len(row) == 0 {
		return "", nil, qerr.NewCompileError(qerr.ErrCodeUnknownColumn, "update of %q with no columns", tableName)
	}

	cols := sortedKeys(row)
	assignments := make([]string, 0, len(cols))
	params := make([]any, 0, len(cols)+1)
	for _, col := range cols {
		assignments = append(assignments, sqlast.QuoteIdent(col)+" = ?")
		params = append(params, sqlast.NormalizeValue(row[col]))
	}
	params = append(params, sqlast.NormalizeValue(id))

	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
		sqlast.QuoteIdent(tableName),
		strings.Join(assignments, ", "),
		sqlast.QuoteIdent(table.PK()))
	return sql, params, nil
}

// CompileDelete compiles a DELETE of one row by primary key.
func (c *Compiler) CompileDelete(tableName string, id any) (string, []any, error) {
	table, ok := c.Schemas.Lookup(tableName)
	if !ok {
		return "", nil, qerr.NewCompileError(qerr.ErrCodeUnknownTable, "unknown table %q", tableName)
	}
	sql := fmt.Sprintf("DELETE FROM %s WHERE %s = ?",
		sqlast.QuoteIdent(tableName),
		sqlast.QuoteIdent(table.PK()))
	return sql, []any{sqlast.NormalizeValue(id)}, nil
}

func (c *Compiler) compileColumns(scope tableScope, columns []string) (string, error) {
	if len(columns) == 0 {
		return "*", nil
	}
	parts := make([]string, 0, len(columns))
	for _, col := range columns {
		if !scope.table.HasColumn(col) {
			return "", qerr.NewCompileError(qerr.ErrCodeUnknownColumn,
				"table %q has no column %q", scope.table.Name, col)
		}
		parts = append(parts, scope.ident(col))
	}
	return strings.Join(parts, ", "), nil
}

func (c *Compiler) compileJoin(base *schema.Table, join Join) (string, error) {
	joined, ok := c.Schemas.Lookup(join.Table)
	if !ok {
		return "", qerr.NewCompileError(qerr.ErrCodeUnknownTable, "unknown join table %q", join.Table)
	}

	leftCol, rightCol := join.LeftColumn, join.RightColumn
	if leftCol == "" || rightCol == "" {
		fk, pk, swapped, found := c.Relations.JoinColumns(base.Name, joined.Name)
		if !found {
			return "", qerr.NewCompileError(qerr.ErrCodeNoRelationship,
				"no relationship between %q and %q: explicit join columns required", base.Name, joined.Name)
		}
		if swapped {
			leftCol, rightCol = pk, fk
		} else {
			leftCol, rightCol = fk, pk
		}
	}

	return fmt.Sprintf(" INNER JOIN %s ON %s.%s = %s.%s",
		sqlast.QuoteIdent(joined.Name),
		sqlast.QuoteIdent(base.Name), sqlast.QuoteIdent(leftCol),
		sqlast.QuoteIdent(joined.Name), sqlast.QuoteIdent(rightCol)), nil
}

// compileOrderBy validates that each entry references a schema column or a
// previously-selected column, then emits the clause.
func (c *Compiler) compileOrderBy(scope tableScope, spec Spec) (string, error) {
	if len(spec.OrderBy) == 0 {
		return "", nil
	}

	selected := make(map[string]bool, len(spec.Columns))
	for _, col := range spec.Columns {
		selected[col] = true
	}

	parts := make([]string, 0, len(spec.OrderBy))
	for _, o := range spec.OrderBy {
		if !scope.table.HasColumn(o.Column) && !selected[o.Column] {
			return "", qerr.NewCompileError(qerr.ErrCodeUnknownColumn,
				"ORDER BY references unknown column %q on table %q", o.Column, scope.table.Name)
		}
		dir := " ASC"
		if o.Desc {
			dir = " DESC"
		}
		parts = append(parts, scope.ident(o.Column)+dir)
	}
	return " ORDER BY " + strings.Join(parts, ", "), nil
}

// CompileLimitOffset emits LIMIT/OFFSET only when explicitly set. SQLite
// requires LIMIT before OFFSET, so a bare offset gets LIMIT -1 (unbounded).
func CompileLimitOffset(limit, offset *int) (string, []any) {
	switch {
	case limit != nil && offset != nil:
		return " LIMIT ? OFFSET ?", []any{*limit, *offset}
	case limit != nil:
		return " LIMIT ?", []any{*limit}
	case offset != nil:
		return " LIMIT -1 OFFSET ?", []any{*offset}
	default:
		return "", nil
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
