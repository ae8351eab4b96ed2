package descriptor

import (
	"sort"
	"strings"

	"github.com/roach88/relata/internal/qerr"
	"github.com/roach88/relata/internal/query"
	"github.com/roach88/relata/internal/relation"
	"github.com/roach88/relata/internal/schema"
	"github.com/roach88/relata/internal/sqlast"
)

// Compile converts a descriptor built against the namespace into a single
// SQL statement plus positional parameters. It never executes anything.
//
// The primary table is the first one referenced through the namespace; every
// other referenced alias must be reachable through a join pair or
// compilation fails.
func Compile(ns *Namespace, d Descriptor) (string, []any, error) {
	primary, ok := ns.primary()
	if !ok {
		return "", nil, qerr.NewCompileError(qerr.ErrCodeNoTablesReferenced,
			"descriptor compiled without referencing any table")
	}

	var params []any

	selectClause, selectParams, err := compileSelect(d.Select)
	if err != nil {
		return "", nil, err
	}
	params = append(params, selectParams...)

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(selectClause)
	sb.WriteString(" FROM ")
	sb.WriteString(sqlast.QuoteIdent(primary.table.Name))
	sb.WriteString(" AS ")
	sb.WriteString(sqlast.QuoteIdent(primary.alias))

	joined := map[string]bool{primary.alias: true}
	for _, pair := range d.Joins {
		clause, err := compileJoin(ns, joined, pair)
		if err != nil {
			return "", nil, err
		}
		sb.WriteString(clause)
	}

	// Every alias handed out must end up in the FROM clause, or the emitted
	// SQL would reference a table SQLite never saw.
	for _, entry := range ns.entries {
		if !joined[entry.alias] {
			return "", nil, qerr.NewCompileError(qerr.ErrCodeUnknownJoinAlias,
				"table %q (alias %s) referenced but never joined", entry.table.Name, entry.alias)
		}
	}

	scope := namespaceScope{ns: ns, primary: primary}
	where, err := query.CompileConditions(d.Where, scope)
	if err != nil {
		return "", nil, err
	}
	if where.SQL != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(where.SQL)
		params = append(params, where.Params...)
	}

	if len(d.GroupBy) > 0 {
		parts := make([]string, 0, len(d.GroupBy))
		for _, g := range d.GroupBy {
			colSQL, err := scope.resolveAddress(g)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, colSQL)
		}
		sb.WriteString(" GROUP BY ")
		sb.WriteString(strings.Join(parts, ", "))
	}

	if len(d.OrderBy) > 0 {
		parts := make([]string, 0, len(d.OrderBy))
		for _, o := range d.OrderBy {
			colSQL, err := scope.resolveAddress(o.Column)
			if err != nil {
				return "", nil, err
			}
			dir := " ASC"
			if o.Desc {
				dir = " DESC"
			}
			parts = append(parts, colSQL+dir)
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(parts, ", "))
	}

	limitSQL, limitParams := query.CompileLimitOffset(d.Limit, d.Offset)
	sb.WriteString(limitSQL)
	params = append(params, limitParams...)

	return sb.String(), params, nil
}

// compileSelect renders the select map in sorted output-name order. The AS
// clause is omitted when the output name equals the source column name.
func compileSelect(sel map[string]any) (string, []any, error) {
	if len(sel) == 0 {
		return "*", nil, nil
	}

	names := make([]string, 0, len(sel))
	for name := range sel {
		names = append(names, name)
	}
	sort.Strings(names)

	var parts []string
	var params []any
	for _, name := range names {
		switch v := sel[name].(type) {
		case ColumnRef:
			if name == v.Column {
				parts = append(parts, v.String())
			} else {
				parts = append(parts, v.String()+" AS "+sqlast.QuoteIdent(name))
			}
		default:
			lit, err := sqlast.Compile(sqlast.Wrap(v))
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, lit.SQL+" AS "+sqlast.QuoteIdent(name))
			params = append(params, lit.Params...)
		}
	}
	return strings.Join(parts, ", "), params, nil
}

// compileJoin appends the side of the pair whose alias is not yet part of
// the FROM clause as an INNER JOIN target.
func compileJoin(ns *Namespace, joined map[string]bool, pair [2]ColumnRef) (string, error) {
	left, right := pair[0], pair[1]
	for _, ref := range []ColumnRef{left, right} {
		if _, ok := ns.lookupAlias(ref.Alias); !ok {
			return "", qerr.NewCompileError(qerr.ErrCodeUnknownJoinAlias,
				"join references alias %q which is not in the alias table", ref.Alias)
		}
	}

	var anchor, target ColumnRef
	switch {
	case joined[left.Alias] && !joined[right.Alias]:
		anchor, target = left, right
	case joined[right.Alias] && !joined[left.Alias]:
		anchor, target = right, left
	case joined[left.Alias] && joined[right.Alias]:
		return "", qerr.NewCompileError(qerr.ErrCodeNoRelationship,
			"join (%s, %s): both sides already joined", left, right)
	default:
		return "", qerr.NewCompileError(qerr.ErrCodeNoRelationship,
			"join (%s, %s) does not connect to the tables joined so far", left, right)
	}

	joined[target.Alias] = true
	return " INNER JOIN " + sqlast.QuoteIdent(target.Table) + " AS " + sqlast.QuoteIdent(target.Alias) +
		" ON " + anchor.String() + " = " + target.String(), nil
}

// namespaceScope resolves condition and ordering keys with dual addressing:
// a bare column name scopes to the primary table, a qualified
// "alias"."column" string is matched against the known aliases.
type namespaceScope struct {
	ns      *Namespace
	primary aliasEntry
}

// ResolveConditionKey implements query.ColumnResolver.
func (s namespaceScope) ResolveConditionKey(key string) (string, string, bool, error) {
	if alias, column, ok := parseQualified(key); ok {
		t, found := s.ns.lookupAlias(alias)
		if !found {
			return "", "", false, qerr.NewCompileError(qerr.ErrCodeUnknownJoinAlias,
				"condition references alias %q which is not in the alias table", alias)
		}
		return s.resolveOn(t, alias, column)
	}
	return s.resolveOn(s.primary.table, s.primary.alias, key)
}

// resolveAddress resolves an orderBy/groupBy entry to its SQL identifier.
func (s namespaceScope) resolveAddress(key string) (string, error) {
	colSQL, _, _, err := s.ResolveConditionKey(key)
	return colSQL, err
}

func (s namespaceScope) resolveOn(t *schema.Table, alias, column string) (string, string, bool, error) {
	qualify := func(col string) string {
		return sqlast.QuoteIdent(alias) + "." + sqlast.QuoteIdent(col)
	}

	for _, d := range s.ns.relations.ForTable(t.Name) {
		if d.NavigationField != column {
			continue
		}
		if d.Kind == relation.BelongsTo {
			targetPK := "id"
			if target, ok := s.ns.schemas.Lookup(d.To); ok {
				targetPK = target.PK()
			}
			return qualify(d.ForeignKeyColumn), targetPK, true, nil
		}
		return qualify(t.PK()), d.ForeignKeyColumn, true, nil
	}

	if !t.HasColumn(column) {
		return "", "", false, qerr.NewCompileError(qerr.ErrCodeUnknownColumn,
			"table %q has no column or navigation field %q", t.Name, column)
	}
	return qualify(column), "", false, nil
}

// parseQualified recognizes "alias"."column" and alias.column forms.
func parseQualified(key string) (alias, column string, ok bool) {
	if strings.HasPrefix(key, `"`) {
		// Quoted form: "alias"."column"
		rest := key[1:]
		end := strings.Index(rest, `"`)
		if end < 0 {
			return "", "", false
		}
		alias = rest[:end]
		rest = rest[end+1:]
		if !strings.HasPrefix(rest, `."`) || !strings.HasSuffix(rest, `"`) {
			return "", "", false
		}
		column = rest[2 : len(rest)-1]
		if alias == "" || column == "" {
			return "", "", false
		}
		return alias, column, true
	}

	parts := strings.Split(key, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
