package query

import (
	"sort"
	"strings"

	"github.com/roach88/relata/internal/qerr"
	"github.com/roach88/relata/internal/sqlast"
)

// ColumnResolver maps condition keys to the SQL identifiers they address.
// The builder core resolves against a single table scope; the descriptor
// compiler resolves against its per-compilation alias table. Both rewrite
// navigation fields to their underlying FK column.
type ColumnResolver interface {
	// ResolveConditionKey returns the quoted SQL identifier for key. For
	// navigation fields isNav is true and navTargetPK names the target
	// table's primary-key column, used to extract the id from an entity row
	// given as the condition value.
	ResolveConditionKey(key string) (colSQL string, navTargetPK string, isNav bool, err error)
}

// CompileConditions compiles a conditions map to a WHERE fragment. It is
// shared by the builder core and the descriptor compiler so both surfaces
// follow identical emission rules.
// Keys are iterated in sorted order so output is deterministic.
func CompileConditions(cond Conditions, res ColumnResolver) (sqlast.Fragment, error) {
	if len(cond) == 0 {
		return sqlast.Fragment{}, nil
	}

	keys := make([]string, 0, len(cond))
	for k := range cond {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	var params []any
	for _, key := range keys {
		frag, err := compileCondition(key, cond[key], res)
		if err != nil {
			return sqlast.Fragment{}, err
		}
		parts = append(parts, frag.SQL)
		params = append(params, frag.Params...)
	}

	return sqlast.Fragment{SQL: strings.Join(parts, " AND "), Params: params}, nil
}

func compileCondition(key string, value any, res ColumnResolver) (sqlast.Fragment, error) {
	switch key {
	case keyOr:
		return compileOr(value, res)
	case keyRaw:
		raw, ok := value.(Raw)
		if !ok {
			return sqlast.Fragment{}, qerr.NewCompileError(qerr.ErrCodeUnsupportedOperator,
				"$raw requires a query.Raw value, got %T", value)
		}
		return sqlast.Fragment{SQL: raw.SQL, Params: raw.Params}, nil
	}

	colSQL, navPK, isNav, err := res.ResolveConditionKey(key)
	if err != nil {
		return sqlast.Fragment{}, err
	}

	if isNav {
		id, err := entityID(key, value, navPK)
		if err != nil {
			return sqlast.Fragment{}, err
		}
		return compileEquality(colSQL, id)
	}

	if ops, ok := value.(map[string]any); ok {
		return compileOperatorMap(colSQL, ops)
	}
	return compileEquality(colSQL, value)
}

// compileOr combines a list of condition maps with OR, parenthesized as a
// unit against the rest of the (implicitly ANDed) conditions. Like the
// empty-$in short-circuits, the degenerate shapes never reach SQL text: an
// empty list has no disjunct that could match, and an empty branch matches
// everything, making the whole group true.
func compileOr(value any, res ColumnResolver) (sqlast.Fragment, error) {
	branches, ok := asConditionsList(value)
	if !ok {
		return sqlast.Fragment{}, qerr.NewCompileError(qerr.ErrCodeUnsupportedOperator,
			"$or requires a list of condition maps, got %T", value)
	}

	if len(branches) == 0 {
		return sqlast.Fragment{SQL: "1 = 0"}, nil
	}

	var parts []string
	var params []any
	for _, branch := range branches {
		frag, err := CompileConditions(branch, res)
		if err != nil {
			return sqlast.Fragment{}, err
		}
		if frag.SQL == "" {
			return sqlast.Fragment{SQL: "1 = 1"}, nil
		}
		parts = append(parts, frag.SQL)
		params = append(params, frag.Params...)
	}
	return sqlast.Fragment{SQL: "(" + strings.Join(parts, " OR ") + ")", Params: params}, nil
}

// compileOperatorMap compiles an operator object such as {"$gt": 3}.
// Multiple operators on one column AND together in sorted order.
func compileOperatorMap(colSQL string, ops map[string]any) (sqlast.Fragment, error) {
	names := make([]string, 0, len(ops))
	for op := range ops {
		names = append(names, op)
	}
	sort.Strings(names)

	var parts []string
	var params []any
	for _, op := range names {
		frag, err := compileOperator(colSQL, op, ops[op])
		if err != nil {
			return sqlast.Fragment{}, err
		}
		parts = append(parts, frag.SQL)
		params = append(params, frag.Params...)
	}
	return sqlast.Fragment{SQL: strings.Join(parts, " AND "), Params: params}, nil
}

func compileOperator(colSQL, op string, value any) (sqlast.Fragment, error) {
	switch op {
	case "$gt", "$gte", "$lt", "$lte", "$like":
		sqlOp := map[string]string{
			"$gt": ">", "$gte": ">=", "$lt": "<", "$lte": "<=", "$like": "LIKE",
		}[op]
		lit, err := sqlast.Compile(sqlast.Wrap(value))
		if err != nil {
			return sqlast.Fragment{}, err
		}
		return sqlast.Fragment{SQL: colSQL + " " + sqlOp + " " + lit.SQL, Params: lit.Params}, nil

	case "$ne":
		if value == nil {
			return sqlast.Fragment{SQL: colSQL + " IS NOT NULL"}, nil
		}
		lit, err := sqlast.Compile(sqlast.Wrap(value))
		if err != nil {
			return sqlast.Fragment{}, err
		}
		return sqlast.Fragment{SQL: colSQL + " != " + lit.SQL, Params: lit.Params}, nil

	case "$in":
		return compileInList(colSQL, value, false)

	case "$notIn":
		return compileInList(colSQL, value, true)

	case "$between":
		bounds, ok := asSlice(value)
		if !ok || len(bounds) != 2 {
			return sqlast.Fragment{}, qerr.NewCompileError(qerr.ErrCodeMalformedBetween,
				"$between requires exactly a 2-element array for %s", colSQL)
		}
		low, err := sqlast.Compile(sqlast.Wrap(bounds[0]))
		if err != nil {
			return sqlast.Fragment{}, err
		}
		high, err := sqlast.Compile(sqlast.Wrap(bounds[1]))
		if err != nil {
			return sqlast.Fragment{}, err
		}
		params := append(append([]any{}, low.Params...), high.Params...)
		return sqlast.Fragment{SQL: colSQL + " BETWEEN " + low.SQL + " AND " + high.SQL, Params: params}, nil

	default:
		return sqlast.Fragment{}, qerr.NewCompileError(qerr.ErrCodeUnsupportedOperator,
			"unsupported operator %q for %s", op, colSQL)
	}
}

// compileInList compiles $in / $notIn. An empty list short-circuits to an
// always-false (or always-true) fragment rather than emitting invalid
// "IN ()" SQL.
func compileInList(colSQL string, value any, negate bool) (sqlast.Fragment, error) {
	items, ok := asSlice(value)
	if !ok {
		op := "$in"
		if negate {
			op = "$notIn"
		}
		return sqlast.Fragment{}, qerr.NewCompileError(qerr.ErrCodeUnsupportedOperator,
			"%s requires an array value for %s, got %T", op, colSQL, value)
	}

	if len(items) == 0 {
		if negate {
			return sqlast.Fragment{SQL: "1 = 1"}, nil
		}
		return sqlast.Fragment{SQL: "1 = 0"}, nil
	}

	placeholders := make([]string, 0, len(items))
	params := make([]any, 0, len(items))
	for _, item := range items {
		lit, err := sqlast.Compile(sqlast.Wrap(item))
		if err != nil {
			return sqlast.Fragment{}, err
		}
		placeholders = append(placeholders, lit.SQL)
		params = append(params, lit.Params...)
	}

	op := "IN"
	if negate {
		op = "NOT IN"
	}
	return sqlast.Fragment{
		SQL:    colSQL + " " + op + " (" + strings.Join(placeholders, ", ") + ")",
		Params: params,
	}, nil
}

func compileEquality(colSQL string, value any) (sqlast.Fragment, error) {
	if value == nil {
		return sqlast.Fragment{SQL: colSQL + " IS NULL"}, nil
	}
	lit, err := sqlast.Compile(sqlast.Wrap(value))
	if err != nil {
		return sqlast.Fragment{}, err
	}
	return sqlast.Fragment{SQL: colSQL + " = " + lit.SQL, Params: lit.Params}, nil
}

// entityID extracts the id a navigation-field condition binds against:
// either the target primary key of an entity-like row map, or the raw value
// itself.
func entityID(key string, value any, targetPK string) (any, error) {
	if row, ok := value.(map[string]any); ok {
		id, present := row[targetPK]
		if !present {
			return nil, qerr.NewCompileError(qerr.ErrCodeUnknownColumn,
				"entity value for %q has no %q key", key, targetPK)
		}
		return id, nil
	}
	return value, nil
}

// asSlice widens the common concrete slice types callers hand to the DSL.
func asSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	case []int:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	case []int64:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	case []float64:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	default:
		return nil, false
	}
}

func asConditionsList(v any) ([]Conditions, bool) {
	switch s := v.(type) {
	case []Conditions:
		return s, true
	case []any:
		out := make([]Conditions, 0, len(s))
		for _, e := range s {
			m, ok := e.(map[string]any)
			if !ok {
				return nil, false
			}
			out = append(out, m)
		}
		return out, true
	default:
		return nil, false
	}
}
