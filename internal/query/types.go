package query

// Conditions is the external condition DSL: a map from condition keys to
// values.
//
// Key forms:
//   - plain column + scalar: equality ({"status": "active"})
//   - plain column + operator object: {"qty": {"$gt": 3}} with operators
//     $gt $gte $lt $lte $ne $in $notIn $like $between
//   - the reserved key $or: a list of condition maps combined with OR and
//     parenthesized as a unit against the rest (which is implicitly ANDed)
//   - a navigation field: the value is a related row (its primary key is
//     extracted) or a raw id, rewritten to the underlying FK column
//   - the reserved key $raw: a Raw fragment passed through verbatim
type Conditions = map[string]any

// Raw is the escape hatch for SQL fragments the DSL cannot express. The
// fragment is emitted verbatim with its params bound positionally; callers
// own its correctness.
type Raw struct {
	SQL    string
	Params []any
}

// Order is one ORDER BY entry.
type Order struct {
	Column string
	Desc   bool
}

// Join declares one joined table. LeftColumn/RightColumn may be left empty
// to auto-infer the join columns from the relationship registry; when no
// relationship exists between the two tables, explicit columns are required.
type Join struct {
	Table       string
	LeftColumn  string // Column on the base table.
	RightColumn string // Column on the joined table.
}

// Spec is a structured query description consumed once by CompileSelect.
type Spec struct {
	Table      string
	Columns    []string
	Conditions Conditions
	Joins      []Join
	OrderBy    []Order
	Limit      *int
	Offset     *int
}

// Reserved condition keys.
const (
	keyOr  = "$or"
	keyRaw = "$raw"
)
