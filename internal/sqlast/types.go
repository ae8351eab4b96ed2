package sqlast

// Node represents an expression in the SQL AST.
//
// This is a sealed interface - only types in this package implement it.
// The marker method pattern prevents external implementations and enables
// exhaustive type switches in Compile.
//
// Node types:
//   - Column: quoted identifier reference
//   - Literal: bound parameter value
//   - Function: function call over child expressions
//   - Operator: binary comparison or logical composition
//
// Trees are immutable and side-effect-free. Compiling the same tree twice
// is deterministic and yields identical SQL and parameters.
type Node interface {
	astNode() // Marker method - seals interface to this package
}

// Column represents a reference to a column by name.
//
// Compiles to a double-quoted identifier with no parameters:
//
//	Column{Name: "title"}  →  "title"
//
// Embedded double quotes in the name are doubled during emission, so a
// Column can never break out of its identifier position.
type Column struct {
	Name string
}

func (Column) astNode() {}

// Literal represents a constant value bound as a positional parameter.
//
// Compiles to a single ? placeholder plus one parameter. This is the single
// normalization point for engine-native scalar representation:
//   - time.Time values serialize to RFC 3339 strings
//   - booleans serialize to integer 0/1
//   - strings are NFC-normalized so equality filters behave consistently
//     regardless of the caller's Unicode composition
//   - nil passes through as SQL NULL
type Literal struct {
	Value any
}

func (Literal) astNode() {}

// Function represents a function call such as COUNT(x) or LOWER(name).
//
// Compiles recursively; children's parameters are concatenated in argument
// order. The function name is emitted verbatim (callers case-normalize), so
// this layer trusts its caller for identifier safety: construction sites
// must restrict names to a fixed allow-list of SQL functions.
type Function struct {
	Name string
	Args []Node
}

func (Function) astNode() {}

// Operator represents a binary expression (left OP right).
//
// Comparison operators and logical composition (AND/OR) share this shape.
// IS NULL and IS NOT NULL are modeled as an Operator whose right side is
// Literal{nil}, which renders as the NULL keyword rather than a parameter.
type Operator struct {
	Op    string
	Left  Node
	Right Node
}

func (Operator) astNode() {}

// Wrap converts a raw scalar into a Literal node. An already-built Node
// passes through unchanged, so wrapping is idempotent.
func Wrap(v any) Node {
	if n, ok := v.(Node); ok {
		return n
	}
	return Literal{Value: v}
}
