// Package sqlast provides the expression AST shared by both query surfaces
// and its compiler to parameterized SQL fragments.
//
// The compiler is a pure function: no I/O, no state. All values are
// parameterized (never interpolated), and parameter order always matches
// left-to-right, depth-first traversal of the tree.
package sqlast

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/relata/internal/qerr"
)

// Fragment is a compiled SQL fragment with its positional parameters.
type Fragment struct {
	SQL    string
	Params []any
}

// Compile converts an AST node to a parameterized SQL fragment.
//
// An unrecognized node type returns a ProgrammingError: it means the tree
// was hand-constructed incorrectly, since the package's own constructors
// can only produce the four sealed variants.
func Compile(n Node) (Fragment, error) {
	if n == nil {
		return Fragment{}, qerr.NewProgrammingError("cannot compile nil AST node")
	}

	switch node := n.(type) {
	case Column:
		return compileColumn(node), nil
	case *Column:
		return compileColumn(*node), nil
	case Literal:
		return compileLiteral(node), nil
	case *Literal:
		return compileLiteral(*node), nil
	case Function:
		return compileFunction(node)
	case *Function:
		return compileFunction(*node)
	case Operator:
		return compileOperator(node)
	case *Operator:
		return compileOperator(*node)
	default:
		return Fragment{}, qerr.NewProgrammingError("unsupported AST node type: %T", n)
	}
}

func compileColumn(c Column) Fragment {
	return Fragment{SQL: QuoteIdent(c.Name)}
}

func compileLiteral(l Literal) Fragment {
	if l.Value == nil {
		return Fragment{SQL: "NULL"}
	}
	return Fragment{SQL: "?", Params: []any{NormalizeValue(l.Value)}}
}

func compileFunction(f Function) (Fragment, error) {
	args := make([]string, 0, len(f.Args))
	var params []any
	for _, arg := range f.Args {
		frag, err := Compile(arg)
		if err != nil {
			return Fragment{}, err
		}
		args = append(args, frag.SQL)
		params = append(params, frag.Params...)
	}
	return Fragment{
		SQL:    f.Name + "(" + strings.Join(args, ", ") + ")",
		Params: params,
	}, nil
}

func compileOperator(o Operator) (Fragment, error) {
	left, err := Compile(o.Left)
	if err != nil {
		return Fragment{}, err
	}
	right, err := Compile(o.Right)
	if err != nil {
		return Fragment{}, err
	}

	params := make([]any, 0, len(left.Params)+len(right.Params))
	params = append(params, left.Params...)
	params = append(params, right.Params...)

	return Fragment{
		SQL:    "(" + left.SQL + " " + o.Op + " " + right.SQL + ")",
		Params: params,
	}, nil
}

// QuoteIdent double-quotes an identifier, doubling any embedded quotes.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// NormalizeValue converts a Go value to its engine-native scalar
// representation. This is the single normalization point for all bound
// parameters:
//   - time.Time → RFC 3339 string
//   - bool → 0/1 integer
//   - string → NFC-normalized text
//
// Other values pass through unchanged for the driver to bind.
func NormalizeValue(v any) any {
	switch val := v.(type) {
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case bool:
		if val {
			return 1
		}
		return 0
	case string:
		return norm.NFC.String(val)
	default:
		return v
	}
}
