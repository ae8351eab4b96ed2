package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/relata/internal/query"
)

// queryFile is the YAML query description consumed by the compile command.
// The where block is the condition DSL verbatim; yaml.v3 decodes nested
// mappings to map[string]any, which is exactly what the compiler takes.
type queryFile struct {
	Table   string         `yaml:"table"`
	Columns []string       `yaml:"columns,omitempty"`
	Where   map[string]any `yaml:"where,omitempty"`
	Joins   []struct {
		Table       string `yaml:"table"`
		LeftColumn  string `yaml:"leftColumn,omitempty"`
		RightColumn string `yaml:"rightColumn,omitempty"`
	} `yaml:"joins,omitempty"`
	OrderBy []struct {
		Column string `yaml:"column"`
		Desc   bool   `yaml:"desc,omitempty"`
	} `yaml:"orderBy,omitempty"`
	Limit  *int `yaml:"limit,omitempty"`
	Offset *int `yaml:"offset,omitempty"`
}

// CompiledQuery is the compile command's success payload.
type CompiledQuery struct {
	SQL    string `json:"sql"`
	Params []any  `json:"params"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compile <schema-dir> <query.yaml>",
		Short: "Compile a query description to SQL without executing it",
		Long: `Compile a YAML query description against CUE schema declarations.

Prints the parameterized SQL and its positional parameters. Nothing is
executed; no database is touched.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(rootOpts, args[0], args[1], cmd)
		},
	}
	return cmd
}

func runCompile(opts *RootOptions, schemaDir, queryPath string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	loaded, err := LoadSchemas(schemaDir)
	if err != nil {
		return outputLoadError(formatter, err)
	}
	formatter.VerboseLog("Loaded %d CUE file(s) from %s", loaded.FileCount, schemaDir)

	data, err := os.ReadFile(queryPath)
	if err != nil {
		formatter.Error(ErrCodeBadQuery, fmt.Sprintf("reading query file: %v", err), nil)
		return NewExitError(ExitCommandError, "query file not readable")
	}

	var qf queryFile
	if err := yaml.Unmarshal(data, &qf); err != nil {
		formatter.Error(ErrCodeBadQuery, fmt.Sprintf("parsing query file: %v", err), nil)
		return NewExitError(ExitFailure, "query file malformed")
	}

	spec := query.Spec{
		Table:   qf.Table,
		Columns: qf.Columns,
		Limit:   qf.Limit,
		Offset:  qf.Offset,
	}
	if qf.Where != nil {
		spec.Conditions = qf.Where
	}
	for _, j := range qf.Joins {
		spec.Joins = append(spec.Joins, query.Join{
			Table:       j.Table,
			LeftColumn:  j.LeftColumn,
			RightColumn: j.RightColumn,
		})
	}
	for _, o := range qf.OrderBy {
		spec.OrderBy = append(spec.OrderBy, query.Order{Column: o.Column, Desc: o.Desc})
	}

	compiler := query.NewCompiler(loaded.Schemas, loaded.Relations)
	sqlText, params, err := compiler.CompileSelect(spec)
	if err != nil {
		formatter.Error(ErrCodeCompile, err.Error(), nil)
		return NewExitError(ExitFailure, "compilation failed")
	}

	result := CompiledQuery{SQL: sqlText, Params: params}
	if result.Params == nil {
		result.Params = []any{}
	}
	return formatter.SuccessJSON(result, func(w io.Writer) {
		fmt.Fprintln(w, result.SQL)
		fmt.Fprintf(w, "params: %v\n", result.Params)
	})
}

func outputLoadError(formatter *OutputFormatter, err error) error {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		formatter.Error(loadErr.Code, loadErr.Message, nil)
		return NewExitError(ExitCommandError, loadErr.Message)
	}
	formatter.Error(ErrCodeGeneric, err.Error(), nil)
	return NewExitError(ExitCommandError, err.Error())
}
