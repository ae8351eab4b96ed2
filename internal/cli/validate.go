package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// SchemaSummary is the validate command's success payload.
type SchemaSummary struct {
	Tables        []TableSummary        `json:"tables"`
	Relationships []RelationshipSummary `json:"relationships"`
}

// TableSummary describes one declared table.
type TableSummary struct {
	Name       string   `json:"name"`
	PrimaryKey string   `json:"primary_key"`
	Columns    []string `json:"columns"`
}

// RelationshipSummary describes one derived relationship descriptor.
type RelationshipSummary struct {
	Kind            string `json:"kind"`
	From            string `json:"from"`
	To              string `json:"to"`
	NavigationField string `json:"navigation_field"`
	ForeignKey      string `json:"foreign_key"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <schema-dir>",
		Short: "Validate schema declarations and show derived relationships",
		Long: `Validate CUE schema declarations without opening a database.

Loads the tables and relationships blocks, builds the relationship
registry (including synthesized inverses), and prints a summary.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, schemaDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	loaded, err := LoadSchemas(schemaDir)
	if err != nil {
		return outputLoadError(formatter, err)
	}
	formatter.VerboseLog("Loaded %d CUE file(s) from %s", loaded.FileCount, schemaDir)

	summary := SchemaSummary{
		Relationships: []RelationshipSummary{},
	}
	for _, t := range loaded.Schemas.Tables() {
		ts := TableSummary{Name: t.Name, PrimaryKey: t.PK()}
		for _, f := range t.Fields {
			if !f.IsRelationship() {
				ts.Columns = append(ts.Columns, f.Name)
			}
		}
		summary.Tables = append(summary.Tables, ts)

		for _, d := range loaded.Relations.ForTable(t.Name) {
			summary.Relationships = append(summary.Relationships, RelationshipSummary{
				Kind:            string(d.Kind),
				From:            d.From,
				To:              d.To,
				NavigationField: d.NavigationField,
				ForeignKey:      d.ForeignKeyColumn,
			})
		}
	}

	return formatter.SuccessJSON(summary, func(w io.Writer) {
		fmt.Fprintf(w, "%d table(s)\n", len(summary.Tables))
		for _, t := range summary.Tables {
			fmt.Fprintf(w, "  %s (pk=%s) columns=%v\n", t.Name, t.PrimaryKey, t.Columns)
		}
		fmt.Fprintf(w, "%d relationship(s)\n", len(summary.Relationships))
		for _, r := range summary.Relationships {
			fmt.Fprintf(w, "  %s: %s.%s -> %s (fk=%s)\n", r.Kind, r.From, r.NavigationField, r.To, r.ForeignKey)
		}
	})
}
