package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/relata/internal/reactive"
	"github.com/roach88/relata/internal/store"
)

// TailFlags holds flags for the tail command.
type TailFlags struct {
	Interval  time.Duration
	FromStart bool
}

// NewTailCommand creates the tail command.
func NewTailCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &TailFlags{}

	cmd := &cobra.Command{
		Use:   "tail <schema-dir> <db-path> <table>",
		Short: "Stream change-log entries for a table",
		Long: `Stream the append-only change log of a table as entries arrive.

Uses the watermark subscription: each poll reads only entries newer than
the last delivered id. The change log is persisted, so mutations made by
other processes sharing the database file are observable too.

Runs until interrupted.`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTail(rootOpts, flags, args[0], args[1], args[2], cmd)
		},
	}

	cmd.Flags().DurationVar(&flags.Interval, "interval", 500*time.Millisecond, "poll interval")
	cmd.Flags().BoolVar(&flags.FromStart, "from-start", false, "replay the full change log before streaming")

	return cmd
}

func runTail(opts *RootOptions, flags *TailFlags, schemaDir, dbPath, table string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	loaded, err := LoadSchemas(schemaDir)
	if err != nil {
		return outputLoadError(formatter, err)
	}
	if _, ok := loaded.Schemas.Lookup(table); !ok {
		formatter.Error(ErrCodeBadSchema, fmt.Sprintf("unknown table %q", table), nil)
		return NewExitError(ExitCommandError, "unknown table")
	}

	db, err := store.Open(dbPath, loaded.Schemas, loaded.Relations)
	if err != nil {
		formatter.Error(ErrCodeStore, err.Error(), nil)
		return NewExitError(ExitCommandError, "cannot open database")
	}
	defer db.Close()

	engine := reactive.NewEngine(db)
	out := cmd.OutOrStdout()

	sub, err := engine.Tail(table, reactive.TailOptions{
		Interval:  flags.Interval,
		FromStart: flags.FromStart,
		OnError: func(err error) {
			formatter.VerboseLog("tail error: %v", err)
		},
	}, func(entry store.ChangeLogEntry) {
		if opts.Format == "json" {
			json.NewEncoder(out).Encode(map[string]any{
				"id":     entry.ID,
				"table":  entry.Table,
				"row_id": entry.RowID,
				"action": entry.Action,
				"ts":     entry.Timestamp.Format(time.RFC3339Nano),
			})
			return
		}
		fmt.Fprintf(out, "%d\t%s\t%s\trow=%d\t%s\n",
			entry.ID, entry.Table, entry.Action, entry.RowID,
			entry.Timestamp.Format(time.RFC3339))
	})
	if err != nil {
		formatter.Error(ErrCodeStore, err.Error(), nil)
		return NewExitError(ExitCommandError, "cannot start tail")
	}
	defer sub.Unsubscribe()

	formatter.VerboseLog("Tailing %q in %s (interval=%s)", table, dbPath, flags.Interval)

	// Block until the process is interrupted; cobra's context is cancelled
	// by cmd.ExecuteContext with a signal-aware context in main.
	<-cmd.Context().Done()
	return nil
}
