package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wxyc/discogs-cache/internal/ledger"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline step status",
	Long:  "Displays the step ledger of the last run: each step, its status, when it last changed, and the error of a failed step.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		applyFlags(cmd, cfg)

		store, err := ledger.New(cfg.Pipeline.LedgerDriver, cfg.Pipeline.StateFile)
		if err != nil {
			return err
		}
		defer store.Close()

		ok, err := store.Exists(ctx)
		if err != nil {
			return err
		}
		if !ok {
			zap.L().Info("no ledger found, run 'discogs-cache run' to start the pipeline",
				zap.String("state_file", cfg.Pipeline.StateFile))
			return nil
		}

		meta, err := store.Meta(ctx)
		if err != nil {
			return err
		}
		entries, err := store.List(ctx)
		if err != nil {
			return err
		}
		formatLedger(cmd.OutOrStdout(), meta, entries)
		return nil
	},
}

func init() {
	addLedgerFlags(statusCmd)
	rootCmd.AddCommand(statusCmd)
}

// formatLedger writes the run header and one row per step to w.
func formatLedger(w io.Writer, meta ledger.Meta, entries []ledger.Entry) {
	started := "-"
	if !meta.CreatedAt.IsZero() {
		started = meta.CreatedAt.Local().Format("2006-01-02 15:04")
	}
	_, _ = fmt.Fprintf(w, "Run %s started %s (csv dir %s)\n", meta.RunID, started, meta.Target.CSVDir)
	if f := meta.Target.FinalizeLabel(); f != "" {
		_, _ = fmt.Fprintf(w, "Finalize: %s\n", f)
	}

	rows := make([][]string, 0, len(entries))
	done := 0
	for _, e := range entries {
		updated := "-"
		if !e.UpdatedAt.IsZero() {
			updated = e.UpdatedAt.Local().Format("2006-01-02 15:04:05")
		}
		if e.Status == ledger.StatusDone {
			done++
		}
		rows = append(rows, []string{e.Step, string(e.Status), updated, truncate(e.Error, 60)})
	}
	_, _ = fmt.Fprintln(w, renderTable(
		[]string{"Step", "Status", "Updated", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft},
	))
	_, _ = fmt.Fprintf(w, "%d of %d steps done\n", done, len(entries))
}
