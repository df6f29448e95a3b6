package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wxyc/discogs-cache/internal/etl"
	"github.com/wxyc/discogs-cache/internal/ledger"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Build the release cache",
	Long: `Runs the cache pipeline: schema, CSV import, indexes, master-release
dedup, track import, track indexes, then classification and finalize when a
library catalog is configured, and VACUUM FULL.

With --xml the dump is converted to CSV first, and narrowed to releases by
library artists when --library-artists is set.

Every step is recorded in a ledger file. With --resume, steps already done
are skipped. When no ledger exists, completed steps are inferred from the
database.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyFlags(cmd, cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}
		plan, err := etl.PlanFromConfig(cfg)
		if err != nil {
			return err
		}
		resume, _ := cmd.Flags().GetBool("resume")

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		store, err := ledger.New(cfg.Pipeline.LedgerDriver, cfg.Pipeline.StateFile)
		if err != nil {
			return err
		}
		defer store.Close()

		reg := etl.NewRegistry(plan)
		target := ledger.Target{
			DatabaseURL: cfg.Database.URL,
			CSVDir:      cfg.Pipeline.CSVDir,
			Finalize:    plan.Finalize.Kind.String(),
			FinalizeURL: plan.Finalize.TargetURL,
		}
		opts := etl.StartOptions{Target: target, RunID: uuid.NewString(), Resume: resume}
		if err := etl.Start(ctx, store, reg, plan, pool, opts); err != nil {
			return eris.Wrap(err, "run: prepare ledger")
		}
		meta, err := store.Meta(ctx)
		if err != nil {
			return err
		}

		log := zap.L().With(zap.String("command", "run"), zap.String("run_id", meta.RunID))
		log.Info("starting pipeline",
			zap.Stringer("mode", plan.Mode),
			zap.Stringer("finalize", plan.Finalize.Kind),
			zap.Strings("steps", reg.Names()),
			zap.Bool("resume", resume),
		)

		env := &etl.Env{Pool: pool, Config: cfg, Plan: plan, Out: cmd.OutOrStdout()}
		start := time.Now()
		sum, err := etl.NewEngine(env, store, reg).Run(ctx)
		if err != nil {
			return eris.Wrap(err, "run")
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Pipeline complete: %d steps run, %d already done (%s)\n",
			sum.Ran, sum.Skipped, time.Since(start).Round(time.Second))
		return nil
	},
}

func init() {
	f := runCmd.Flags()
	f.String("csv-dir", "", "directory of Discogs CSV exports")
	f.String("xml", "", "Discogs releases XML dump; converts to CSV before importing")
	f.String("converter", "", "XML-to-CSV converter executable")
	f.String("library-artists", "", "file of library artist names, one per line, used to narrow converted CSVs")
	f.String("library-db", "", "station library catalog (SQLite)")
	f.String("database-url", "", "primary PostgreSQL store")
	f.Bool("resume", false, "skip steps already done")
	addLedgerFlags(runCmd)
	addFinalizeFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}
