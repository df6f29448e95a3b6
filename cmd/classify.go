package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wxyc/discogs-cache/internal/config"
	"github.com/wxyc/discogs-cache/internal/etl"
	"github.com/wxyc/discogs-cache/internal/schema"
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify cached releases against the library catalog",
	Long: `Classifies every cached release as keep, review or prune and prints the
report. Without --prune or --target-db-url nothing is changed and the report
includes what a prune would delete.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		log := zap.L().With(zap.String("command", "classify"))

		applyFlags(cmd, cfg)
		if cfg.Catalog.LibraryDB == "" {
			return eris.Wrap(config.ErrInvalid, "classify: --library-db is required")
		}
		if err := cfg.Match.ValidateThresholds(); err != nil {
			return err
		}
		plan, err := etl.PlanFromConfig(cfg)
		if err != nil {
			return err
		}

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := schema.Migrate(ctx, pool); err != nil {
			return eris.Wrap(err, "classify: migrate")
		}

		out := cmd.OutOrStdout()
		rep, err := etl.Classify(ctx, pool, cfg)
		if err != nil {
			return eris.Wrap(err, "classify")
		}
		rep.Render(out)

		env := &etl.Env{Pool: pool, Config: cfg, Plan: plan, Out: out}
		n, err := etl.ApplyFinalize(ctx, env, plan.Finalize)
		if err != nil {
			return eris.Wrapf(err, "classify: %s", plan.Finalize.Kind)
		}
		log.Info("finalize complete", zap.Stringer("mode", plan.Finalize.Kind), zap.Int64("releases", n))

		switch plan.Finalize.Kind {
		case etl.DeleteInPlace:
			fmt.Fprintf(out, "Pruned %d releases\n", n)
		case etl.CopyToTarget:
			fmt.Fprintf(out, "Copied %d releases to target\n", n)
		}
		return nil
	},
}

func init() {
	f := classifyCmd.Flags()
	f.String("library-db", "", "station library catalog (SQLite)")
	f.String("database-url", "", "primary PostgreSQL store")
	addFinalizeFlags(classifyCmd)
	rootCmd.AddCommand(classifyCmd)
}
