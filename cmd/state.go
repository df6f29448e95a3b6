package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wxyc/discogs-cache/internal/etl"
	"github.com/wxyc/discogs-cache/internal/ledger"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect or override the step ledger",
}

var stateResetCmd = &cobra.Command{
	Use:   "reset <step>",
	Short: "Mark a step and every step after it as pending",
	Long: `Marks a step pending so the next resumed run repeats it. Steps that
depend on it are reset too unless --only is given. Use this after repairing
the database by hand; it is the only way to move a done step back.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		applyFlags(cmd, cfg)

		steps, err := resetTargets(cmd, args[0])
		if err != nil {
			return err
		}

		store, err := ledger.New(cfg.Pipeline.LedgerDriver, cfg.Pipeline.StateFile)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Reset(ctx, steps...); err != nil {
			return err
		}
		zap.L().Info("reset steps", zap.Strings("steps", steps))
		fmt.Fprintf(cmd.OutOrStdout(), "Reset to pending: %s\n", strings.Join(steps, ", "))
		return nil
	},
}

// resetTargets resolves the steps a reset of name covers under the
// configured plan.
func resetTargets(cmd *cobra.Command, name string) ([]string, error) {
	plan, err := etl.PlanFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	reg := etl.NewRegistry(plan)
	if only, _ := cmd.Flags().GetBool("only"); only {
		if _, err := reg.Get(name); err != nil {
			return nil, err
		}
		return []string{name}, nil
	}
	return reg.Downstream(name)
}

func init() {
	f := stateResetCmd.Flags()
	f.Bool("only", false, "reset just the named step")
	f.String("xml", "", "plan includes the XML conversion steps")
	f.String("library-artists", "", "plan includes the artist filter step")
	f.String("library-db", "", "plan includes classify and finalize")
	addLedgerFlags(stateResetCmd)
	stateCmd.AddCommand(stateResetCmd)
	rootCmd.AddCommand(stateCmd)
}
