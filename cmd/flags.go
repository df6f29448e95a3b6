package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/wxyc/discogs-cache/internal/config"
	"github.com/wxyc/discogs-cache/internal/etl"
)

// applyFlags copies explicitly set flags over the loaded configuration.
// Commands only register the flags they use; unknown names are ignored.
func applyFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	str := func(name string, dst *string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	str("csv-dir", &c.Pipeline.CSVDir)
	str("xml", &c.Pipeline.XMLPath)
	str("converter", &c.Pipeline.ConverterPath)
	str("library-artists", &c.Pipeline.LibraryArtists)
	str("state-file", &c.Pipeline.StateFile)
	str("ledger-driver", &c.Pipeline.LedgerDriver)
	str("library-db", &c.Catalog.LibraryDB)
	str("database-url", &c.Database.URL)
	str("target-db-url", &c.Database.TargetURL)

	if prune, _ := flags.GetBool("prune"); prune {
		c.Finalize.Mode = config.FinalizePrune
	} else if flags.Changed("target-db-url") && c.Database.TargetURL != "" {
		c.Finalize.Mode = config.FinalizeCopy
	}
}

func addLedgerFlags(cmd *cobra.Command) {
	cmd.Flags().String("state-file", "", "step ledger path (default .pipeline_state.json)")
	cmd.Flags().String("ledger-driver", "", "ledger format: file or sqlite")
}

func addFinalizeFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("prune", false, "delete releases classified prune from the cache")
	cmd.Flags().String("target-db-url", "", "copy keep and review releases into this database instead of pruning")
}

// openPool connects to the primary store, waiting for it to accept
// connections.
func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	if cfg.Database.URL == "" {
		return nil, eris.Wrap(config.ErrInvalid, "no database url configured (set --database-url or database.url)")
	}
	pool, err := etl.Connect(ctx, cfg.Database.URL)
	if err != nil {
		return nil, eris.Wrap(err, "connect to primary store")
	}
	return pool, nil
}
