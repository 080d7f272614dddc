package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"torrentstream/streamfs/internal/app"
	"torrentstream/streamfs/internal/domain"
	"torrentstream/streamfs/internal/ingest"
)

func newIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <guid> <link>",
		Short: "Add one feed item to the catalog",
		Long: `ingest creates a NEW record for the item unless its guid is already
catalogued. It is only useful with CATALOG_BACKEND=mongo, since the
in-memory catalog dies with the process.`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.LoadConfig()
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := newLogger(cfg.LogLevel, cfg.LogFormat)

			ctx := cmd.Context()
			catalog, closeCatalog, err := openCatalog(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeCatalog()

			in := ingest.Ingestor{Catalog: catalog, Logger: logger}
			res, err := in.Ingest(ctx, []domain.FeedItem{{Guid: args[0], Link: args[1]}})
			if err != nil {
				return err
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(res)
		},
	}
}
