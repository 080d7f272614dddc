package main

import (
	"encoding/json"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"torrentstream/streamfs/internal/app"
)

func newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <url>",
		Short: "Resolve a feed link and print what it yields",
		Long: `resolve runs a magnet URI, a .torrent URL or a tracker page link through
the resolution pipeline and prints the result as JSON. Magnets without
file lists join the swarm until metadata arrives.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.LoadConfig()
			// stdout carries the JSON result.
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)}))

			ctx := cmd.Context()
			cache, closeCache := openResolveCache(ctx, cfg, logger)
			defer closeCache()

			engine, err := newEngine(cfg)
			if err != nil {
				return err
			}
			defer engine.Close()

			info, err := newResolver(cfg, engine, cache, logger).Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		},
	}
}
