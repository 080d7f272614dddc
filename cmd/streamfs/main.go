package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:   "streamfs",
		Short: "Serve torrents from RSS and Jackett feeds as a read-only FUSE filesystem",
		Long: `streamfs indexes torrent feeds into a catalog and mounts every resolved
torrent as a directory. Swarms are joined on first read, paused when idle
and destroyed when unused.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if envFile != "" {
				_ = os.Setenv("ENV_FILE", envFile)
			}
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load (default .env)")
	root.AddCommand(newServeCmd(), newResolveCmd(), newIngestCmd())
	return root
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
