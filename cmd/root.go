// Package cmd provides docrag's CLI commands.
//
// Commands:
//   - serve: HTTP API server with SSE streaming
//   - ingest: index a file or URL from the command line
//   - ask: one-shot question against an indexed collection
//   - version: build and configuration info
//
// All commands load configuration the same way (flags over environment
// over config file) and shut down cleanly on SIGINT/SIGTERM.
package cmd

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/pwojcik/docrag/internal/log"
)

var debugLog bool

var rootCmd = &cobra.Command{
	Use:   "docrag",
	Short: "docrag answers questions over your documents",
	Long: `docrag is a retrieval-augmented answering service. It ingests text,
Markdown, PDF, and DOCX files (or web pages), indexes them in PostgreSQL
with pgvector, and answers questions grounded in the indexed content.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// A missing .env file is fine; the environment may already be set.
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			slog.Warn("loading .env file", "error", err)
		}

		level := slog.LevelInfo
		if debugLog || os.Getenv("DEBUG") != "" {
			level = slog.LevelDebug
		}
		slog.SetDefault(log.New(log.Config{Level: level}))
	},
}

// Execute runs the root command. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugLog, "debug", false, "enable debug logging")
}
