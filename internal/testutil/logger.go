// Package testutil provides shared test infrastructure: a silent logger,
// deterministic mock model and embedder registrations, and a pgvector-enabled
// PostgreSQL test container.
package testutil

import "log/slog"

// DiscardLogger returns a slog.Logger that drops all output.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
