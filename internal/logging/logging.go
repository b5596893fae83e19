// Package logging builds the process-wide structured logger. Output is
// JSON on stdout so the dashboard's log collector can ingest records
// without a parsing layer; every component derives its own logger from
// New with a "module" attribute.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Logger aliases slog.Logger so callers depend on this package, not on
// the handler wiring.
type Logger = slog.Logger

// New returns a JSON logger at the given level. Unknown level strings
// fall back to info rather than failing startup over a config typo.
func New(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(h).With("app", "affiliatebot")
}
