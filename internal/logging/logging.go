// Package logging configures the process-wide zerolog logger. All packages
// log through zerolog's global logger; this keeps call sites to one import
// and lets the CLI pick the level and format once at startup.
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup installs the global logger. verbose lowers the level to debug; the
// LOG_LEVEL environment variable (trace, debug, info, warn, error) wins over
// both the default and the flag.
func Setup(verbose bool) {
	zerolog.TimeFieldFormat = time.RFC3339

	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	if s := strings.TrimSpace(os.Getenv("LOG_LEVEL")); s != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(s)); err == nil {
			level = parsed
		}
	}
	zerolog.SetGlobalLevel(level)

	// Human-readable output on a terminal, JSON when piped.
	if fi, err := os.Stderr.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	} else {
		log.Logger = log.Output(os.Stderr)
	}
}
