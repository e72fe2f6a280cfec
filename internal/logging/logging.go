// Package logging constructs the single zerolog logger each service binary
// builds at startup, matching the level/format handling of
// ws/internal/shared/monitoring/logger.go in the teacher repo.
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger configured from a level string ("debug",
// "info", "warn", "error") and a component name attached to every line.
func New(component, level string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(os.Stdout).
		Level(lvl).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}
