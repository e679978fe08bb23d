// Package logging configures the process-wide zerolog logger used by the
// rest of this module to report non-fatal conditions: bad frames and
// dropped packets.
package logging

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const EnvLogLevel = "MOTORLINK_LOG_LEVEL"

var (
	once    sync.Once
	current = zerolog.Nop()
)

// Configure initializes the package-level logger exactly once. Subsequent
// calls are no-ops, matching danmuck-edgectl's logging.Configure pattern.
func Configure(app string) {
	once.Do(func() {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		current = zerolog.New(output).
			Level(levelFromEnv()).
			With().Timestamp().Str("app", app).Logger()
	})
}

// Get returns the configured logger, or a no-op logger if Configure has
// not been called yet (e.g. in tests that construct components directly).
func Get() zerolog.Logger {
	return current
}

func levelFromEnv() zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(EnvLogLevel))) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off", "none":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
