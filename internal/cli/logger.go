package cli

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// newLogger honours CLIPSTITCH_LOG_LEVEL and CLIPSTITCH_LOG_FORMAT=json.
func newLogger(w io.Writer) zerolog.Logger {
	level := parseLogLevel(os.Getenv("CLIPSTITCH_LOG_LEVEL"))
	if jsonLogs() {
		return zerolog.New(w).Level(level).With().Timestamp().Logger()
	}
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	return zerolog.New(cw).Level(level).With().Timestamp().Logger()
}

func jsonLogs() bool {
	return strings.ToLower(strings.TrimSpace(os.Getenv("CLIPSTITCH_LOG_FORMAT"))) == "json"
}

func parseLogLevel(value string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
