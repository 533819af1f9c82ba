package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Environment variables read by Init.
const (
	EnvLevel  = "STYLIST_LOG_LEVEL"
	EnvFormat = "STYLIST_LOG_FORMAT"
)

// Init initializes the global logger with configuration from environment variables.
// STYLIST_LOG_LEVEL controls the log level: debug, info, warn, error (default: info).
// STYLIST_LOG_FORMAT=json switches from the console writer to JSON lines.
func Init() {
	InitTo(os.Stderr)
}

// InitTo is Init with an explicit destination. The MCP server uses it to keep
// stdout free for the protocol.
func InitTo(w io.Writer) {
	zerolog.SetGlobalLevel(ParseLevel(os.Getenv(EnvLevel)))

	if strings.EqualFold(os.Getenv(EnvFormat), "json") {
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: w})
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
