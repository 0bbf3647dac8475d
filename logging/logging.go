// Package logging wraps zerolog for vaxipc's components. Per DESIGN NOTES
// §9 ("no global singleton" for the protocol core), session code accepts
// an injected zerolog.Logger (session.NewServer takes one as an argument;
// ServerSession/ClientSession take one through SetLogger) and falls back
// to Component("session") when none is set; registry and transport do
// not log. Default and Component exist for callers (the cmd/ binaries,
// tests) that don't need to thread one through explicitly.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

var base zerolog.Logger

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	base = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// Default returns the package-level logger.
func Default() zerolog.Logger {
	return base
}

// Component returns a child logger tagged with a "component" field, e.g.
// logging.Component("session") for the session state machine.
func Component(name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}

// SetLevel parses level (debug/info/warn/error/fatal/panic) and sets it
// as the global minimum log level, matching thiagojdb-adoctl's
// pkg/logger.SetLevel.
func SetLevel(level string) {
	var zl zerolog.Level
	switch level {
	case "debug":
		zl = zerolog.DebugLevel
	case "info":
		zl = zerolog.InfoLevel
	case "warn", "warning":
		zl = zerolog.WarnLevel
	case "error":
		zl = zerolog.ErrorLevel
	case "fatal":
		zl = zerolog.FatalLevel
	case "panic":
		zl = zerolog.PanicLevel
	default:
		zl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(zl)
}
