// Package vmlog wraps zerolog the way the bytecode runtime in
// rgehrsitz-rex_claude wires its interpreter straight to
// github.com/rs/zerolog/log: a single package-level logger, configured
// once at startup from the CLI-selected log level, imported directly by
// the interpreter, channel, and component packages for per-opcode and
// per-rendezvous trace output.
package vmlog

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Level names accepted by the CLI, per spec §6.
const (
	LevelDebug   = "DEBUG"
	LevelInfo    = "INFO"
	LevelWarning = "WARNING"
	LevelError   = "ERROR"
	LevelFatal   = "FATAL"
)

// Logger is the package-wide structured logger every component shares.
var Logger zerolog.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true}).With().Timestamp().Logger()

// ErrUnknownLogLevel maps to spec §6's exit code −2.
var ErrUnknownLogLevel = fmt.Errorf("vmlog: unknown log level")

// Configure sets the package logger's minimum level from one of the five
// names spec §6 allows. An unrecognized name returns ErrUnknownLogLevel
// without modifying the current level, letting the caller map it to exit
// code −2.
func Configure(levelName string) error {
	lvl, err := parseLevel(levelName)
	if err != nil {
		return err
	}
	Logger = Logger.Level(lvl)
	return nil
}

func parseLevel(name string) (zerolog.Level, error) {
	switch strings.ToUpper(name) {
	case LevelDebug:
		return zerolog.DebugLevel, nil
	case LevelInfo:
		return zerolog.InfoLevel, nil
	case LevelWarning:
		return zerolog.WarnLevel, nil
	case LevelError:
		return zerolog.ErrorLevel, nil
	case LevelFatal:
		return zerolog.FatalLevel, nil
	default:
		return zerolog.NoLevel, ErrUnknownLogLevel
	}
}
