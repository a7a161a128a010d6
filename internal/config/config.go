// Package config resolves the VM's external invocation surface: the
// program directory and optional log level named in spec §6 ("insense-vm
// <program-directory> [<log-level>]"). Argument parsing itself lives in
// cmd/insense-vm; this package only validates and normalizes the result.
package config

import (
	"errors"
	"os"

	"github.com/insense-lang/insense-vm/internal/vmlog"
)

// ErrMissingProgramDir maps to spec §6's exit code −1 (invalid arguments).
var ErrMissingProgramDir = errors.New("config: program directory not specified")

// Config is the resolved, validated set of VM start parameters.
type Config struct {
	ProgramDir string
	LogLevel   string
}

// Resolve validates programDir and logLevel (the latter optional — an
// empty string means "use the default"), applying the logger
// configuration as a side effect so callers don't have to sequence it
// themselves.
func Resolve(programDir, logLevel string) (Config, error) {
	if programDir == "" {
		return Config{}, ErrMissingProgramDir
	}
	info, err := os.Stat(programDir)
	if err != nil || !info.IsDir() {
		return Config{}, ErrMissingProgramDir
	}

	if logLevel == "" {
		logLevel = vmlog.LevelInfo
	}
	if err := vmlog.Configure(logLevel); err != nil {
		return Config{}, err
	}

	return Config{ProgramDir: programDir, LogLevel: logLevel}, nil
}
