// Command insense-vm runs a compiled Insense component program: it
// resolves the program directory named on the command line, instantiates
// the entry component (Main), and waits for the whole component tree to
// terminate (spec §6).
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/insense-lang/insense-vm/internal/component"
	"github.com/insense-lang/insense-vm/internal/config"
	"github.com/insense-lang/insense-vm/internal/natives"
	"github.com/insense-lang/insense-vm/internal/vmlog"
)

func main() {
	app := &cli.App{
		Name:      "insense-vm",
		Usage:     "run a compiled Insense component program",
		UsageText: "insense-vm <program-directory> [<log-level>]",
		Action:    run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

// run is the CLI action: resolve the program directory and log level,
// instantiate Main, and block until the whole component tree terminates
// (spec §4.6, §6).
func run(c *cli.Context) error {
	programDir := c.Args().Get(0)
	logLevel := c.Args().Get(1)

	cfg, err := config.Resolve(programDir, logLevel)
	if err != nil {
		return err
	}

	env := component.NewEnv(cfg.ProgramDir, natives.New(os.Stdout))

	main, err := component.InstantiateMain(env, "Main", nil)
	if err != nil {
		return err
	}
	main.Start()

	if err := main.Wait(); err != nil {
		vmlog.Logger.Error().Err(err).Msg("Main terminated with error")
		return err
	}
	return nil
}

// exitCodeFor maps a run failure to spec §6's exit codes: −1 for invalid
// arguments, −2 for an unrecognized log level, and −1 for anything else,
// including a component that failed to start and a fatal error recorded
// by Main's component tree (the error itself is printed to stderr).
func exitCodeFor(err error) int {
	switch {
	case err == config.ErrMissingProgramDir:
		return -1
	case err == vmlog.ErrUnknownLogLevel:
		return -2
	default:
		return -1
	}
}
