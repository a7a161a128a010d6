// Package component implements the component lifecycle described in spec
// §4.6: instantiating a named bytecode file into a running task, starting
// it on its own goroutine, waiting on the children it spawns, and tearing
// it down. *Component implements internal/interp's Host and ComponentRef
// interfaces structurally, so interp never imports this package.
package component

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/insense-lang/insense-vm/internal/bytecode"
	"github.com/insense-lang/insense-vm/internal/proc"
)

// ErrComponentNotFound maps to a failed instantiate(name, args): no
// Insense_<name>.isc file in the program directory.
var ErrComponentNotFound = errors.New("component: no such component")

// Env is the handful of VM-wide, read-only-after-init state every
// component shares (spec §5: "no shared interpreter state between
// components except the channel subsystem, the native procedure table,
// and the global procedure table of the entry component").
type Env struct {
	ProgramDir string
	Natives    *proc.Table

	mu      sync.RWMutex
	mainRef *Component // the entry component, once instantiated
}

// NewEnv prepares the VM-wide environment rooted at programDir.
func NewEnv(programDir string, natives *proc.Table) *Env {
	return &Env{ProgramDir: programDir, Natives: natives}
}

func (e *Env) setMain(c *Component) {
	e.mu.Lock()
	e.mainRef = c
	e.mu.Unlock()
}

// globalProcs returns the entry component's local procedure table, the
// "main program's" table that non-entry components resolve into second
// (spec §4.7).
func (e *Env) globalProcs() *proc.Table {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.mainRef == nil {
		return nil
	}
	return e.mainRef.localProcs
}

func (e *Env) mainPath() (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.mainRef == nil {
		return "", false
	}
	return e.mainRef.path, true
}

// pathFor resolves name to its bytecode file path, per spec §4.6's
// "Insense_<name>.isc in the program directory" rule.
func (e *Env) pathFor(name string) string {
	return filepath.Join(e.ProgramDir, fmt.Sprintf("Insense_%s.isc", name))
}

// openFile opens name's bytecode file, wrapping os.ErrNotExist as
// ErrComponentNotFound.
func (e *Env) openFile(name string) (*os.File, string, error) {
	path := e.pathFor(name)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", ErrComponentNotFound
		}
		return nil, "", err
	}
	return f, path, nil
}

// newReader wraps an open file as a bytecode.Reader positioned at its
// start.
func newReader(f *os.File) *bytecode.Reader {
	return bytecode.New(f)
}

// openPath opens an independent file handle on an already-resolved path,
// used to reopen the entry component's bytecode file for OpenGlobalStream
// without racing its own live reader.
func openPath(path string) (*os.File, error) {
	return os.Open(path)
}
