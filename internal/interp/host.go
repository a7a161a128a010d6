package interp

import (
	"io"

	"github.com/insense-lang/insense-vm/internal/bytecode"
	"github.com/insense-lang/insense-vm/internal/channel"
	"github.com/insense-lang/insense-vm/internal/proc"
	"github.com/insense-lang/insense-vm/internal/scope"
	"github.com/insense-lang/insense-vm/internal/stack"
	"github.com/insense-lang/insense-vm/internal/value"
)

// Host is everything Run needs from the component whose stream it is
// interpreting. internal/component's *Component implements this
// structurally; interp never imports component, avoiding a cycle between
// the two packages described in spec §4.5/§4.6.
type Host interface {
	Name() string
	Reader() *bytecode.Reader
	Scopes() *scope.Stack
	Operands() *stack.Operand

	// Args reports the caller-supplied constructor arguments, cleared
	// once a CONSTRUCTOR match binds them (spec §4.5 "drop the caller
	// argument list").
	Args() []value.Value
	ClearArgs()

	IsRunning() bool
	SetRunning()

	InProject() bool
	SetInProject(bool)

	RequestStop()
	IsStopped() bool

	LookupChannel(name string) (*channel.Endpoint, bool)
	RegisterChannel(name string, ep *channel.Endpoint)

	LocalProcs() *proc.Table
	GlobalProcs() *proc.Table
	NativeProcs() *proc.Table

	// Spawn instantiates and starts a child component (CALL), recording
	// it in this component's wait set, and returns a handle suitable for
	// pushing as a COMPONENT value.
	Spawn(name string, args []value.Value) (value.ComponentHandle, error)

	// OpenGlobalStream reopens a fresh, independent reader on the entry
	// component's bytecode file, used by PROCCALL when a name resolves
	// in the global (main program) procedure table rather than locally —
	// the call must not share the entry component's own live reader,
	// which may be advancing concurrently on its own goroutine (spec
	// §4.5 "_returnSource", §5 "no shared interpreter state between
	// components except ... the global procedure table").
	OpenGlobalStream() (*bytecode.Reader, io.Closer, error)
}

// ComponentRef is the richer view of a COMPONENT value's handle that
// CONNECT/DISCONNECT/STOP need beyond value.ComponentHandle's bare Name.
// internal/component's *Component implements it; AsComponent's result is
// type-asserted to this interface at the call sites below.
type ComponentRef interface {
	value.ComponentHandle
	AwaitRunning()
	LookupChannel(name string) (*channel.Endpoint, bool)
	RequestStop()
}
