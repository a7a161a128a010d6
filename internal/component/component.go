package component

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/insense-lang/insense-vm/internal/bytecode"
	"github.com/insense-lang/insense-vm/internal/channel"
	"github.com/insense-lang/insense-vm/internal/collections"
	"github.com/insense-lang/insense-vm/internal/interp"
	"github.com/insense-lang/insense-vm/internal/proc"
	"github.com/insense-lang/insense-vm/internal/scope"
	"github.com/insense-lang/insense-vm/internal/stack"
	"github.com/insense-lang/insense-vm/internal/value"
	"github.com/insense-lang/insense-vm/internal/vmlog"
)

// Component is one instantiated, running (or about to run) component task,
// per spec §3's "Component" attributes. It exclusively owns its scope
// stack, operand stack, channel table, and local procedure table; the
// channel subsystem, the native table, and the entry component's
// procedure table are the only state it shares (spec §5).
type Component struct {
	id   uuid.UUID
	name string
	path string // bytecode file path, reused by OpenGlobalStream when this is the entry component
	env  *Env

	file   *os.File
	reader *bytecode.Reader

	args []value.Value

	scopes   *scope.Stack
	operands *stack.Operand

	chMu     sync.RWMutex
	channels *collections.OrderedMap[*channel.Endpoint]

	localProcs *proc.Table

	running   atomic.Bool
	runCond   *sync.Cond
	runCondMu sync.Mutex

	stopped atomic.Bool

	inProject bool

	children []*Component
	doneCh   chan struct{}

	lastErr error
}

// Instantiate resolves Insense_<name>.isc in env's program directory,
// opens it, and builds a new, not-yet-running component bound to args
// (spec §4.6 "instantiate").
func Instantiate(env *Env, name string, args []value.Value) (*Component, error) {
	f, path, err := env.openFile(name)
	if err != nil {
		return nil, err
	}
	c := &Component{
		id:         uuid.New(),
		name:       name,
		path:       path,
		env:        env,
		file:       f,
		reader:     newReader(f),
		args:       args,
		scopes:     scope.New(),
		operands:   stack.New(),
		channels:   collections.NewOrderedMap[*channel.Endpoint](),
		localProcs: proc.NewTable(),
	}
	c.runCond = sync.NewCond(&c.runCondMu)
	return c, nil
}

// InstantiateMain instantiates the program's entry component and records
// it on env as the global procedure table / reopen target for PROCCALLs
// that resolve outside any component's own local table (spec §4.7).
func InstantiateMain(env *Env, name string, args []value.Value) (*Component, error) {
	c, err := Instantiate(env, name, args)
	if err != nil {
		return nil, err
	}
	env.setMain(c)
	return c, nil
}

// Start launches c's task on its own goroutine: the dispatch loop (spec
// §4.5), then wait-children, then teardown (spec §4.6). The returned
// channel closes once teardown completes.
func (c *Component) Start() <-chan struct{} {
	c.doneCh = make(chan struct{})
	go func() {
		defer close(c.doneCh)
		defer c.recoverPanic()

		if err := interp.Run(c); err != nil {
			c.lastErr = err
			vmlog.Logger.Error().Str("component", c.name).Err(err).Msg("component run failed")
		}

		if err := c.waitChildren(); err != nil && c.lastErr == nil {
			c.lastErr = err
		}
		c.teardown()
	}()
	return c.doneCh
}

// Wait blocks until c's task (including wait-children and teardown) has
// completed, returning its recorded fatal error, if any.
func (c *Component) Wait() error {
	<-c.doneCh
	return c.lastErr
}

// recoverPanic converts an unexpected panic inside the dispatch loop into
// a recorded error rather than crashing the whole VM process — other
// components must continue unaffected (spec §7 "other components continue
// unaffected").
func (c *Component) recoverPanic() {
	if r := recover(); r != nil {
		vmlog.Logger.Error().Str("component", c.name).Interface("panic", r).Msg("component panicked")
		if c.lastErr == nil {
			c.lastErr = interp.ErrProtocol
		}
	}
}

// waitChildren drains the wait set, joining every child task concurrently
// and propagating the first error any of them recorded (spec §4.6
// "wait-children").
func (c *Component) waitChildren() error {
	var g errgroup.Group
	for _, child := range c.children {
		child := child
		g.Go(child.Wait)
	}
	return g.Wait()
}

// teardown releases the scope stack, operand stack, channel table, and
// procedure table, unbinding channels first (spec §4.6: "the channel
// teardown unbinds all endpoints first").
func (c *Component) teardown() {
	c.chMu.Lock()
	names := c.channels.Names()
	endpoints := make([]*channel.Endpoint, 0, len(names))
	for _, n := range names {
		ep, _ := c.channels.Get(n)
		endpoints = append(endpoints, ep)
	}
	c.chMu.Unlock()

	for _, ep := range endpoints {
		channel.Unbind(ep)
		ep.Close()
	}

	c.operands.ReleaseAll()
	c.scopes.ReleaseAll()

	if err := c.file.Close(); err != nil {
		vmlog.Logger.Warn().Str("component", c.name).Err(err).Msg("closing bytecode file")
	}

	vmlog.Logger.Debug().Str("component", c.name).Str("id", c.id.String()).Msg("component terminated")
}
