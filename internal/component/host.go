package component

import (
	"io"

	"github.com/insense-lang/insense-vm/internal/bytecode"
	"github.com/insense-lang/insense-vm/internal/channel"
	"github.com/insense-lang/insense-vm/internal/interp"
	"github.com/insense-lang/insense-vm/internal/proc"
	"github.com/insense-lang/insense-vm/internal/scope"
	"github.com/insense-lang/insense-vm/internal/stack"
	"github.com/insense-lang/insense-vm/internal/value"
)

// Compile-time assertions that *Component satisfies interp's structural
// interfaces.
var (
	_ interp.Host           = (*Component)(nil)
	_ interp.ComponentRef   = (*Component)(nil)
	_ value.ComponentHandle = (*Component)(nil)
)

func (c *Component) Name() string             { return c.name }
func (c *Component) Reader() *bytecode.Reader { return c.reader }
func (c *Component) Scopes() *scope.Stack     { return c.scopes }
func (c *Component) Operands() *stack.Operand { return c.operands }

func (c *Component) Args() []value.Value { return c.args }
func (c *Component) ClearArgs()          { c.args = nil }

func (c *Component) IsRunning() bool { return c.running.Load() }

// SetRunning publishes the running flag (spec §5: "implementations must
// publish this flag with an acquire/release or equivalent barrier") and
// wakes any goroutine blocked in AwaitRunning (CONNECT's suspension point,
// spec §5's suspension-point (b)).
func (c *Component) SetRunning() {
	c.running.Store(true)
	c.runCondMu.Lock()
	c.runCond.Broadcast()
	c.runCondMu.Unlock()
}

// AwaitRunning blocks until the component's constructor has matched and
// installed its bindings, replacing the original "crude sleep-until-true"
// design with a condition variable the setter signals (spec §5, §9
// redesign note).
func (c *Component) AwaitRunning() {
	if c.running.Load() {
		return
	}
	c.runCondMu.Lock()
	for !c.running.Load() {
		c.runCond.Wait()
	}
	c.runCondMu.Unlock()
}

func (c *Component) InProject() bool      { return c.inProject }
func (c *Component) SetInProject(v bool) { c.inProject = v }

func (c *Component) RequestStop()    { c.stopped.Store(true) }
func (c *Component) IsStopped() bool { return c.stopped.Load() }

func (c *Component) LookupChannel(name string) (*channel.Endpoint, bool) {
	c.chMu.RLock()
	defer c.chMu.RUnlock()
	return c.channels.Get(name)
}

func (c *Component) RegisterChannel(name string, ep *channel.Endpoint) {
	c.chMu.Lock()
	c.channels.Set(name, ep)
	c.chMu.Unlock()
}

func (c *Component) LocalProcs() *proc.Table  { return c.localProcs }
func (c *Component) GlobalProcs() *proc.Table { return c.env.globalProcs() }
func (c *Component) NativeProcs() *proc.Table { return c.env.Natives }

// Spawn implements CALL: instantiate and start a child component,
// recording it in this component's wait set (spec §4.5 "CALL", §4.6
// "wait-children").
func (c *Component) Spawn(name string, args []value.Value) (value.ComponentHandle, error) {
	child, err := Instantiate(c.env, name, args)
	if err != nil {
		return nil, err
	}
	child.Start()
	c.children = append(c.children, child)
	return child, nil
}

// OpenGlobalStream reopens an independent reader on the entry component's
// bytecode file, used by PROCCALL when a name resolves in the main
// program's procedure table rather than locally (spec §4.5
// "_returnSource").
func (c *Component) OpenGlobalStream() (*bytecode.Reader, io.Closer, error) {
	path, ok := c.env.mainPath()
	if !ok {
		return nil, nil, interp.ErrProtocol
	}
	f, err := openPath(path)
	if err != nil {
		return nil, nil, err
	}
	return newReader(f), f, nil
}
