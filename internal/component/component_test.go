package component

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/insense-lang/insense-vm/internal/bytecode"
	"github.com/insense-lang/insense-vm/internal/interp"
	"github.com/insense-lang/insense-vm/internal/natives"
	"github.com/insense-lang/insense-vm/internal/value"
)

// prog is a tiny assembler for the handful of opcode shapes the end-to-end
// tests below need. It exists only to keep those tests readable; it is not
// part of the runtime.
type prog struct {
	buf bytes.Buffer
}

func (p *prog) op(o bytecode.Op) *prog {
	p.buf.WriteByte(byte(o))
	return p
}

func (p *prog) u8(b byte) *prog {
	p.buf.WriteByte(b)
	return p
}

func (p *prog) str(s string) *prog {
	p.buf.WriteString(s)
	p.buf.WriteByte(0)
	return p
}

func (p *prog) tag(t value.Tag) *prog {
	p.buf.WriteByte(byte(t))
	return p
}

func (p *prog) u32(v uint32) *prog {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	p.buf.Write(b[:])
	return p
}

func (p *prog) pushInt(i int32) *prog {
	return p.tag(value.Integer).u32(uint32(i))
}

func (p *prog) pushReal(f float64) *prog {
	p.tag(value.Real)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(f))
	p.buf.Write(b[:])
	return p
}

func (p *prog) pushBool(v bool) *prog {
	p.tag(value.Bool)
	if v {
		p.buf.WriteByte(1)
	} else {
		p.buf.WriteByte(0)
	}
	return p
}

func (p *prog) pushString(s string) *prog {
	p.tag(value.String)
	return p.str(s)
}

// push writes the PUSH opcode; chain one of the push* literal writers
// after it.
func (p *prog) push() *prog { return p.op(bytecode.Push) }

func (p *prog) component(name string) *prog {
	return p.op(bytecode.Component).str(name).u8(0)
}

func (p *prog) componentWithChannel(name string, dir, elem value.Tag, chanName string) *prog {
	p.op(bytecode.Component).str(name)
	p.u8(1) // ifaceCount
	p.u8(1) // chanCount
	p.tag(dir)
	p.tag(elem)
	return p.str(chanName)
}

func (p *prog) constructor0() *prog {
	return p.op(bytecode.Constructor).u8(0)
}

func (p *prog) constructor1(t value.Tag, name string) *prog {
	p.op(bytecode.Constructor).u8(1).tag(t)
	return p.str(name)
}

func (p *prog) procCall(name string) *prog {
	return p.op(bytecode.ProcCall).str(name)
}

func (p *prog) call(name string, argc byte) *prog {
	return p.op(bytecode.Call).str(name).u8(argc)
}

func (p *prog) declare(name string, t value.Tag) *prog {
	return p.op(bytecode.Declare).str(name).tag(t)
}

func (p *prog) store(name string) *prog {
	return p.op(bytecode.Store).str(name)
}

func (p *prog) load(name string) *prog {
	return p.op(bytecode.Load).str(name)
}

func (p *prog) connect(comp1, chan1, comp2, chan2 string) *prog {
	return p.op(bytecode.Connect).str(comp1).str(chan1).str(comp2).str(chan2)
}

func (p *prog) send(chanName string) *prog {
	return p.op(bytecode.Send).str(chanName)
}

func (p *prog) receive(chanName string) *prog {
	return p.op(bytecode.Receive).str(chanName)
}

func (p *prog) blockEnd() *prog {
	return p.op(bytecode.BlockEnd)
}

func (p *prog) stopSelf() *prog {
	return p.op(bytecode.Stop).str("")
}

func (p *prog) behaviourJump(n int32) *prog {
	p.op(bytecode.BehaviourJump)
	return p.tag(value.Integer).u32(uint32(n))
}

func (p *prog) jump(n int32) *prog {
	p.op(bytecode.Jump)
	return p.tag(value.Integer).u32(uint32(n))
}

func (p *prog) ifOp(skip int32) *prog {
	p.op(bytecode.If)
	return p.tag(value.Integer).u32(uint32(skip))
}

func (p *prog) anyOp() *prog { return p.op(bytecode.AnyOp) }

func (p *prog) bytes() []byte { return p.buf.Bytes() }

// writeComponent writes a component's compiled stream to dir/Insense_<name>.isc.
func writeComponent(t *testing.T, dir, name string, p *prog) {
	t.Helper()
	path := filepath.Join(dir, "Insense_"+name+".isc")
	require.NoError(t, os.WriteFile(path, p.bytes(), 0o644))
}

func newTestEnv(t *testing.T) (*Env, *bytes.Buffer, string) {
	t.Helper()
	dir := t.TempDir()
	var out bytes.Buffer
	env := NewEnv(dir, natives.New(&out))
	return env, &out, dir
}

func runMain(t *testing.T, env *Env) error {
	t.Helper()
	main, err := InstantiateMain(env, "Main", nil)
	require.NoError(t, err)
	main.Start()
	return main.Wait()
}

func TestHelloWorld(t *testing.T) {
	env, out, dir := newTestEnv(t)

	p := new(prog)
	p.component("Main")
	p.constructor0()
	p.push().pushString("hi")
	p.procCall("printString")
	p.blockEnd()
	p.stopSelf()
	writeComponent(t, dir, "Main", p)

	require.NoError(t, runMain(t, env))
	require.Equal(t, "hi\n", out.String())
}

func TestEchoPair(t *testing.T) {
	env, out, dir := newTestEnv(t)

	main := new(prog)
	main.component("Main")
	main.constructor0()
	main.call("A", 0)
	main.declare("a", value.Component)
	main.store("a")
	main.call("B", 0)
	main.declare("b", value.Component)
	main.store("b")
	main.connect("a", "x", "b", "y")
	main.blockEnd()
	main.stopSelf()
	writeComponent(t, dir, "Main", main)

	a := new(prog)
	a.componentWithChannel("A", value.Out, value.Integer, "x")
	a.constructor0()
	a.push().pushInt(42)
	a.send("x")
	a.blockEnd()
	a.stopSelf()
	writeComponent(t, dir, "A", a)

	b := new(prog)
	b.componentWithChannel("B", value.In, value.Integer, "y")
	b.constructor0()
	b.receive("y")
	b.procCall("printInt")
	b.blockEnd()
	b.stopSelf()
	writeComponent(t, dir, "B", b)

	require.NoError(t, runMain(t, env))
	require.Equal(t, "42", out.String())
}

func TestConstructorOverloadPicksMatchingArm(t *testing.T) {
	buildC := func(t *testing.T, dir string) {
		c := new(prog)
		c.component("C")
		c.constructor1(value.Integer, "i")
		c.push().pushString("int")
		c.procCall("printString")
		c.blockEnd()
		c.stopSelf()
		c.constructor1(value.Real, "r")
		c.push().pushString("real")
		c.procCall("printString")
		c.blockEnd()
		c.stopSelf()
		writeComponent(t, dir, "C", c)
	}

	t.Run("integer arg picks the integer constructor", func(t *testing.T) {
		env, out, dir := newTestEnv(t)
		buildC(t, dir)

		main := new(prog)
		main.component("Main")
		main.constructor0()
		main.push().pushInt(7)
		main.call("C", 1)
		main.declare("c", value.Component)
		main.store("c")
		main.blockEnd()
		main.stopSelf()
		writeComponent(t, dir, "Main", main)

		require.NoError(t, runMain(t, env))
		require.Equal(t, "int\n", out.String())
	})

	t.Run("real arg picks the real constructor", func(t *testing.T) {
		env, out, dir := newTestEnv(t)
		buildC(t, dir)

		main := new(prog)
		main.component("Main")
		main.constructor0()
		main.push().pushReal(3.5)
		main.call("C", 1)
		main.declare("c", value.Component)
		main.store("c")
		main.blockEnd()
		main.stopSelf()
		writeComponent(t, dir, "Main", main)

		require.NoError(t, runMain(t, env))
		require.Equal(t, "real\n", out.String())
	})

	t.Run("wrong arity reports NoMatchingConstructor", func(t *testing.T) {
		env, _, dir := newTestEnv(t)
		buildC(t, dir)

		main := new(prog)
		main.component("Main")
		main.constructor0()
		main.call("C", 0)
		main.declare("c", value.Component)
		main.store("c")
		main.blockEnd()
		main.stopSelf()
		writeComponent(t, dir, "Main", main)

		err := runMain(t, env)
		require.ErrorIs(t, err, interp.ErrNoMatchingConstructor)
	})
}

func TestLoopWithBehaviourJump(t *testing.T) {
	env, out, dir := newTestEnv(t)

	p := new(prog)
	p.component("Main")
	p.constructor0()
	p.push().pushInt(3)
	p.declare("n", value.Integer)
	p.store("n")
	p.blockEnd() // end of constructor body, enters behavior region

	loopStart := p.buf.Len()
	p.load("n")
	p.push().pushInt(0)
	p.op(bytecode.More)

	// IF false -> skip over the loop body and the BEHAVIOUR_JUMP to the
	// STOP, so the loop ends and the component self-stops.
	ifPos := p.buf.Len()
	p.ifOp(0) // placeholder skip, patched below

	p.load("n")
	p.procCall("printInt")
	p.load("n")
	p.push().pushInt(1)
	p.op(bytecode.Sub)
	p.store("n")

	jumpPos := p.buf.Len()
	// distance measured from the byte after the INTEGER literal (tag+4
	// bytes) back to loopStart, per JUMP's "-n+1" rule: new position =
	// (pos after reading literal) - n + 1.
	afterLiteral := int64(jumpPos) + 1 /*opcode*/ + 1 /*tag*/ + 4 /*u32*/
	// SeekRelative lands at afterLiteral + 1 - n (BEHAVIOUR_JUMP's "-n+1"
	// rule, spec §4.5/§8); solve for n so that position is loopStart.
	n := int32(afterLiteral + 1 - int64(loopStart))
	p.behaviourJump(n)

	loopEnd := p.buf.Len()
	p.stopSelf()

	// Patch the IF's skip distance: it must land exactly at loopEnd (the
	// STOP), measured the same way SeekRelative measures JUMP distances.
	afterIfLiteral := int64(ifPos) + 1 + 1 + 4
	skip := int32(int64(loopEnd) - afterIfLiteral)
	binary.BigEndian.PutUint32(p.bytes()[ifPos+2:ifPos+6], uint32(skip))

	writeComponent(t, dir, "Main", p)

	require.NoError(t, runMain(t, env))
	require.Equal(t, "321", out.String())
}

func TestProjectOverAny(t *testing.T) {
	env, out, dir := newTestEnv(t)

	p := new(prog)
	p.component("Main")
	p.constructor0()
	p.push().pushInt(7)
	p.anyOp()

	p.op(bytecode.ProjectEntry).u8(byte(bytecode.ProjectEntryNamed)).str("v")

	p.op(bytecode.ProjectEntry).u8(byte(bytecode.ProjectEntryArm)).tag(value.Integer)
	p.load("v")
	p.procCall("printInt")
	p.blockEnd()

	p.op(bytecode.ProjectEntry).u8(byte(bytecode.ProjectEntryArm)).tag(value.Real)
	p.load("v")
	p.procCall("printReal")
	p.blockEnd()

	p.op(bytecode.ProjectEntry).u8(byte(bytecode.ProjectEntryArm)).tag(value.Any)
	p.push().pushString("other")
	p.procCall("printString")
	p.blockEnd()

	p.op(bytecode.ProjectExit)
	p.blockEnd()
	p.stopSelf()

	writeComponent(t, dir, "Main", p)

	require.NoError(t, runMain(t, env))
	require.Equal(t, "7", out.String())
}

func TestComponentNameMismatchIsProtocolError(t *testing.T) {
	env, _, dir := newTestEnv(t)

	p := new(prog)
	p.component("NotMain")
	p.constructor0()
	p.stopSelf()
	writeComponent(t, dir, "Main", p)

	err := runMain(t, env)
	require.ErrorIs(t, err, interp.ErrProtocol)
}

func TestComponentNotFound(t *testing.T) {
	env, _, _ := newTestEnv(t)
	_, err := InstantiateMain(env, "Missing", nil)
	require.ErrorIs(t, err, ErrComponentNotFound)
}

// TestTeardownIsTimely guards against a component leaking its goroutine:
// Wait must return shortly after its stream reaches STOP/EOF.
func TestTeardownIsTimely(t *testing.T) {
	env, _, dir := newTestEnv(t)
	p := new(prog)
	p.component("Main")
	p.constructor0()
	p.stopSelf()
	writeComponent(t, dir, "Main", p)

	done := make(chan error, 1)
	go func() { done <- runMain(t, env) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Main never terminated")
	}
}
