package interp

import (
	"errors"
	"io"

	"github.com/insense-lang/insense-vm/internal/bytecode"
	"github.com/insense-lang/insense-vm/internal/channel"
	"github.com/insense-lang/insense-vm/internal/value"
	"github.com/insense-lang/insense-vm/internal/vmlog"
)

// callFrame records what to restore on RETURN: the reader the caller was
// using before a PROCCALL switched streams, and — for a call that
// resolved into the global procedure table — the temporary reader to
// close once we're done with it.
type callFrame struct {
	callerReader  *bytecode.Reader
	discardReader io.Closer
}

// Run interprets h's bytecode stream until its stop flag is observed or
// the stream is exhausted (spec §4.5). It returns nil on a clean stop or
// end of stream, and a non-nil error for any fatal error kind (spec §7);
// the caller (internal/component) is responsible for tearing the
// component down either way.
func Run(h Host) error {
	current := h.Reader()
	var frames []callFrame

	for {
		if h.IsStopped() {
			return nil
		}

		op, err := current.ReadOp()
		if errors.Is(err, bytecode.ErrEOF) {
			return nil
		}
		if err != nil {
			return err
		}

		if err := dispatch(h, &current, &frames, op); err != nil {
			if isFatal(err) {
				vmlog.Logger.Error().Str("component", h.Name()).Str("opcode", op.String()).Err(err).Msg("component terminated")
				return err
			}
			vmlog.Logger.Warn().Str("component", h.Name()).Str("opcode", op.String()).Err(err).Msg("recovered, continuing")
		}
	}
}

func isFatal(err error) bool {
	switch {
	case errors.Is(err, ErrUnknownOpcode), errors.Is(err, ErrNoProjection), errors.Is(err, ErrChannelMismatch):
		return false
	default:
		return true
	}
}

func dispatch(h Host, currentp **bytecode.Reader, frames *[]callFrame, op bytecode.Op) error {
	r := *currentp
	ops := h.Operands()

	switch op {
	case bytecode.Stop:
		return opStop(h, r)

	case bytecode.EnterScope:
		h.Scopes().Enter()
		return nil
	case bytecode.ExitScope:
		h.Scopes().Exit()
		return nil

	case bytecode.Push:
		v, err := r.ReadTypedLiteral()
		if err != nil {
			return wrapProtocol(err)
		}
		ops.Push(v)
		return nil

	case bytecode.Declare:
		name, err := r.ReadString()
		if err != nil {
			return wrapProtocol(err)
		}
		if _, err := r.ReadByte(); err != nil { // type tag, informational only
			return wrapProtocol(err)
		}
		h.Scopes().Declare(name)
		return nil

	case bytecode.Load:
		name, err := r.ReadString()
		if err != nil {
			return wrapProtocol(err)
		}
		v, ok := h.Scopes().Load(name)
		if !ok {
			return ErrUndeclaredIdentifier
		}
		ops.Push(v.Retain())
		return nil

	case bytecode.Store:
		name, err := r.ReadString()
		if err != nil {
			return wrapProtocol(err)
		}
		v, err := ops.Pop()
		if err != nil {
			return ErrStackUnderflow
		}
		if err := h.Scopes().Store(name, v); err != nil {
			return ErrUndeclaredIdentifier
		}
		return nil

	case bytecode.Add, bytecode.Sub, bytecode.Mul, bytecode.Div, bytecode.Mod:
		return opArithmetic(ops, op)
	case bytecode.Less, bytecode.LessEqual, bytecode.Equal, bytecode.MoreEqual, bytecode.More, bytecode.Unequal:
		return opCompare(ops, op)
	case bytecode.And, bytecode.Or:
		return opLogical(ops, op)
	case bytecode.Not:
		return opNot(ops)
	case bytecode.BitAnd, bytecode.BitXor:
		return opBitwise(ops, op)
	case bytecode.BitNot:
		return opBitNot(ops)

	case bytecode.Component:
		return opComponent(h, r)

	case bytecode.Call:
		return opCall(h, r)

	case bytecode.Constructor:
		return opConstructor(h, r)

	case bytecode.BehaviourJump:
		n, err := r.ReadTypedLiteral()
		if err != nil {
			return wrapProtocol(err)
		}
		return opBehaviourJump(h, r, int32FromLiteral(n))

	case bytecode.Jump:
		n, err := r.ReadTypedLiteral()
		if err != nil {
			return wrapProtocol(err)
		}
		return r.SeekRelative(int64(1 - int32FromLiteral(n)))

	case bytecode.If:
		return opIf(ops, r)
	case bytecode.Else:
		return opElse(r)

	case bytecode.Connect:
		return opConnect(h, r)
	case bytecode.Disconnect:
		return opDisconnect(h, r)
	case bytecode.Send:
		return opSend(h, r, ops)
	case bytecode.Receive:
		return opReceive(h, r, ops)

	case bytecode.Proc:
		return opProc(h, r)
	case bytecode.ProcCall:
		return opProcCall(h, currentp, frames, r)
	case bytecode.Return:
		return opReturn(h, currentp, frames)

	case bytecode.StructOp:
		return opStruct(ops, r)
	case bytecode.AnyOp:
		return opAny(ops)
	case bytecode.ProjectEntry:
		return opProjectEntry(h, r, ops)
	case bytecode.ProjectExit:
		return opProjectExit(h)
	case bytecode.BlockEnd:
		return opBlockEnd(h, currentp, frames, r)

	default:
		return ErrUnknownOpcode
	}
}

// wrapProtocol maps any stream read/seek failure (end of stream, a bad
// seek target) to the single ErrProtocol kind spec §7 defines for it.
func wrapProtocol(error) error {
	return ErrProtocol
}

func int32FromLiteral(v value.Value) int32 {
	return v.AsInt()
}

// popSequential pops count values, returning them with the first pop
// (the current top of stack, i.e. the most recently pushed value) at
// index 0 — the convention spec §4.5's CALL note describes ("last pushed
// becomes first in the argument list") and which this implementation
// applies uniformly to CALL arguments, PROCCALL/native arguments, and
// STRUCT_CONSTRUCTOR field values.
func popSequential(ops interface {
	Pop() (value.Value, error)
}, count int) ([]value.Value, error) {
	out := make([]value.Value, count)
	for i := 0; i < count; i++ {
		v, err := ops.Pop()
		if err != nil {
			return nil, ErrStackUnderflow
		}
		out[i] = v
	}
	return out, nil
}

func opStop(h Host, r *bytecode.Reader) error {
	name, err := r.ReadString()
	if err != nil {
		return wrapProtocol(err)
	}
	if name == "" || name == h.Name() {
		h.RequestStop()
		return nil
	}
	v, ok := h.Scopes().Load(name)
	if !ok {
		return ErrUndeclaredIdentifier
	}
	handle, ok := v.AsComponent()
	if !ok {
		return ErrTypeMismatch
	}
	ref, ok := handle.(ComponentRef)
	if !ok {
		return ErrProtocol
	}
	ref.RequestStop()
	return nil
}

func opComponent(h Host, r *bytecode.Reader) error {
	name, err := r.ReadString()
	if err != nil {
		return wrapProtocol(err)
	}
	if name != h.Name() {
		return ErrProtocol
	}
	ifaceCount, err := r.ReadByte()
	if err != nil {
		return wrapProtocol(err)
	}
	for i := byte(0); i < ifaceCount; i++ {
		chanCount, err := r.ReadByte()
		if err != nil {
			return wrapProtocol(err)
		}
		for c := byte(0); c < chanCount; c++ {
			dirByte, err := r.ReadByte()
			if err != nil {
				return wrapProtocol(err)
			}
			elemByte, err := r.ReadByte()
			if err != nil {
				return wrapProtocol(err)
			}
			chanName, err := r.ReadString()
			if err != nil {
				return wrapProtocol(err)
			}
			ep := channel.New(chanName, h.Name(), value.Tag(dirByte), value.Tag(elemByte))
			h.RegisterChannel(chanName, ep)
		}
	}
	return nil
}

func opCall(h Host, r *bytecode.Reader) error {
	name, err := r.ReadString()
	if err != nil {
		return wrapProtocol(err)
	}
	argCount, err := r.ReadByte()
	if err != nil {
		return wrapProtocol(err)
	}
	args, err := popSequential(h.Operands(), int(argCount))
	if err != nil {
		return err
	}
	handle, err := h.Spawn(name, args)
	if err != nil {
		return ErrProtocol
	}
	h.Operands().Push(value.NewComponent(handle))
	return nil
}

func opConstructor(h Host, r *bytecode.Reader) error {
	for {
		if h.IsRunning() {
			return r.SkipConstructorBody()
		}
		params, err := r.ReadParamList()
		if err != nil {
			return wrapProtocol(err)
		}
		args := h.Args()
		if constructorMatches(params, args) {
			for i, p := range params {
				h.Scopes().Declare(p.Name)
				if err := h.Scopes().Store(p.Name, args[i]); err != nil {
					return ErrProtocol
				}
			}
			h.SetRunning()
			h.ClearArgs()
			return nil
		}

		if err := r.SkipBlockBody(); err != nil {
			return wrapProtocol(err)
		}
		next, err := r.SkipToOpcode(bytecode.Constructor)
		if errors.Is(err, bytecode.ErrEOF) {
			return ErrNoMatchingConstructor
		}
		if err != nil {
			return wrapProtocol(err)
		}
		_ = next // always bytecode.Constructor; loop retries the match
	}
}

func constructorMatches(params []bytecode.ParamSpec, args []value.Value) bool {
	if len(params) != len(args) {
		return false
	}
	for i, p := range params {
		if p.Tag != args[i].Tag() {
			return false
		}
	}
	return true
}

// opBehaviourJump implements BEHAVIOUR_JUMP: if the component's stop flag
// is set, the distance is discarded and execution falls through,
// terminating the behavior loop; otherwise it behaves exactly like JUMP
// (spec §4.5).
func opBehaviourJump(h Host, r *bytecode.Reader, n int32) error {
	if h.IsStopped() {
		return nil
	}
	return r.SeekRelative(int64(1 - n))
}
