package interp

import (
	"io"
	"math"

	"github.com/insense-lang/insense-vm/internal/bytecode"
	"github.com/insense-lang/insense-vm/internal/channel"
	"github.com/insense-lang/insense-vm/internal/proc"
	"github.com/insense-lang/insense-vm/internal/stack"
	"github.com/insense-lang/insense-vm/internal/value"
	"github.com/insense-lang/insense-vm/internal/vmlog"
)

// opArithmetic implements ADD/SUB/MUL/DIV/MOD per spec §4.4's
// widest-operand rule: operands are popped (b on top, a beneath), widened
// to float64, combined, and narrowed back to the wider of the two tags.
func opArithmetic(ops *stack.Operand, op bytecode.Op) error {
	b, err := ops.Pop()
	if err != nil {
		return ErrStackUnderflow
	}
	a, err := ops.Pop()
	if err != nil {
		return ErrStackUnderflow
	}
	if !a.Tag().IsNumeric() || !b.Tag().IsNumeric() {
		return ErrTypeMismatch
	}
	if op == bytecode.Mod && (a.Tag() == value.Real || b.Tag() == value.Real) {
		return ErrTypeMismatch
	}

	resultTag := value.WidestTag(a.Tag(), b.Tag())
	af, _ := a.AsFloat64()
	bf, _ := b.AsFloat64()

	if (op == bytecode.Div || op == bytecode.Mod) && resultTag != value.Real && bf == 0 {
		// Open question (b): integer-tag division/modulo by zero maps to
		// TypeMismatch rather than a host panic; REAL follows IEEE-754.
		return ErrTypeMismatch
	}

	var result float64
	switch op {
	case bytecode.Add:
		result = af + bf
	case bytecode.Sub:
		result = af - bf
	case bytecode.Mul:
		result = af * bf
	case bytecode.Div:
		result = af / bf
	case bytecode.Mod:
		result = math.Mod(af, bf)
	}
	ops.Push(value.NarrowFromFloat64(resultTag, result))
	return nil
}

// opCompare implements LESS/LESSEQUAL/EQUAL/MOREEQUAL/MORE/UNEQUAL,
// widening both operands to REAL before comparing (spec §4.4).
func opCompare(ops *stack.Operand, op bytecode.Op) error {
	b, err := ops.Pop()
	if err != nil {
		return ErrStackUnderflow
	}
	a, err := ops.Pop()
	if err != nil {
		return ErrStackUnderflow
	}
	af, ok1 := a.AsFloat64()
	bf, ok2 := b.AsFloat64()
	if !ok1 || !ok2 {
		return ErrTypeMismatch
	}
	var result bool
	switch op {
	case bytecode.Less:
		result = af < bf
	case bytecode.LessEqual:
		result = af <= bf
	case bytecode.Equal:
		result = af == bf
	case bytecode.MoreEqual:
		result = af >= bf
	case bytecode.More:
		result = af > bf
	case bytecode.Unequal:
		result = af != bf
	}
	ops.Push(value.NewBool(result))
	return nil
}

func opLogical(ops *stack.Operand, op bytecode.Op) error {
	b, err := ops.Pop()
	if err != nil {
		return ErrStackUnderflow
	}
	a, err := ops.Pop()
	if err != nil {
		return ErrStackUnderflow
	}
	if a.Tag() != value.Bool || b.Tag() != value.Bool {
		return ErrTypeMismatch
	}
	var result bool
	if op == bytecode.And {
		result = a.AsBool() && b.AsBool()
	} else {
		result = a.AsBool() || b.AsBool()
	}
	ops.Push(value.NewBool(result))
	return nil
}

func opNot(ops *stack.Operand) error {
	a, err := ops.Pop()
	if err != nil {
		return ErrStackUnderflow
	}
	if a.Tag() != value.Bool {
		return ErrTypeMismatch
	}
	ops.Push(value.NewBool(!a.AsBool()))
	return nil
}

// opBitwise implements BITAND/BITXOR over INTEGER/UNSIGNED_INTEGER
// operands. Spec §4.4 notes these are "reserved but unused by the
// specified corpus"; the narrow integer-only contract here is the
// simplest faithful reading absent any corpus example to ground a wider
// one.
func opBitwise(ops *stack.Operand, op bytecode.Op) error {
	b, err := ops.Pop()
	if err != nil {
		return ErrStackUnderflow
	}
	a, err := ops.Pop()
	if err != nil {
		return ErrStackUnderflow
	}
	ai, ok1 := asInt32(a)
	bi, ok2 := asInt32(b)
	if !ok1 || !ok2 {
		return ErrTypeMismatch
	}
	var result int32
	if op == bytecode.BitAnd {
		result = ai & bi
	} else {
		result = ai ^ bi
	}
	ops.Push(value.NewInt(result))
	return nil
}

func opBitNot(ops *stack.Operand) error {
	a, err := ops.Pop()
	if err != nil {
		return ErrStackUnderflow
	}
	ai, ok := asInt32(a)
	if !ok {
		return ErrTypeMismatch
	}
	ops.Push(value.NewInt(^ai))
	return nil
}

func asInt32(v value.Value) (int32, bool) {
	switch v.Tag() {
	case value.Integer:
		return v.AsInt(), true
	case value.UnsignedInteger:
		return int32(v.AsUint()), true
	default:
		return 0, false
	}
}

// opIf implements IF: pop the BOOL condition; on false, seek forward by
// skip and, if the byte there is ELSE, consume the ELSE opcode and its
// own operand (entering the else-branch body) rather than using its
// distance for a further seek. On true, fall through into the then-branch
// body; the ELSE opcode encountered at the then-branch's end is handled
// generically by opElse, which performs the unconditional forward seek
// that skips the else-branch (spec §4.5, §8 boundary behaviors).
func opIf(ops *stack.Operand, r *bytecode.Reader) error {
	cond, err := ops.Pop()
	if err != nil {
		return ErrStackUnderflow
	}
	if cond.Tag() != value.Bool {
		return ErrTypeMismatch
	}
	skipLit, err := r.ReadTypedLiteral()
	if err != nil {
		return wrapProtocol(err)
	}
	if cond.AsBool() {
		return nil
	}
	skip := int64(skipLit.AsInt())
	if err := r.SeekRelative(skip); err != nil {
		return wrapProtocol(err)
	}
	if next, ok := r.PeekOp(); ok && next == bytecode.Else {
		if _, err := r.ReadOp(); err != nil {
			return wrapProtocol(err)
		}
		if _, err := r.ReadTypedLiteral(); err != nil {
			return wrapProtocol(err)
		}
	}
	return nil
}

// opElse implements ELSE: an unconditional forward seek by skip octets,
// terminating a taken then-branch by skipping over the else-branch body.
func opElse(r *bytecode.Reader) error {
	skipLit, err := r.ReadTypedLiteral()
	if err != nil {
		return wrapProtocol(err)
	}
	return r.SeekRelative(int64(skipLit.AsInt()))
}

func opConnect(h Host, r *bytecode.Reader) error {
	ref1, chan1, err := loadComponentRef(h, r)
	if err != nil {
		return err
	}
	ref2, chan2, err := loadComponentRef(h, r)
	if err != nil {
		return err
	}

	ref1.AwaitRunning()
	ep1, ok := ref1.LookupChannel(chan1)
	if !ok {
		return ErrUnknownChannel
	}
	ref2.AwaitRunning()
	ep2, ok := ref2.LookupChannel(chan2)
	if !ok {
		return ErrUnknownChannel
	}

	if _, err := channel.Bind(ep1, ep2); err != nil {
		vmlog.Logger.Warn().Str("component", h.Name()).Err(err).Msg("channel bind rejected")
		return ErrChannelMismatch
	}
	return nil
}

func loadComponentRef(h Host, r *bytecode.Reader) (ComponentRef, string, error) {
	compName, err := r.ReadString()
	if err != nil {
		return nil, "", wrapProtocol(err)
	}
	chanName, err := r.ReadString()
	if err != nil {
		return nil, "", wrapProtocol(err)
	}
	v, ok := h.Scopes().Load(compName)
	if !ok {
		return nil, "", ErrUndeclaredIdentifier
	}
	handle, ok := v.AsComponent()
	if !ok {
		return nil, "", ErrTypeMismatch
	}
	ref, ok := handle.(ComponentRef)
	if !ok {
		return nil, "", ErrProtocol
	}
	return ref, chanName, nil
}

func opDisconnect(h Host, r *bytecode.Reader) error {
	ref, chanName, err := loadComponentRef(h, r)
	if err != nil {
		return err
	}
	ep, ok := ref.LookupChannel(chanName)
	if !ok {
		return ErrUnknownChannel
	}
	channel.Unbind(ep)
	return nil
}

func opSend(h Host, r *bytecode.Reader, ops *stack.Operand) error {
	chanName, err := r.ReadString()
	if err != nil {
		return wrapProtocol(err)
	}
	v, err := ops.Pop()
	if err != nil {
		return ErrStackUnderflow
	}
	ep, ok := h.LookupChannel(chanName)
	if !ok {
		return ErrUnknownChannel
	}
	if err := ep.Send(v); err != nil {
		return ErrProtocol
	}
	return nil
}

func opReceive(h Host, r *bytecode.Reader, ops *stack.Operand) error {
	chanName, err := r.ReadString()
	if err != nil {
		return wrapProtocol(err)
	}
	ep, ok := h.LookupChannel(chanName)
	if !ok {
		return ErrUnknownChannel
	}
	v, err := ep.Receive()
	if err != nil {
		return ErrProtocol
	}
	ops.Push(v)
	return nil
}

// opProc implements PROC: record a procedure entry with the header just
// read and the stream offset immediately following it, then skip the
// body (spec §4.5).
func opProc(h Host, r *bytecode.Reader) error {
	name, params, err := r.ReadProcHeader()
	if err != nil {
		return wrapProtocol(err)
	}
	entryPoint := r.Pos()
	paramNames := make([]string, len(params))
	for i, p := range params {
		paramNames[i] = p.Name
	}
	h.LocalProcs().Register(proc.Entry{Name: name, Params: paramNames, EntryPoint: entryPoint})
	return r.SkipBlockBody()
}

func opProcCall(h Host, currentp **bytecode.Reader, frames *[]callFrame, r *bytecode.Reader) error {
	name, err := r.ReadString()
	if err != nil {
		return wrapProtocol(err)
	}

	local, global, native := h.LocalProcs(), h.GlobalProcs(), h.NativeProcs()
	if entry, ok := local.Lookup(name); ok {
		return invokeBytecodeProc(h, currentp, frames, r, entry, false)
	}
	if entry, ok := global.Lookup(name); ok {
		return invokeBytecodeProc(h, currentp, frames, r, entry, true)
	}
	entry, ok := native.Lookup(name)
	if !ok {
		return ErrProtocol
	}
	args, err := popSequential(h.Operands(), len(entry.Params))
	if err != nil {
		return err
	}
	for _, v := range entry.Native(args) {
		h.Operands().Push(v)
	}
	return nil
}

func invokeBytecodeProc(h Host, currentp **bytecode.Reader, frames *[]callFrame, r *bytecode.Reader, entry proc.Entry, isGlobal bool) error {
	returnPos := r.Pos()
	args, err := popSequential(h.Operands(), len(entry.Params))
	if err != nil {
		return err
	}

	h.Scopes().Enter()
	h.Scopes().Declare(returnAddressKey)
	if err := h.Scopes().Store(returnAddressKey, value.NewInt(int32(returnPos))); err != nil {
		return ErrProtocol
	}

	next := r
	discard, isGlobalCall := (io.Closer)(nil), isGlobal
	if isGlobalCall {
		h.Scopes().Declare(returnSourceKey)
		if err := h.Scopes().Store(returnSourceKey, value.NewBool(true)); err != nil {
			return ErrProtocol
		}
		global, closer, err := h.OpenGlobalStream()
		if err != nil {
			return ErrProtocol
		}
		discard = closer
		next = global
	}

	*frames = append(*frames, callFrame{callerReader: r, discardReader: discard})
	for i, name := range entry.Params {
		h.Scopes().Declare(name)
		if err := h.Scopes().Store(name, args[i]); err != nil {
			return ErrProtocol
		}
	}
	if err := next.Seek(entry.EntryPoint); err != nil {
		return wrapProtocol(err)
	}
	*currentp = next
	return nil
}

const (
	returnAddressKey = "_returnAddress"
	returnSourceKey  = "_returnSource"
)

func opReturn(h Host, currentp **bytecode.Reader, frames *[]callFrame) error {
	addr, ok := h.Scopes().Load(returnAddressKey)
	if !ok {
		return ErrProtocol
	}
	if len(*frames) == 0 {
		return ErrProtocol
	}
	top := (*frames)[len(*frames)-1]
	*frames = (*frames)[:len(*frames)-1]

	if top.discardReader != nil {
		top.discardReader.Close()
	}
	*currentp = top.callerReader
	if err := top.callerReader.Seek(int64(addr.AsInt())); err != nil {
		return wrapProtocol(err)
	}

	h.Scopes().ExitTo(returnAddressKey)
	h.Scopes().Exit()
	return nil
}

func opStruct(ops *stack.Operand, r *bytecode.Reader) error {
	sub, err := r.ReadByte()
	if err != nil {
		return wrapProtocol(err)
	}
	switch bytecode.StructSub(sub) {
	case bytecode.StructConstructor:
		params, err := r.ReadParamList()
		if err != nil {
			return wrapProtocol(err)
		}
		fields, err := popSequential(ops, len(params))
		if err != nil {
			return err
		}
		builder := value.NewStructBuilder()
		for i, p := range params {
			builder.Declare(p.Name, fields[i])
		}
		ops.Push(value.NewStruct(builder.Build()))
		return nil
	case bytecode.StructLoad:
		field, err := r.ReadString()
		if err != nil {
			return wrapProtocol(err)
		}
		v, err := ops.Pop()
		if err != nil {
			return ErrStackUnderflow
		}
		s, ok := v.AsStruct()
		if !ok {
			return ErrTypeMismatch
		}
		fv, ok := s.Field(field)
		if !ok {
			return ErrUnknownField
		}
		ops.Push(fv.Retain())
		return nil
	default:
		return ErrProtocol
	}
}

func opAny(ops *stack.Operand) error {
	v, err := ops.Pop()
	if err != nil {
		return ErrStackUnderflow
	}
	ops.Push(value.NewAny(v))
	return nil
}

// opProjectEntry implements the outer PROJECT_ENTRY form: push a scope,
// pop the ANY value, scan the sequence of sibling arm blocks for the
// first exact tag match, else the first ANY (default) arm, bind asName
// in the new scope, and position the stream at the selected arm's body
// (spec §4.5, §3 "a PROJECT block reads that tag and selects the
// matching branch").
func opProjectEntry(h Host, r *bytecode.Reader, ops *stack.Operand) error {
	kind, asName, _, err := r.ReadProjectEntryHeader()
	if err != nil {
		return wrapProtocol(err)
	}
	if kind != bytecode.ProjectEntryNamed {
		// An arm header reached outside the scan below is a stream that
		// skipped its enclosing PROJECT_ENTRY; nothing sane to do.
		return ErrProtocol
	}

	anyVal, err := ops.Pop()
	if err != nil {
		return ErrStackUnderflow
	}
	inner, ok := anyVal.AsAny()
	if !ok {
		return ErrTypeMismatch
	}

	h.Scopes().Enter()

	var selectedPos, defaultPos int64 = -1, -1
	for {
		op, err := r.ReadOp()
		if err != nil {
			return wrapProtocol(err)
		}
		if op == bytecode.ProjectExit {
			break
		}
		if op != bytecode.ProjectEntry {
			return ErrProtocol
		}
		armKind, _, armTag, err := r.ReadProjectEntryHeader()
		if err != nil || armKind != bytecode.ProjectEntryArm {
			return wrapProtocol(err)
		}
		bodyStart := r.Pos()
		if value.Tag(armTag) == inner.Tag() && selectedPos < 0 {
			selectedPos = bodyStart
		} else if value.Tag(armTag) == value.Any && defaultPos < 0 {
			defaultPos = bodyStart
		}
		if err := r.SkipBlockBody(); err != nil {
			return wrapProtocol(err)
		}
	}

	pos := selectedPos
	if pos < 0 {
		pos = defaultPos
	}
	if pos < 0 {
		h.Scopes().Exit()
		vmlog.Logger.Warn().Str("component", h.Name()).Msg("no projection arm matched")
		return ErrNoProjection
	}

	h.Scopes().Declare(asName)
	if err := h.Scopes().Store(asName, inner.Retain()); err != nil {
		return ErrProtocol
	}
	h.SetInProject(true)
	return r.Seek(pos)
}

func opProjectExit(h Host) error {
	if !h.InProject() {
		return ErrProtocol
	}
	h.Scopes().Exit()
	h.SetInProject(false)
	return nil
}

// opBlockEnd implements the dispatch-time BLOCKEND behavior: if
// "in-project", skip to the matching PROJECT_EXIT and process it; else if
// a procedure call frame is active, perform RETURN; else it is the
// no-op end of a constructor body (spec §4.5).
func opBlockEnd(h Host, currentp **bytecode.Reader, frames *[]callFrame, r *bytecode.Reader) error {
	if h.InProject() {
		if _, err := r.SkipToOpcode(bytecode.ProjectExit); err != nil {
			return wrapProtocol(err)
		}
		return opProjectExit(h)
	}
	if len(*frames) > 0 {
		return opReturn(h, currentp, frames)
	}
	return nil
}
