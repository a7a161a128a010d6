package bytecode

// SkipToOpcode consumes opcodes and their operands until a top-level
// opcode equal to target appears; it returns target (with its own
// operands left unread, ready for the caller to process) or ErrEOF if the
// stream runs out first (spec §4.1).
//
// A BLOCKEND is otherwise skipped as a no-op, except when target is
// PROJECT_EXIT and the BLOCKEND is immediately followed by PROJECT_EXIT:
// that PROJECT_EXIT is consumed and returned like any other match, so the
// caller processes it itself rather than leaving it to the dispatch loop.
func (r *Reader) SkipToOpcode(target Op) (Op, error) {
	for {
		op, err := r.ReadOp()
		if err != nil {
			return 0, err
		}

		if op == BlockEnd {
			if target == ProjectExit {
				if next, ok := r.peekOp(); ok && next == ProjectExit {
					// Consume the PROJECT_EXIT byte here so the return
					// contract is uniform: callers always receive target
					// with its opcode byte already read and only its
					// operands left to process, same as the op == target
					// branch below.
					if _, err := r.ReadOp(); err != nil {
						return 0, err
					}
					return ProjectExit, nil
				}
			}
			// A bare BLOCKEND closes some block we weren't tracking the
			// opening of (e.g. we started scanning mid-constructor-body);
			// treat it as a no-op and keep scanning.
			continue
		}

		if op == target {
			return op, nil
		}

		if err := r.consumeOperands(op); err != nil {
			return 0, err
		}
	}
}

// peekOp looks at the next opcode byte without consuming it.
func (r *Reader) peekOp() (Op, bool) {
	b, err := r.buf.Peek(1)
	if err != nil {
		return 0, false
	}
	return Op(b[0]), true
}

// PeekOp exposes peekOp to callers outside the package (IF's "is the byte
// at the new position ELSE" check, spec §4.5).
func (r *Reader) PeekOp() (Op, bool) {
	return r.peekOp()
}

// SkipConstructorBody consumes a CONSTRUCTOR's header and body, leaving
// the stream positioned just past its BLOCKEND. Used both internally by
// consumeOperands and by the interpreter when a CONSTRUCTOR opcode is
// re-encountered on an already-running component (spec §4.5, idempotent
// case).
func (r *Reader) SkipConstructorBody() error {
	if err := r.consumeConstructorHeader(); err != nil {
		return err
	}
	return r.skipBlockBody()
}

// SkipBlockBody consumes opcodes up to and including the BLOCKEND closing
// the block whose header the caller has already read — used by the
// interpreter to skip a non-matching CONSTRUCTOR's body, or a PROJECT_ENTRY
// arm's body while scanning for a match.
func (r *Reader) SkipBlockBody() error {
	return r.skipBlockBody()
}

// consumeOperands reads and discards op's operands. For block-opening
// opcodes (CONSTRUCTOR, PROC, PROJECT_ENTRY) this also consumes the
// entire nested body up to its matching BLOCKEND, since skipping past one
// of these means skipping past everything it contains.
func (r *Reader) consumeOperands(op Op) error {
	switch op {
	case Constructor:
		if err := r.consumeConstructorHeader(); err != nil {
			return err
		}
		return r.skipBlockBody()
	case Proc:
		if err := r.consumeProcHeader(); err != nil {
			return err
		}
		return r.skipBlockBody()
	case ProjectEntry:
		if err := r.consumeProjectEntryHeader(); err != nil {
			return err
		}
		return r.skipBlockBody()
	default:
		return r.consumeLeafOperands(op)
	}
}

// skipBlockBody consumes opcodes until the BLOCKEND that closes the block
// whose header was just read, tracking nested block openers so an inner
// CONSTRUCTOR/PROC/PROJECT_ENTRY's own BLOCKEND doesn't terminate the
// outer skip early.
func (r *Reader) skipBlockBody() error {
	depth := 1
	for {
		op, err := r.ReadOp()
		if err != nil {
			return err
		}
		switch op {
		case Constructor:
			if err := r.consumeConstructorHeader(); err != nil {
				return err
			}
			depth++
		case Proc:
			if err := r.consumeProcHeader(); err != nil {
				return err
			}
			depth++
		case ProjectEntry:
			if err := r.consumeProjectEntryHeader(); err != nil {
				return err
			}
			depth++
		case BlockEnd:
			depth--
			if depth == 0 {
				return nil
			}
		default:
			if err := r.consumeLeafOperands(op); err != nil {
				return err
			}
		}
	}
}

func (r *Reader) consumeConstructorHeader() error {
	_, err := r.ReadParamList()
	return err
}

func (r *Reader) consumeProcHeader() error {
	if _, err := r.ReadString(); err != nil { // proc name
		return err
	}
	return r.consumeConstructorHeader() // paramCount + {type, name}* share the layout
}

// ProjectEntryKind distinguishes the two roles PROJECT_ENTRY plays: the
// outer "project this ANY value, bind asName" header, and each inner arm's
// "match this type tag" header. The wire format tags which is which with a
// one-byte kind discriminator immediately after the opcode, resolving the
// ambiguity left open by a PROJECT_ENTRY opcode that is reused for both
// roles (see DESIGN.md).
type ProjectEntryKind byte

const (
	ProjectEntryNamed ProjectEntryKind = 0
	ProjectEntryArm   ProjectEntryKind = 1
)

// ReadProjectEntryHeader reads the kind discriminator and the
// kind-dependent payload (asName for the outer form, a type tag for an
// arm).
func (r *Reader) ReadProjectEntryHeader() (ProjectEntryKind, string, byte, error) {
	kindByte, err := r.ReadByte()
	if err != nil {
		return 0, "", 0, err
	}
	kind := ProjectEntryKind(kindByte)
	if kind == ProjectEntryNamed {
		name, err := r.ReadString()
		return kind, name, 0, err
	}
	tag, err := r.ReadByte()
	return kind, "", tag, err
}

func (r *Reader) consumeProjectEntryHeader() error {
	_, _, _, err := r.ReadProjectEntryHeader()
	return err
}

// consumeLeafOperands reads and discards the operands for any opcode that
// is not a block opener, per the layout table in spec §6.
func (r *Reader) consumeLeafOperands(op Op) error {
	switch op {
	case Stop, Send, Receive, ProcCall:
		_, err := r.ReadString()
		return err
	case Push:
		_, err := r.ReadTypedLiteral()
		return err
	case Declare:
		if _, err := r.ReadString(); err != nil {
			return err
		}
		_, err := r.ReadByte() // type tag
		return err
	case Load, Store:
		_, err := r.ReadString()
		return err
	case Component:
		return r.consumeComponentHeader()
	case Call:
		if _, err := r.ReadString(); err != nil {
			return err
		}
		_, err := r.ReadByte() // argCount
		return err
	case BehaviourJump, Jump, If, Else:
		_, err := r.ReadTypedLiteral() // INTEGER operand, tag+4 bytes
		return err
	case Connect:
		for i := 0; i < 2; i++ {
			if _, err := r.ReadString(); err != nil { // LOAD-style component name
				return err
			}
			if _, err := r.ReadString(); err != nil { // channel name
				return err
			}
		}
		return nil
	case Disconnect:
		if _, err := r.ReadString(); err != nil {
			return err
		}
		_, err := r.ReadString()
		return err
	case StructOp:
		return r.consumeStructOperands()
	case EnterScope, ExitScope, Add, Sub, Mul, Div, Mod, Less, LessEqual, Equal, MoreEqual,
		More, Unequal, And, Or, Not, BitAnd, BitXor, BitNot, Return, AnyOp, ProjectExit, BlockEnd:
		return nil
	default:
		// Unknown opcode: no known operand layout, nothing to consume.
		return nil
	}
}

func (r *Reader) consumeComponentHeader() error {
	if _, err := r.ReadString(); err != nil {
		return err
	}
	ifaceCount, err := r.ReadByte()
	if err != nil {
		return err
	}
	for i := byte(0); i < ifaceCount; i++ {
		chanCount, err := r.ReadByte()
		if err != nil {
			return err
		}
		for c := byte(0); c < chanCount; c++ {
			if _, err := r.ReadByte(); err != nil { // direction
				return err
			}
			if _, err := r.ReadByte(); err != nil { // element type
				return err
			}
			if _, err := r.ReadString(); err != nil { // channel name
				return err
			}
		}
	}
	return nil
}

func (r *Reader) consumeStructOperands() error {
	sub, err := r.ReadByte()
	if err != nil {
		return err
	}
	switch StructSub(sub) {
	case StructConstructor:
		return r.consumeConstructorHeader()
	case StructLoad:
		_, err := r.ReadString()
		return err
	default:
		return ErrProtocol
	}
}
