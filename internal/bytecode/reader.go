package bytecode

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"strings"

	"github.com/insense-lang/insense-vm/internal/value"
)

// ErrEOF is the end-of-stream sentinel spec §4.1 asks ReadByte to return
// instead of propagating io.EOF through every call site.
var ErrEOF = errors.New("bytecode: end of stream")

// ErrProtocol maps to spec §7's *ProtocolError*: the stream violated the
// expected opcode/operand layout.
var ErrProtocol = errors.New("bytecode: protocol error")

// Reader decodes a flat, seekable octet stream one opcode at a time. It
// wraps an io.ReadSeeker rather than assuming an *os.File so tests can
// drive it off a bytes.Reader.
type Reader struct {
	src io.ReadSeeker
	buf *bufio.Reader
	pos int64
}

// New wraps src for decoding. The stream must already be positioned at
// the start of the region the caller wants to read.
func New(src io.ReadSeeker) *Reader {
	return &Reader{src: src, buf: bufio.NewReader(src)}
}

// Pos returns the reader's current logical offset into the stream.
func (r *Reader) Pos() int64 { return r.pos }

// Seek repositions the stream to an absolute offset and resets the
// internal buffer, since bufio.Reader does not tolerate the underlying
// reader moving out from under it.
func (r *Reader) Seek(offset int64) error {
	if _, err := r.src.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	r.buf.Reset(r.src)
	r.pos = offset
	return nil
}

// SeekRelative moves the stream by delta octets relative to the current
// logical position, preserving JUMP's exact fseek semantics (spec §4.5,
// §8): callers pass delta already adjusted by the caller's -n+1 rule.
func (r *Reader) SeekRelative(delta int64) error {
	return r.Seek(r.pos + delta)
}

// ReadByte reads one octet, returning ErrEOF at end of stream.
func (r *Reader) ReadByte() (byte, error) {
	b, err := r.buf.ReadByte()
	if err != nil {
		return 0, ErrEOF
	}
	r.pos++
	return b, nil
}

// ReadOp reads the next opcode byte.
func (r *Reader) ReadOp() (Op, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	return Op(b), nil
}

// ReadUint32 reads a 4-byte big-endian integer: the on-disk representation
// stores the high-order byte first, so decoding reverses it into host
// order (spec §4.1, §6).
func (r *Reader) ReadUint32() (uint32, error) {
	var buf [4]byte
	for i := range buf {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		buf[i] = b
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func (r *Reader) ReadInt32() (int32, error) {
	u, err := r.ReadUint32()
	return int32(u), err
}

// ReadUint64 reads an 8-byte big-endian integer, used for REAL's bit
// pattern.
func (r *Reader) ReadUint64() (uint64, error) {
	hi, err := r.ReadUint32()
	if err != nil {
		return 0, err
	}
	lo, err := r.ReadUint32()
	if err != nil {
		return 0, err
	}
	return uint64(hi)<<32 | uint64(lo), nil
}

// ReadString decodes a NUL-terminated octet sequence with `\\` as an
// escape introducing `\n` or a literal `\\`; any other escape is
// preserved with the backslash, per spec §4.1.
func (r *Reader) ReadString() (string, error) {
	var sb strings.Builder
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		if b == 0 {
			return sb.String(), nil
		}
		if b != '\\' {
			sb.WriteByte(b)
			continue
		}

		next, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		switch next {
		case 'n':
			sb.WriteByte('\n')
		case '\\':
			sb.WriteByte('\\')
		default:
			sb.WriteByte('\\')
			sb.WriteByte(next)
		}
	}
}

// ReadTypedLiteral decodes a type-tag byte followed by its tag-dependent
// payload, per spec §4.1's literal encoding table.
func (r *Reader) ReadTypedLiteral() (value.Value, error) {
	tagByte, err := r.ReadByte()
	if err != nil {
		return value.Value{}, err
	}
	return r.readLiteralPayload(value.Tag(tagByte))
}

func (r *Reader) readLiteralPayload(tag value.Tag) (value.Value, error) {
	switch tag {
	case value.Integer:
		i, err := r.ReadInt32()
		return value.NewInt(i), err
	case value.UnsignedInteger:
		u, err := r.ReadUint32()
		return value.NewUint(u), err
	case value.Real:
		bits, err := r.ReadUint64()
		if err != nil {
			return value.Value{}, err
		}
		return value.NewReal(math.Float64frombits(bits)), nil
	case value.Bool:
		b, err := r.ReadByte()
		return value.NewBool(b != 0), err
	case value.Byte:
		b, err := r.ReadByte()
		return value.NewByte(b), err
	case value.String:
		s, err := r.ReadString()
		return value.NewString(s), err
	default:
		return value.Value{}, ErrProtocol
	}
}

// ParamSpec is one {typeTag, name} pair from a CONSTRUCTOR or PROC header
// (spec §6).
type ParamSpec struct {
	Name string
	Tag  value.Tag
}

// ReadParamList decodes a paramCount octet followed by that many
// {typeTag, name} pairs, the shared header layout of CONSTRUCTOR and PROC
// (spec §6).
func (r *Reader) ReadParamList() ([]ParamSpec, error) {
	count, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	params := make([]ParamSpec, 0, count)
	for i := byte(0); i < count; i++ {
		tagByte, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		name, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		params = append(params, ParamSpec{Name: name, Tag: value.Tag(tagByte)})
	}
	return params, nil
}

// ReadProcHeader decodes a PROC opcode's name followed by its parameter
// list (spec §6).
func (r *Reader) ReadProcHeader() (string, []ParamSpec, error) {
	name, err := r.ReadString()
	if err != nil {
		return "", nil, err
	}
	params, err := r.ReadParamList()
	return name, params, err
}

// literalPayloadSize returns the fixed number of octets the payload for
// tag occupies. It reports false for STRING, which is variable-length, and
// for tags with no literal encoding. The skip routines in skip.go do not
// call it; they read each literal with ReadTypedLiteral.
func literalPayloadSize(tag value.Tag) (int, bool) {
	switch tag {
	case value.Integer, value.UnsignedInteger:
		return 4, true
	case value.Real:
		return 8, true
	case value.Bool, value.Byte:
		return 1, true
	default:
		return 0, false
	}
}
