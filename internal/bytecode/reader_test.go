package bytecode

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

func assert(t *testing.T, cond bool, msg string) {
	t.Helper()
	if !cond {
		t.Fatalf(msg)
	}
}

// seekable wraps a bytes.Reader as an io.ReadSeeker backed by a plain byte
// slice, letting tests drive Reader without touching the filesystem.
func seekable(b []byte) *bytes.Reader {
	return bytes.NewReader(b)
}

func u32(v uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return buf[:]
}

func u64(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

func nulString(s string) []byte {
	return append([]byte(s), 0)
}

func TestReadByteReportsErrEOF(t *testing.T) {
	r := New(seekable(nil))
	_, err := r.ReadByte()
	assert(t, errors.Is(err, ErrEOF), "ReadByte at end of stream reports ErrEOF")
}

func TestReadUint32BigEndian(t *testing.T) {
	r := New(seekable(u32(0x01020304)))
	v, err := r.ReadUint32()
	assert(t, err == nil && v == 0x01020304, "ReadUint32 decodes big-endian")
}

func TestReadStringEscapes(t *testing.T) {
	raw := append([]byte("line1\\nline2\\\\done"), 0)
	r := New(seekable(raw))
	s, err := r.ReadString()
	assert(t, err == nil, "ReadString succeeds")
	assert(t, s == "line1\nline2\\done", "backslash-n and backslash-backslash decode, other bytes pass through")
}

func TestReadTypedLiteralInteger(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(byte(0x01)) // value.Integer tag
	neg := int32(-5)
	buf.Write(u32(uint32(neg)))
	r := New(seekable(buf.Bytes()))

	v, err := r.ReadTypedLiteral()
	assert(t, err == nil && v.AsInt() == -5, "typed literal decodes an INTEGER payload")
}

func TestReadTypedLiteralReal(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(byte(0x03)) // value.Real tag
	buf.Write(u64(math.Float64bits(3.25)))
	r := New(seekable(buf.Bytes()))

	v, err := r.ReadTypedLiteral()
	assert(t, err == nil && v.AsReal() == 3.25, "typed literal decodes a REAL payload's bit pattern")
}

func TestSeekRelative(t *testing.T) {
	data := []byte{10, 20, 30, 40, 50}
	r := New(seekable(data))
	_, _ = r.ReadByte()
	_, _ = r.ReadByte()
	assert(t, r.Pos() == 2, "two ReadByte calls advance position by two")

	assert(t, r.SeekRelative(-1) == nil, "SeekRelative succeeds")
	b, err := r.ReadByte()
	assert(t, err == nil && b == 20, "SeekRelative repositions relative to the current logical offset")
}

func TestReadParamList(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(2) // paramCount
	buf.WriteByte(1) // Integer tag
	buf.Write(nulString("x"))
	buf.WriteByte(6) // String tag
	buf.Write(nulString("y"))
	r := New(seekable(buf.Bytes()))

	params, err := r.ReadParamList()
	assert(t, err == nil, "ReadParamList succeeds")
	assert(t, len(params) == 2, "two params decoded")
	assert(t, params[0].Name == "x" && params[1].Name == "y", "params decode in declaration order")
}

func TestSkipToOpcodeFindsTarget(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(byte(EnterScope))
	buf.WriteByte(byte(ExitScope))
	buf.WriteByte(byte(Stop))
	buf.Write(nulString("self")) // STOP's operand
	r := New(seekable(buf.Bytes()))

	op, err := r.SkipToOpcode(Stop)
	assert(t, err == nil && op == Stop, "SkipToOpcode scans past unrelated leaf opcodes to the target")

	name, err := r.ReadString()
	assert(t, err == nil && name == "self", "target opcode's own operand is left unread")
}

func TestSkipToOpcodeEOF(t *testing.T) {
	r := New(seekable([]byte{byte(EnterScope)}))
	_, err := r.SkipToOpcode(Stop)
	assert(t, errors.Is(err, ErrEOF), "SkipToOpcode reports ErrEOF when the target never appears")
}

func TestSkipConstructorBodySkipsNestedProc(t *testing.T) {
	var buf bytes.Buffer
	// CONSTRUCTOR header: paramCount = 0
	buf.WriteByte(0)
	// nested PROC "helper" with no params, a NOT, then its own BLOCKEND
	buf.WriteByte(byte(Proc))
	buf.Write(nulString("helper"))
	buf.WriteByte(0)
	buf.WriteByte(byte(Not))
	buf.WriteByte(byte(BlockEnd))
	// outer CONSTRUCTOR's own BLOCKEND
	buf.WriteByte(byte(BlockEnd))
	// a marker opcode after the constructor body to prove positioning
	buf.WriteByte(byte(Stop))

	r := New(seekable(buf.Bytes()))
	err := r.SkipConstructorBody()
	assert(t, err == nil, "SkipConstructorBody succeeds over a nested PROC")

	op, err := r.ReadOp()
	assert(t, err == nil && op == Stop, "stream lands exactly past the outer BLOCKEND")
}

func TestConsumeOperandsComponentHeader(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(byte(Component))
	buf.Write(nulString("Logger"))
	buf.WriteByte(1) // ifaceCount
	buf.WriteByte(1) // chanCount
	buf.WriteByte(0) // direction
	buf.WriteByte(1) // element type
	buf.Write(nulString("in"))
	buf.WriteByte(byte(Stop))

	r := New(seekable(buf.Bytes()))
	op, err := r.SkipToOpcode(Stop)
	assert(t, err == nil && op == Stop, "SkipToOpcode consumes a full COMPONENT header as one leaf operand group")
}
