// Package value implements the tagged runtime datum shared by every
// component: the operand stack, scope bindings, struct fields and channel
// payloads all pass Values around.
package value

// Tag identifies the dynamic type carried by a Value. The numeric values
// for the wire-format tags (UNKNOWN through OUT) match the bytecode file
// format in spec §6; STRUCT and ANY extend that encoding as 12 and 13. A
// PUSH literal cannot carry either of them, but a PROJECT_ENTRY arm's type
// byte uses ANY to mark the default arm.
type Tag byte

const (
	Unknown Tag = iota
	Integer
	UnsignedInteger
	Real
	Bool
	Byte
	String
	Array
	Component
	Interface
	In
	Out
	Struct
	Any
)

// String names the tag for logging and error messages.
func (t Tag) String() string {
	switch t {
	case Unknown:
		return "UNKNOWN"
	case Integer:
		return "INTEGER"
	case UnsignedInteger:
		return "UNSIGNED_INTEGER"
	case Real:
		return "REAL"
	case Bool:
		return "BOOL"
	case Byte:
		return "BYTE"
	case String:
		return "STRING"
	case Array:
		return "ARRAY"
	case Component:
		return "COMPONENT"
	case Interface:
		return "INTERFACE"
	case In:
		return "IN"
	case Out:
		return "OUT"
	case Struct:
		return "STRUCT"
	case Any:
		return "ANY"
	default:
		return "?unknown-tag?"
	}
}

// IsNumeric reports whether arithmetic/comparison operators accept this
// tag as an operand, per spec §4.4.
func (t Tag) IsNumeric() bool {
	return t == Integer || t == UnsignedInteger || t == Real || t == Byte
}

// ElemSize returns the octet size of one value of this tag when it is used
// as a channel element type, per spec §3's payload-size table. Reference
// tags are sized by the pointer-sized handle exchanged during rendezvous.
func (t Tag) ElemSize() int {
	switch t {
	case Integer, UnsignedInteger:
		return 4
	case Real:
		return 8
	case Bool, Byte:
		return 1
	default:
		// STRING/ARRAY/STRUCT/COMPONENT/ANY are sized by reference: the
		// channel moves a Value handle, not raw octets.
		return refHandleSize
	}
}

// refHandleSize is the nominal element size used for reference-kind
// channel payloads, matching a pointer-width handle.
const refHandleSize = 8
