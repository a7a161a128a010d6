// Package interp implements the opcode dispatch loop described in spec
// §4.5: the core loop that drives a component's bytecode stream against
// its scope stack, operand stack, channel table, and procedure tables.
//
// It depends only on the leaf packages (value, bytecode, scope, stack,
// proc, channel) and never on internal/component — component implements
// the Host and ComponentRef interfaces below and calls Run, keeping the
// dependency one-directional.
package interp

import "errors"

// Fatal error kinds, spec §7 — each terminates the component that raised
// it (Run returns the error; the caller tears the component down).
var (
	ErrProtocol            = errors.New("interp: protocol error")
	ErrTypeMismatch        = errors.New("interp: type mismatch")
	ErrUndeclaredIdentifier = errors.New("interp: undeclared identifier")
	ErrNoMatchingConstructor = errors.New("interp: no matching constructor")
	ErrUnknownField        = errors.New("interp: unknown field")
	ErrStackUnderflow      = errors.New("interp: stack underflow")
	ErrUnknownChannel      = errors.New("interp: unknown channel")
)

// Non-fatal error kinds, spec §7 — logged, component continues.
var (
	ErrUnknownOpcode  = errors.New("interp: unknown opcode")
	ErrNoProjection   = errors.New("interp: no projection arm matched")
	ErrChannelMismatch = errors.New("interp: channel bind mismatch")
)
