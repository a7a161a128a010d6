// Package stack implements the per-component operand stack: a LIFO of
// typed values consumed and produced by the expression and call-convention
// opcodes (spec §4.2).
package stack

import (
	"errors"

	"github.com/insense-lang/insense-vm/internal/value"
)

// ErrStackUnderflow is returned by Pop/Peek on an empty stack. It maps to
// spec §7's *StackUnderflow*, fatal to the component.
var ErrStackUnderflow = errors.New("operand stack underflow")

// Operand is a per-component LIFO of typed values.
type Operand struct {
	items []value.Value
}

// New returns an empty operand stack.
func New() *Operand {
	return &Operand{}
}

// Push places v on top of the stack, taking ownership of the reference the
// caller held.
func (s *Operand) Push(v value.Value) {
	s.items = append(s.items, v)
}

// Pop removes and returns the top of the stack. The caller now owns the
// reference and is responsible for eventually releasing it.
func (s *Operand) Pop() (value.Value, error) {
	if len(s.items) == 0 {
		return value.Value{}, ErrStackUnderflow
	}
	top := s.items[len(s.items)-1]
	s.items = s.items[:len(s.items)-1]
	return top, nil
}

// Peek returns the top of the stack without removing it.
func (s *Operand) Peek() (value.Value, error) {
	if len(s.items) == 0 {
		return value.Value{}, ErrStackUnderflow
	}
	return s.items[len(s.items)-1], nil
}

// Size reports the number of values currently on the stack.
func (s *Operand) Size() int {
	return len(s.items)
}

// ReleaseAll releases every value still on the stack. Well-formed streams
// leave the stack empty at teardown (spec §8); this exists to avoid
// leaking references on a component that terminates mid-expression due to
// a fatal error.
func (s *Operand) ReleaseAll() {
	for _, v := range s.items {
		v.Release()
	}
	s.items = nil
}

// PopN pops count values, returning them in the order they were pushed
// (the first element is the value pushed earliest of the group), matching
// the CALL/PROCCALL argument-list convention in spec §4.5: "last pushed
// becomes first in the argument list" is handled by the caller reversing
// this slice where needed.
func (s *Operand) PopN(count int) ([]value.Value, error) {
	out := make([]value.Value, count)
	for i := count - 1; i >= 0; i-- {
		v, err := s.Pop()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
