// Package scope implements the nested lexical environments that back
// DECLARE/STORE/LOAD and the constructor/procedure/project-arm frames that
// enter and exit them (spec §3 "Scope stack", §4.3).
package scope

import (
	"errors"

	"github.com/insense-lang/insense-vm/internal/collections"
	"github.com/insense-lang/insense-vm/internal/value"
)

// ErrUndeclaredIdentifier maps to spec §7's *UndeclaredIdentifier*: STORE
// or LOAD named an absent binding.
var ErrUndeclaredIdentifier = errors.New("undeclared identifier")

type frame = collections.OrderedMap[value.Value]

// Stack is a non-empty ordered sequence of scopes, each an ordered map
// from identifier to typed value. It is never allowed to become empty:
// New starts with one scope already pushed, the component's top-level
// scope that constructor bodies declare into directly.
type Stack struct {
	scopes []*frame
}

// New returns a scope stack with a single, empty top-level scope.
func New() *Stack {
	return &Stack{scopes: []*frame{collections.NewOrderedMap[value.Value]()}}
}

// Enter pushes a new, empty scope (ENTERSCOPE).
func (s *Stack) Enter() {
	s.scopes = append(s.scopes, collections.NewOrderedMap[value.Value]())
}

// Exit pops the top scope (EXITSCOPE), releasing every binding it held.
// The outermost scope is never popped.
func (s *Stack) Exit() {
	if len(s.scopes) <= 1 {
		return
	}
	top := s.scopes[len(s.scopes)-1]
	s.scopes = s.scopes[:len(s.scopes)-1]
	for _, name := range top.Names() {
		v, _ := top.Get(name)
		v.Release()
	}
}

// Declare registers name in the top scope bound to an undefined value.
// Re-declaring an existing name in the same scope is a no-op (spec §4.3).
func (s *Stack) Declare(name string) {
	s.top().Declare(name, value.Undefined())
}

// Store assigns v into the innermost scope containing name, releasing
// whatever value previously occupied that binding. It returns
// ErrUndeclaredIdentifier if no scope contains name.
func (s *Stack) Store(name string, v value.Value) error {
	for i := len(s.scopes) - 1; i >= 0; i-- {
		sc := s.scopes[i]
		if prev, ok := sc.Get(name); ok {
			prev.Release()
			sc.Set(name, v)
			return nil
		}
	}
	return ErrUndeclaredIdentifier
}

// Load reads the value bound to name, searching innermost scope first. It
// reports ok=false if absent (spec: "load returns ⊥ if absent").
func (s *Stack) Load(name string) (value.Value, bool) {
	for i := len(s.scopes) - 1; i >= 0; i-- {
		if v, ok := s.scopes[i].Get(name); ok {
			return v, true
		}
	}
	return value.Value{}, false
}

// ExitTo pops scopes until a scope containing name becomes the top. Used
// by RETURN to unwind back to the scope holding _returnAddress.
func (s *Stack) ExitTo(name string) {
	for len(s.scopes) > 1 {
		if s.top().Has(name) {
			return
		}
		s.Exit()
	}
}

// Depth reports the number of active scopes.
func (s *Stack) Depth() int {
	return len(s.scopes)
}

// ReleaseAll releases every binding in every scope, including the
// outermost one that Exit never pops. Used by component teardown (spec
// §4.6) once the behavior loop has exited and nothing will read these
// bindings again.
func (s *Stack) ReleaseAll() {
	for _, sc := range s.scopes {
		for _, name := range sc.Names() {
			v, _ := sc.Get(name)
			v.Release()
		}
	}
}

func (s *Stack) top() *frame {
	return s.scopes[len(s.scopes)-1]
}
