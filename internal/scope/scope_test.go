package scope

import (
	"errors"
	"testing"

	"github.com/insense-lang/insense-vm/internal/value"
)

func assert(t *testing.T, cond bool, msg string) {
	t.Helper()
	if !cond {
		t.Fatalf(msg)
	}
}

func TestDeclareStoreLoad(t *testing.T) {
	s := New()
	s.Declare("x")
	v, ok := s.Load("x")
	assert(t, ok && v.Tag() == value.Unknown, "a freshly declared binding loads as undefined")

	assert(t, s.Store("x", value.NewInt(42)) == nil, "store into a declared binding succeeds")
	v, ok = s.Load("x")
	assert(t, ok && v.AsInt() == 42, "load reflects the stored value")
}

func TestStoreUndeclaredFails(t *testing.T) {
	s := New()
	err := s.Store("missing", value.NewInt(1))
	assert(t, errors.Is(err, ErrUndeclaredIdentifier), "storing into an undeclared name fails")
}

func TestNestedScopeShadowing(t *testing.T) {
	s := New()
	s.Declare("x")
	s.Store("x", value.NewInt(1))

	s.Enter()
	s.Declare("x")
	s.Store("x", value.NewInt(2))
	v, _ := s.Load("x")
	assert(t, v.AsInt() == 2, "inner declaration shadows the outer binding")

	s.Exit()
	v, _ = s.Load("x")
	assert(t, v.AsInt() == 1, "exiting the inner scope reveals the outer binding again")
}

func TestExitNeverPopsOutermostScope(t *testing.T) {
	s := New()
	assert(t, s.Depth() == 1, "New starts with exactly one scope")
	s.Exit()
	assert(t, s.Depth() == 1, "Exit on the outermost scope is a no-op")
}

func TestExitTo(t *testing.T) {
	s := New()
	s.Declare("_returnAddress")
	s.Store("_returnAddress", value.NewInt(7))

	s.Enter()
	s.Enter()
	s.Enter()
	assert(t, s.Depth() == 4, "three Enter calls produce four scopes total")

	s.ExitTo("_returnAddress")
	assert(t, s.Depth() == 1, "ExitTo unwinds back to the scope holding the target name")

	v, ok := s.Load("_returnAddress")
	assert(t, ok && v.AsInt() == 7, "ExitTo preserves the target binding")
}
