// Package proc implements the per-component procedure table, the global
// (main-program) procedure table, and the native-callable bridge, plus the
// local → global → native resolution order from spec §4.7 and §9.
package proc

import (
	"errors"

	"github.com/insense-lang/insense-vm/internal/collections"
	"github.com/insense-lang/insense-vm/internal/value"
)

// ErrUnknownProcedure names the case of a name that resolves in none of
// the local, global, or native tables. Resolve reports that case as
// ok=false and does not return this error.
var ErrUnknownProcedure = errors.New("proc: unknown procedure")

// Native is a built-in callable. It receives its arguments in declaration
// order, each as the corresponding popped typed value, and returns zero or more Values to push onto the caller's operand
// stack (the spec's three built-ins return nothing).
type Native func(args []value.Value) []value.Value

// Entry is one registered procedure: either a bytecode entry point (an
// offset into some component's stream) or a native callable.
type Entry struct {
	Name       string
	Params     []string
	IsNative   bool
	Native     Native
	EntryPoint int64 // byte offset of the first instruction after the header
}

// Table is an ordered name -> Entry map. A component's local table, the
// entry component's global table, and the VM-wide native table are each
// one Table.
type Table struct {
	entries *collections.OrderedMap[Entry]
}

func NewTable() *Table {
	return &Table{entries: collections.NewOrderedMap[Entry]()}
}

// Register adds or replaces a procedure entry.
func (t *Table) Register(e Entry) {
	t.entries.Set(e.Name, e)
}

// Lookup returns the entry bound to name, if any. A nil Table (the global
// table before the entry component has been instantiated) always misses.
func (t *Table) Lookup(name string) (Entry, bool) {
	if t == nil {
		return Entry{}, false
	}
	return t.entries.Get(name)
}

// Resolve implements the local -> global -> native search order, given
// the three tables in that priority. Shadowing a built-in with a local or
// global procedure of the same name relies on this order being exact
// (spec §9).
func Resolve(name string, local, global, native *Table) (Entry, bool) {
	if local != nil {
		if e, ok := local.Lookup(name); ok {
			return e, true
		}
	}
	if global != nil {
		if e, ok := global.Lookup(name); ok {
			return e, true
		}
	}
	if native != nil {
		if e, ok := native.Lookup(name); ok {
			return e, true
		}
	}
	return Entry{}, false
}
