// Package natives builds the VM-wide native procedure table: the opaque
// table of named native callables the core consumes without knowing their
// implementation, per spec §1's "Out of scope" list and §4.7.
package natives

import (
	"fmt"
	"io"

	"github.com/insense-lang/insense-vm/internal/proc"
	"github.com/insense-lang/insense-vm/internal/value"
)

// New builds the native table with printString/printInt/printReal,
// writing to w (normally the process's stdout). Registered once at VM
// init, per spec §4.7.
func New(w io.Writer) *proc.Table {
	t := proc.NewTable()

	t.Register(proc.Entry{
		Name:     "printString",
		Params:   []string{"s"},
		IsNative: true,
		Native: func(args []value.Value) []value.Value {
			s, _ := args[0].AsString()
			fmt.Fprintf(w, "%s\n", s)
			return nil
		},
	})

	t.Register(proc.Entry{
		Name:     "printInt",
		Params:   []string{"i"},
		IsNative: true,
		Native: func(args []value.Value) []value.Value {
			fmt.Fprint(w, args[0].AsInt())
			return nil
		},
	})

	t.Register(proc.Entry{
		Name:     "printReal",
		Params:   []string{"r"},
		IsNative: true,
		Native: func(args []value.Value) []value.Value {
			fmt.Fprintf(w, "%G", args[0].AsReal())
			return nil
		},
	})

	return t
}
