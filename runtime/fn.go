package runtime

import "fmt"

// ArityClass selects the calling convention wrapped around a relocated
// address.
type ArityClass int

const (
	// ArityVariadic accepts 0 to 16 positional arguments.
	ArityVariadic ArityClass = iota
	// ArityTwoInt accepts exactly two integer arguments.
	ArityTwoInt
)

// maxVariadicArgs bounds the variadic convention, matching the host's
// fixed argument marshalling buffer.
const maxVariadicArgs = 16

// Invoker executes machine code at a relocated address. The real host
// jumps into the committed code region; tests substitute a fake that
// records the address and arguments.
type Invoker interface {
	Call(addr uint64, args []Value) (Value, error)
}

// Fn is a callable value wrapping a relocated address. Object-file
// modules bind these into namespaces; native containers return one as the
// loaded blob's entry point.
type Fn struct {
	Addr  uint64
	Arity ArityClass

	inv Invoker
}

// NewFn wraps an address in a callable with the given arity class.
func NewFn(addr uint64, arity ArityClass, inv Invoker) *Fn {
	return &Fn{Addr: addr, Arity: arity, inv: inv}
}

// Call checks the arity class and delegates to the invoker.
func (f *Fn) Call(args ...Value) (Value, error) {
	switch f.Arity {
	case ArityTwoInt:
		if len(args) != 2 {
			return nil, fmt.Errorf("function takes 2 positional arguments but %d were given", len(args))
		}
	case ArityVariadic:
		if len(args) > maxVariadicArgs {
			return nil, fmt.Errorf("function takes at most %d arguments but %d were given", maxVariadicArgs, len(args))
		}
	}
	if f.inv == nil {
		return nil, fmt.Errorf("no invoker bound for address %#x", f.Addr)
	}
	return f.inv.Call(f.Addr, args)
}
