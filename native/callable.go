package native

import (
	"github.com/vanminh0910/micropython/runtime"
)

// Callable is a fully relocated, committed native blob. Its memory is
// owned by the callable from the moment Load returns; Close releases it
// once the interpreter is done with the code.
type Callable struct {
	Raw  *runtime.RawCode
	Code Region
	Data Region

	arena  Arena
	places []Placement
}

// Entry returns the final address of the blob's entry point.
func (c *Callable) Entry() uint64 {
	return c.Raw.EntryAddr
}

// Bind wraps the entry point in a callable value. The container format
// carries no arity field, so native entry points get the variadic
// convention.
func (c *Callable) Bind(inv runtime.Invoker) *runtime.Fn {
	return runtime.NewFn(c.Raw.EntryAddr, runtime.ArityVariadic, inv)
}

// Close releases the blob's memory.
func (c *Callable) Close() error {
	err := releaseAll(c.arena, c.places)
	c.places = nil
	return err
}
