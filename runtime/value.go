package runtime

import (
	"fmt"
	"math/big"
)

// Value is a constant-pool or namespace value produced by a loader.
type Value interface {
	valueMarker()
}

// Str is a string literal.
type Str string

// Bytes is a bytes literal.
type Bytes []byte

// Int is an arbitrary-precision integer literal. Containers carry these
// as decimal text, so there is no width limit to enforce here.
type Int struct{ *big.Int }

// Float is a float literal.
type Float float64

// Complex is a complex literal.
type Complex complex128

// Ellipsis is the singleton "..." marker.
type Ellipsis struct{}

// QStrValue is an interned-string reference (used for argument names in
// the constant pool).
type QStrValue QStr

// Const is an integer constant exported by an object-file module.
type Const int64

// NoneType is the host's none singleton, bound for export entries whose
// kind tag the loader does not recognize.
type NoneType struct{}

// None is the sole NoneType value.
var None = NoneType{}

func (Str) valueMarker()       {}
func (Bytes) valueMarker()     {}
func (Int) valueMarker()       {}
func (Float) valueMarker()     {}
func (Complex) valueMarker()   {}
func (Ellipsis) valueMarker()  {}
func (QStrValue) valueMarker() {}
func (Const) valueMarker()     {}
func (NoneType) valueMarker()  {}
func (*RawCode) valueMarker()  {}
func (*Fn) valueMarker()       {}

// NewInt builds an Int from an int64.
func NewInt(v int64) Int {
	return Int{big.NewInt(v)}
}

// ParseInt reparses decimal text into an Int, as the loader does for 'i'
// literals.
func ParseInt(text []byte) (Int, error) {
	n, ok := new(big.Int).SetString(string(text), 10)
	if !ok {
		return Int{}, fmt.Errorf("invalid integer literal %q", text)
	}
	return Int{n}, nil
}

// Equal reports semantic equality of two values. Numeric literals compare
// by value, which is what the save/load round-trip guarantees.
func Equal(a, b Value) bool {
	switch av := a.(type) {
	case Str:
		bv, ok := b.(Str)
		return ok && av == bv
	case Bytes:
		bv, ok := b.(Bytes)
		return ok && string(av) == string(bv)
	case Int:
		bv, ok := b.(Int)
		return ok && av.Cmp(bv.Int) == 0
	case Float:
		bv, ok := b.(Float)
		return ok && av == bv
	case Complex:
		bv, ok := b.(Complex)
		return ok && av == bv
	case Ellipsis:
		_, ok := b.(Ellipsis)
		return ok
	case QStrValue:
		bv, ok := b.(QStrValue)
		return ok && av == bv
	case Const:
		bv, ok := b.(Const)
		return ok && av == bv
	default:
		return a == b
	}
}
