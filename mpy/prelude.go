package mpy

import (
	"github.com/vanminh0910/micropython/errors"
)

// Prelude holds the per-code-object fields encoded at the front of every
// bytecode buffer.
type Prelude struct {
	NState       uint64
	NExcStack    uint64
	ScopeFlags   byte
	NPosArgs     byte
	NKwonlyArgs  byte
	NDefPosArgs  byte
	CodeInfoSize uint64
}

// NArgs is the number of declared parameters, which is also the number of
// leading interned-string slots in the constant pool.
func (p Prelude) NArgs() int {
	return int(p.NPosArgs) + int(p.NKwonlyArgs)
}

// decodeUintAt reads a varint (most-significant group first) from a byte
// slice starting at i, returning the value and the next index.
func decodeUintAt(b []byte, i int) (uint64, int, error) {
	var v uint64
	var groups int
	for {
		if i >= len(b) {
			return 0, i, errors.Format(errors.PhaseBytecode, "truncated varint in prelude")
		}
		c := b[i]
		i++
		v = v<<7 | uint64(c&0x7f)
		if c&0x80 == 0 {
			return v, i, nil
		}
		groups++
		if groups >= 10 {
			return 0, i, errors.Format(errors.PhaseBytecode, "oversized varint in prelude")
		}
	}
}

// ExtractPrelude parses the prelude of a bytecode buffer. It returns the
// decoded fields, the offset of the code-info block's interned-string
// slots (just past the block's self-describing length), and the offset of
// the first opcode. The code-info block must be fully consumed, and the
// cell list that follows it must reach its terminator, before opcode
// decoding begins; anything else is a FormatError.
func ExtractPrelude(bc []byte) (Prelude, int, int, error) {
	var p Prelude
	var err error
	i := 0

	if p.NState, i, err = decodeUintAt(bc, i); err != nil {
		return p, 0, 0, err
	}
	if p.NExcStack, i, err = decodeUintAt(bc, i); err != nil {
		return p, 0, 0, err
	}
	if i+4 > len(bc) {
		return p, 0, 0, errors.Format(errors.PhaseBytecode, "truncated prelude")
	}
	p.ScopeFlags = bc[i]
	p.NPosArgs = bc[i+1]
	p.NKwonlyArgs = bc[i+2]
	p.NDefPosArgs = bc[i+3]
	i += 4

	// The code-info block's length counts from the block start,
	// including the length varint itself.
	infoStart := i
	size, slotOff, err := decodeUintAt(bc, infoStart)
	if err != nil {
		return p, 0, 0, err
	}
	p.CodeInfoSize = size

	// Bound the size while it is still a uint64: converting first would
	// let a huge value wrap negative and slip past the range check.
	if size > uint64(len(bc)-infoStart) {
		return p, 0, 0, errors.Format(errors.PhaseBytecode, "code-info block overruns bytecode")
	}
	ip := infoStart + int(size)
	// The block must at least hold its two interned-string slots.
	if int(size) < (slotOff-infoStart)+4 {
		return p, 0, 0, errors.Format(errors.PhaseBytecode, "code-info block too small")
	}
	// Skip the cell list to its terminator.
	for {
		if ip >= len(bc) {
			return p, 0, 0, errors.Format(errors.PhaseBytecode, "unterminated code-info block")
		}
		b := bc[ip]
		ip++
		if b == codeInfoTerminator {
			break
		}
	}
	return p, slotOff, ip, nil
}
