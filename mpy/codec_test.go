package mpy_test

import (
	"github.com/vanminh0910/micropython/internal/binary"
	"github.com/vanminh0910/micropython/mpy"
)

// encUint encodes a varint the way the container format does.
func encUint(v uint64) []byte {
	w := binary.NewWriter()
	w.WriteUint(v)
	return w.Bytes()
}

// lenBytes encodes a length-prefixed byte string.
func lenBytes(s string) []byte {
	w := binary.NewWriter()
	w.WriteLenBytes([]byte(s))
	return w.Bytes()
}

// makeBytecode assembles a bytecode buffer: prelude (nState=2,
// nExcStack=0), a minimal code-info block holding only the two
// interned-string slots, the cell-list terminator, then the opcodes.
func makeBytecode(nPos, nKw byte, opcodes []byte) []byte {
	var bc []byte
	bc = append(bc, encUint(2)...) // n_state
	bc = append(bc, encUint(0)...) // n_exc_stack
	bc = append(bc, 0)             // scope_flags
	bc = append(bc, nPos, nKw)
	bc = append(bc, 0)                   // n_def_pos_args
	bc = append(bc, 5, 0, 0, 0, 0)       // code info: size 5 = varint + 2 slots
	bc = append(bc, 0xFF)                // cell list terminator
	bc = append(bc, opcodes...)
	return bc
}

// container assembles a full bytecode container body (after the header):
// the length-prefixed bytecode, the name refs, any qstr operand refs in
// stream order, the pool counts and the pool entries.
type container struct {
	bc       []byte
	qstrRefs []string // operand refs, stream order
	nObj     int
	nRaw     int
	pool     []byte // arg refs + literals + nested containers, pre-encoded
}

func (c container) body() []byte {
	var out []byte
	out = append(out, lenBytes(string(c.bc))...)
	out = append(out, lenBytes("f")...)       // simple name
	out = append(out, lenBytes("test.py")...) // source file
	for _, s := range c.qstrRefs {
		out = append(out, lenBytes(s)...)
	}
	out = append(out, encUint(uint64(c.nObj))...)
	out = append(out, encUint(uint64(c.nRaw))...)
	out = append(out, c.pool...)
	return out
}

func (c container) withHeader(host mpy.HostInfo) []byte {
	return append([]byte{'M', 2, host.Features, byte(host.SmallIntBits)}, c.body()...)
}

// literal encodes one tagged object literal.
func literal(tag byte, payload string) []byte {
	out := []byte{tag}
	if tag != mpy.TagEllipsis {
		out = append(out, lenBytes(payload)...)
	}
	return out
}
