package native

import (
	stdbinary "encoding/binary"

	"github.com/vanminh0910/micropython/errors"
)

// X8664 is the wide, PLT-based relocation profile. Direct relative calls
// are tried first; a call whose 32-bit displacement cannot reach its
// target is routed through a 14-byte stub that jumps indirectly via an
// embedded absolute pointer. The stub area sits between code and data in
// a single placement, sized for the worst case of one stub per
// relocation.
func X8664() Profile {
	return x8664{}
}

type x8664 struct{}

func (x8664) ISA() byte        { return 0x3E }
func (x8664) String() string   { return "x86-64" }
func (x8664) codeCeiling() int { return 0 }

const pltStubSize = 14 // 2-byte jmp opcode + 4-byte rip disp + 8-byte target

func (x8664) begin(a Arena, h blobHeader) (workspace, error) {
	pltLen := pltStubSize * h.relocCount
	if (h.codeLen+pltLen)%8 != 0 {
		// Align the end of the stub area so data starts 8-aligned.
		pltLen += 8 - (h.codeLen+pltLen)%8
	}
	total := h.codeLen + pltLen + h.dataLen
	place, err := a.Place(total)
	if err != nil {
		return nil, errors.New(errors.PhaseNative, errors.KindResource).
			Detail("allocate %d bytes for code+plt+data", total).
			Cause(err).Build()
	}
	return &x8664Space{
		place:   place,
		codeLen: h.codeLen,
		pltLen:  pltLen,
		dataLen: h.dataLen,
		pltOff:  h.codeLen,
	}, nil
}

type x8664Space struct {
	place   Placement
	codeLen int
	pltLen  int
	dataLen int
	pltOff  int // next free stub slot
}

func (w *x8664Space) codeSeg() []byte { return w.place.Buf[:w.codeLen] }
func (w *x8664Space) dataSeg() []byte { return w.place.Buf[w.codeLen+w.pltLen:] }
func (w *x8664Space) codeAddr() uint64 {
	return w.place.Addr
}
func (w *x8664Space) dataAddr() uint64 {
	return w.place.Addr + uint64(w.codeLen+w.pltLen)
}
func (w *x8664Space) placements() []Placement { return []Placement{w.place} }

func (w *x8664Space) apply(addr, combined uint64) error {
	kind := combined & 0b111
	off := int(combined >> 3)

	switch kind {
	case 0b001:
		return w.patchCall(addr, off)

	case 0b011: // absolute 64-bit into code
		if off < 0 || off+8 > w.codeLen {
			return errors.Relocation(errors.PhaseNative, "patch offset %#x outside code segment", off)
		}
		site := w.codeSeg()[off:]
		addend := int64(int32(stdbinary.LittleEndian.Uint32(site)))
		stdbinary.LittleEndian.PutUint64(site, addr+uint64(addend))
		return nil

	case 0b111: // absolute 64-bit into data
		if off < 0 || off+8 > w.dataLen {
			return errors.Relocation(errors.PhaseNative, "patch offset %#x outside data segment", off)
		}
		site := w.dataSeg()[off:]
		addend := int64(int32(stdbinary.LittleEndian.Uint32(site)))
		stdbinary.LittleEndian.PutUint64(site, addr+uint64(addend))
		return nil

	case 0b101:
		return errors.Relocation(errors.PhaseNative, "unknown relocation type %d", kind)
	}

	// Even kinds: 32-bit store of the target relative to the destination
	// segment. Bit 2 selects the data segment; the addend always sits at
	// the code-segment site.
	dest, destAddr, destLen := w.codeSeg(), w.codeAddr(), w.codeLen
	if kind&0b100 != 0 {
		dest, destAddr, destLen = w.dataSeg(), w.dataAddr(), w.dataLen
	}
	if off < 0 || off+4 > destLen || off+4 > w.codeLen {
		return errors.Relocation(errors.PhaseNative, "patch offset %#x outside segment", off)
	}
	addend := int64(int32(stdbinary.LittleEndian.Uint32(w.codeSeg()[off:])))
	rel := addr - (destAddr + uint64(off)) + uint64(addend)
	stdbinary.LittleEndian.PutUint32(dest[off:], uint32(rel))
	return nil
}

// patchCall handles the direct-call kind: encode the displacement if the
// target is reachable, otherwise synthesize a stub and branch there.
func (w *x8664Space) patchCall(addr uint64, off int) error {
	if off < 0 || off+4 > w.codeLen {
		return errors.Relocation(errors.PhaseNative, "patch offset %#x outside code segment", off)
	}
	site := w.codeSeg()[off:]
	addend := int64(int32(stdbinary.LittleEndian.Uint32(site)))

	// Displacement is relative to the end of the 4-byte immediate.
	rel := addr - (w.codeAddr() + uint64(off)) - 4 + uint64(addend)
	if high := rel >> 32; high != 0 && high != 0xffffffff {
		// Out of range: jump via a stub instead.
		if w.pltOff+pltStubSize > w.codeLen+w.pltLen {
			return errors.Relocation(errors.PhaseNative, "trampoline area exhausted at offset %#x", off)
		}
		stub := w.place.Buf[w.pltOff:]
		stub[0] = 0xff // jmp QWORD PTR [rip+0]
		stub[1] = 0x25
		stdbinary.LittleEndian.PutUint32(stub[2:], 0)
		stdbinary.LittleEndian.PutUint64(stub[6:], addr+uint64(addend))

		stubAddr := w.place.Addr + uint64(w.pltOff)
		w.pltOff += pltStubSize
		rel = stubAddr - (w.codeAddr() + uint64(off)) - 4
	}
	stdbinary.LittleEndian.PutUint32(site, uint32(rel))
	return nil
}

func (w *x8664Space) finish() (Region, Region, error) {
	code := Region{Staging: w.place.Addr, Final: w.place.Addr, Len: w.codeLen}
	data := Region{Staging: w.dataAddr(), Final: w.dataAddr(), Len: w.dataLen}
	return code, data, nil
}
