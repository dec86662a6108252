package native

import (
	stdbinary "encoding/binary"

	"go.uber.org/multierr"

	"github.com/vanminh0910/micropython/errors"
)

// ARM is the branch-plus-veneer relocation profile for A32. The 26-bit
// branch encoding cannot reach an arbitrary host address, so every
// branch relocation is redirected through a two-word veneer (an absolute
// load into pc followed by the target word) appended after the code.
// Non-branch relocations patch a 32-bit word in place, with the addend
// already encoded at the patch site.
func ARM() Profile {
	return arm{}
}

type arm struct{}

func (arm) ISA() byte      { return 0x28 }
func (arm) String() string { return "arm" }

// armCodeCeiling rejects code segments of 31M and up; a length that
// large means the field is corrupt.
const armCodeCeiling = 0x1F00000

func (arm) codeCeiling() int { return armCodeCeiling }

const veneerSize = 8 // LDR pc, [pc, #-4] + absolute target word

func (arm) begin(a Arena, h blobHeader) (workspace, error) {
	veneerLen := veneerSize * h.relocCount
	codePlace, err := a.Place(h.codeLen + veneerLen)
	if err != nil {
		return nil, errors.New(errors.PhaseNative, errors.KindResource).
			Detail("allocate %d bytes for code+veneer", h.codeLen+veneerLen).
			Cause(err).Build()
	}
	dataPlace, err := a.Place(h.dataLen)
	if err != nil {
		err = multierr.Append(err, a.Release(codePlace))
		return nil, errors.New(errors.PhaseNative, errors.KindResource).
			Detail("allocate %d bytes for data", h.dataLen).
			Cause(err).Build()
	}
	return &armSpace{
		codePlace: codePlace,
		dataPlace: dataPlace,
		codeLen:   h.codeLen,
		veneerOff: h.codeLen,
	}, nil
}

type armSpace struct {
	codePlace Placement
	dataPlace Placement
	codeLen   int
	veneerOff int // next free veneer slot
}

func (w *armSpace) codeSeg() []byte        { return w.codePlace.Buf[:w.codeLen] }
func (w *armSpace) dataSeg() []byte        { return w.dataPlace.Buf }
func (w *armSpace) codeAddr() uint64       { return w.codePlace.Addr }
func (w *armSpace) dataAddr() uint64       { return w.dataPlace.Addr }
func (w *armSpace) placements() []Placement {
	return []Placement{w.codePlace, w.dataPlace}
}

func (w *armSpace) apply(addr, combined uint64) error {
	kind := combined & 0b111
	off := int(combined >> 3)
	if off&0b11 != 0 {
		return errors.Relocation(errors.PhaseNative, "unaligned patch offset %#x", off)
	}

	if kind == 0b001 {
		// Branch via a veneer. The pc reads 8 bytes ahead of the branch,
		// and the immediate stores the displacement in words.
		if off < 0 || off+4 > w.codeLen {
			return errors.Relocation(errors.PhaseNative, "patch offset %#x outside code segment", off)
		}
		if w.veneerOff+veneerSize > len(w.codePlace.Buf) {
			return errors.Relocation(errors.PhaseNative, "veneer area exhausted at offset %#x", off)
		}
		veneerAddr := w.codePlace.Addr + uint64(w.veneerOff)
		buf := w.codePlace.Buf
		stdbinary.LittleEndian.PutUint32(buf[w.veneerOff:], 0xE51FF004) // LDR pc, [pc, #-4]
		stdbinary.LittleEndian.PutUint32(buf[w.veneerOff+4:], uint32(addr))
		w.veneerOff += veneerSize

		rel := uint32(veneerAddr - (w.codeAddr() + uint64(off)) - 8)
		buf[off+0] = byte(rel >> 2)
		buf[off+1] = byte(rel >> 10)
		buf[off+2] = byte(rel >> 18)
		return nil
	}

	// 32-bit store. Bit 1 selects the data segment, bit 2 makes the
	// value relative to the patch site; the addend sits at the site.
	dest, destAddr := w.codeSeg(), w.codeAddr()
	if kind&0b010 != 0 {
		dest, destAddr = w.dataSeg(), w.dataAddr()
	}
	if off < 0 || off+4 > len(dest) {
		return errors.Relocation(errors.PhaseNative, "patch offset %#x outside segment", off)
	}
	if kind&0b100 != 0 {
		addr -= destAddr + uint64(off)
	}
	addend := stdbinary.LittleEndian.Uint32(dest[off:])
	stdbinary.LittleEndian.PutUint32(dest[off:], uint32(addr)+addend)
	return nil
}

func (w *armSpace) finish() (Region, Region, error) {
	code := Region{Staging: w.codePlace.Addr, Final: w.codePlace.Addr, Len: w.codeLen}
	data := Region{Staging: w.dataPlace.Addr, Final: w.dataPlace.Addr, Len: len(w.dataPlace.Buf)}
	return code, data, nil
}
