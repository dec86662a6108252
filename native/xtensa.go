package native

import (
	stdbinary "encoding/binary"

	"go.uber.org/multierr"

	"github.com/vanminh0910/micropython/errors"
)

// Xtensa is the narrow, trampoline-free relocation profile for Harvard
// targets: code is staged in data memory, patched there and then
// committed to instruction memory. Relocations are computed against the
// committed address, probed before any byte is read, so a commit that
// lands anywhere else invalidates every patch and fails the load. The
// format assumes target and patch site share one small contiguous blob,
// so there is no out-of-range handling.
//
// commit may be nil, in which case staging and final addresses coincide.
func Xtensa(commit CommitFunc) Profile {
	return xtensa{commit: commit}
}

type xtensa struct {
	commit CommitFunc
}

func (xtensa) ISA() byte        { return 0x5E }
func (xtensa) String() string   { return "xtensa" }
func (xtensa) codeCeiling() int { return 0 }

func (p xtensa) begin(a Arena, h blobHeader) (workspace, error) {
	codePlace, err := a.Place(h.codeLen)
	if err != nil {
		return nil, errors.New(errors.PhaseNative, errors.KindResource).
			Detail("allocate %d bytes for code", h.codeLen).
			Cause(err).Build()
	}
	dataPlace, err := a.Place(h.dataLen)
	if err != nil {
		err = multierr.Append(err, a.Release(codePlace))
		return nil, errors.New(errors.PhaseNative, errors.KindResource).
			Detail("allocate %d bytes for data", h.dataLen).
			Cause(err).Build()
	}

	committed := codePlace.Addr
	if p.commit != nil {
		committed, err = p.commit(codePlace.Buf, false)
		if err != nil {
			err = multierr.Append(err, a.Release(codePlace))
			err = multierr.Append(err, a.Release(dataPlace))
			return nil, errors.New(errors.PhaseNative, errors.KindResource).
				Detail("probe commit address").
				Cause(err).Build()
		}
	}
	return &xtensaSpace{
		codePlace: codePlace,
		dataPlace: dataPlace,
		commit:    p.commit,
		committed: committed,
	}, nil
}

type xtensaSpace struct {
	codePlace Placement
	dataPlace Placement
	commit    CommitFunc
	committed uint64
}

func (w *xtensaSpace) codeSeg() []byte  { return w.codePlace.Buf }
func (w *xtensaSpace) dataSeg() []byte  { return w.dataPlace.Buf }
func (w *xtensaSpace) codeAddr() uint64 { return w.committed }
func (w *xtensaSpace) dataAddr() uint64 { return w.dataPlace.Addr }
func (w *xtensaSpace) placements() []Placement {
	return []Placement{w.codePlace, w.dataPlace}
}

func (w *xtensaSpace) apply(addr, combined uint64) error {
	// One kind bit: clear = code destination, set = data.
	off := int(combined >> 1)
	if off&0b11 != 0 {
		return errors.Relocation(errors.PhaseNative, "unaligned patch offset %#x", off)
	}

	dest := w.codeSeg()
	if combined&0b1 != 0 {
		dest = w.dataSeg()
	}
	if off < 0 || off+4 > len(dest) {
		return errors.Relocation(errors.PhaseNative, "patch offset %#x outside segment", off)
	}
	addend := stdbinary.LittleEndian.Uint32(dest[off:])
	stdbinary.LittleEndian.PutUint32(dest[off:], uint32(addr)+addend)
	return nil
}

func (w *xtensaSpace) finish() (Region, Region, error) {
	final := w.codePlace.Addr
	if w.commit != nil {
		var err error
		final, err = w.commit(w.codePlace.Buf, true)
		if err != nil {
			return Region{}, Region{}, errors.New(errors.PhaseNative, errors.KindResource).
				Detail("commit code").Cause(err).Build()
		}
	}
	if final != w.committed {
		return Region{}, Region{}, errors.CommitMismatch(errors.PhaseNative, w.committed, final)
	}
	code := Region{Staging: w.codePlace.Addr, Final: final, Len: len(w.codePlace.Buf)}
	data := Region{Staging: w.dataPlace.Addr, Final: w.dataPlace.Addr, Len: len(w.dataPlace.Buf)}
	return code, data, nil
}
