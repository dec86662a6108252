package native

import (
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/vanminh0910/micropython/errors"
	"github.com/vanminh0910/micropython/internal/binary"
	"github.com/vanminh0910/micropython/runtime"
)

// Options configures loader behavior.
type Options struct {
	// Arena supplies executable and data memory. Defaults to a simulated
	// arena, which is enough for inspection tooling; hosts that actually
	// run the code plug in real mappings.
	Arena Arena
}

// DefaultOptions returns default loader configuration.
func DefaultOptions() Options {
	return Options{
		Arena: NewSimArena(0x10000000),
	}
}

// Loader turns native containers into callable code for one relocation
// profile. A loader handles one load at a time; concurrent loads need
// separate loaders or external serialization.
type Loader struct {
	profile Profile
	funs    *runtime.FunTable
	options Options
}

// New creates a Loader for the given profile and host function table.
func New(profile Profile, funs *runtime.FunTable, opts Options) *Loader {
	if opts.Arena == nil {
		opts.Arena = DefaultOptions().Arena
	}
	return &Loader{profile: profile, funs: funs, options: opts}
}

// NewWithDefaults creates a Loader with default options.
func NewWithDefaults(profile Profile, funs *runtime.FunTable) *Loader {
	return New(profile, funs, DefaultOptions())
}

// Profile returns the relocation profile.
func (l *Loader) Profile() Profile {
	return l.profile
}

// Load reads one native blob body (the header must already have been
// read and validated against the profile's ISA), places its segments,
// applies every relocation and returns the resulting callable. Loading
// is all-or-nothing: on any error every placement made for this load is
// released before the error returns.
func (l *Loader) Load(r *binary.Reader) (c *Callable, err error) {
	h, err := readBlobHeader(r)
	if err != nil {
		return nil, err
	}
	if ceiling := l.profile.codeCeiling(); ceiling > 0 && h.codeLen >= ceiling {
		return nil, errors.CodeTooBig(errors.PhaseNative, h.codeLen, ceiling)
	}

	Logger().Debug("native blob",
		zap.String("profile", l.profile.String()),
		zap.Int("code", h.codeLen),
		zap.Int("data", h.dataLen),
		zap.Int("relocs", h.relocCount),
		zap.Uint32("entry", h.entryIndex))

	ws, err := l.profile.begin(l.options.Arena, h)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, releaseAll(l.options.Arena, ws.placements()))
		}
	}()

	if err = r.ReadFull(ws.codeSeg()); err != nil {
		return nil, errors.Truncated(errors.PhaseNative, "code segment", err)
	}
	if err = r.ReadFull(ws.dataSeg()); err != nil {
		return nil, errors.Truncated(errors.PhaseNative, "data segment", err)
	}

	for i := 0; i < h.relocCount; i++ {
		var target, combined uint64
		if target, err = r.ReadUint(); err != nil {
			return nil, errors.Truncated(errors.PhaseNative, "relocation target", err)
		}
		if combined, err = r.ReadUint(); err != nil {
			return nil, errors.Truncated(errors.PhaseNative, "relocation offset", err)
		}
		var addr uint64
		if addr, err = l.resolve(target, ws); err != nil {
			return nil, err
		}
		if err = ws.apply(addr, combined); err != nil {
			return nil, err
		}
	}

	code, data, err := ws.finish()
	if err != nil {
		return nil, err
	}

	entry := code.Final + uint64(h.entryIndex)
	return &Callable{
		Raw:    runtime.NewNative(entry, h.entryIndex),
		Code:   code,
		Data:   data,
		arena:  l.options.Arena,
		places: ws.placements(),
	}, nil
}

// resolve maps a relocation target selector to an address: the two
// self-relocation sentinels give the blob's own segment addresses, and
// everything else indexes the host function table.
func (l *Loader) resolve(target uint64, ws workspace) (uint64, error) {
	switch target {
	case SelectorDataBase:
		return ws.dataAddr(), nil
	case SelectorCodeBase:
		return ws.codeAddr(), nil
	}
	addr, ok := l.funs.Addr(int(target))
	if !ok {
		return 0, errors.UnknownSelector(errors.PhaseNative, int(target), l.funs.Len())
	}
	return addr, nil
}

// maxBlobField bounds the blob header's declared lengths and counts. No
// real blob comes near it; beyond it the int conversion below would wrap
// or the arena would be asked for a pathological allocation.
const maxBlobField = 1 << 30

func readBlobHeader(r *binary.Reader) (blobHeader, error) {
	var h blobHeader
	fields := []struct {
		dst  *int
		name string
	}{
		{&h.codeLen, "code length"},
		{&h.dataLen, "data length"},
		{&h.relocCount, "relocation count"},
	}
	for _, f := range fields {
		v, err := r.ReadUint()
		if err != nil {
			return h, errors.Truncated(errors.PhaseNative, f.name, err)
		}
		if v > maxBlobField {
			return h, errors.Format(errors.PhaseNative, "%s %d too large", f.name, v)
		}
		*f.dst = int(v)
	}
	entry, err := r.ReadUint()
	if err != nil {
		return h, errors.Truncated(errors.PhaseNative, "entry offset", err)
	}
	if entry >= uint64(h.codeLen) {
		return h, errors.Format(errors.PhaseNative, "entry offset %#x outside code segment (%d bytes)", entry, h.codeLen)
	}
	h.entryIndex = uint32(entry)
	return h, nil
}

func releaseAll(a Arena, places []Placement) error {
	var err error
	for _, p := range places {
		err = multierr.Append(err, a.Release(p))
	}
	return err
}
