package micropython

import (
	"os"

	"github.com/vanminh0910/micropython/errors"
	"github.com/vanminh0910/micropython/internal/binary"
	"github.com/vanminh0910/micropython/mpy"
	"github.com/vanminh0910/micropython/native"
	"github.com/vanminh0910/micropython/runtime"
)

// Host bundles the capabilities a load consumes: the compiled feature
// configuration the header is gated against, the interned-string table,
// and, for native containers, the relocation profile and host function
// table.
type Host struct {
	Features     byte
	SmallIntBits int
	Interner     runtime.InternTable

	// Native-path capabilities. Profile may be nil on hosts compiled
	// without native-code support; such hosts reject native containers.
	Profile native.Profile
	Funs    *runtime.FunTable
	Arena   native.Arena
}

func (h Host) info() mpy.HostInfo {
	info := mpy.HostInfo{Features: h.Features, SmallIntBits: h.SmallIntBits}
	if h.Profile != nil {
		info.ISA = h.Profile.ISA()
	}
	return info
}

// Result is one loaded container: the raw code object for the
// interpreter plus, for native containers, the callable that owns the
// placed memory.
type Result struct {
	Raw    *runtime.RawCode
	Native *native.Callable // nil for bytecode containers
}

// Close releases any native memory the load placed.
func (r *Result) Close() error {
	if r.Native == nil {
		return nil
	}
	return r.Native.Close()
}

// Load reads one container from the reader: it gates the header against
// the host and dispatches the body to the bytecode or native loader.
func Load(r *binary.Reader, host Host) (*Result, error) {
	hdr, err := mpy.ReadHeader(r)
	if err != nil {
		return nil, err
	}
	if hdr.IsNative() && host.Profile == nil {
		return nil, errors.Unsupported(errors.PhaseNative, "host has no native-code support")
	}
	if err := hdr.Validate(host.info()); err != nil {
		return nil, err
	}

	if hdr.IsNative() {
		loader := native.New(host.Profile, host.Funs, native.Options{Arena: host.Arena})
		c, err := loader.Load(r)
		if err != nil {
			return nil, err
		}
		return &Result{Raw: c.Raw, Native: c}, nil
	}

	rc, err := mpy.LoadBytecode(r, host.Interner)
	if err != nil {
		return nil, err
	}
	return &Result{Raw: rc}, nil
}

// LoadBytes loads a container from an in-memory buffer.
func LoadBytes(data []byte, host Host) (*Result, error) {
	return Load(binary.NewBytesReader(data), host)
}

// LoadFile loads a container from a file.
func LoadFile(path string, host Host) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.PhaseHeader, errors.KindResource).
			Detail("read %s", path).Cause(err).Build()
	}
	return LoadBytes(data, host)
}

// SaveFile writes a bytecode code object to a container file.
func SaveFile(path string, rc *runtime.RawCode, host Host, sd runtime.StringData) error {
	data, err := mpy.SaveBytecode(rc, host.info(), sd)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.New(errors.PhaseSave, errors.KindResource).
			Detail("write %s", path).Cause(err).Build()
	}
	return nil
}
