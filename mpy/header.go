package mpy

import (
	"github.com/vanminh0910/micropython/errors"
	"github.com/vanminh0910/micropython/internal/binary"
)

// Header is the fixed 4-byte container header.
type Header struct {
	Magic   byte
	Version byte
	Flags   byte
	Arg     byte // small-int width for bytecode, ISA id for native
}

// HostInfo describes the host's compiled configuration, which a container
// must match exactly to be loadable.
type HostInfo struct {
	Features     byte
	SmallIntBits int
	ISA          byte
}

// HostFeatures composes the header feature-flags byte from the host's
// compiled bytecode options.
func HostFeatures(cacheMapLookup, unicode bool) byte {
	var f byte
	if cacheMapLookup {
		f |= FeatureCacheMapLookup
	}
	if unicode {
		f |= FeatureUnicode
	}
	return f
}

// SmallIntBits computes the number of bits in the host's boxed small
// integer from its maximum value, counting the sign bit.
func SmallIntBits(smallIntMax int64) int {
	n := 1
	for i := smallIntMax; i != 0; i >>= 1 {
		n++
	}
	return n
}

// ReadHeader reads the 4-byte header without validating it.
func ReadHeader(r *binary.Reader) (Header, error) {
	buf, err := r.ReadBytes(4)
	if err != nil {
		return Header{}, errors.Truncated(errors.PhaseHeader, "container header", err)
	}
	return Header{Magic: buf[0], Version: buf[1], Flags: buf[2], Arg: buf[3]}, nil
}

// IsNative reports whether the header marks a native-code container.
func (h Header) IsNative() bool {
	return h.Flags == NativeFlag
}

// MatchesBytecode reports whether the header is a loadable bytecode
// container for the given host.
func (h Header) MatchesBytecode(host HostInfo) bool {
	return h.Magic == Magic &&
		h.Version == Version &&
		h.Flags == host.Features &&
		int(h.Arg) <= host.SmallIntBits
}

// MatchesNative reports whether the header is a loadable native container
// for the given host.
func (h Header) MatchesNative(host HostInfo) bool {
	return h.Magic == Magic &&
		h.Version == Version &&
		h.Flags == NativeFlag &&
		h.Arg == host.ISA
}

// Validate gates the header against the host. Any mismatch is a fatal
// FormatError and the remaining bytes must not be interpreted.
func (h Header) Validate(host HostInfo) error {
	if h.MatchesBytecode(host) || h.MatchesNative(host) {
		return nil
	}
	return errors.Format(errors.PhaseHeader,
		"incompatible container: header %02x %02x %02x %02x", h.Magic, h.Version, h.Flags, h.Arg)
}

// WriteHeader writes a bytecode container header for the given host.
func WriteHeader(w *binary.Writer, host HostInfo) {
	w.Byte(Magic)
	w.Byte(Version)
	w.Byte(host.Features)
	w.Byte(byte(host.SmallIntBits))
}
