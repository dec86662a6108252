package binary

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrOverflow is returned when a varint value exceeds the maximum size.
var ErrOverflow = errors.New("varint: overflow")

// ErrLength is returned when a length prefix exceeds MaxLenBytes.
var ErrLength = errors.New("length prefix too large")

// MaxLenBytes bounds length-prefixed fields. No real container carries a
// field this large, and without the bound a corrupt length drives the
// allocation below (or overflows int on conversion).
const MaxLenBytes = 1 << 30

// Reader wraps a byte source with position tracking and the read methods
// the container format needs. It is the loader's only view of the input:
// sequential reads, an optional seek, and a close.
type Reader struct {
	r   io.ByteReader
	pos int
}

// NewReader creates a new Reader wrapping the given io.ByteReader.
func NewReader(r io.ByteReader) *Reader {
	return &Reader{r: r, pos: 0}
}

// NewBytesReader creates a Reader over an in-memory buffer.
func NewBytesReader(data []byte) *Reader {
	return NewReader(bytes.NewReader(data))
}

// Position returns the current byte position.
func (r *Reader) Position() int {
	return r.pos
}

// Seek moves to the given absolute position. Only supported when the
// underlying source is a bytes.Reader or an io.Seeker.
func (r *Reader) Seek(pos int) error {
	if s, ok := r.r.(io.Seeker); ok {
		if _, err := s.Seek(int64(pos), io.SeekStart); err != nil {
			return err
		}
		r.pos = pos
		return nil
	}
	return errors.New("seek not supported on this reader type")
}

// Close releases the underlying source if it is closable.
func (r *Reader) Close() error {
	if c, ok := r.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// ReadByte reads a single byte and advances the position.
func (r *Reader) ReadByte() (byte, error) {
	b, err := r.r.ReadByte()
	if err != nil {
		return 0, err
	}
	r.pos++
	return b, nil
}

// ReadBytes reads exactly n bytes. The buffer grows as bytes arrive, so
// a corrupt length prefix cannot force a huge allocation up front.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, r.wrapError(ErrLength)
	}
	capHint := n
	if capHint > 64*1024 {
		capHint = 64 * 1024
	}
	buf := make([]byte, 0, capHint)
	for i := 0; i < n; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		buf = append(buf, b)
	}
	return buf, nil
}

// ReadFull fills buf from the source.
func (r *Reader) ReadFull(buf []byte) error {
	for i := range buf {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		buf[i] = b
	}
	return nil
}

// ReadUint reads an unsigned varint: base-128, most-significant group
// first, the high bit of each byte flagging continuation. This is the
// byte order the container format uses; it is NOT the little-endian
// LEB128 of formats like wasm or DWARF.
func (r *Reader) ReadUint() (uint64, error) {
	var result uint64
	var groups int
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		result = result<<7 | uint64(b&0x7f)
		if b&0x80 == 0 {
			return result, nil
		}
		groups++
		if groups >= 10 {
			return 0, r.wrapError(ErrOverflow)
		}
	}
}

// ReadLenBytes reads a varint length followed by that many raw bytes.
func (r *Reader) ReadLenBytes() ([]byte, error) {
	n, err := r.ReadUint()
	if err != nil {
		return nil, err
	}
	if n > MaxLenBytes {
		return nil, r.wrapError(ErrLength)
	}
	return r.ReadBytes(int(n))
}

// ReadU16LE reads a little-endian uint16 (fixed 2 bytes).
func (r *Reader) ReadU16LE() (uint16, error) {
	buf, err := r.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf), nil
}

// ReadU32LE reads a little-endian uint32 (fixed 4 bytes).
func (r *Reader) ReadU32LE() (uint32, error) {
	buf, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

func (r *Reader) wrapError(err error) error {
	return fmt.Errorf("at position %d: %w", r.pos, err)
}
