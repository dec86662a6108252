package binary

import (
	"bytes"
	"encoding/binary"
	"io"
)

// Writer provides buffered writing utilities for container encoding.
type Writer struct {
	buf *bytes.Buffer
}

// NewWriter creates a new Writer.
func NewWriter() *Writer {
	return &Writer{buf: &bytes.Buffer{}}
}

// Bytes returns the written bytes.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

// Len returns the number of bytes written.
func (w *Writer) Len() int {
	return w.buf.Len()
}

// Byte writes a single byte.
func (w *Writer) Byte(b byte) {
	w.buf.WriteByte(b)
}

// WriteBytes writes a byte slice.
func (w *Writer) WriteBytes(data []byte) {
	w.buf.Write(data)
}

// WriteUint writes an unsigned varint, most-significant 7-bit group
// first, mirroring Reader.ReadUint.
func (w *Writer) WriteUint(v uint64) {
	var enc [10]byte
	i := len(enc)
	i--
	enc[i] = byte(v & 0x7f)
	v >>= 7
	for ; v != 0; v >>= 7 {
		i--
		enc[i] = 0x80 | byte(v&0x7f)
	}
	w.buf.Write(enc[i:])
}

// WriteLenBytes writes a varint length followed by the raw bytes.
func (w *Writer) WriteLenBytes(data []byte) {
	w.WriteUint(uint64(len(data)))
	w.buf.Write(data)
}

// WriteU16LE writes a little-endian uint16 (fixed 2 bytes).
func (w *Writer) WriteU16LE(v uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	w.buf.Write(buf[:])
}

// WriteU32LE writes a little-endian uint32 (fixed 4 bytes).
func (w *Writer) WriteU32LE(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	w.buf.Write(buf[:])
}

// WriteTo flushes the buffered bytes to the given writer.
func (w *Writer) WriteTo(out io.Writer) (int64, error) {
	return w.buf.WriteTo(out)
}
