// Package mpy implements the persisted bytecode container codec.
//
// A container is a 4-byte header followed by one code object: a
// length-prefixed opcode stream whose prelude describes the object's
// state, arguments and code-info block; the interned-string references
// to substitute into the stream; and a constant pool of argument names,
// object literals and nested code objects (recursively, in the same
// format).
//
// Varints are base-128 with the most-significant group first, the high
// bit of each byte flagging continuation. Interned-string operands are
// transmitted as length-prefixed text and rewritten in the loaded buffer
// as 2-byte little-endian global ids.
//
// The header is an exact gate: version, feature flags and small-int
// width must match the host or loading fails with a FormatError before
// any body byte is interpreted. Native containers share the header shape
// and are handled by the native package.
package mpy
