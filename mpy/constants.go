package mpy

// Container header layout: 4 fixed bytes before the body.
//
//	byte 0  magic 'M'
//	byte 1  format version
//	byte 2  feature flags (or NativeFlag for native containers)
//	byte 3  small-int width (bytecode) or instruction-set id (native)
const (
	// Magic is the first byte of every persisted container.
	Magic byte = 'M'

	// Version is the supported container format version. There is no
	// cross-version shimming: an exact match is required.
	Version byte = 2

	// NativeFlag marks a container as precompiled native code. The high
	// bit keeps it disjoint from any combination of bytecode feature
	// flags.
	NativeFlag byte = 0x80
)

// Feature flag bits encode the compile-time bytecode options that change
// the generated opcode stream. A container is only loadable when these
// exactly match the host's compiled configuration.
const (
	FeatureCacheMapLookup byte = 1 << 0
	FeatureUnicode        byte = 1 << 1
)

// Instruction-set ids, taken from the ELF machine id space so native
// containers and object files agree on the value.
const (
	ISAX8664  byte = 0x3E // 64-bit Intel
	ISAARM    byte = 0x28 // ARM (A32, non-Thumb)
	ISAXtensa byte = 0x5E // Tensilica Xtensa, e.g. ESP8266
)

// Object literal tags in the constant pool. Each is followed by a
// length-prefixed textual payload except TagEllipsis.
const (
	TagString   byte = 's'
	TagBytes    byte = 'b'
	TagInt      byte = 'i'
	TagFloat    byte = 'f'
	TagComplex  byte = 'c'
	TagEllipsis byte = 'e'
)

// codeInfoTerminator ends the variable-length cell list that follows the
// code-info block in the prelude.
const codeInfoTerminator byte = 0xFF
