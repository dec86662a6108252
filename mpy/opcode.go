package mpy

// Opcode values for the bytecode the container carries. The loader never
// executes these; it only needs each instruction's operand format so the
// one-pass qstr scan can advance by statically known lengths.
const (
	OpLoadConstFalse    byte = 0x10
	OpLoadConstNone     byte = 0x11
	OpLoadConstTrue     byte = 0x12
	OpLoadConstSmallInt byte = 0x14
	OpLoadConstString   byte = 0x16
	OpLoadConstObj      byte = 0x17
	OpLoadNull          byte = 0x18

	OpLoadFastN      byte = 0x19
	OpLoadDeref      byte = 0x1A
	OpLoadName       byte = 0x1B
	OpLoadGlobal     byte = 0x1C
	OpLoadAttr       byte = 0x1D
	OpLoadMethod     byte = 0x1E
	OpLoadBuildClass byte = 0x1F
	OpLoadSubscr     byte = 0x20

	OpStoreFastN  byte = 0x21
	OpStoreDeref  byte = 0x22
	OpStoreName   byte = 0x23
	OpStoreGlobal byte = 0x24
	OpStoreAttr   byte = 0x25
	OpStoreSubscr byte = 0x26

	OpDeleteFast   byte = 0x27
	OpDeleteDeref  byte = 0x28
	OpDeleteName   byte = 0x29
	OpDeleteGlobal byte = 0x2A

	OpDupTop    byte = 0x30
	OpDupTopTwo byte = 0x31
	OpPopTop    byte = 0x32
	OpRotTwo    byte = 0x33
	OpRotThree  byte = 0x34

	OpJump              byte = 0x35
	OpPopJumpIfTrue     byte = 0x36
	OpPopJumpIfFalse    byte = 0x37
	OpJumpIfTrueOrPop   byte = 0x38
	OpJumpIfFalseOrPop  byte = 0x39
	OpSetupWith         byte = 0x3D
	OpWithCleanup       byte = 0x3E
	OpSetupExcept       byte = 0x3F
	OpSetupFinally      byte = 0x40
	OpEndFinally        byte = 0x41
	OpGetIter           byte = 0x42
	OpForIter           byte = 0x43
	OpPopBlock          byte = 0x44
	OpPopExcept         byte = 0x45
	OpUnwindJump        byte = 0x46
	OpBuildTuple        byte = 0x50
	OpBuildList         byte = 0x51
	OpBuildMap          byte = 0x53
	OpStoreMap          byte = 0x54
	OpBuildSet          byte = 0x56
	OpBuildSlice        byte = 0x58
	OpUnpackSequence    byte = 0x59
	OpUnpackEx          byte = 0x5A
	OpReturnValue       byte = 0x5B
	OpRaiseVarargs      byte = 0x5C
	OpYieldValue        byte = 0x5D
	OpYieldFrom         byte = 0x5E
	OpMakeFunction      byte = 0x60
	OpMakeFunctionDef   byte = 0x61
	OpMakeClosure       byte = 0x62
	OpMakeClosureDef    byte = 0x63
	OpCallFunction      byte = 0x64
	OpCallFunctionVarKw byte = 0x65
	OpCallMethod        byte = 0x66
	OpCallMethodVarKw   byte = 0x67
	OpImportName        byte = 0x68
	OpImportFrom        byte = 0x69
	OpImportStar        byte = 0x6A

	// Multi opcodes encode their operand in the opcode byte itself.
	OpLoadConstSmallIntMulti byte = 0x70 // + value (64 opcodes)
	OpLoadFastMulti          byte = 0xB0 // + slot (16 opcodes)
	OpStoreFastMulti         byte = 0xC0 // + slot (16 opcodes)
	OpUnaryOpMulti           byte = 0xD0 // + op (7 opcodes)
	OpBinaryOpMulti          byte = 0xD7 // + op (36 opcodes)
)

// Format describes an instruction's operand encoding.
type Format int

const (
	// FormatByte has no explicit operand (any operand is packed in the
	// opcode byte itself).
	FormatByte Format = iota
	// FormatQStr has a 2-byte interned-string operand, patched at load
	// time with the host's global id.
	FormatQStr
	// FormatVarUint has a varint operand.
	FormatVarUint
	// FormatOffset has a 2-byte jump offset operand.
	FormatOffset
)

// formatTable maps every opcode to its operand format. Built once at
// package init; opcodes not listed are FormatByte.
var formatTable [256]Format

// extraByteTable marks the opcodes that carry one extra operand byte on
// top of their format (closure slot counts, raise argument counts,
// unwind depths).
var extraByteTable [256]bool

func init() {
	for _, op := range []byte{
		OpLoadConstString, OpLoadName, OpLoadGlobal, OpLoadAttr,
		OpLoadMethod, OpStoreName, OpStoreGlobal, OpStoreAttr,
		OpDeleteName, OpDeleteGlobal, OpImportName, OpImportFrom,
	} {
		formatTable[op] = FormatQStr
	}
	for _, op := range []byte{
		OpLoadConstSmallInt, OpLoadConstObj, OpLoadFastN, OpLoadDeref,
		OpStoreFastN, OpStoreDeref, OpDeleteFast, OpDeleteDeref,
		OpBuildTuple, OpBuildList, OpBuildMap, OpBuildSet, OpBuildSlice,
		OpUnpackSequence, OpUnpackEx, OpMakeFunction, OpMakeFunctionDef,
		OpMakeClosure, OpMakeClosureDef, OpCallFunction,
		OpCallFunctionVarKw, OpCallMethod, OpCallMethodVarKw,
	} {
		formatTable[op] = FormatVarUint
	}
	for _, op := range []byte{
		OpJump, OpPopJumpIfTrue, OpPopJumpIfFalse, OpJumpIfTrueOrPop,
		OpJumpIfFalseOrPop, OpSetupWith, OpSetupExcept, OpSetupFinally,
		OpForIter, OpUnwindJump,
	} {
		formatTable[op] = FormatOffset
	}
	for _, op := range []byte{
		OpRaiseVarargs, OpMakeClosure, OpMakeClosureDef, OpUnwindJump,
	} {
		extraByteTable[op] = true
	}
}

// OpcodeFormat returns the operand format of the instruction starting at
// ip[0] and its total encoded length. The length is statically known for
// every format except FormatVarUint, whose operand is self-terminating;
// a varint running past the buffer reports sz > len(ip) so the caller's
// bounds check fails.
func OpcodeFormat(ip []byte) (Format, int) {
	op := ip[0]
	f := formatTable[op]
	sz := 1
	switch f {
	case FormatQStr, FormatOffset:
		sz = 3
	case FormatVarUint:
		for sz < len(ip) && ip[sz]&0x80 != 0 {
			sz++
		}
		sz++ // terminating group
	}
	if extraByteTable[op] {
		sz++
	}
	return f, sz
}
