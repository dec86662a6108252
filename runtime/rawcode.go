package runtime

// CodeKind discriminates how a RawCode executes.
type CodeKind int

const (
	// KindBytecode runs on the interpreter's bytecode dispatch loop.
	KindBytecode CodeKind = iota
	// KindNative is directly callable machine code.
	KindNative
)

func (k CodeKind) String() string {
	switch k {
	case KindBytecode:
		return "bytecode"
	case KindNative:
		return "native"
	default:
		return "unknown"
	}
}

// RawCode is the reconstructed code object handed to the interpreter.
// For bytecode it owns the patched opcode buffer and the constant table
// (nested code objects transitively); for native it records the committed
// entry address. The interpreter's execution engine is an external
// collaborator and never re-enters the loader.
type RawCode struct {
	Kind CodeKind

	// Bytecode fields.
	Bytecode   []byte
	Consts     []Value
	NObj       int
	NRawCode   int
	ScopeFlags uint32

	// Native fields.
	EntryAddr  uint64
	EntryIndex uint32
}

// NewBytecode is the interpreter's code-object constructor for the
// bytecode path: assembled buffer, constant table, prelude flags.
func NewBytecode(bytecode []byte, consts []Value, nObj, nRawCode int, scopeFlags uint32) *RawCode {
	return &RawCode{
		Kind:       KindBytecode,
		Bytecode:   bytecode,
		Consts:     consts,
		NObj:       nObj,
		NRawCode:   nRawCode,
		ScopeFlags: scopeFlags,
	}
}

// NewNative is the constructor for the native path: the committed code
// address and the entry-point index within the code segment.
func NewNative(entryAddr uint64, entryIndex uint32) *RawCode {
	return &RawCode{
		Kind:       KindNative,
		EntryAddr:  entryAddr,
		EntryIndex: entryIndex,
	}
}
