package native

// Relocation target selectors. Values below the sentinels index the host
// function table directly.
const (
	// SelectorDataBase resolves to the blob's own data segment address.
	SelectorDataBase = 126
	// SelectorCodeBase resolves to the blob's committed code address.
	SelectorCodeBase = 127
)

// Profile is the relocation profile for one instruction set. It is chosen
// once when the loader is constructed; everything downstream dispatches
// through it, never on raw ISA bytes. The union is closed: X8664, ARM and
// Xtensa are the only profiles.
type Profile interface {
	// ISA returns the instruction-set id a native container header must
	// carry for this profile.
	ISA() byte
	String() string

	// codeCeiling is the maximum accepted code-segment length, 0 for no
	// limit. Guards against corrupt length fields.
	codeCeiling() int

	// begin allocates the buffers for one load.
	begin(a Arena, h blobHeader) (workspace, error)
}

// blobHeader holds the native container's body header fields.
type blobHeader struct {
	codeLen    int
	dataLen    int
	relocCount int
	entryIndex uint32
}

// workspace is one in-flight load: its buffers, their addresses and the
// profile's patch state (trampoline cursors, committed address).
type workspace interface {
	codeSeg() []byte
	dataSeg() []byte

	// codeAddr is what the code-base selector resolves to. On Harvard
	// profiles it is the committed address, not the staging buffer.
	codeAddr() uint64
	dataAddr() uint64

	// apply patches one relocation. addr is the resolved target;
	// combined packs the profile's kind bits below the byte offset.
	apply(addr, combined uint64) error

	// finish runs the commit step, if any, and returns the final code
	// and data regions.
	finish() (code, data Region, err error)

	placements() []Placement
}
