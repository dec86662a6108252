package native

import (
	"fmt"
	"sync"
)

// Region describes one memory range a load produced: the staging address
// where bytes were written during relocation and the final address the
// instruction unit fetches from. On von Neumann targets the two are
// equal; on Harvard targets they differ and Translate maps between them.
type Region struct {
	Staging uint64
	Final   uint64
	Len     int
}

// Translate maps a staging-range address to the final range.
func (r Region) Translate(addr uint64) uint64 {
	return r.Final + (addr - r.Staging)
}

// Contains reports whether addr falls inside the staging range.
func (r Region) Contains(addr uint64) bool {
	return addr >= r.Staging && addr < r.Staging+uint64(r.Len)
}

// Placement is one allocated buffer together with the address it was
// placed at in the target address space.
type Placement struct {
	Buf  []byte
	Addr uint64
}

// Arena allocates executable/data memory for a load. Relocation
// arithmetic runs entirely on the addresses an Arena reports, so hosts
// plug in real mappings while tests use a simulated address space.
type Arena interface {
	// Place allocates size bytes and assigns them an address.
	Place(size int) (Placement, error)
	// Release returns a placement's memory. Safe to call on the failure
	// path for every placement made so far.
	Release(p Placement) error
}

// CommitFunc copies staged code into execution memory. A probe call
// (commit false) returns the address the code will end up at without
// moving anything; the commit call performs the copy and returns the
// address it actually landed at.
type CommitFunc func(code []byte, commit bool) (uint64, error)

// SimArena is an Arena over ordinary slices with a simulated address
// space. Placements get consecutive 16-aligned addresses from a
// configurable base, so tests can force targets in or out of an
// instruction's addressing range.
type SimArena struct {
	mu   sync.Mutex
	next uint64
	live map[uint64]int
}

// NewSimArena creates a simulated arena handing out addresses from base.
func NewSimArena(base uint64) *SimArena {
	return &SimArena{next: base, live: make(map[uint64]int)}
}

// Place implements Arena.
func (a *SimArena) Place(size int) (Placement, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	addr := (a.next + 15) &^ 15
	a.next = addr + uint64(size)
	a.live[addr] = size
	return Placement{Buf: make([]byte, size), Addr: addr}, nil
}

// Release implements Arena.
func (a *SimArena) Release(p Placement) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.live[p.Addr]; !ok {
		return fmt.Errorf("release of unknown placement %#x", p.Addr)
	}
	delete(a.live, p.Addr)
	return nil
}

// Live returns the number of outstanding placements.
func (a *SimArena) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}
