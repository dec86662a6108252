package runtime

// FunTable is the fixed table of host entry points a loaded blob may
// reference. Native containers index it by small integer (the relocation
// target selector); object-file modules look entries up by symbol name.
// The table is built once at startup and never changes while loads are in
// flight.
type FunTable struct {
	addrs []uint64
	names map[string]uint64
}

// NewFunTable creates an empty host function table.
func NewFunTable() *FunTable {
	return &FunTable{names: make(map[string]uint64)}
}

// Register appends an entry and returns its selector index. Registering
// the same name twice keeps the first address; the host surface is fixed,
// so a duplicate is a programming error surfaced by the stable mapping.
func (t *FunTable) Register(name string, addr uint64) int {
	if _, ok := t.names[name]; !ok {
		t.names[name] = addr
	}
	t.addrs = append(t.addrs, addr)
	return len(t.addrs) - 1
}

// Addr resolves a selector index to a host address.
func (t *FunTable) Addr(selector int) (uint64, bool) {
	if selector < 0 || selector >= len(t.addrs) {
		return 0, false
	}
	return t.addrs[selector], true
}

// Lookup resolves a whitelisted symbol name to a host address.
func (t *FunTable) Lookup(name string) (uint64, bool) {
	addr, ok := t.names[name]
	return addr, ok
}

// Len returns the number of selector-indexed entries.
func (t *FunTable) Len() int {
	return len(t.addrs)
}
