package runtime

import (
	"fmt"
	"sync"
)

// QStr is a stable 16-bit id in the global interned-string table. The
// bytecode stream stores qstr operands as two little-endian bytes, which
// is where the width comes from.
type QStr uint16

// InternTable is the capability loaders use to intern strings read from a
// container. The interning mechanism itself (allocation, hashing) belongs
// to the host runtime; loaders only consume it.
type InternTable interface {
	// Intern returns the stable id for the given bytes, adding them to
	// the table if not present.
	Intern(b []byte) (QStr, error)
}

// StringData is the reverse mapping, needed by the container writer and
// by tooling that renders loaded code.
type StringData interface {
	// Data returns the bytes for an interned id.
	Data(q QStr) ([]byte, bool)
}

// Table is a map-backed interned-string table implementing both
// directions. The embedded runtime uses a flash-resident pool instead;
// this one serves the offline tool and tests.
type Table struct {
	mu   sync.Mutex
	ids  map[string]QStr
	strs []string
}

// NewTable creates an empty intern table. Id 0 is reserved for the empty
// string, matching the host convention that a zeroed qstr slot is valid.
func NewTable() *Table {
	t := &Table{ids: make(map[string]QStr)}
	t.strs = append(t.strs, "")
	t.ids[""] = 0
	return t
}

// Intern implements InternTable.
func (t *Table) Intern(b []byte) (QStr, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := string(b)
	if q, ok := t.ids[s]; ok {
		return q, nil
	}
	if len(t.strs) > 0xffff {
		return 0, fmt.Errorf("intern table full (%d strings)", len(t.strs))
	}
	q := QStr(len(t.strs))
	t.strs = append(t.strs, s)
	t.ids[s] = q
	return q, nil
}

// Data implements StringData.
func (t *Table) Data(q QStr) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if int(q) >= len(t.strs) {
		return nil, false
	}
	return []byte(t.strs[q]), true
}

// Len returns the number of interned strings, including the reserved
// empty string.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.strs)
}
