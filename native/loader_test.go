package native

import (
	stdbinary "encoding/binary"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/vanminh0910/micropython/errors"
	"github.com/vanminh0910/micropython/internal/binary"
	"github.com/vanminh0910/micropython/runtime"
)

// blobBody assembles a native container body: the four header varints,
// the raw segments, then the relocation entries as (target, combined)
// pairs.
func blobBody(code, data []byte, entry uint32, relocs [][2]uint64) []byte {
	w := binary.NewWriter()
	w.WriteUint(uint64(len(code)))
	w.WriteUint(uint64(len(data)))
	w.WriteUint(uint64(len(relocs)))
	w.WriteUint(uint64(entry))
	w.WriteBytes(code)
	w.WriteBytes(data)
	for _, rel := range relocs {
		w.WriteUint(rel[0])
		w.WriteUint(rel[1])
	}
	return w.Bytes()
}

// testFuns builds a host table with n entries at fixed, recognizable
// addresses.
func testFuns(n int, base uint64) *runtime.FunTable {
	t := runtime.NewFunTable()
	for i := 0; i < n; i++ {
		t.Register(fmt.Sprintf("fun_%d", i), base+uint64(i)*0x100)
	}
	return t
}

func TestX8664DirectCall(t *testing.T) {
	arena := NewSimArena(0x10000000)
	funs := testFuns(6, 0x10002000) // well within 32-bit reach
	l := New(X8664(), funs, Options{Arena: arena})

	body := blobBody(make([]byte, 16), nil, 0, [][2]uint64{
		{5, 0<<3 | 0b001},
	})
	c, err := l.Load(binary.NewBytesReader(body))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer c.Close()

	target, _ := funs.Addr(5)
	buf := c.places[0].Buf
	want := uint32(target - c.Code.Staging - 4)
	if got := stdbinary.LittleEndian.Uint32(buf[0:]); got != want {
		t.Errorf("displacement = %#x, want %#x", got, want)
	}
	// In range, so the stub area must stay untouched.
	for i := 16; i < len(buf); i++ {
		if buf[i] != 0 {
			t.Fatalf("stub area written at %d despite in-range target", i)
		}
	}
}

func TestX8664TrampolineCall(t *testing.T) {
	// A 16-byte blob with one call whose target is far outside the
	// 32-bit displacement range: exactly one stub must be emitted and
	// the branch must land on its first instruction.
	arena := NewSimArena(0x10000000)
	funs := testFuns(6, 0x7f00000000)
	l := New(X8664(), funs, Options{Arena: arena})

	body := blobBody(make([]byte, 16), nil, 0, [][2]uint64{
		{5, 0<<3 | 0b001},
	})
	c, err := l.Load(binary.NewBytesReader(body))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer c.Close()

	buf := c.places[0].Buf
	stubAddr := c.Code.Staging + 16
	if buf[16] != 0xff || buf[17] != 0x25 {
		t.Fatalf("no stub at %#x: % x", stubAddr, buf[16:22])
	}
	target, _ := funs.Addr(5)
	if got := stdbinary.LittleEndian.Uint64(buf[22:]); got != target {
		t.Errorf("stub target = %#x, want %#x", got, target)
	}
	want := uint32(stubAddr - c.Code.Staging - 4)
	if got := stdbinary.LittleEndian.Uint32(buf[0:]); got != want {
		t.Errorf("branch displacement = %#x, want stub at %#x", got, want)
	}
	// One relocation, one stub: the rest of the area stays zero.
	for i := 30; i < 32; i++ {
		if buf[i] != 0 {
			t.Errorf("more than one stub written: byte %d = %#x", i, buf[i])
		}
	}
}

func TestSelfRelocationIdempotence(t *testing.T) {
	// The same container loaded at two different bases must produce the
	// same internal code-to-data offset even though absolute addresses
	// differ.
	code := make([]byte, 16)
	stdbinary.LittleEndian.PutUint32(code[8:], 4) // in-place addend
	body := blobBody(code, make([]byte, 16), 0, [][2]uint64{
		{SelectorDataBase, 8<<3 | 0b011},
	})

	load := func(base uint64) (*Callable, uint64) {
		l := New(X8664(), testFuns(1, 0x1000), Options{Arena: NewSimArena(base)})
		c, err := l.Load(binary.NewBytesReader(body))
		if err != nil {
			t.Fatalf("Load at %#x: %v", base, err)
		}
		return c, stdbinary.LittleEndian.Uint64(c.places[0].Buf[8:])
	}

	c1, v1 := load(0x10000000)
	defer c1.Close()
	c2, v2 := load(0x40000000)
	defer c2.Close()

	if v1 == v2 {
		t.Fatal("absolute addresses unexpectedly equal across loads")
	}
	off1 := v1 - c1.Data.Staging
	off2 := v2 - c2.Data.Staging
	if off1 != off2 || off1 != 4 {
		t.Errorf("code-to-data offsets differ: %#x vs %#x, want 4", off1, off2)
	}
}

func TestX8664UnknownSelector(t *testing.T) {
	arena := NewSimArena(0x10000000)
	l := New(X8664(), testFuns(6, 0x1000), Options{Arena: arena})

	body := blobBody(make([]byte, 16), nil, 0, [][2]uint64{
		{50, 0<<3 | 0b001},
	})
	_, err := l.Load(binary.NewBytesReader(body))
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseNative, Kind: errors.KindRelocation}) {
		t.Errorf("err = %v, want relocation error", err)
	}
	if arena.Live() != 0 {
		t.Errorf("%d placements leaked on the failure path", arena.Live())
	}
}

func TestX8664UnknownKind(t *testing.T) {
	l := NewWithDefaults(X8664(), testFuns(1, 0x1000))
	body := blobBody(make([]byte, 16), nil, 0, [][2]uint64{
		{0, 0<<3 | 0b101},
	})
	_, err := l.Load(binary.NewBytesReader(body))
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseNative, Kind: errors.KindRelocation}) {
		t.Errorf("err = %v, want relocation error", err)
	}
}

func TestEntryOutOfRange(t *testing.T) {
	l := NewWithDefaults(X8664(), testFuns(1, 0x1000))
	body := blobBody(make([]byte, 16), nil, 16, nil)
	_, err := l.Load(binary.NewBytesReader(body))
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseNative, Kind: errors.KindFormat}) {
		t.Errorf("err = %v, want format error", err)
	}
}

func TestARMVeneerBranch(t *testing.T) {
	arena := NewSimArena(0x8000)
	funs := testFuns(1, 0x20000000)
	l := New(ARM(), funs, Options{Arena: arena})

	body := blobBody(make([]byte, 16), nil, 0, [][2]uint64{
		{0, 4<<3 | 0b001},
	})
	c, err := l.Load(binary.NewBytesReader(body))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer c.Close()

	buf := c.places[0].Buf
	if got := stdbinary.LittleEndian.Uint32(buf[16:]); got != 0xE51FF004 {
		t.Fatalf("veneer instruction = %#x, want LDR pc, [pc, #-4]", got)
	}
	target, _ := funs.Addr(0)
	if got := stdbinary.LittleEndian.Uint32(buf[20:]); got != uint32(target) {
		t.Errorf("veneer target = %#x, want %#x", got, target)
	}

	// Branch at offset 4: veneer is 12 bytes ahead of the site, pc runs
	// 8 ahead, so the stored word displacement is 4 >> 2 = 1.
	veneerAddr := c.Code.Staging + 16
	rel := uint32(veneerAddr - (c.Code.Staging + 4) - 8)
	if buf[4] != byte(rel>>2) || buf[5] != byte(rel>>10) || buf[6] != byte(rel>>18) {
		t.Errorf("branch immediate = % x, want %#x >> 2", buf[4:7], rel)
	}
}

func TestARMDataRelative(t *testing.T) {
	arena := NewSimArena(0x8000)
	funs := testFuns(1, 0x20000000)
	l := New(ARM(), funs, Options{Arena: arena})

	data := make([]byte, 8)
	stdbinary.LittleEndian.PutUint32(data, 0x10) // in-place addend
	body := blobBody(make([]byte, 8), data, 0, [][2]uint64{
		{0, 0<<3 | 0b110}, // data dest, site-relative
	})
	c, err := l.Load(binary.NewBytesReader(body))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer c.Close()

	target, _ := funs.Addr(0)
	want := uint32(target-c.Data.Staging) + 0x10
	if got := stdbinary.LittleEndian.Uint32(c.places[1].Buf); got != want {
		t.Errorf("patched word = %#x, want %#x", got, want)
	}
}

func TestARMMisalignedOffset(t *testing.T) {
	arena := NewSimArena(0x8000)
	l := New(ARM(), testFuns(1, 0x20000000), Options{Arena: arena})

	body := blobBody(make([]byte, 16), nil, 0, [][2]uint64{
		{0, 2<<3 | 0b000},
	})
	_, err := l.Load(binary.NewBytesReader(body))
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseNative, Kind: errors.KindRelocation}) {
		t.Errorf("err = %v, want relocation error", err)
	}
	if arena.Live() != 0 {
		t.Errorf("%d placements leaked on the failure path", arena.Live())
	}
}

func TestARMCodeTooBig(t *testing.T) {
	l := NewWithDefaults(ARM(), testFuns(1, 0x1000))
	// A corrupt code length at the ceiling; the check must fire before
	// any allocation or segment read, so no body bytes follow.
	w := binary.NewWriter()
	w.WriteUint(armCodeCeiling)
	w.WriteUint(0)
	w.WriteUint(0)
	w.WriteUint(0)
	_, err := l.Load(binary.NewBytesReader(w.Bytes()))
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseNative, Kind: errors.KindResource}) {
		t.Errorf("err = %v, want resource error", err)
	}
}

func TestXtensaDataPatch(t *testing.T) {
	arena := NewSimArena(0x3F000000)
	funs := testFuns(1, 0x40010000)
	l := New(Xtensa(nil), funs, Options{Arena: arena})

	data := make([]byte, 8)
	stdbinary.LittleEndian.PutUint32(data, 8) // in-place addend
	code := make([]byte, 8)
	body := blobBody(code, data, 0, [][2]uint64{
		{0, 0<<1 | 1},                  // host target into data
		{SelectorCodeBase, 4<<1 | 0},   // own code base into code
	})
	c, err := l.Load(binary.NewBytesReader(body))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer c.Close()

	target, _ := funs.Addr(0)
	if got := stdbinary.LittleEndian.Uint32(c.places[1].Buf); got != uint32(target)+8 {
		t.Errorf("data word = %#x, want %#x", got, uint32(target)+8)
	}
	if got := stdbinary.LittleEndian.Uint32(c.places[0].Buf[4:]); got != uint32(c.Code.Final) {
		t.Errorf("code word = %#x, want own code base %#x", got, c.Code.Final)
	}
}

func TestXtensaCommit(t *testing.T) {
	const finalAddr = 0x40080000
	var committed []byte
	commit := func(code []byte, do bool) (uint64, error) {
		if do {
			committed = append([]byte(nil), code...)
		}
		return finalAddr, nil
	}

	arena := NewSimArena(0x3F000000)
	funs := testFuns(1, 0x40010000)
	l := New(Xtensa(commit), funs, Options{Arena: arena})

	code := make([]byte, 8)
	body := blobBody(code, nil, 4, [][2]uint64{
		{SelectorCodeBase, 0 << 1},
	})
	c, err := l.Load(binary.NewBytesReader(body))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer c.Close()

	// Relocations must use the committed address, not the staging one.
	if got := stdbinary.LittleEndian.Uint32(committed); got != finalAddr {
		t.Errorf("committed code word = %#x, want %#x", got, finalAddr)
	}
	if c.Code.Final != finalAddr || c.Code.Staging == finalAddr {
		t.Errorf("code region = %+v, want staging/final split at %#x", c.Code, uint64(finalAddr))
	}
	if got := c.Code.Translate(c.Code.Staging + 4); got != finalAddr+4 {
		t.Errorf("Translate = %#x, want %#x", got, uint64(finalAddr+4))
	}
	if c.Entry() != finalAddr+4 {
		t.Errorf("Entry = %#x, want %#x", c.Entry(), uint64(finalAddr+4))
	}
}

func TestXtensaCommitMismatch(t *testing.T) {
	calls := 0
	commit := func(code []byte, do bool) (uint64, error) {
		calls++
		if do {
			return 0x40081000, nil
		}
		return 0x40080000, nil
	}

	arena := NewSimArena(0x3F000000)
	l := New(Xtensa(commit), testFuns(1, 0x1000), Options{Arena: arena})

	body := blobBody(make([]byte, 8), nil, 0, nil)
	_, err := l.Load(binary.NewBytesReader(body))
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseNative, Kind: errors.KindRelocation}) {
		t.Errorf("err = %v, want relocation error", err)
	}
	if calls != 2 {
		t.Errorf("commit called %d times, want probe + commit", calls)
	}
	if arena.Live() != 0 {
		t.Errorf("%d placements leaked on the failure path", arena.Live())
	}
}

type recordingInvoker struct {
	addr uint64
	args []runtime.Value
}

func (r *recordingInvoker) Call(addr uint64, args []runtime.Value) (runtime.Value, error) {
	r.addr = addr
	r.args = args
	return runtime.Str("ok"), nil
}

func TestCallableBind(t *testing.T) {
	l := NewWithDefaults(X8664(), testFuns(1, 0x1000))
	body := blobBody(make([]byte, 16), nil, 8, nil)
	c, err := l.Load(binary.NewBytesReader(body))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer c.Close()

	inv := &recordingInvoker{}
	fn := c.Bind(inv)
	if _, err := fn.Call(); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if inv.addr != c.Code.Final+8 {
		t.Errorf("invoked %#x, want entry %#x", inv.addr, c.Code.Final+8)
	}
}

func TestTruncatedBlob(t *testing.T) {
	full := blobBody(make([]byte, 8), []byte{1, 2}, 0, [][2]uint64{{SelectorDataBase, 0 << 3}})
	for n := 0; n < len(full); n++ {
		arena := NewSimArena(0x10000000)
		l := New(X8664(), testFuns(1, 0x1000), Options{Arena: arena})
		_, err := l.Load(binary.NewBytesReader(full[:n]))
		if err == nil {
			t.Fatalf("no error with body cut to %d of %d bytes", n, len(full))
		}
		if arena.Live() != 0 {
			t.Fatalf("cut %d: %d placements leaked", n, arena.Live())
		}
	}
}

func TestBlobHeaderOverflow(t *testing.T) {
	// Declared lengths that wrap the int conversion or demand a
	// pathological allocation are format errors, caught before any
	// placement is made.
	tests := []struct {
		name    string
		codeLen uint64
	}{
		{"wraps negative", 1 << 63},
		{"pathological", 1 << 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			arena := NewSimArena(0x10000000)
			l := New(X8664(), testFuns(1, 0x1000), Options{Arena: arena})

			w := binary.NewWriter()
			w.WriteUint(tt.codeLen)
			w.WriteUint(0) // data length
			w.WriteUint(0) // relocation count
			w.WriteUint(0) // entry offset

			_, err := l.Load(binary.NewBytesReader(w.Bytes()))
			if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseNative, Kind: errors.KindFormat}) {
				t.Fatalf("err = %v, want native format error", err)
			}
			if n := arena.Live(); n != 0 {
				t.Fatalf("%d placements live after rejected header", n)
			}
		})
	}
}
