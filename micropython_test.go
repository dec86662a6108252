package micropython_test

import (
	stderrors "errors"
	"path/filepath"
	"testing"

	micropython "github.com/vanminh0910/micropython"
	"github.com/vanminh0910/micropython/errors"
	"github.com/vanminh0910/micropython/internal/binary"
	"github.com/vanminh0910/micropython/mpy"
	"github.com/vanminh0910/micropython/native"
	"github.com/vanminh0910/micropython/runtime"
)

func testHost() micropython.Host {
	return micropython.Host{
		Features:     mpy.FeatureUnicode,
		SmallIntBits: 31,
		Interner:     runtime.NewTable(),
		Profile:      native.X8664(),
		Funs:         runtime.NewFunTable(),
		Arena:        native.NewSimArena(0x10000000),
	}
}

// bytecodeContainer builds a complete container holding one trivial code
// object with an empty pool.
func bytecodeContainer(host micropython.Host) []byte {
	w := binary.NewWriter()
	w.Byte(mpy.Magic)
	w.Byte(mpy.Version)
	w.Byte(host.Features)
	w.Byte(byte(host.SmallIntBits))

	bc := binary.NewWriter()
	bc.WriteUint(2)                       // n_state
	bc.WriteUint(0)                       // n_exc_stack
	bc.WriteBytes([]byte{0, 0, 0, 0})     // scope flags, arg counts
	bc.WriteBytes([]byte{5, 0, 0, 0, 0})  // code info
	bc.Byte(0xFF)                         // cell list terminator
	bc.Byte(mpy.OpLoadConstNone)
	bc.Byte(mpy.OpReturnValue)

	w.WriteLenBytes(bc.Bytes())
	w.WriteLenBytes([]byte("f"))       // simple name
	w.WriteLenBytes([]byte("test.py")) // source file
	w.WriteUint(0)                     // object count
	w.WriteUint(0)                     // raw code count
	return w.Bytes()
}

// nativeContainer builds a container holding one relocation-free native
// blob of the given code length.
func nativeContainer(codeLen int) []byte {
	w := binary.NewWriter()
	w.Byte(mpy.Magic)
	w.Byte(mpy.Version)
	w.Byte(mpy.NativeFlag)
	w.Byte(mpy.ISAX8664)
	w.WriteUint(uint64(codeLen))
	w.WriteUint(0) // data length
	w.WriteUint(0) // relocation count
	w.WriteUint(0) // entry offset
	w.WriteBytes(make([]byte, codeLen))
	return w.Bytes()
}

func TestLoadBytecodeContainer(t *testing.T) {
	host := testHost()
	res, err := micropython.LoadBytes(bytecodeContainer(host), host)
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	defer res.Close()

	if res.Raw == nil || res.Raw.Kind != runtime.KindBytecode {
		t.Fatalf("want bytecode result, got %+v", res.Raw)
	}
	if res.Native != nil {
		t.Fatalf("bytecode load must not produce a native callable")
	}
	if err := res.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestLoadNativeContainer(t *testing.T) {
	host := testHost()
	arena := host.Arena.(*native.SimArena)

	res, err := micropython.LoadBytes(nativeContainer(16), host)
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	if res.Native == nil {
		t.Fatalf("native load must produce a callable")
	}
	if res.Raw.Kind != runtime.KindNative {
		t.Fatalf("Kind = %v, want native", res.Raw.Kind)
	}
	if res.Raw.EntryAddr != res.Native.Code.Final {
		t.Fatalf("EntryAddr = %#x, code at %#x", res.Raw.EntryAddr, res.Native.Code.Final)
	}

	if err := res.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n := arena.Live(); n != 0 {
		t.Fatalf("%d placements still live after Close", n)
	}
}

func TestLoadHeaderMismatch(t *testing.T) {
	host := testHost()
	data := bytecodeContainer(host)
	data[2] ^= mpy.FeatureCacheMapLookup // flip a feature bit

	_, err := micropython.LoadBytes(data, host)
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseHeader, Kind: errors.KindFormat}) {
		t.Fatalf("want header format error, got %v", err)
	}
}

func TestLoadHeaderMismatchStopsEarly(t *testing.T) {
	// A rejected header must stop the load even when the body is garbage
	// that would crash a parser reading past the gate.
	host := testHost()
	data := append([]byte{mpy.Magic, mpy.Version + 1, host.Features, byte(host.SmallIntBits)},
		0xFF, 0xFF, 0xFF)

	_, err := micropython.LoadBytes(data, host)
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseHeader, Kind: errors.KindFormat}) {
		t.Fatalf("want header format error, got %v", err)
	}
}

func TestLoadNativeWithoutProfile(t *testing.T) {
	host := testHost()
	host.Profile = nil

	_, err := micropython.LoadBytes(nativeContainer(8), host)
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseNative, Kind: errors.KindUnsupported}) {
		t.Fatalf("want unsupported error, got %v", err)
	}
}

func TestSaveLoadFile(t *testing.T) {
	host := testHost()
	res, err := micropython.LoadBytes(bytecodeContainer(host), host)
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}

	path := filepath.Join(t.TempDir(), "out.mpy")
	sd := host.Interner.(*runtime.Table)
	if err := micropython.SaveFile(path, res.Raw, host, sd); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}

	fresh := testHost()
	again, err := micropython.LoadFile(path, fresh)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if string(again.Raw.Bytecode) != string(res.Raw.Bytecode) {
		t.Fatalf("reloaded bytecode differs:\n  %x\n  %x", again.Raw.Bytecode, res.Raw.Bytecode)
	}
}

func TestLoadFileMissing(t *testing.T) {
	_, err := micropython.LoadFile(filepath.Join(t.TempDir(), "nope.mpy"), testHost())
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseHeader, Kind: errors.KindResource}) {
		t.Fatalf("want resource error, got %v", err)
	}
}
