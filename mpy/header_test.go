package mpy_test

import (
	stderrors "errors"
	"testing"

	"github.com/vanminh0910/micropython/errors"
	"github.com/vanminh0910/micropython/internal/binary"
	"github.com/vanminh0910/micropython/mpy"
)

var testHost = mpy.HostInfo{
	Features:     mpy.FeatureUnicode,
	SmallIntBits: 31,
	ISA:          mpy.ISAX8664,
}

func TestSmallIntBits(t *testing.T) {
	tests := []struct {
		max  int64
		want int
	}{
		{0x3FFFFFFF, 31},     // 32-bit host, one tag bit
		{0x3FFFFFFFFFFFFFFF, 63}, // 64-bit host
	}
	for _, tt := range tests {
		if got := mpy.SmallIntBits(tt.max); got != tt.want {
			t.Errorf("SmallIntBits(%#x) = %d, want %d", tt.max, got, tt.want)
		}
	}
}

func TestHostFeatures(t *testing.T) {
	tests := []struct {
		cacheMap, unicode bool
		want              byte
	}{
		{false, false, 0},
		{true, false, mpy.FeatureCacheMapLookup},
		{false, true, mpy.FeatureUnicode},
		{true, true, mpy.FeatureCacheMapLookup | mpy.FeatureUnicode},
	}
	for _, tt := range tests {
		if got := mpy.HostFeatures(tt.cacheMap, tt.unicode); got != tt.want {
			t.Errorf("HostFeatures(%v, %v) = %#x, want %#x", tt.cacheMap, tt.unicode, got, tt.want)
		}
	}
}

func TestHeaderGate(t *testing.T) {
	tests := []struct {
		name   string
		header []byte
		ok     bool
	}{
		{"matching bytecode", []byte{'M', 2, mpy.FeatureUnicode, 31}, true},
		{"narrower small ints", []byte{'M', 2, mpy.FeatureUnicode, 16}, true},
		{"matching native", []byte{'M', 2, 0x80, mpy.ISAX8664}, true},
		{"bad magic", []byte{'N', 2, mpy.FeatureUnicode, 31}, false},
		{"wrong version", []byte{'M', 1, mpy.FeatureUnicode, 31}, false},
		{"wrong flags", []byte{'M', 2, mpy.FeatureCacheMapLookup, 31}, false},
		{"wider small ints", []byte{'M', 2, mpy.FeatureUnicode, 64}, false},
		{"wrong isa", []byte{'M', 2, 0x80, mpy.ISAXtensa}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := binary.NewBytesReader(tt.header)
			h, err := mpy.ReadHeader(r)
			if err != nil {
				t.Fatalf("ReadHeader: %v", err)
			}
			err = h.Validate(testHost)
			if tt.ok && err != nil {
				t.Errorf("Validate: %v", err)
			}
			if !tt.ok {
				if err == nil {
					t.Fatal("expected FormatError")
				}
				if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseHeader, Kind: errors.KindFormat}) {
					t.Errorf("wrong error class: %v", err)
				}
			}
		})
	}
}

func TestHeaderTruncated(t *testing.T) {
	r := binary.NewBytesReader([]byte{'M', 2})
	if _, err := mpy.ReadHeader(r); err == nil {
		t.Error("expected error for truncated header")
	}
}

func TestIsNative(t *testing.T) {
	h := mpy.Header{Magic: 'M', Version: 2, Flags: 0x80, Arg: mpy.ISAARM}
	if !h.IsNative() {
		t.Error("native flag not recognized")
	}
	h.Flags = mpy.FeatureUnicode
	if h.IsNative() {
		t.Error("bytecode flags mistaken for native")
	}
}
