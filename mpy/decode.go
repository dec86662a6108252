package mpy

import (
	"strconv"
	"strings"

	"github.com/vanminh0910/micropython/errors"
	"github.com/vanminh0910/micropython/internal/binary"
	"github.com/vanminh0910/micropython/runtime"
)

// maxPoolEntries bounds the declared constant-pool counts. Every entry
// occupies stream bytes, so a count near this cap is corrupt input, and
// unbounded counts would drive the pool preallocation.
const maxPoolEntries = 1 << 20

// LoadBytecode deserializes one bytecode code object (and its nested code
// objects, recursively) from the reader. The header must already have
// been read and validated. Interned-string references are resolved
// through the interner and substituted, little-endian, into the 2-byte
// slots of a freshly patched buffer; the as-read buffer is never mutated
// while it is being scanned.
func LoadBytecode(r *binary.Reader, interner runtime.InternTable) (*runtime.RawCode, error) {
	bc, err := r.ReadLenBytes()
	if err != nil {
		return nil, errors.Truncated(errors.PhaseBytecode, "opcode stream", err)
	}

	prelude, slotOff, opOff, err := ExtractPrelude(bc)
	if err != nil {
		return nil, err
	}

	// Pass 1: decode the instruction list. Every instruction is visited
	// exactly once, in stream order, advancing by its encoded length.
	type qstrSite struct{ off int }
	var sites []qstrSite
	for ip := opOff; ip < len(bc); {
		f, sz := OpcodeFormat(bc[ip:])
		if ip+sz > len(bc) {
			return nil, errors.New(errors.PhaseBytecode, errors.KindFormat).
				Detail("instruction at %d overruns opcode region", ip).
				Build()
		}
		if f == FormatQStr {
			sites = append(sites, qstrSite{off: ip})
		}
		ip += sz
	}

	// Pass 2: produce the patched buffer.
	patched := make([]byte, len(bc))
	copy(patched, bc)

	simpleName, err := loadQStr(r, interner)
	if err != nil {
		return nil, err
	}
	sourceFile, err := loadQStr(r, interner)
	if err != nil {
		return nil, err
	}
	patched[slotOff] = byte(simpleName)
	patched[slotOff+1] = byte(simpleName >> 8)
	patched[slotOff+2] = byte(sourceFile)
	patched[slotOff+3] = byte(sourceFile >> 8)

	for _, site := range sites {
		q, err := loadQStr(r, interner)
		if err != nil {
			return nil, err
		}
		patched[site.off+1] = byte(q)
		patched[site.off+2] = byte(q >> 8)
	}

	// Constant pool: per-arg interned strings, then literals, then
	// nested code objects.
	nObj, err := r.ReadUint()
	if err != nil {
		return nil, errors.Truncated(errors.PhaseBytecode, "object count", err)
	}
	nRawCode, err := r.ReadUint()
	if err != nil {
		return nil, errors.Truncated(errors.PhaseBytecode, "raw code count", err)
	}
	if nObj > maxPoolEntries || nRawCode > maxPoolEntries {
		return nil, errors.Format(errors.PhaseBytecode, "constant pool counts %d+%d too large", nObj, nRawCode)
	}

	consts := make([]runtime.Value, 0, prelude.NArgs()+int(nObj)+int(nRawCode))
	for i := 0; i < prelude.NArgs(); i++ {
		q, err := loadQStr(r, interner)
		if err != nil {
			return nil, err
		}
		consts = append(consts, runtime.QStrValue(q))
	}
	for i := 0; i < int(nObj); i++ {
		obj, err := loadObj(r)
		if err != nil {
			return nil, err
		}
		consts = append(consts, obj)
	}
	for i := 0; i < int(nRawCode); i++ {
		nested, err := LoadBytecode(r, interner)
		if err != nil {
			return nil, err
		}
		consts = append(consts, nested)
	}

	return runtime.NewBytecode(patched, consts, int(nObj), int(nRawCode), uint32(prelude.ScopeFlags)), nil
}

// loadQStr reads a length-prefixed string and interns it.
func loadQStr(r *binary.Reader, interner runtime.InternTable) (runtime.QStr, error) {
	b, err := r.ReadLenBytes()
	if err != nil {
		return 0, errors.Truncated(errors.PhaseBytecode, "interned string", err)
	}
	q, err := interner.Intern(b)
	if err != nil {
		return 0, errors.New(errors.PhaseBytecode, errors.KindResource).
			Detail("intern %q", b).Cause(err).Build()
	}
	return q, nil
}

// loadObj reads one tagged object literal.
func loadObj(r *binary.Reader) (runtime.Value, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return nil, errors.Truncated(errors.PhaseBytecode, "literal tag", err)
	}
	if tag == TagEllipsis {
		return runtime.Ellipsis{}, nil
	}
	payload, err := r.ReadLenBytes()
	if err != nil {
		return nil, errors.Truncated(errors.PhaseBytecode, "literal payload", err)
	}
	switch tag {
	case TagString:
		return runtime.Str(payload), nil
	case TagBytes:
		return runtime.Bytes(payload), nil
	case TagInt:
		n, err := runtime.ParseInt(payload)
		if err != nil {
			return nil, errors.New(errors.PhaseBytecode, errors.KindFormat).
				Path("consts").Cause(err).Detail("integer literal").Build()
		}
		return n, nil
	case TagFloat:
		f, err := strconv.ParseFloat(string(payload), 64)
		if err != nil {
			return nil, errors.New(errors.PhaseBytecode, errors.KindFormat).
				Path("consts").Cause(err).Detail("float literal").Build()
		}
		return runtime.Float(f), nil
	case TagComplex:
		c, err := parseComplex(string(payload))
		if err != nil {
			return nil, errors.New(errors.PhaseBytecode, errors.KindFormat).
				Path("consts").Cause(err).Detail("complex literal").Build()
		}
		return runtime.Complex(c), nil
	default:
		return nil, errors.Format(errors.PhaseBytecode, "unknown literal tag %q", tag)
	}
}

// parseComplex reparses the textual complex representation the writer
// emits: "<real><±imag>j", "<imag>j" or a bare real.
func parseComplex(s string) (complex128, error) {
	if !strings.HasSuffix(s, "j") {
		re, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, err
		}
		return complex(re, 0), nil
	}
	body := s[:len(s)-1]

	// Find the sign splitting real and imaginary parts: the last + or -
	// not at the start and not part of an exponent.
	split := -1
	for i := len(body) - 1; i > 0; i-- {
		c := body[i]
		if (c == '+' || c == '-') && body[i-1] != 'e' && body[i-1] != 'E' {
			split = i
			break
		}
	}
	if split < 0 {
		im, err := parseImag(body)
		if err != nil {
			return 0, err
		}
		return complex(0, im), nil
	}
	re, err := strconv.ParseFloat(body[:split], 64)
	if err != nil {
		return 0, err
	}
	im, err := parseImag(body[split:])
	if err != nil {
		return 0, err
	}
	return complex(re, im), nil
}

func parseImag(s string) (float64, error) {
	switch s {
	case "", "+":
		return 1, nil
	case "-":
		return -1, nil
	}
	return strconv.ParseFloat(s, 64)
}
