package mpy

import (
	"strconv"
	"strings"

	"github.com/vanminh0910/micropython/errors"
	"github.com/vanminh0910/micropython/internal/binary"
	"github.com/vanminh0910/micropython/runtime"
)

// SaveBytecode serializes a bytecode code object into the container
// format, the exact inverse of LoadBytecode in the same field order.
// This is the build-time path; the embedded runtime only loads.
func SaveBytecode(rc *runtime.RawCode, host HostInfo, sd runtime.StringData) ([]byte, error) {
	w := binary.NewWriter()
	WriteHeader(w, host)
	if err := saveRawCode(w, rc, sd); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func saveRawCode(w *binary.Writer, rc *runtime.RawCode, sd runtime.StringData) error {
	if rc.Kind != runtime.KindBytecode {
		return errors.Unsupported(errors.PhaseSave, "can only save bytecode")
	}

	w.WriteLenBytes(rc.Bytecode)

	prelude, slotOff, opOff, err := ExtractPrelude(rc.Bytecode)
	if err != nil {
		return err
	}
	if want := prelude.NArgs() + rc.NObj + rc.NRawCode; len(rc.Consts) != want {
		return errors.New(errors.PhaseSave, errors.KindFormat).
			Detail("constant table has %d entries, prelude wants %d", len(rc.Consts), want).
			Build()
	}

	// The two fixed interned-string slots, then every qstr operand in
	// stream order.
	bc := rc.Bytecode
	if err := saveQStrAt(w, bc, slotOff, sd); err != nil {
		return err
	}
	if err := saveQStrAt(w, bc, slotOff+2, sd); err != nil {
		return err
	}
	for ip := opOff; ip < len(bc); {
		f, sz := OpcodeFormat(bc[ip:])
		if ip+sz > len(bc) {
			return errors.New(errors.PhaseSave, errors.KindFormat).
				Detail("instruction at %d overruns opcode region", ip).
				Build()
		}
		if f == FormatQStr {
			if err := saveQStrAt(w, bc, ip+1, sd); err != nil {
				return err
			}
		}
		ip += sz
	}

	w.WriteUint(uint64(rc.NObj))
	w.WriteUint(uint64(rc.NRawCode))

	ct := rc.Consts
	for i := 0; i < prelude.NArgs(); i++ {
		q, ok := ct[i].(runtime.QStrValue)
		if !ok {
			return errors.New(errors.PhaseSave, errors.KindFormat).
				Path("consts", strconv.Itoa(i)).
				Detail("argument slot is not an interned string").
				Build()
		}
		if err := saveQStr(w, runtime.QStr(q), sd); err != nil {
			return err
		}
	}
	ct = ct[prelude.NArgs():]
	for i := 0; i < rc.NObj; i++ {
		if err := saveObj(w, ct[i]); err != nil {
			return err
		}
	}
	ct = ct[rc.NObj:]
	for i := 0; i < rc.NRawCode; i++ {
		nested, ok := ct[i].(*runtime.RawCode)
		if !ok {
			return errors.New(errors.PhaseSave, errors.KindFormat).
				Detail("nested code slot holds %T", ct[i]).
				Build()
		}
		if err := saveRawCode(w, nested, sd); err != nil {
			return err
		}
	}
	return nil
}

// saveQStrAt reads the 2-byte little-endian interned id stored in the
// bytecode and emits its string payload.
func saveQStrAt(w *binary.Writer, bc []byte, off int, sd runtime.StringData) error {
	q := runtime.QStr(bc[off]) | runtime.QStr(bc[off+1])<<8
	return saveQStr(w, q, sd)
}

func saveQStr(w *binary.Writer, q runtime.QStr, sd runtime.StringData) error {
	data, ok := sd.Data(q)
	if !ok {
		return errors.New(errors.PhaseSave, errors.KindFormat).
			Detail("interned id %d not in string table", q).
			Build()
	}
	w.WriteLenBytes(data)
	return nil
}

func saveObj(w *binary.Writer, v runtime.Value) error {
	switch obj := v.(type) {
	case runtime.Str:
		w.Byte(TagString)
		w.WriteLenBytes([]byte(obj))
	case runtime.Bytes:
		w.Byte(TagBytes)
		w.WriteLenBytes(obj)
	case runtime.Ellipsis:
		w.Byte(TagEllipsis)
	case runtime.Int:
		w.Byte(TagInt)
		w.WriteLenBytes([]byte(obj.Text(10)))
	case runtime.Float:
		w.Byte(TagFloat)
		w.WriteLenBytes([]byte(strconv.FormatFloat(float64(obj), 'g', -1, 64)))
	case runtime.Complex:
		w.Byte(TagComplex)
		w.WriteLenBytes([]byte(formatComplex(complex128(obj))))
	default:
		return errors.New(errors.PhaseSave, errors.KindFormat).
			Detail("cannot save literal of type %T", v).
			Build()
	}
	return nil
}

// formatComplex emits "<real><±imag>j", which parseComplex reparses to
// the same value.
func formatComplex(c complex128) string {
	re := strconv.FormatFloat(real(c), 'g', -1, 64)
	im := strconv.FormatFloat(imag(c), 'g', -1, 64)
	if !strings.HasPrefix(im, "-") && !strings.HasPrefix(im, "+") {
		im = "+" + im
	}
	return re + im + "j"
}
