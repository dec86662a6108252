package elf

import (
	"bytes"
	stdbinary "encoding/binary"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/vanminh0910/micropython/errors"
	"github.com/vanminh0910/micropython/internal/binary"
	"github.com/vanminh0910/micropython/native"
	"github.com/vanminh0910/micropython/runtime"
)

// Options configures module loading.
type Options struct {
	// Arena supplies memory for the text and read-only segments.
	Arena native.Arena
	// Commit moves text into instruction memory on Harvard targets. Nil
	// means text executes where it was staged.
	Commit native.CommitFunc
	// Invoker executes exported functions; bound callables delegate to
	// it.
	Invoker runtime.Invoker
}

// DefaultOptions returns default loading configuration.
func DefaultOptions() Options {
	return Options{
		Arena: native.NewSimArena(0x10000000),
	}
}

// Loader imports position-independent object-file modules: it validates
// the file structure, loads the text and read-only segments, applies the
// dynamic relocations against the host symbol whitelist, and binds the
// exports described by the module's descriptor table into a namespace.
type Loader struct {
	funs    *runtime.FunTable
	options Options
}

// New creates a Loader resolving undefined symbols against funs.
func New(funs *runtime.FunTable, opts Options) *Loader {
	if opts.Arena == nil {
		opts.Arena = DefaultOptions().Arena
	}
	return &Loader{funs: funs, options: opts}
}

// NewWithDefaults creates a Loader with default options.
func NewWithDefaults(funs *runtime.FunTable) *Loader {
	return New(funs, DefaultOptions())
}

// segment is one loaded region of the file with its virtual source
// address and its final (post-commit) address.
type segment struct {
	place   native.Placement
	addrSrc uint32
	addrDst uint64
}

// locate translates a virtual address range to a staging buffer slice.
func locate(segs []*segment, addr uint32, size int) ([]byte, bool) {
	for _, s := range segs {
		if addr >= s.addrSrc && int(addr-s.addrSrc)+size <= len(s.place.Buf) {
			off := int(addr - s.addrSrc)
			return s.place.Buf[off : off+size], true
		}
	}
	return nil, false
}

// finalAddr translates a virtual address range to its post-commit
// address.
func finalAddr(segs []*segment, addr uint32, size int) (uint64, bool) {
	for _, s := range segs {
		if addr >= s.addrSrc && int(addr-s.addrSrc)+size <= len(s.place.Buf) {
			return s.addrDst + uint64(addr-s.addrSrc), true
		}
	}
	return 0, false
}

// binding is one export held back until the whole load has validated.
type binding struct {
	name  string
	value runtime.Value
}

// Module is a successfully imported object-file module.
type Module struct {
	Namespace *runtime.Namespace
	Text      native.Region

	arena  native.Arena
	places []native.Placement
}

// Close releases the module's segments.
func (m *Module) Close() error {
	var err error
	for _, p := range m.places {
		err = multierr.Append(err, m.arena.Release(p))
	}
	m.places = nil
	return err
}

// LoadModule imports one module from the reader and returns its bound
// namespace. The load is all-or-nothing: no binding is installed and no
// memory stays allocated unless every structural check and every
// relocation succeeded.
func (l *Loader) LoadModule(r *binary.Reader, name string) (m *Module, err error) {
	hdr, err := readFileHeader(r)
	if err != nil {
		return nil, err
	}
	if hdr.shoff == 0 || hdr.shnum <= 1 {
		return nil, errors.Structural("no sections")
	}

	if err = r.Seek(int(hdr.shoff)); err != nil {
		return nil, errors.Structural("seek to section headers").WithCause(err)
	}
	sections := make([]sectionHeader, hdr.shnum)
	for i := range sections {
		if sections[i], err = readSectionHeader(r); err != nil {
			return nil, err
		}
	}

	text, ro, dynsymSec, dynstrSec, err := scanSections(hdr, sections)
	if err != nil {
		return nil, err
	}

	dynsym, err := loadSymbols(r, dynsymSec)
	if err != nil {
		return nil, err
	}
	dynstr, err := loadSection(r, dynstrSec.offset, int(dynstrSec.size), "string table")
	if err != nil {
		return nil, err
	}

	segs, err := l.loadSegments(r, text, ro)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			for _, s := range segs {
				err = multierr.Append(err, l.options.Arena.Release(s.place))
			}
		}
	}()

	exportSym, err := findExportSymbol(hdr, dynsym, dynstr)
	if err != nil {
		return nil, err
	}
	if _, ok := locate(segs, exportSym.value, int(exportSym.size)); !ok {
		return nil, errors.Structural("export table at %#x outside loaded segments", exportSym.value)
	}

	var bindings []binding
	for _, sec := range sections[1:] {
		if sec.typ != shtRela {
			continue
		}
		bs, err2 := l.applyRelocations(r, sec, dynsym, dynstr, segs, exportSym)
		if err2 != nil {
			err = err2
			return nil, err
		}
		bindings = append(bindings, bs...)
	}

	textSeg := segs[0]
	if l.options.Commit != nil {
		var final uint64
		if final, err = l.options.Commit(textSeg.place.Buf, true); err != nil {
			err = errors.New(errors.PhaseObject, errors.KindResource).
				Detail("commit text").Cause(err).Build()
			return nil, err
		}
		if final != textSeg.addrDst {
			err = errors.CommitMismatch(errors.PhaseObject, textSeg.addrDst, final)
			return nil, err
		}
	}

	// All validation done: install the bindings.
	ns := runtime.NewNamespace(name)
	for _, b := range bindings {
		ns.Bind(b.name, b.value)
	}

	Logger().Debug("module loaded",
		zap.String("module", name),
		zap.Int("exports", len(bindings)),
		zap.Int("text", len(textSeg.place.Buf)))

	places := make([]native.Placement, len(segs))
	for i, s := range segs {
		places[i] = s.place
	}
	return &Module{
		Namespace: ns,
		Text: native.Region{
			Staging: textSeg.place.Addr,
			Final:   textSeg.addrDst,
			Len:     len(textSeg.place.Buf),
		},
		arena:  l.options.Arena,
		places: places,
	}, nil
}

// roRun is the contiguous read-only region following the text section.
type roRun struct {
	fileOff uint32
	addr    uint32
	size    uint32
}

// scanSections makes the single identification pass: the executable text
// section, the contiguous read-only run that follows it, the dynamic
// symbol table and its linked string table.
func scanSections(hdr fileHeader, sections []sectionHeader) (text sectionHeader, ro roRun, dynsym, dynstr sectionHeader, err error) {
	var haveText, haveDynsym bool

	for i := 1; i < len(sections); i++ {
		sec := sections[i]

		if haveText && ro.fileOff == 0 && sec.typ == shtProgbits {
			// Start of the read-only run, just after text.
			ro.fileOff = sec.offset
			ro.addr = sec.addr
		} else if ro.fileOff != 0 && ro.size == 0 && sec.typ == shtProgbits {
			if ro.addr+(sec.offset-ro.fileOff) != sec.addr {
				err = errors.Structural("non-contiguous read-only section at %#x", sec.addr)
				return
			}
		} else if ro.fileOff != 0 && ro.size == 0 && sec.typ != shtProgbits {
			// End of the read-only run.
			ro.size = sec.offset - ro.fileOff
		}

		if sec.typ == shtProgbits && sec.flags&shfExecInstr != 0 {
			text = sec
			haveText = true
		}

		if sec.typ == shtDynsym {
			dynsym = sec
			haveDynsym = true
			if sec.link >= uint32(hdr.shnum) {
				err = errors.Structural("symbol table links to section %d of %d", sec.link, hdr.shnum)
				return
			}
			dynstr = sections[sec.link]
			if dynstr.typ != shtStrtab {
				err = errors.Structural("symbol table linked to non-string section")
				return
			}
		}
	}
	if !haveText || !haveDynsym {
		err = errors.Structural("missing text or dynamic symbol section")
		return
	}
	return text, ro, dynsym, dynstr, nil
}

func loadSymbols(r *binary.Reader, sec sectionHeader) ([]symbol, error) {
	if err := r.Seek(int(sec.offset)); err != nil {
		return nil, errors.Structural("seek to symbol table").WithCause(err)
	}
	syms := make([]symbol, sec.size/symSize)
	for i := range syms {
		var err error
		if syms[i], err = readSymbol(r); err != nil {
			return nil, err
		}
	}
	return syms, nil
}

func loadSection(r *binary.Reader, offset uint32, size int, what string) ([]byte, error) {
	if err := r.Seek(int(offset)); err != nil {
		return nil, errors.Structural("seek to %s", what).WithCause(err)
	}
	buf, err := r.ReadBytes(size)
	if err != nil {
		return nil, errors.Structural("truncated %s", what).WithCause(err)
	}
	return buf, nil
}

// loadSegments places and fills the text and read-only segments,
// recording the virtual-to-final address mapping for relocation. Text's
// final address is probed up front on Harvard targets so every patch is
// computed against where the code will really run.
func (l *Loader) loadSegments(r *binary.Reader, text sectionHeader, ro roRun) ([]*segment, error) {
	textPlace, err := l.options.Arena.Place(int(text.size))
	if err != nil {
		return nil, errors.New(errors.PhaseObject, errors.KindResource).
			Detail("allocate %d bytes for text", text.size).Cause(err).Build()
	}
	textSeg := &segment{place: textPlace, addrSrc: text.addr, addrDst: textPlace.Addr}
	if l.options.Commit != nil {
		if textSeg.addrDst, err = l.options.Commit(textPlace.Buf, false); err != nil {
			err = multierr.Append(err, l.options.Arena.Release(textPlace))
			return nil, errors.New(errors.PhaseObject, errors.KindResource).
				Detail("probe commit address").Cause(err).Build()
		}
	}

	fill := func(seg *segment, offset uint32, what string) error {
		if err := r.Seek(int(offset)); err != nil {
			return errors.Structural("seek to %s", what).WithCause(err)
		}
		if err := r.ReadFull(seg.place.Buf); err != nil {
			return errors.Structural("truncated %s", what).WithCause(err)
		}
		return nil
	}
	if err := fill(textSeg, text.offset, "text segment"); err != nil {
		err = multierr.Append(err, l.options.Arena.Release(textPlace))
		return nil, err
	}

	roPlace, err := l.options.Arena.Place(int(ro.size))
	if err != nil {
		err = multierr.Append(err, l.options.Arena.Release(textPlace))
		return nil, errors.New(errors.PhaseObject, errors.KindResource).
			Detail("allocate %d bytes for read-only data", ro.size).Cause(err).Build()
	}
	roSeg := &segment{place: roPlace, addrSrc: ro.addr, addrDst: roPlace.Addr}
	if ro.size > 0 {
		if err := fill(roSeg, ro.fileOff, "read-only segment"); err != nil {
			err = multierr.Append(err, l.options.Arena.Release(textPlace))
			err = multierr.Append(err, l.options.Arena.Release(roPlace))
			return nil, err
		}
	}
	return []*segment{textSeg, roSeg}, nil
}

// findExportSymbol locates the single global object symbol carrying the
// export descriptor prefix. Zero matches or more than one are both
// structural failures.
func findExportSymbol(hdr fileHeader, dynsym []symbol, dynstr []byte) (symbol, error) {
	var found symbol
	var count int
	for _, sym := range dynsym[1:] {
		if sym.bind() != stbGlobal || sym.symType() != sttObject {
			continue
		}
		if !strings.HasPrefix(symName(dynstr, sym.name), exportPrefix) {
			continue
		}
		found = sym
		count++
	}
	switch {
	case count == 0:
		return symbol{}, errors.Structural("no %s* export symbol", exportPrefix)
	case count > 1:
		return symbol{}, errors.Structural("ambiguous export symbol (%d candidates)", count)
	case found.shndx >= hdr.shnum:
		return symbol{}, errors.Structural("export symbol in section %d of %d", found.shndx, hdr.shnum)
	}
	return found, nil
}

// applyRelocations processes one relocation section, patching 32-bit
// words and collecting the export bindings the descriptor table
// describes.
func (l *Loader) applyRelocations(r *binary.Reader, sec sectionHeader, dynsym []symbol, dynstr []byte, segs []*segment, exportSym symbol) ([]binding, error) {
	if err := r.Seek(int(sec.offset)); err != nil {
		return nil, errors.Structural("seek to relocations").WithCause(err)
	}
	relocs := make([]rela, sec.size/relaSize)
	for i := range relocs {
		var err error
		if relocs[i], err = readRela(r); err != nil {
			return nil, err
		}
	}

	var bindings []binding
	for _, rel := range relocs {
		var sym *symbol
		if idx := rel.sym(); idx != 0 && idx < uint32(len(dynsym)) {
			sym = &dynsym[idx]
		}

		var value uint64
		switch rel.relType() {
		case relXtensaRTLD:
			// Handled by the runtime linker on a real system; nothing
			// for us to patch.
			continue

		case relXtensaGlobDat:
			if sym == nil {
				return nil, errors.Structural("data relocation at %#x without symbol", rel.offset)
			}
			addr, ok := finalAddr(segs, sym.value, int(sym.size))
			if !ok {
				return nil, errors.Structural("symbol %q at %#x outside loaded segments", symName(dynstr, sym.name), sym.value)
			}
			value = addr

		case relXtensaJmpSlot:
			if sym == nil {
				return nil, errors.Structural("jump relocation at %#x without symbol", rel.offset)
			}
			if sym.value != 0 {
				// Intra-module call.
				addr, ok := finalAddr(segs, sym.value, int(sym.size))
				if !ok {
					return nil, errors.Structural("symbol %q at %#x outside loaded segments", symName(dynstr, sym.name), sym.value)
				}
				value = addr
			} else {
				// Undefined: must be one of the host's whitelisted entry
				// points.
				name := symName(dynstr, sym.name)
				addr, ok := l.funs.Lookup(name)
				if !ok {
					return nil, errors.UnknownSymbol(name)
				}
				value = addr + uint64(int64(rel.addend))
			}

		default:
			return nil, errors.Relocation(errors.PhaseObject, "unknown relocation type %d at %#x", rel.relType(), rel.offset)
		}

		site, ok := locate(segs, rel.offset, 4)
		if !ok {
			return nil, errors.Structural("patch address %#x outside loaded segments", rel.offset)
		}
		stdbinary.LittleEndian.PutUint32(site, uint32(value))

		// A data relocation landing inside the export descriptor table
		// fills in one export's address slot; the kind tag sits in the 4
		// bytes before it.
		if rel.relType() == relXtensaGlobDat &&
			rel.offset >= exportSym.value && rel.offset < exportSym.value+exportSym.size {
			b, err := l.makeExport(rel, sym, dynstr, segs, value)
			if err != nil {
				return nil, err
			}
			bindings = append(bindings, b)
		}
	}
	return bindings, nil
}

// makeExport wraps one relocated export descriptor entry into a value.
func (l *Loader) makeExport(rel rela, sym *symbol, dynstr []byte, segs []*segment, value uint64) (binding, error) {
	kindSite, ok := locate(segs, rel.offset-4, 4)
	if !ok {
		return binding{}, errors.Structural("export entry at %#x has no kind slot", rel.offset)
	}
	name := symName(dynstr, sym.name)

	var v runtime.Value
	switch stdbinary.LittleEndian.Uint32(kindSite) {
	case exportConstInt:
		data, ok := locate(segs, sym.value, 4)
		if !ok {
			return binding{}, errors.Structural("constant %q outside loaded segments", name)
		}
		v = runtime.Const(int32(stdbinary.LittleEndian.Uint32(data)))
	case exportFuncVar:
		v = runtime.NewFn(value, runtime.ArityVariadic, l.options.Invoker)
	case exportFunc2Int:
		v = runtime.NewFn(value, runtime.ArityTwoInt, l.options.Invoker)
	default:
		v = runtime.None
	}
	return binding{name: name, value: v}, nil
}

// symName reads a NUL-terminated name out of the string table.
func symName(dynstr []byte, off uint32) string {
	if int(off) >= len(dynstr) {
		return ""
	}
	s := dynstr[off:]
	if i := bytes.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	return string(s)
}
