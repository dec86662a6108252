package elf

import (
	"github.com/vanminh0910/micropython/errors"
	"github.com/vanminh0910/micropython/internal/binary"
)

// 32-bit little-endian ELF structures, the only layout the module
// loader accepts.

const (
	elfClass32  = 1
	elfData2LSB = 1

	etDyn = 3

	machineXtensa = 0x5E

	shtProgbits = 1
	shtStrtab   = 3
	shtRela     = 4
	shtDynsym   = 11

	shfExecInstr = 0x4

	stbGlobal = 1
	sttObject = 1

	// Xtensa dynamic relocation types.
	// http://wiki.linux-xtensa.org/index.php/ELF_Relocation_Notes
	relXtensaRTLD    = 2
	relXtensaGlobDat = 3
	relXtensaJmpSlot = 4

	symSize  = 16
	relaSize = 12
)

// exportPrefix marks the one global object symbol holding a module's
// export descriptor table.
const exportPrefix = "module_"

// Export descriptor kinds, one per table entry.
const (
	exportUndefined = 0
	exportFuncVar   = 1
	exportFunc2Int  = 2
	exportConstInt  = 3
)

type fileHeader struct {
	class      byte
	data       byte
	identVer   byte
	fileType   uint16
	machine    uint16
	version    uint32
	shoff      uint32
	shnum      uint16
	shstrndx   uint16
}

type sectionHeader struct {
	name    uint32
	typ     uint32
	flags   uint32
	addr    uint32
	offset  uint32
	size    uint32
	link    uint32
	info    uint32
	align   uint32
	entsize uint32
}

type symbol struct {
	name  uint32
	value uint32
	size  uint32
	info  byte
	shndx uint16
}

func (s symbol) bind() byte    { return s.info >> 4 }
func (s symbol) symType() byte { return s.info & 0xf }

type rela struct {
	offset uint32
	info   uint32
	addend int32
}

func (r rela) sym() uint32   { return r.info >> 8 }
func (r rela) relType() byte { return byte(r.info) }

// readFileHeader parses and validates the fixed ELF header. Every check
// runs before any section byte is read.
func readFileHeader(r *binary.Reader) (fileHeader, error) {
	var h fileHeader
	ident, err := r.ReadBytes(16)
	if err != nil {
		return h, errors.Structural("truncated file header").WithCause(err)
	}
	if ident[0] != 0x7f || ident[1] != 'E' || ident[2] != 'L' || ident[3] != 'F' {
		return h, errors.Structural("not an ELF file")
	}
	h.class = ident[4]
	h.data = ident[5]
	h.identVer = ident[6]

	read16 := func(dst *uint16) {
		if err == nil {
			*dst, err = r.ReadU16LE()
		}
	}
	read32 := func(dst *uint32) {
		if err == nil {
			*dst, err = r.ReadU32LE()
		}
	}
	var entry, phoff, flags uint32
	var ehsize, phentsize, phnum, shentsize uint16
	read16(&h.fileType)
	read16(&h.machine)
	read32(&h.version)
	read32(&entry)
	read32(&phoff)
	read32(&h.shoff)
	read32(&flags)
	read16(&ehsize)
	read16(&phentsize)
	read16(&phnum)
	read16(&shentsize)
	read16(&h.shnum)
	read16(&h.shstrndx)
	if err != nil {
		return h, errors.Structural("truncated file header").WithCause(err)
	}

	switch {
	case h.class != elfClass32:
		return h, errors.Structural("not a 32-bit file (class %d)", h.class)
	case h.data != elfData2LSB:
		return h, errors.Structural("not little-endian (data %d)", h.data)
	case h.identVer != 1 || h.version != 1:
		return h, errors.Structural("unsupported ELF version")
	case h.fileType != etDyn:
		return h, errors.Structural("not a shared object (type %d)", h.fileType)
	case h.machine != machineXtensa:
		return h, errors.Structural("wrong machine %#x", h.machine)
	}
	return h, nil
}

func readSectionHeader(r *binary.Reader) (sectionHeader, error) {
	var s sectionHeader
	var err error
	for _, dst := range []*uint32{
		&s.name, &s.typ, &s.flags, &s.addr, &s.offset,
		&s.size, &s.link, &s.info, &s.align, &s.entsize,
	} {
		if *dst, err = r.ReadU32LE(); err != nil {
			return s, errors.Structural("truncated section header").WithCause(err)
		}
	}
	return s, nil
}

func readSymbol(r *binary.Reader) (symbol, error) {
	var s symbol
	var err error
	if s.name, err = r.ReadU32LE(); err == nil {
		if s.value, err = r.ReadU32LE(); err == nil {
			s.size, err = r.ReadU32LE()
		}
	}
	if err != nil {
		return s, errors.Structural("truncated symbol table").WithCause(err)
	}
	info, err := r.ReadByte()
	if err != nil {
		return s, errors.Structural("truncated symbol table").WithCause(err)
	}
	s.info = info
	if _, err = r.ReadByte(); err != nil { // st_other
		return s, errors.Structural("truncated symbol table").WithCause(err)
	}
	if s.shndx, err = r.ReadU16LE(); err != nil {
		return s, errors.Structural("truncated symbol table").WithCause(err)
	}
	return s, nil
}

func readRela(r *binary.Reader) (rela, error) {
	var rel rela
	var err error
	if rel.offset, err = r.ReadU32LE(); err == nil {
		if rel.info, err = r.ReadU32LE(); err == nil {
			var a uint32
			a, err = r.ReadU32LE()
			rel.addend = int32(a)
		}
	}
	if err != nil {
		return rel, errors.Structural("truncated relocation section").WithCause(err)
	}
	return rel, nil
}
