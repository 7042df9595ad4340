package elf

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
)

type TestSym struct {
	Name  string
	Value uint64
	// zero means STT_FUNC
	Type  elf.SymType
	Undef bool
}

// TestFile builds a small little-endian ELF object: a header, the given
// program headers, and sections for whatever tables are set.
type TestFile struct {
	Class         elf.Class
	Type          elf.Type
	Progs         []elf.ProgHeader
	Symtab        []TestSym
	Dynsym        []TestSym
	BuildID       []byte
	GoBuildID     string
	DebugLink     string
	MiniDebugInfo []byte
}

type testSection struct {
	name    string
	typ     elf.SectionType
	link    uint32
	entsize uint64
	data    []byte
}

func (tf TestFile) is64() bool {
	return tf.Class != elf.ELFCLASS32
}

func (tf TestFile) symbols(syms []TestSym) (table, strtab []byte) {
	order := binary.LittleEndian
	strtab = []byte{0}
	b := &bytes.Buffer{}
	if tf.is64() {
		_ = binary.Write(b, order, elf.Sym64{})
	} else {
		_ = binary.Write(b, order, elf.Sym32{})
	}
	for _, s := range syms {
		name := uint32(len(strtab))
		strtab = append(strtab, s.Name...)
		strtab = append(strtab, 0)
		typ := s.Type
		if typ == 0 {
			typ = elf.STT_FUNC
		}
		info := elf.ST_INFO(elf.STB_GLOBAL, typ)
		shndx := uint16(1)
		if s.Undef {
			shndx = uint16(elf.SHN_UNDEF)
		}
		if tf.is64() {
			_ = binary.Write(b, order, elf.Sym64{Name: name, Info: info, Shndx: shndx, Value: s.Value})
		} else {
			_ = binary.Write(b, order, elf.Sym32{Name: name, Info: info, Shndx: shndx, Value: uint32(s.Value)})
		}
	}
	return b.Bytes(), strtab
}

func (tf TestFile) sections() []testSection {
	var res []testSection
	symsize := uint64(elf.Sym64Size)
	if !tf.is64() {
		symsize = elf.Sym32Size
	}
	// section indices start at 1, after the null section
	if tf.Symtab != nil {
		table, strtab := tf.symbols(tf.Symtab)
		strIndex := uint32(len(res) + 2)
		res = append(res,
			testSection{name: ".symtab", typ: elf.SHT_SYMTAB, link: strIndex, entsize: symsize, data: table},
			testSection{name: ".strtab", typ: elf.SHT_STRTAB, data: strtab})
	}
	if tf.Dynsym != nil {
		table, strtab := tf.symbols(tf.Dynsym)
		strIndex := uint32(len(res) + 2)
		res = append(res,
			testSection{name: ".dynsym", typ: elf.SHT_DYNSYM, link: strIndex, entsize: symsize, data: table},
			testSection{name: ".dynstr", typ: elf.SHT_STRTAB, data: strtab})
	}
	if tf.BuildID != nil {
		res = append(res, testSection{name: ".note.gnu.build-id", typ: elf.SHT_NOTE, data: testNote("GNU", noteGNUBuildID, tf.BuildID)})
	}
	if tf.GoBuildID != "" {
		res = append(res, testSection{name: ".note.go.buildid", typ: elf.SHT_NOTE, data: testNote("Go", noteGoBuildID, []byte(tf.GoBuildID))})
	}
	if tf.DebugLink != "" {
		data := append([]byte(tf.DebugLink), 0)
		for len(data)%4 != 0 {
			data = append(data, 0)
		}
		data = append(data, 0, 0, 0, 0) // crc
		res = append(res, testSection{name: ".gnu_debuglink", typ: elf.SHT_PROGBITS, data: data})
	}
	if tf.MiniDebugInfo != nil {
		res = append(res, testSection{name: ".gnu_debugdata", typ: elf.SHT_PROGBITS, data: tf.MiniDebugInfo})
	}
	return res
}

// Build lays out header, program headers, section contents and the section
// header table, in that order.
func (tf TestFile) Build() []byte {
	order := binary.LittleEndian
	secs := tf.sections()

	shstrtab := []byte{0}
	names := make([]uint32, len(secs)+1)
	for i, s := range secs {
		names[i] = uint32(len(shstrtab))
		shstrtab = append(shstrtab, s.name...)
		shstrtab = append(shstrtab, 0)
	}
	names[len(secs)] = uint32(len(shstrtab))
	shstrtab = append(shstrtab, ".shstrtab\x00"...)
	secs = append(secs, testSection{name: ".shstrtab", typ: elf.SHT_STRTAB, data: shstrtab})

	ehsize, phentsize, shentsize := 64, 56, 64
	if !tf.is64() {
		ehsize, phentsize, shentsize = 52, 32, 40
	}
	phoff := uint64(ehsize)
	off := phoff + uint64(len(tf.Progs)*phentsize)
	offsets := make([]uint64, len(secs))
	body := &bytes.Buffer{}
	for i, s := range secs {
		for (off+uint64(body.Len()))%8 != 0 {
			body.WriteByte(0)
		}
		offsets[i] = off + uint64(body.Len())
		body.Write(s.data)
	}
	for (off+uint64(body.Len()))%8 != 0 {
		body.WriteByte(0)
	}
	shoff := off + uint64(body.Len())

	typ := tf.Type
	if typ == elf.ET_NONE {
		typ = elf.ET_DYN
	}
	var ident [elf.EI_NIDENT]byte
	copy(ident[:], elf.ELFMAG)
	ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	if !tf.is64() {
		ident[elf.EI_CLASS] = byte(elf.ELFCLASS32)
	}
	ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	out := &bytes.Buffer{}
	shnum := uint16(len(secs) + 1)
	shstrndx := uint16(len(secs))
	if tf.is64() {
		_ = binary.Write(out, order, elf.Header64{
			Ident: ident, Type: uint16(typ), Machine: uint16(elf.EM_X86_64),
			Version: uint32(elf.EV_CURRENT), Phoff: phoff, Shoff: shoff,
			Ehsize: uint16(ehsize), Phentsize: uint16(phentsize), Phnum: uint16(len(tf.Progs)),
			Shentsize: uint16(shentsize), Shnum: shnum, Shstrndx: shstrndx,
		})
		for _, p := range tf.Progs {
			_ = binary.Write(out, order, elf.Prog64{
				Type: uint32(p.Type), Flags: uint32(p.Flags), Off: p.Off, Vaddr: p.Vaddr,
				Paddr: p.Paddr, Filesz: p.Filesz, Memsz: p.Memsz, Align: p.Align,
			})
		}
	} else {
		_ = binary.Write(out, order, elf.Header32{
			Ident: ident, Type: uint16(typ), Machine: uint16(elf.EM_386),
			Version: uint32(elf.EV_CURRENT), Phoff: uint32(phoff), Shoff: uint32(shoff),
			Ehsize: uint16(ehsize), Phentsize: uint16(phentsize), Phnum: uint16(len(tf.Progs)),
			Shentsize: uint16(shentsize), Shnum: shnum, Shstrndx: shstrndx,
		})
		for _, p := range tf.Progs {
			_ = binary.Write(out, order, elf.Prog32{
				Type: uint32(p.Type), Flags: uint32(p.Flags), Off: uint32(p.Off), Vaddr: uint32(p.Vaddr),
				Paddr: uint32(p.Paddr), Filesz: uint32(p.Filesz), Memsz: uint32(p.Memsz), Align: uint32(p.Align),
			})
		}
	}
	out.Write(body.Bytes())

	writeSection := func(name uint32, s testSection, offset uint64) {
		if tf.is64() {
			_ = binary.Write(out, order, elf.Section64{
				Name: name, Type: uint32(s.typ), Off: offset, Size: uint64(len(s.data)),
				Link: s.link, Addralign: 1, Entsize: s.entsize,
			})
		} else {
			_ = binary.Write(out, order, elf.Section32{
				Name: name, Type: uint32(s.typ), Off: uint32(offset), Size: uint32(len(s.data)),
				Link: s.link, Addralign: 1, Entsize: uint32(s.entsize),
			})
		}
	}
	writeSection(0, testSection{}, 0)
	for i, s := range secs {
		writeSection(names[i], s, offsets[i])
	}
	return out.Bytes()
}

func testNote(name string, typ uint32, desc []byte) []byte {
	pad := func(b *bytes.Buffer) {
		for b.Len()%4 != 0 {
			b.WriteByte(0)
		}
	}
	note := &bytes.Buffer{}
	_ = binary.Write(note, binary.LittleEndian, []uint32{uint32(len(name) + 1), uint32(len(desc)), typ})
	note.WriteString(name)
	note.WriteByte(0)
	pad(note)
	note.Write(desc)
	pad(note)
	return note.Bytes()
}
