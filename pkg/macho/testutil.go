package macho

import (
	"bytes"
	"debug/macho"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/grafana/backtrace/pkg/mem"
)

// TestSymbol is one nlist entry of a TestImage.
type TestSymbol struct {
	Name  string
	Value uint64
}

// TestImage builds a minimal Mach-O image for tests: a header, one segment
// command per segment, an LC_SYMTAB command and the __LINKEDIT contents.
//
// The header is placed at the start of the segment with file offset 0, or
// of the first segment if none has one. A __LINKEDIT segment is appended
// after the last segment unless one is given.
type TestImage struct {
	Class     Class
	ByteOrder binary.ByteOrder
	Segments  []Segment
	Symbols   []TestSymbol
	NoSymtab  bool
}

func (ti TestImage) class() Class {
	if ti.Class == Class32 {
		return Class32
	}
	return Class64
}

func (ti TestImage) order() binary.ByteOrder {
	if ti.ByteOrder == nil {
		return binary.LittleEndian
	}
	return ti.ByteOrder
}

func (ti TestImage) segments() []Segment {
	segs := append([]Segment(nil), ti.Segments...)
	for _, s := range segs {
		if s.Name == SegLinkEdit {
			return segs
		}
	}
	var end, first uint64
	for i, s := range segs {
		if i == 0 || s.Addr < first {
			first = s.Addr
		}
		if s.Addr+s.Memsz > end {
			end = s.Addr + s.Memsz
		}
	}
	end = (end + 0xfff) &^ 0xfff
	return append(segs, Segment{
		Name:   SegLinkEdit,
		Addr:   end,
		Memsz:  0x1000,
		Offset: end - first,
		Filesz: 0x1000,
	})
}

// Build returns the header with its load commands, and the __LINKEDIT
// contents starting at the segment's file offset.
func (ti TestImage) Build() (header, linkedit []byte, err error) {
	order := ti.order()
	segs := ti.segments()
	var le Segment
	for _, s := range segs {
		if s.Name == SegLinkEdit {
			le = s
		}
	}

	symoff := uint32(le.Offset)
	strtab := []byte{0}
	syms := &bytes.Buffer{}
	for _, s := range ti.Symbols {
		strx := uint32(0)
		if s.Name != "" {
			strx = uint32(len(strtab))
			strtab = append(strtab, s.Name...)
			strtab = append(strtab, 0)
		}
		fields := []interface{}{strx, uint8(0x0f), uint8(1), uint16(0)}
		if ti.class() == Class32 {
			fields = append(fields, uint32(s.Value))
		} else {
			fields = append(fields, s.Value)
		}
		for _, f := range fields {
			if err := binary.Write(syms, order, f); err != nil {
				return nil, nil, err
			}
		}
	}
	stroff := symoff + uint32(syms.Len())
	linkedit = append(syms.Bytes(), strtab...)

	cmds := &bytes.Buffer{}
	ncmd := uint32(0)
	for _, s := range segs {
		var name [16]byte
		copy(name[:], s.Name)
		var rec interface{}
		if ti.class() == Class32 {
			rec = macho.Segment32{
				Cmd: macho.LoadCmdSegment, Len: 56, Name: name,
				Addr: uint32(s.Addr), Memsz: uint32(s.Memsz),
				Offset: uint32(s.Offset), Filesz: uint32(s.Filesz),
			}
		} else {
			rec = macho.Segment64{
				Cmd: macho.LoadCmdSegment64, Len: 72, Name: name,
				Addr: s.Addr, Memsz: s.Memsz, Offset: s.Offset, Filesz: s.Filesz,
			}
		}
		if err := binary.Write(cmds, order, rec); err != nil {
			return nil, nil, err
		}
		ncmd++
	}
	if !ti.NoSymtab {
		st := macho.SymtabCmd{
			Cmd: macho.LoadCmdSymtab, Len: 24,
			Symoff: symoff, Nsyms: uint32(len(ti.Symbols)),
			Stroff: stroff, Strsize: uint32(len(strtab)),
		}
		if err := binary.Write(cmds, order, st); err != nil {
			return nil, nil, err
		}
		ncmd++
	}

	fh := macho.FileHeader{
		Magic: macho.Magic64,
		Cpu:   macho.CpuArm64,
		Type:  macho.TypeExec,
		Ncmd:  ncmd,
		Cmdsz: uint32(cmds.Len()),
	}
	if ti.class() == Class32 {
		fh.Magic = macho.Magic32
		fh.Cpu = macho.CpuArm
	}
	hdr := &bytes.Buffer{}
	if err := binary.Write(hdr, order, fh); err != nil {
		return nil, nil, err
	}
	if ti.class() == Class64 {
		hdr.Write(make([]byte, 4))
	}
	hdr.Write(cmds.Bytes())
	return hdr.Bytes(), linkedit, nil
}

// Map builds the image and maps it into buf shifted by slide. It returns the
// runtime address of the header.
func (ti TestImage) Map(buf *mem.Buffer, slide int64) (uint64, error) {
	hdr, linkedit, err := ti.Build()
	if err != nil {
		return 0, err
	}
	segs := ti.segments()
	if len(segs) == 0 {
		return 0, errors.New("test image has no segments")
	}
	home := segs[0]
	for _, s := range segs {
		if s.Offset == 0 && s.Name != SegLinkEdit {
			home = s
			break
		}
	}
	addr := home.Addr + uint64(slide)
	buf.Map(addr, hdr)
	for _, s := range segs {
		if s.Name == SegLinkEdit {
			buf.Map(s.Addr+uint64(slide), linkedit)
		}
	}
	return addr, nil
}
