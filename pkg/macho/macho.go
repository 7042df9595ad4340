// Package macho reads Mach-O structures out of a mapped image: the header,
// the load-command list, segment and symtab commands, and nlist entries of
// the symbol table found through __LINKEDIT.
//
// Everything is read through a mem.Reader, so the image may live in the
// current process or in a foreign task. All offsets are bounds checked;
// a corrupt image yields an error, never a panic.
package macho

import (
	"debug/macho"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/grafana/backtrace/pkg/mem"
)

const (
	magic32Swapped = 0xcefaedfe
	magic64Swapped = 0xcffaedfe

	SegLinkEdit = "__LINKEDIT"

	loadCmdHeaderSize = 8
	// a header claiming more load-command bytes than this is treated as
	// corrupt
	maxLoadCmdsSize = 16 << 20
)

var (
	ErrNotMachO   = errors.New("not a mach-o header")
	ErrNoSymtab   = errors.New("no LC_SYMTAB load command")
	ErrNoSegment  = errors.New("segment not found")
	ErrNoLinkEdit = errors.New("no __LINKEDIT segment")
)

type Class uint8

const (
	Class32 Class = 32
	Class64 Class = 64
)

func (c Class) String() string {
	switch c {
	case Class32:
		return "mach-o32"
	case Class64:
		return "mach-o64"
	}
	return "mach-o?"
}

// layout is the width-dependent part of the format.
type layout interface {
	class() Class
	headerSize() int
	segment(v view) (Segment, error)
	nlistSize() int
	nlist(v view, off int) (Nlist, error)
}

type layout32 struct{}

func (layout32) class() Class    { return Class32 }
func (layout32) headerSize() int { return 28 }
func (layout32) nlistSize() int  { return 12 }

func (layout32) segment(v view) (Segment, error) {
	var s macho.Segment32
	if err := v.decode(0, &s); err != nil {
		return Segment{}, err
	}
	return Segment{
		Name:   cstring(s.Name[:]),
		Addr:   uint64(s.Addr),
		Memsz:  uint64(s.Memsz),
		Offset: uint64(s.Offset),
		Filesz: uint64(s.Filesz),
	}, nil
}

func (layout32) nlist(v view, off int) (Nlist, error) {
	if err := v.check(off, 12); err != nil {
		return Nlist{}, err
	}
	b := v.b[off:]
	return Nlist{
		Strx:  v.order.Uint32(b[0:]),
		Type:  b[4],
		Sect:  b[5],
		Desc:  v.order.Uint16(b[6:]),
		Value: uint64(v.order.Uint32(b[8:])),
	}, nil
}

type layout64 struct{}

func (layout64) class() Class    { return Class64 }
func (layout64) headerSize() int { return 32 }
func (layout64) nlistSize() int  { return 16 }

func (layout64) segment(v view) (Segment, error) {
	var s macho.Segment64
	if err := v.decode(0, &s); err != nil {
		return Segment{}, err
	}
	return Segment{
		Name:   cstring(s.Name[:]),
		Addr:   s.Addr,
		Memsz:  s.Memsz,
		Offset: s.Offset,
		Filesz: s.Filesz,
	}, nil
}

func (layout64) nlist(v view, off int) (Nlist, error) {
	if err := v.check(off, 16); err != nil {
		return Nlist{}, err
	}
	b := v.b[off:]
	return Nlist{
		Strx:  v.order.Uint32(b[0:]),
		Type:  b[4],
		Sect:  b[5],
		Desc:  v.order.Uint16(b[6:]),
		Value: v.order.Uint64(b[8:]),
	}, nil
}

// Segment is an LC_SEGMENT or LC_SEGMENT_64 command.
type Segment struct {
	Name   string
	Addr   uint64
	Memsz  uint64
	Offset uint64
	Filesz uint64
}

// Contains reports whether a link-time address is inside [Addr, Addr+Memsz).
func (s Segment) Contains(addr uint64) bool {
	return addr >= s.Addr && addr-s.Addr < s.Memsz
}

// Nlist is a symbol table entry of either width.
type Nlist struct {
	Strx  uint32
	Type  uint8
	Sect  uint8
	Desc  uint16
	Value uint64
}

type LoadCommand struct {
	Cmd  macho.LoadCmd
	Size uint32
	data view
}

// Image is a Mach-O header and its load commands, copied out of memory.
type Image struct {
	Addr uint64
	macho.FileHeader
	ByteOrder binary.ByteOrder

	mem    mem.Reader
	layout layout
	cmds   view
}

func (f *Image) Class() Class {
	return f.layout.class()
}

// Probe reports whether addr starts with a Mach-O magic number.
func Probe(r mem.Reader, addr uint64) bool {
	_, _, err := classify(r, addr)
	return err == nil
}

func classify(r mem.Reader, addr uint64) (layout, binary.ByteOrder, error) {
	magic, err := mem.ReadUint32(r, addr, binary.LittleEndian)
	if err != nil {
		return nil, nil, err
	}
	switch magic {
	case macho.Magic32:
		return layout32{}, binary.LittleEndian, nil
	case macho.Magic64:
		return layout64{}, binary.LittleEndian, nil
	case magic32Swapped:
		return layout32{}, binary.BigEndian, nil
	case magic64Swapped:
		return layout64{}, binary.BigEndian, nil
	}
	return nil, nil, errors.Wrapf(ErrNotMachO, "magic 0x%x at 0x%x", magic, addr)
}

// Open reads the header at addr and the load commands following it.
func Open(r mem.Reader, addr uint64) (*Image, error) {
	l, order, err := classify(r, addr)
	if err != nil {
		return nil, err
	}
	hdr := make([]byte, l.headerSize())
	if err := r.ReadMemory(addr, hdr); err != nil {
		return nil, errors.Wrap(err, "read mach-o header")
	}
	f := &Image{Addr: addr, ByteOrder: order, mem: r, layout: l}
	if err := (view{b: hdr, order: order}).decode(0, &f.FileHeader); err != nil {
		return nil, err
	}
	if f.Cmdsz > maxLoadCmdsSize {
		return nil, errors.Wrapf(ErrTruncated, "load commands size %d", f.Cmdsz)
	}
	cmds := make([]byte, f.Cmdsz)
	if err := r.ReadMemory(addr+uint64(l.headerSize()), cmds); err != nil {
		return nil, errors.Wrap(err, "read load commands")
	}
	f.cmds = view{b: cmds, order: order}
	return f, nil
}

// Commands walks the load-command list once. A command running past the
// declared size ends the walk with ErrTruncated.
func (f *Image) Commands() ([]LoadCommand, error) {
	res := make([]LoadCommand, 0, f.Ncmd)
	off := 0
	for i := uint32(0); i < f.Ncmd; i++ {
		cmd, err := f.cmds.u32(off)
		if err != nil {
			return res, err
		}
		size, err := f.cmds.u32(off + 4)
		if err != nil {
			return res, err
		}
		if size < loadCmdHeaderSize {
			return res, errors.Wrapf(ErrTruncated, "load command %d size %d", i, size)
		}
		data, err := f.cmds.slice(off, int(size))
		if err != nil {
			return res, err
		}
		res = append(res, LoadCommand{Cmd: macho.LoadCmd(cmd), Size: size, data: data})
		off += int(size)
	}
	return res, nil
}

// Segments returns the segment commands in load-command order, whatever
// their width. Segments decoded before a corrupt command are returned along
// with the error.
func (f *Image) Segments() ([]Segment, error) {
	cmds, err := f.Commands()
	var res []Segment
	for _, c := range cmds {
		var (
			s      Segment
			segErr error
		)
		switch c.Cmd {
		case macho.LoadCmdSegment:
			s, segErr = layout32{}.segment(c.data)
		case macho.LoadCmdSegment64:
			s, segErr = layout64{}.segment(c.data)
		default:
			continue
		}
		if segErr != nil {
			return res, segErr
		}
		res = append(res, s)
	}
	return res, err
}

func (f *Image) Segment(name string) (Segment, error) {
	segs, err := f.Segments()
	for _, s := range segs {
		if s.Name == name {
			return s, nil
		}
	}
	if err != nil {
		return Segment{}, err
	}
	return Segment{}, errors.Wrapf(ErrNoSegment, "segment %s", name)
}

// LinkEditBase is vmaddr - fileoff of __LINKEDIT: adding a file offset of
// the symbol or string table gives its link-time address.
func (f *Image) LinkEditBase() (uint64, error) {
	s, err := f.Segment(SegLinkEdit)
	if errors.Is(err, ErrNoSegment) {
		return 0, ErrNoLinkEdit
	}
	if err != nil {
		return 0, err
	}
	return s.Addr - s.Offset, nil
}

func (f *Image) Symtab() (macho.SymtabCmd, error) {
	cmds, err := f.Commands()
	var res *macho.SymtabCmd
	for _, c := range cmds {
		if c.Cmd != macho.LoadCmdSymtab {
			continue
		}
		var st macho.SymtabCmd
		if decodeErr := c.data.decode(0, &st); decodeErr != nil {
			return macho.SymtabCmd{}, decodeErr
		}
		res = &st
	}
	if res != nil {
		return *res, nil
	}
	if err != nil {
		return macho.SymtabCmd{}, err
	}
	return macho.SymtabCmd{}, ErrNoSymtab
}
