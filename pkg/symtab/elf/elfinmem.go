package elf

import (
	"bytes"
	"debug/elf"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/grafana/backtrace/pkg/mem"
)

const (
	pageSize = 0x1000
	maxProgs = 1 << 12
)

var (
	ErrNotELF  = errors.New("not an elf header")
	ErrNoLoads = errors.New("no PT_LOAD program header")
)

// Image is an ELF header and its program headers read out of a mapped
// image. Program headers are expected right behind the header in the first
// loaded page, where the dynamic loader leaves them.
type Image struct {
	Addr      uint64
	Class     elf.Class
	Data      elf.Data
	ByteOrder binary.ByteOrder
	Type      elf.Type
	Machine   elf.Machine
	Progs     []elf.ProgHeader
}

// Probe reports whether addr starts with the ELF magic.
func Probe(r mem.Reader, addr uint64) bool {
	var magic [4]byte
	if err := r.ReadMemory(addr, magic[:]); err != nil {
		return false
	}
	return string(magic[:]) == elf.ELFMAG
}

func Open(r mem.Reader, addr uint64) (*Image, error) {
	var ident [elf.EI_NIDENT]byte
	if err := r.ReadMemory(addr, ident[:]); err != nil {
		return nil, errors.Wrap(err, "read elf ident")
	}
	if string(ident[:4]) != elf.ELFMAG {
		return nil, errors.Wrapf(ErrNotELF, "magic %x at 0x%x", ident[:4], addr)
	}
	f := &Image{Addr: addr, Class: elf.Class(ident[elf.EI_CLASS]), Data: elf.Data(ident[elf.EI_DATA])}
	switch f.Data {
	case elf.ELFDATA2LSB:
		f.ByteOrder = binary.LittleEndian
	case elf.ELFDATA2MSB:
		f.ByteOrder = binary.BigEndian
	default:
		return nil, errors.Wrapf(ErrNotELF, "data encoding %v", f.Data)
	}

	var (
		phoff     uint64
		phentsize int
		phnum     int
		want      int
	)
	switch f.Class {
	case elf.ELFCLASS64:
		var h elf.Header64
		if err := readRecord(r, addr, f.ByteOrder, &h); err != nil {
			return nil, err
		}
		f.Type, f.Machine = elf.Type(h.Type), elf.Machine(h.Machine)
		phoff, phentsize, phnum = h.Phoff, int(h.Phentsize), int(h.Phnum)
		want = binary.Size(elf.Prog64{})
	case elf.ELFCLASS32:
		var h elf.Header32
		if err := readRecord(r, addr, f.ByteOrder, &h); err != nil {
			return nil, err
		}
		f.Type, f.Machine = elf.Type(h.Type), elf.Machine(h.Machine)
		phoff, phentsize, phnum = uint64(h.Phoff), int(h.Phentsize), int(h.Phnum)
		want = binary.Size(elf.Prog32{})
	default:
		return nil, errors.Wrapf(ErrNotELF, "class %v", f.Class)
	}
	if phnum == 0 {
		return f, nil
	}
	if phentsize < want || phnum > maxProgs {
		return nil, errors.Errorf("bad program header table: phentsize %d phnum %d", phentsize, phnum)
	}

	table := make([]byte, phentsize*phnum)
	if err := r.ReadMemory(addr+phoff, table); err != nil {
		return nil, errors.Wrap(err, "read program headers")
	}
	f.Progs = make([]elf.ProgHeader, 0, phnum)
	for i := 0; i < phnum; i++ {
		rec := bytes.NewReader(table[i*phentsize : i*phentsize+want])
		switch f.Class {
		case elf.ELFCLASS64:
			var p elf.Prog64
			if err := binary.Read(rec, f.ByteOrder, &p); err != nil {
				return nil, err
			}
			f.Progs = append(f.Progs, elf.ProgHeader{
				Type: elf.ProgType(p.Type), Flags: elf.ProgFlag(p.Flags),
				Off: p.Off, Vaddr: p.Vaddr, Paddr: p.Paddr,
				Filesz: p.Filesz, Memsz: p.Memsz, Align: p.Align,
			})
		case elf.ELFCLASS32:
			var p elf.Prog32
			if err := binary.Read(rec, f.ByteOrder, &p); err != nil {
				return nil, err
			}
			f.Progs = append(f.Progs, elf.ProgHeader{
				Type: elf.ProgType(p.Type), Flags: elf.ProgFlag(p.Flags),
				Off: uint64(p.Off), Vaddr: uint64(p.Vaddr), Paddr: uint64(p.Paddr),
				Filesz: uint64(p.Filesz), Memsz: uint64(p.Memsz), Align: uint64(p.Align),
			})
		}
	}
	return f, nil
}

func readRecord(r mem.Reader, addr uint64, order binary.ByteOrder, data interface{}) error {
	buf := make([]byte, binary.Size(data))
	if err := r.ReadMemory(addr, buf); err != nil {
		return errors.Wrap(err, "read elf header")
	}
	return binary.Read(bytes.NewReader(buf), order, data)
}

// Loads returns the PT_LOAD program headers in table order.
func (f *Image) Loads() []elf.ProgHeader {
	var res []elf.ProgHeader
	for _, p := range f.Progs {
		if p.Type == elf.PT_LOAD {
			res = append(res, p)
		}
	}
	return res
}

// Base is the page aligned link-time address the header was loaded from:
// the first PT_LOAD minus its file offset.
func (f *Image) Base() (uint64, error) {
	loads := f.Loads()
	if len(loads) == 0 {
		return 0, ErrNoLoads
	}
	first := loads[0]
	return (first.Vaddr - first.Off) &^ (pageSize - 1), nil
}

// Slide is the distance between where the image is mapped and where it was
// linked to run. It is zero for ET_EXEC images mapped at their link address.
func (f *Image) Slide() (int64, error) {
	base, err := f.Base()
	if err != nil {
		return 0, err
	}
	return int64(f.Addr - base), nil
}
