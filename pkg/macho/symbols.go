package macho

import (
	"debug/macho"

	"github.com/pkg/errors"

	"github.com/grafana/backtrace/pkg/mem"
)

const (
	// nlist entries are read this many at a time
	symbolWindow = 256
	// longest symbol name read out of a string table
	maxSymbolName = 64 << 10
)

// SymbolTable is the nlist array and string table of an image, read lazily
// from the task. Addresses are runtime addresses: the table lives at
// linkEditBase + symoff where linkEditBase already includes the slide.
type SymbolTable struct {
	mem     mem.Reader
	layout  layout
	image   *Image
	cmd     macho.SymtabCmd
	symAddr uint64
	strAddr uint64
}

// SymbolTable locates the symbol and string tables of f relative to
// linkEditBase.
func (f *Image) SymbolTable(linkEditBase uint64) (*SymbolTable, error) {
	st, err := f.Symtab()
	if err != nil {
		return nil, err
	}
	return &SymbolTable{
		mem:     f.mem,
		layout:  f.layout,
		image:   f,
		cmd:     st,
		symAddr: linkEditBase + uint64(st.Symoff),
		strAddr: linkEditBase + uint64(st.Stroff),
	}, nil
}

func (t *SymbolTable) Len() int {
	return int(t.cmd.Nsyms)
}

// Scan calls fn for every entry in table order until fn returns false. A
// failed read stops the scan; entries visited before it stay visited.
func (t *SymbolTable) Scan(fn func(i int, n Nlist) bool) error {
	size := t.layout.nlistSize()
	buf := make([]byte, symbolWindow*size)
	for start := 0; start < t.Len(); start += symbolWindow {
		n := t.Len() - start
		if n > symbolWindow {
			n = symbolWindow
		}
		chunk := buf[:n*size]
		addr := t.symAddr + uint64(start*size)
		if err := t.mem.ReadMemory(addr, chunk); err != nil {
			return errors.Wrapf(err, "read nlist [%d, %d)", start, start+n)
		}
		v := view{b: chunk, order: t.image.ByteOrder}
		for j := 0; j < n; j++ {
			e, err := t.layout.nlist(v, j*size)
			if err != nil {
				return err
			}
			if !fn(start+j, e) {
				return nil
			}
		}
	}
	return nil
}

// Entry reads a single entry.
func (t *SymbolTable) Entry(i int) (Nlist, error) {
	if i < 0 || i >= t.Len() {
		return Nlist{}, errors.Errorf("symbol index %d out of range [0, %d)", i, t.Len())
	}
	size := t.layout.nlistSize()
	buf := make([]byte, size)
	if err := t.mem.ReadMemory(t.symAddr+uint64(i*size), buf); err != nil {
		return Nlist{}, err
	}
	return t.layout.nlist(view{b: buf, order: t.image.ByteOrder}, 0)
}

// Name reads the string at strx. The read never leaves the string table.
func (t *SymbolTable) Name(strx uint32) (string, error) {
	if strx >= t.cmd.Strsize {
		return "", errors.Wrapf(ErrTruncated, "string index %d past table size %d", strx, t.cmd.Strsize)
	}
	limit := int(t.cmd.Strsize - strx)
	if limit > maxSymbolName {
		limit = maxSymbolName
	}
	return mem.ReadCString(t.mem, t.strAddr+uint64(strx), limit)
}
