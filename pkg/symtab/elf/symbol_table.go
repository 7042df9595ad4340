package elf

import (
	"bytes"
	"debug/elf"
	"io"

	"github.com/pkg/errors"
	"github.com/ulikunitz/xz"
)

// symbols from .symtab, .dynsym

// mini debug info larger than this is not decompressed
const maxMiniDebugInfo = 256 << 20

var ErrNoSymbols = errors.New("no symbols")

type Symbol struct {
	Name  string
	Value uint64
}

// SymbolTable holds function symbols in table order: .symtab entries first,
// then .dynsym entries.
type SymbolTable struct {
	Symbols       []Symbol
	File          string
	MiniDebugInfo bool
}

func (st *SymbolTable) Size() int {
	return len(st.Symbols)
}

func (f *File) NewSymbolTable() (*SymbolTable, error) {
	syms, err := functionSymbols(f.File)
	if err != nil {
		return nil, err
	}
	return &SymbolTable{Symbols: syms, File: f.fpath}, nil
}

// NewMiniDebugInfoSymbolTable reads the xz compressed ELF object in
// .gnu_debugdata that stripped binaries of some distributions carry.
func (f *File) NewMiniDebugInfoSymbolTable() (*SymbolTable, error) {
	data, err := f.SectionData(".gnu_debugdata")
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, ErrNoSymbols
	}
	reader, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "gnu_debugdata")
	}
	var uncompressed bytes.Buffer
	n, err := io.Copy(&uncompressed, io.LimitReader(reader, maxMiniDebugInfo+1))
	if err != nil {
		return nil, errors.Wrap(err, "gnu_debugdata")
	}
	if n > maxMiniDebugInfo {
		return nil, errors.Errorf("gnu_debugdata of %s too large", f.fpath)
	}
	mini, err := elf.NewFile(bytes.NewReader(uncompressed.Bytes()))
	if err != nil {
		return nil, errors.Wrap(err, "gnu_debugdata")
	}
	syms, err := functionSymbols(mini)
	if err != nil {
		return nil, err
	}
	return &SymbolTable{Symbols: syms, File: f.fpath, MiniDebugInfo: true}, nil
}

// LoadSymbolTable tries the regular tables first and falls back to mini
// debug info.
func (f *File) LoadSymbolTable() (*SymbolTable, error) {
	st, err := f.NewSymbolTable()
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, ErrNoSymbols) {
		return nil, err
	}
	return f.NewMiniDebugInfoSymbolTable()
}

func functionSymbols(ef *elf.File) ([]Symbol, error) {
	sym, err := ef.Symbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, err
	}
	dynsym, err := ef.DynamicSymbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, err
	}
	res := make([]Symbol, 0, len(sym)+len(dynsym))
	add := func(t []elf.Symbol) {
		for _, s := range t {
			if s.Value == 0 || s.Section == elf.SHN_UNDEF || elf.ST_TYPE(s.Info) != elf.STT_FUNC {
				continue
			}
			res = append(res, Symbol{Name: s.Name, Value: s.Value})
		}
	}
	add(sym)
	add(dynsym)
	if len(res) == 0 {
		return nil, ErrNoSymbols
	}
	return res, nil
}
