package macho

import (
	"bytes"
	"debug/macho"
	"encoding/binary"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/grafana/backtrace/pkg/mem"
)

func testImage() TestImage {
	return TestImage{
		Segments: []Segment{
			{Name: "__TEXT", Addr: 0x1000, Memsz: 0x1000, Offset: 0, Filesz: 0x1000},
			{Name: "__DATA", Addr: 0x2000, Memsz: 0x1000, Offset: 0x1000, Filesz: 0x1000},
		},
		Symbols: []TestSymbol{
			{Name: "_foo", Value: 0x1010},
			{Name: "_bar", Value: 0x1050},
			{Name: "", Value: 0x1080},
		},
	}
}

func TestOpen(t *testing.T) {
	variants := []struct {
		name  string
		class Class
		order binary.ByteOrder
	}{
		{"64", Class64, binary.LittleEndian},
		{"32", Class32, binary.LittleEndian},
		{"64 swapped", Class64, binary.BigEndian},
		{"32 swapped", Class32, binary.BigEndian},
	}
	slides := []int64{0, 0x4000, 0x7f0000000}
	for _, v := range variants {
		for _, slide := range slides {
			t.Run(v.name, func(t *testing.T) {
				if v.class == Class32 && slide > 0xffffffff {
					t.Skip()
				}
				ti := testImage()
				ti.Class = v.class
				ti.ByteOrder = v.order
				buf := mem.NewBuffer()
				addr, err := ti.Map(buf, slide)
				require.NoError(t, err)
				require.Equal(t, uint64(0x1000+slide), addr)
				require.True(t, Probe(buf, addr))

				f, err := Open(buf, addr)
				require.NoError(t, err)
				require.Equal(t, v.class, f.Class())
				require.Equal(t, v.order, f.ByteOrder)

				segs, err := f.Segments()
				require.NoError(t, err)
				require.Len(t, segs, 3)
				require.Equal(t, "__TEXT", segs[0].Name)
				require.Equal(t, "__DATA", segs[1].Name)
				require.Equal(t, SegLinkEdit, segs[2].Name)
				require.True(t, segs[0].Contains(0x1fff))
				require.False(t, segs[0].Contains(0x2000))

				base, err := f.LinkEditBase()
				require.NoError(t, err)
				require.Equal(t, uint64(0x1000), base)

				st, err := f.SymbolTable(base + uint64(slide))
				require.NoError(t, err)
				require.Equal(t, 3, st.Len())
				var values []uint64
				var names []string
				err = st.Scan(func(i int, n Nlist) bool {
					values = append(values, n.Value)
					name, err := st.Name(n.Strx)
					require.NoError(t, err)
					names = append(names, name)
					return true
				})
				require.NoError(t, err)
				require.Equal(t, []uint64{0x1010, 0x1050, 0x1080}, values)
				require.Equal(t, []string{"_foo", "_bar", ""}, names)

				e, err := st.Entry(1)
				require.NoError(t, err)
				require.Equal(t, uint64(0x1050), e.Value)
			})
		}
	}
}

func TestProbeNotMachO(t *testing.T) {
	buf := mem.NewBuffer(mem.Region{Addr: 0x1000, Data: []byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0}})
	require.False(t, Probe(buf, 0x1000))
	require.False(t, Probe(buf, 0x9000))
	_, err := Open(buf, 0x1000)
	require.True(t, errors.Is(err, ErrNotMachO))
}

func TestNoSymtab(t *testing.T) {
	ti := testImage()
	ti.NoSymtab = true
	buf := mem.NewBuffer()
	addr, err := ti.Map(buf, 0)
	require.NoError(t, err)
	f, err := Open(buf, addr)
	require.NoError(t, err)
	_, err = f.SymbolTable(0x1000)
	require.True(t, errors.Is(err, ErrNoSymtab))
}

func TestNoLinkEdit(t *testing.T) {
	ti := testImage()
	ti.Segments = append(ti.Segments, Segment{Name: "__OTHER", Addr: 0x3000, Memsz: 0x1000, Offset: 0x2000})
	hdr, _, err := ti.Build()
	require.NoError(t, err)
	// rename __LINKEDIT in place
	i := indexOf(hdr, SegLinkEdit)
	require.True(t, i > 0)
	copy(hdr[i:], "__LINKEDIX")
	buf := mem.NewBuffer(mem.Region{Addr: 0x1000, Data: hdr})
	f, err := Open(buf, 0x1000)
	require.NoError(t, err)
	_, err = f.LinkEditBase()
	require.True(t, errors.Is(err, ErrNoLinkEdit))
	_, err = f.Segment("__NOPE")
	require.True(t, errors.Is(err, ErrNoSegment))
}

func TestMixedWidthSegments(t *testing.T) {
	var name [16]byte
	copy(name[:], "__EXTRA")
	for _, class := range []Class{Class64, Class32} {
		t.Run(class.String(), func(t *testing.T) {
			ti := testImage()
			ti.Class = class
			hdr, _, err := ti.Build()
			require.NoError(t, err)

			// append a segment command of the other width
			extra := &bytes.Buffer{}
			if class == Class64 {
				err = binary.Write(extra, binary.LittleEndian, macho.Segment32{
					Cmd: macho.LoadCmdSegment, Len: 56, Name: name,
					Addr: 0x5000, Memsz: 0x1000, Offset: 0x4000, Filesz: 0x800,
				})
			} else {
				err = binary.Write(extra, binary.LittleEndian, macho.Segment64{
					Cmd: macho.LoadCmdSegment64, Len: 72, Name: name,
					Addr: 0x5000, Memsz: 0x1000, Offset: 0x4000, Filesz: 0x800,
				})
			}
			require.NoError(t, err)
			b := append(append([]byte(nil), hdr...), extra.Bytes()...)
			binary.LittleEndian.PutUint32(b[16:], binary.LittleEndian.Uint32(b[16:])+1)
			binary.LittleEndian.PutUint32(b[20:], binary.LittleEndian.Uint32(b[20:])+uint32(extra.Len()))

			f, err := Open(mem.NewBuffer(mem.Region{Addr: 0x1000, Data: b}), 0x1000)
			require.NoError(t, err)
			segs, err := f.Segments()
			require.NoError(t, err)
			require.Len(t, segs, 4)
			require.Equal(t, Segment{Name: "__EXTRA", Addr: 0x5000, Memsz: 0x1000, Offset: 0x4000, Filesz: 0x800}, segs[3])

			s, err := f.Segment("__EXTRA")
			require.NoError(t, err)
			require.True(t, s.Contains(0x5fff))

			base, err := f.LinkEditBase()
			require.NoError(t, err)
			require.Equal(t, uint64(0x1000), base)
		})
	}
}

func TestTruncatedCommands(t *testing.T) {
	hdr, _, err := testImage().Build()
	require.NoError(t, err)

	t.Run("cmd size past end", func(t *testing.T) {
		b := append([]byte(nil), hdr...)
		// first command size
		binary.LittleEndian.PutUint32(b[32+4:], 0xffff)
		f, err := Open(mem.NewBuffer(mem.Region{Addr: 0x1000, Data: b}), 0x1000)
		require.NoError(t, err)
		_, err = f.Segments()
		require.True(t, errors.Is(err, ErrTruncated))
		_, err = f.Symtab()
		require.True(t, errors.Is(err, ErrTruncated))
	})
	t.Run("cmd size too small", func(t *testing.T) {
		b := append([]byte(nil), hdr...)
		binary.LittleEndian.PutUint32(b[32+4:], 4)
		f, err := Open(mem.NewBuffer(mem.Region{Addr: 0x1000, Data: b}), 0x1000)
		require.NoError(t, err)
		_, err = f.Segments()
		require.True(t, errors.Is(err, ErrTruncated))
	})
	t.Run("ncmds too large", func(t *testing.T) {
		b := append([]byte(nil), hdr...)
		binary.LittleEndian.PutUint32(b[16:], 1000)
		f, err := Open(mem.NewBuffer(mem.Region{Addr: 0x1000, Data: b}), 0x1000)
		require.NoError(t, err)
		segs, err := f.Segments()
		require.True(t, errors.Is(err, ErrTruncated))
		require.Len(t, segs, 3)
	})
	t.Run("load commands unmapped", func(t *testing.T) {
		b := append([]byte(nil), hdr[:40]...)
		_, err := Open(mem.NewBuffer(mem.Region{Addr: 0x1000, Data: b}), 0x1000)
		require.True(t, errors.Is(err, mem.ErrFault))
	})
	t.Run("huge cmdsz", func(t *testing.T) {
		b := append([]byte(nil), hdr...)
		binary.LittleEndian.PutUint32(b[20:], 0xffffffff)
		_, err := Open(mem.NewBuffer(mem.Region{Addr: 0x1000, Data: b}), 0x1000)
		require.True(t, errors.Is(err, ErrTruncated))
	})
}

func TestSymbolTableBounds(t *testing.T) {
	ti := testImage()
	buf := mem.NewBuffer()
	addr, err := ti.Map(buf, 0)
	require.NoError(t, err)
	f, err := Open(buf, addr)
	require.NoError(t, err)
	st, err := f.SymbolTable(0x1000)
	require.NoError(t, err)

	_, err = st.Name(1 << 20)
	require.True(t, errors.Is(err, ErrTruncated))
	_, err = st.Entry(3)
	require.Error(t, err)

	// a table whose entries are not mapped
	st, err = f.SymbolTable(0x100000)
	require.NoError(t, err)
	err = st.Scan(func(int, Nlist) bool { return true })
	require.True(t, errors.Is(err, mem.ErrFault))
}

func TestScanWindows(t *testing.T) {
	ti := testImage()
	ti.Symbols = nil
	for i := 0; i < 3*symbolWindow+7; i++ {
		ti.Symbols = append(ti.Symbols, TestSymbol{Name: "_s", Value: uint64(0x1000 + i)})
	}
	buf := mem.NewBuffer()
	addr, err := ti.Map(buf, 0)
	require.NoError(t, err)
	f, err := Open(buf, addr)
	require.NoError(t, err)
	st, err := f.SymbolTable(0x1000)
	require.NoError(t, err)

	seen := 0
	require.NoError(t, st.Scan(func(i int, n Nlist) bool {
		require.Equal(t, seen, i)
		require.Equal(t, uint64(0x1000+i), n.Value)
		seen++
		return true
	}))
	require.Equal(t, len(ti.Symbols), seen)

	seen = 0
	require.NoError(t, st.Scan(func(i int, n Nlist) bool {
		seen++
		return i < 10
	}))
	require.Equal(t, 11, seen)
}

func indexOf(b []byte, s string) int {
	for i := 0; i+len(s) <= len(b); i++ {
		if string(b[i:i+len(s)]) == s {
			return i
		}
	}
	return -1
}
