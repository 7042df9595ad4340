package symtab

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/grafana/backtrace/pkg/loader"
	"github.com/grafana/backtrace/pkg/macho"
	"github.com/grafana/backtrace/pkg/mem"
)

func TestImageContaining(t *testing.T) {
	slides := []int64{0, 0x4000, 0x7f0000000}
	for _, slide := range slides {
		t.Run(hex(uint64(slide)), func(t *testing.T) {
			f := newFixture()
			f.addMachO(t, "/usr/lib/libA.dylib", textImage(0x1000, 0x1000), slide)
			f.addMachO(t, "/usr/lib/libB.dylib", textImage(0x100000, 0x2000), slide)
			c := f.catalog(t)

			i, err := c.ImageContaining(0x1000 + uint64(slide))
			require.NoError(t, err)
			require.Equal(t, 0, i)
			i, err = c.ImageContaining(0x1fff + uint64(slide))
			require.NoError(t, err)
			require.Equal(t, 0, i)
			i, err = c.ImageContaining(0x101000 + uint64(slide))
			require.NoError(t, err)
			require.Equal(t, 1, i)

			for _, foreign := range []uint64{0x3000 + uint64(slide), 0x50000 + uint64(slide), 0xdead0000000, 0} {
				_, err = c.ImageContaining(foreign)
				require.True(t, errors.Is(err, ErrNotFound), "0x%x", foreign)
			}
			if slide != 0 {
				_, err = c.ImageContaining(0x1500)
				require.True(t, errors.Is(err, ErrNotFound))
			}
		})
	}
}

func TestImageContainingFirstMatchWins(t *testing.T) {
	f := newFixture()
	f.addMachO(t, "first", textImage(0x1000, 0x2000), 0)
	// same link-time range, mapped elsewhere, slid back onto the first one
	ti := textImage(0x1000, 0x2000)
	hdr, err := ti.Map(f.buf, 0x100000)
	require.NoError(t, err)
	f.images = append(f.images, loader.ImageInfo{Header: hdr, Slide: 0, Name: "second"})

	i, err := f.catalog(t).ImageContaining(0x1800)
	require.NoError(t, err)
	require.Equal(t, 0, i)
}

func TestCatalogAccessors(t *testing.T) {
	f := newFixture()
	f.addMachO(t, "a", textImage(0x1000, 0x1000), 0x8000)
	f.images = append(f.images, loader.ImageInfo{Header: 0xbad000, Name: "unmapped"})
	c := f.catalog(t)

	segs, err := c.SegmentsOf(0)
	require.NoError(t, err)
	require.Equal(t, []Segment{
		{Name: "__TEXT", VMAddr: 0x1000, VMSize: 0x1000, FileOff: 0, FileSize: 0x1000},
		{Name: "__LINKEDIT", VMAddr: 0x2000, VMSize: 0x1000, FileOff: 0x1000, FileSize: 0x1000},
	}, segs)

	slide, err := c.SlideOf(0)
	require.NoError(t, err)
	require.Equal(t, int64(0x8000), slide)

	base, err := c.LinkEditBaseOf(0)
	require.NoError(t, err)
	require.Equal(t, uint64(0x1000), base)

	img, err := c.Image(0)
	require.NoError(t, err)
	require.Equal(t, FormatMachO, img.Format)
	require.Equal(t, 64, img.Bits)
	require.Equal(t, uint64(0x9000), img.Header)

	_, err = c.Image(1)
	require.True(t, errors.Is(err, ErrUnknownFormat))
	for _, i := range []int{-1, 2} {
		_, err = c.SlideOf(i)
		require.True(t, errors.Is(err, ErrNotFound))
		_, err = c.SegmentsOf(i)
		require.True(t, errors.Is(err, ErrNotFound))
		_, err = c.LinkEditBaseOf(i)
		require.True(t, errors.Is(err, ErrNotFound))
	}

	images, err := c.Images()
	require.NoError(t, err)
	require.Len(t, images, 1)
	require.Equal(t, "a", images[0].Name)
}

func TestLinkEditBaseMissing(t *testing.T) {
	ti := textImage(0x1000, 0x1000)
	hdr, _, err := ti.Build()
	require.NoError(t, err)
	for i := 0; i+10 <= len(hdr); i++ {
		if string(hdr[i:i+10]) == macho.SegLinkEdit {
			copy(hdr[i:], "__RENAMED_")
		}
	}
	buf := mem.NewBuffer(mem.Region{Addr: 0x1000, Data: hdr})
	c := NewCatalog(nil, loader.Static{{Header: 0x1000}}, buf)
	_, err = c.LinkEditBaseOf(0)
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestCatalogListsEveryCall(t *testing.T) {
	f := newFixture()
	f.addMachO(t, "a", textImage(0x1000, 0x1000), 0)
	calls := 0
	loaded := false
	lister := loader.ListerFunc(func() ([]loader.ImageInfo, error) {
		calls++
		if !loaded {
			return nil, nil
		}
		return f.images, nil
	})
	c := NewCatalog(nil, lister, f.buf)

	_, err := c.ImageContaining(0x1800)
	require.True(t, errors.Is(err, ErrNotFound))
	loaded = true
	i, err := c.ImageContaining(0x1800)
	require.NoError(t, err)
	require.Equal(t, 0, i)
	require.Equal(t, 2, calls)
}

func TestCatalogListerError(t *testing.T) {
	boom := errors.New("boom")
	c := NewCatalog(nil, loader.ListerFunc(func() ([]loader.ImageInfo, error) { return nil, boom }), mem.NewBuffer())
	_, err := c.ImageContaining(0x1000)
	require.True(t, errors.Is(err, boom))
	_, err = c.Images()
	require.True(t, errors.Is(err, boom))
}

func TestCatalogTruncatedImage(t *testing.T) {
	ti := textImage(0x1000, 0x1000)
	hdr, _, err := ti.Build()
	require.NoError(t, err)
	// second command claims to run past the command area
	hdr[32+72+4] = 0xff
	buf := mem.NewBuffer(mem.Region{Addr: 0x1000, Data: hdr})
	c := NewCatalog(nil, loader.Static{{Header: 0x1000, Name: "broken"}}, buf)

	i, err := c.ImageContaining(0x1800)
	require.NoError(t, err)
	require.Equal(t, 0, i)
	segs, err := c.SegmentsOf(0)
	require.NoError(t, err)
	require.Len(t, segs, 1)
}
