package symtab

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grafana/backtrace/pkg/loader"
	"github.com/grafana/backtrace/pkg/macho"
	"github.com/grafana/backtrace/pkg/mem"
	"github.com/grafana/backtrace/pkg/test"
)

type fixture struct {
	buf    *mem.Buffer
	images loader.Static
}

func newFixture() *fixture {
	return &fixture{buf: mem.NewBuffer()}
}

func (f *fixture) addMachO(t *testing.T, name string, ti macho.TestImage, slide int64) int {
	hdr, err := ti.Map(f.buf, slide)
	require.NoError(t, err)
	f.images = append(f.images, loader.ImageInfo{Header: hdr, Slide: slide, Name: name})
	return len(f.images) - 1
}

func (f *fixture) catalog(t *testing.T) *Catalog {
	return NewCatalog(test.NewTestingLogger(t), f.images, f.buf)
}

func (f *fixture) resolver(t *testing.T, options ResolverOptions) *Resolver {
	r, err := NewResolver(test.NewTestingLogger(t), f.catalog(t), options)
	require.NoError(t, err)
	return r
}

func textImage(base, size uint64, syms ...macho.TestSymbol) macho.TestImage {
	return macho.TestImage{
		Segments: []macho.Segment{
			{Name: "__TEXT", Addr: base, Memsz: size, Offset: 0, Filesz: size},
		},
		Symbols: syms,
	}
}
