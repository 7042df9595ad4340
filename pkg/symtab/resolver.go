package symtab

import (
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/grafana/backtrace/pkg/macho"
)

// SymbolMatch is one resolved address. Address is the runtime address of
// the symbol; Offset is how far past it the query address lies.
type SymbolMatch struct {
	Image   string
	Symbol  string
	Address uint64
	Offset  uint64
}

type ResolverOptions struct {
	// Root is prepended to ELF image paths, such as /proc/<pid>/root.
	Root     string
	ElfCache *ElfCache // nil means a private cache
	Metrics  *Metrics  // may be nil for tests
}

// Resolver maps addresses to the nearest preceding symbol of their image.
// It is safe for concurrent use when the catalog's reader and lister are.
type Resolver struct {
	logger  log.Logger
	catalog *Catalog
	options ResolverOptions
	elf     *elfLoader
}

func NewResolver(logger log.Logger, catalog *Catalog, options ResolverOptions) (*Resolver, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if options.ElfCache == nil {
		cache, err := NewElfCache(ElfCacheOptions{BuildIDCacheSize: 64, SameFileCacheSize: 64})
		if err != nil {
			return nil, err
		}
		options.ElfCache = cache
	}
	return &Resolver{
		logger:  logger,
		catalog: catalog,
		options: options,
		elf:     newElfLoader(logger, options.Root, options.ElfCache, options.Metrics),
	}, nil
}

// Lookup resolves one runtime address using a single enumeration pass.
func (r *Resolver) Lookup(addr uint64) (SymbolMatch, error) {
	img, err := r.catalog.find(addr)
	if err != nil {
		if r.options.Metrics != nil {
			r.options.Metrics.UnknownModules.Inc()
		}
		return SymbolMatch{}, err
	}
	var linkEditBase uint64
	if img.Format == FormatMachO {
		base, err := img.linkEditBase()
		if err != nil {
			r.unknown(img, addr, err)
			return SymbolMatch{}, err
		}
		linkEditBase = base + uint64(img.Slide)
	}
	return r.resolve(img, addr, linkEditBase, img.Slide)
}

// Resolve finds the symbol of image i nearest at or below addr. For Mach-O
// images linkEditBase is the runtime (slid) __LINKEDIT base; ELF images
// ignore it.
func (r *Resolver) Resolve(i int, addr, linkEditBase uint64, slide int64) (SymbolMatch, error) {
	img, err := r.catalog.Image(i)
	if err != nil {
		return SymbolMatch{}, err
	}
	return r.resolve(img, addr, linkEditBase, slide)
}

func (r *Resolver) resolve(img LoadedImage, addr, linkEditBase uint64, slide int64) (SymbolMatch, error) {
	var (
		m   SymbolMatch
		err error
	)
	switch img.Format {
	case FormatMachO:
		m, err = r.resolveMachO(img, addr, linkEditBase, slide)
	case FormatELF:
		m, err = r.resolveELF(img, addr, slide)
	default:
		err = errors.Wrapf(ErrUnknownFormat, "image %q", img.Name)
	}
	if err != nil {
		r.unknown(img, addr, err)
		return SymbolMatch{}, err
	}
	if r.options.Metrics != nil {
		r.options.Metrics.KnownSymbols.WithLabelValues(string(img.Format)).Inc()
	}
	return m, nil
}

func (r *Resolver) unknown(img LoadedImage, addr uint64, err error) {
	level.Debug(r.logger).Log("msg", "unresolved address", "addr", hex(addr), "image", imageName(img.Name), "err", err)
	if r.options.Metrics != nil {
		r.options.Metrics.UnknownSymbols.WithLabelValues(string(img.Format)).Inc()
	}
}

func (r *Resolver) resolveMachO(img LoadedImage, addr, linkEditBase uint64, slide int64) (SymbolMatch, error) {
	st, err := img.macho.SymbolTable(linkEditBase)
	if err != nil {
		return SymbolMatch{}, notFound(err)
	}
	q := addr - uint64(slide)
	var best nearest
	var strx uint32
	err = st.Scan(func(i int, n macho.Nlist) bool {
		if best.offer(q, n.Value, i) {
			strx = n.Strx
		}
		return true
	})
	if err != nil {
		return SymbolMatch{}, notFound(err)
	}
	if !best.found {
		return SymbolMatch{}, errors.Wrapf(ErrNotFound, "no symbol at or below 0x%x", q)
	}
	name, err := st.Name(strx)
	if err != nil {
		level.Debug(r.logger).Log("msg", "unreadable symbol name", "strx", strx, "err", err)
		name = ""
	}
	return SymbolMatch{
		Image:   imageName(img.Name),
		Symbol:  machoSymbolName(name),
		Address: best.value + uint64(slide),
		Offset:  q - best.value,
	}, nil
}

func (r *Resolver) resolveELF(img LoadedImage, addr uint64, slide int64) (SymbolMatch, error) {
	st, err := r.elf.symbols(img.Name)
	if err != nil {
		return SymbolMatch{}, notFound(err)
	}
	q := addr - uint64(slide)
	var best nearest
	for i, s := range st.Symbols {
		best.offer(q, s.Value, i)
	}
	if !best.found {
		return SymbolMatch{}, errors.Wrapf(ErrNotFound, "no symbol at or below 0x%x", q)
	}
	return SymbolMatch{
		Image:   imageName(img.Name),
		Symbol:  elfSymbolName(st.Symbols[best.index].Name),
		Address: best.value + uint64(slide),
		Offset:  q - best.value,
	}, nil
}

// nearest tracks the symbol with the greatest value not above a query.
// Among equal values the first one offered wins.
type nearest struct {
	found bool
	index int
	value uint64
}

func (n *nearest) offer(q, value uint64, index int) bool {
	if value > q {
		return false
	}
	if n.found && q-value >= q-n.value {
		return false
	}
	n.found, n.index, n.value = true, index, value
	return true
}
