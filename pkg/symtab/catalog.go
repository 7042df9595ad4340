package symtab

import (
	"debug/elf"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/grafana/backtrace/pkg/loader"
	"github.com/grafana/backtrace/pkg/macho"
	"github.com/grafana/backtrace/pkg/mem"
	elf2 "github.com/grafana/backtrace/pkg/symtab/elf"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrUnknownFormat = errors.New("unknown image format")
)

// Catalog answers which loaded image owns an address. Nothing is cached:
// every call enumerates the images again, so the answer reflects the images
// loaded at the time of the call.
type Catalog struct {
	logger log.Logger
	lister loader.Lister
	mem    mem.Reader
}

func NewCatalog(logger log.Logger, lister loader.Lister, m mem.Reader) *Catalog {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Catalog{logger: logger, lister: lister, mem: m}
}

// ImageContaining returns the enumeration index of the first image with a
// segment containing addr. Overlapping images resolve to the one listed
// first.
func (c *Catalog) ImageContaining(addr uint64) (int, error) {
	img, err := c.find(addr)
	if err != nil {
		return -1, err
	}
	return img.Index, nil
}

func (c *Catalog) SegmentsOf(i int) ([]Segment, error) {
	img, err := c.Image(i)
	if err != nil {
		return nil, err
	}
	return img.Segments, nil
}

func (c *Catalog) SlideOf(i int) (int64, error) {
	infos, err := c.lister.Images()
	if err != nil {
		return 0, err
	}
	if i < 0 || i >= len(infos) {
		return 0, errors.Wrapf(ErrNotFound, "image %d of %d", i, len(infos))
	}
	return infos[i].Slide, nil
}

// LinkEditBaseOf returns vmaddr - fileoff of the image's __LINKEDIT segment,
// not adjusted for the slide.
func (c *Catalog) LinkEditBaseOf(i int) (uint64, error) {
	img, err := c.Image(i)
	if err != nil {
		return 0, err
	}
	return img.linkEditBase()
}

// Image parses the i-th image of a fresh enumeration.
func (c *Catalog) Image(i int) (LoadedImage, error) {
	infos, err := c.lister.Images()
	if err != nil {
		return LoadedImage{}, err
	}
	if i < 0 || i >= len(infos) {
		return LoadedImage{}, errors.Wrapf(ErrNotFound, "image %d of %d", i, len(infos))
	}
	return c.parse(i, infos[i])
}

// Images parses every image it can. Images in an unknown format are left
// out; Index keeps their enumeration position.
func (c *Catalog) Images() ([]LoadedImage, error) {
	infos, err := c.lister.Images()
	if err != nil {
		return nil, err
	}
	res := make([]LoadedImage, 0, len(infos))
	for i, info := range infos {
		img, err := c.parse(i, info)
		if err != nil {
			level.Debug(c.logger).Log("msg", "skipping image", "name", info.Name, "err", err)
			continue
		}
		res = append(res, img)
	}
	return res, nil
}

func (c *Catalog) find(addr uint64) (LoadedImage, error) {
	infos, err := c.lister.Images()
	if err != nil {
		return LoadedImage{}, err
	}
	for i, info := range infos {
		img, err := c.parse(i, info)
		if err != nil {
			level.Debug(c.logger).Log("msg", "skipping image", "name", info.Name, "err", err)
			continue
		}
		if img.Contains(addr) {
			return img, nil
		}
	}
	return LoadedImage{}, errors.Wrapf(ErrNotFound, "no image contains 0x%x", addr)
}

func (c *Catalog) parse(i int, info loader.ImageInfo) (LoadedImage, error) {
	img := LoadedImage{Index: i, Header: info.Header, Slide: info.Slide, Name: info.Name}
	switch {
	case macho.Probe(c.mem, info.Header):
		f, err := macho.Open(c.mem, info.Header)
		if err != nil {
			return img, err
		}
		segs, err := f.Segments()
		if err != nil {
			if len(segs) == 0 {
				return img, err
			}
			level.Debug(c.logger).Log("msg", "load commands truncated", "name", info.Name, "segments", len(segs), "err", err)
		}
		img.Format, img.Bits, img.macho = FormatMachO, int(f.Class()), f
		img.Segments = segmentsFromMachO(segs)
	case elf2.Probe(c.mem, info.Header):
		f, err := elf2.Open(c.mem, info.Header)
		if err != nil {
			return img, err
		}
		img.Format, img.elf = FormatELF, f
		img.Bits = 64
		if f.Class == elf.ELFCLASS32 {
			img.Bits = 32
		}
		img.Segments = segmentsFromELF(f)
	default:
		return img, errors.Wrapf(ErrUnknownFormat, "image %q at 0x%x", info.Name, info.Header)
	}
	return img, nil
}

func (img *LoadedImage) linkEditBase() (uint64, error) {
	if img.macho == nil {
		return 0, errors.Wrapf(ErrNotFound, "%s is not a mach-o image", imageName(img.Name))
	}
	base, err := img.macho.LinkEditBase()
	if err != nil {
		return 0, notFound(err)
	}
	return base, nil
}

// notFound marks err as ErrNotFound while keeping its message.
func notFound(err error) error {
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return errors.Wrap(ErrNotFound, err.Error())
}
