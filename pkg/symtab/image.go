package symtab

import (
	"fmt"

	"github.com/grafana/backtrace/pkg/macho"
	elf2 "github.com/grafana/backtrace/pkg/symtab/elf"
)

type Format string

const (
	FormatMachO Format = "mach-o"
	FormatELF   Format = "elf"
)

// Segment is a contiguous link-time address range of an image.
type Segment struct {
	Name     string
	VMAddr   uint64
	VMSize   uint64
	FileOff  uint64
	FileSize uint64
}

// Contains reports whether a de-slid address is in [VMAddr, VMAddr+VMSize).
func (s Segment) Contains(addr uint64) bool {
	return addr >= s.VMAddr && addr-s.VMAddr < s.VMSize
}

// LoadedImage is one parsed entry of an enumeration pass. It is only valid
// until the image list changes.
type LoadedImage struct {
	Index    int
	Header   uint64
	Slide    int64
	Name     string
	Format   Format
	Bits     int
	Segments []Segment

	macho *macho.Image
	elf   *elf2.Image
}

// Contains reports whether the runtime address addr falls into one of the
// image's segments once the slide is removed.
func (img *LoadedImage) Contains(addr uint64) bool {
	q := addr - uint64(img.Slide)
	for _, s := range img.Segments {
		if s.Contains(q) {
			return true
		}
	}
	return false
}

func (img *LoadedImage) String() string {
	return fmt.Sprintf("%s %s%d header=0x%x slide=0x%x", img.Name, img.Format, img.Bits, img.Header, img.Slide)
}

func segmentsFromMachO(segs []macho.Segment) []Segment {
	res := make([]Segment, 0, len(segs))
	for _, s := range segs {
		res = append(res, Segment{
			Name:     s.Name,
			VMAddr:   s.Addr,
			VMSize:   s.Memsz,
			FileOff:  s.Offset,
			FileSize: s.Filesz,
		})
	}
	return res
}

func segmentsFromELF(f *elf2.Image) []Segment {
	loads := f.Loads()
	res := make([]Segment, 0, len(loads))
	for i, p := range loads {
		res = append(res, Segment{
			Name:     fmt.Sprintf("LOAD%d[%s]", i, p.Flags),
			VMAddr:   p.Vaddr,
			VMSize:   p.Memsz,
			FileOff:  p.Off,
			FileSize: p.Filesz,
		})
	}
	return res
}
