// Package mem provides the memory-read primitive used by the unwinder and the
// image catalog. Every read may fail: the memory belongs to a thread that may
// be in the middle of crashing, so callers treat a failed read as an expected
// outcome rather than an exceptional one.
package mem

import (
	"encoding/binary"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrFault = errors.New("memory read fault")
)

// Reader reads memory of a task. Implementations must behave the same way
// whether the task is the current process or a foreign one.
type Reader interface {
	ReadMemory(addr uint64, p []byte) error
}

type ReaderFunc func(addr uint64, p []byte) error

func (f ReaderFunc) ReadMemory(addr uint64, p []byte) error {
	return f(addr, p)
}

func ReadUint32(r Reader, addr uint64, order binary.ByteOrder) (uint32, error) {
	var buf [4]byte
	if err := r.ReadMemory(addr, buf[:]); err != nil {
		return 0, err
	}
	return order.Uint32(buf[:]), nil
}

func ReadUint64(r Reader, addr uint64, order binary.ByteOrder) (uint64, error) {
	var buf [8]byte
	if err := r.ReadMemory(addr, buf[:]); err != nil {
		return 0, err
	}
	return order.Uint64(buf[:]), nil
}

// ReadPointer reads one pointer-sized word.
func ReadPointer(r Reader, addr uint64, ptrSize int, order binary.ByteOrder) (uint64, error) {
	switch ptrSize {
	case 4:
		v, err := ReadUint32(r, addr, order)
		return uint64(v), err
	case 8:
		return ReadUint64(r, addr, order)
	}
	return 0, errors.Errorf("unsupported pointer size %d", ptrSize)
}

const (
	pageSize     = 0x1000
	cStringChunk = 128
)

// ReadCString reads a NUL terminated string of at most limit bytes. Chunks
// never cross a page boundary, and a chunk that cannot be read is retried
// at half the size, so a string ending right before unreadable memory can
// still be read.
func ReadCString(r Reader, addr uint64, limit int) (string, error) {
	var tmp [cStringChunk]byte
	sb := strings.Builder{}
	for sb.Len() < limit {
		n := uint64(cStringChunk)
		if left := pageSize - addr%pageSize; left < n {
			n = left
		}
		if rest := uint64(limit - sb.Len()); rest < n {
			n = rest
		}
		chunk, err := readShrinking(r, addr, tmp[:n])
		if err != nil {
			return "", err
		}
		n = uint64(len(chunk))
		for i, b := range chunk {
			if b == 0 {
				sb.Write(chunk[:i])
				return sb.String(), nil
			}
		}
		sb.Write(chunk)
		addr += n
	}
	return "", errors.Errorf("string at 0x%x exceeds %d bytes", addr, limit)
}

// readShrinking reads as much of buf as possible, halving the read on
// failure. It fails only when the byte at addr is unreadable.
func readShrinking(r Reader, addr uint64, buf []byte) ([]byte, error) {
	for {
		err := r.ReadMemory(addr, buf)
		if err == nil {
			return buf, nil
		}
		if len(buf) == 1 {
			return nil, err
		}
		buf = buf[:len(buf)/2]
	}
}

// Region is a contiguous range of readable memory.
type Region struct {
	Addr uint64
	Data []byte
}

func (r *Region) end() uint64 {
	return r.Addr + uint64(len(r.Data))
}

// Buffer is an in-memory address space made of non-overlapping regions. It
// backs tests and captured memory snapshots.
type Buffer struct {
	regions []Region
}

func NewBuffer(regions ...Region) *Buffer {
	b := &Buffer{}
	for _, r := range regions {
		b.Map(r.Addr, r.Data)
	}
	return b
}

// Map makes data readable at addr. Regions are kept sorted by address.
func (b *Buffer) Map(addr uint64, data []byte) {
	b.regions = append(b.regions, Region{Addr: addr, Data: data})
	sort.Slice(b.regions, func(i, j int) bool {
		return b.regions[i].Addr < b.regions[j].Addr
	})
}

func (b *Buffer) ReadMemory(addr uint64, p []byte) error {
	i := sort.Search(len(b.regions), func(i int) bool {
		return b.regions[i].end() > addr
	})
	if i == len(b.regions) {
		return errors.Wrapf(ErrFault, "0x%x unmapped", addr)
	}
	r := &b.regions[i]
	if addr < r.Addr || addr+uint64(len(p)) > r.end() || addr+uint64(len(p)) < addr {
		return errors.Wrapf(ErrFault, "0x%x+%d unmapped", addr, len(p))
	}
	copy(p, r.Data[addr-r.Addr:])
	return nil
}

// FirstOf returns a reader that tries each reader in turn and reports the
// last failure if none succeeds.
func FirstOf(readers ...Reader) Reader {
	return ReaderFunc(func(addr uint64, p []byte) error {
		err := errors.Wrapf(ErrFault, "no reader for 0x%x", addr)
		for _, r := range readers {
			if err = r.ReadMemory(addr, p); err == nil {
				return nil
			}
		}
		return err
	})
}
