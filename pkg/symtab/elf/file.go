package elf

import (
	"debug/elf"
	"os"

	"github.com/pkg/errors"
)

// File is an ELF object opened from disk.
type File struct {
	*elf.File
	fpath string
	fd    *os.File
}

func OpenFile(fpath string) (*File, error) {
	fd, err := os.Open(fpath)
	if err != nil {
		return nil, err
	}
	ef, err := elf.NewFile(fd)
	if err != nil {
		_ = fd.Close()
		return nil, errors.Wrapf(err, "parse %s", fpath)
	}
	return &File{File: ef, fpath: fpath, fd: fd}, nil
}

func (f *File) FilePath() string {
	return f.fpath
}

func (f *File) Close() error {
	return f.fd.Close()
}

// SectionData reads the named section, or returns nil if it is absent.
func (f *File) SectionData(name string) ([]byte, error) {
	s := f.Section(name)
	if s == nil {
		return nil, nil
	}
	return s.Data()
}

// DebugLink is the file name recorded in .gnu_debuglink, if any.
func (f *File) DebugLink() string {
	data, err := f.SectionData(".gnu_debuglink")
	if err != nil || len(data) < 6 {
		return ""
	}
	return cString(data)
}

func cString(bs []byte) string {
	i := 0
	for ; i < len(bs); i++ {
		if bs[i] == 0 {
			break
		}
	}
	return string(bs[:i])
}
