package macho

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

var (
	ErrTruncated = errors.New("mach-o structure truncated")
)

// view is a bounds-checked window over bytes copied out of a task.
type view struct {
	b     []byte
	order binary.ByteOrder
}

func (v view) len() int {
	return len(v.b)
}

func (v view) check(off, n int) error {
	if off < 0 || n < 0 || off > len(v.b) || n > len(v.b)-off {
		return errors.Wrapf(ErrTruncated, "read [%d, %d) of %d bytes", off, off+n, len(v.b))
	}
	return nil
}

func (v view) u8(off int) (uint8, error) {
	if err := v.check(off, 1); err != nil {
		return 0, err
	}
	return v.b[off], nil
}

func (v view) u16(off int) (uint16, error) {
	if err := v.check(off, 2); err != nil {
		return 0, err
	}
	return v.order.Uint16(v.b[off:]), nil
}

func (v view) u32(off int) (uint32, error) {
	if err := v.check(off, 4); err != nil {
		return 0, err
	}
	return v.order.Uint32(v.b[off:]), nil
}

func (v view) u64(off int) (uint64, error) {
	if err := v.check(off, 8); err != nil {
		return 0, err
	}
	return v.order.Uint64(v.b[off:]), nil
}

func (v view) slice(off, n int) (view, error) {
	if err := v.check(off, n); err != nil {
		return view{}, err
	}
	return view{b: v.b[off : off+n], order: v.order}, nil
}

// decode fills a fixed-size record such as macho.Segment64.
func (v view) decode(off int, data interface{}) error {
	n := binary.Size(data)
	if n < 0 {
		return errors.Errorf("%T is not a fixed size record", data)
	}
	if err := v.check(off, n); err != nil {
		return err
	}
	return binary.Read(bytes.NewReader(v.b[off:off+n]), v.order, data)
}

func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}
