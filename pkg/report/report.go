// Package report renders the traces of a sweep.
package report

import (
	"io"
	"path"

	"github.com/grafana/backtrace/pkg/regs"
	"github.com/grafana/backtrace/pkg/symtab"
)

// ThreadTrace is the outcome of unwinding one thread. Frames is empty when
// Err is set.
type ThreadTrace struct {
	Thread    regs.ThreadID
	Main      bool
	Addresses []uint64
	Frames    []symtab.SymbolMatch
	Err       error
}

type Writer interface {
	Write(out io.Writer, traces []ThreadTrace) error
}

// baseName is the last path component of an image name.
func baseName(image string) string {
	if image == "" {
		return symtab.Unknown
	}
	return path.Base(image)
}
