package loader

import (
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/procfs"

	"github.com/grafana/backtrace/pkg/mem"
	"github.com/grafana/backtrace/pkg/symtab/elf"
)

// ProcMaps lists the ELF images of a process from /proc/<pid>/maps: every
// readable mapping at file offset 0 that starts with an ELF header.
type ProcMaps struct {
	logger log.Logger
	proc   procfs.Proc
	mem    mem.Reader
}

func NewProcMaps(logger log.Logger, fs procfs.FS, pid int, m mem.Reader) (*ProcMaps, error) {
	proc, err := fs.Proc(pid)
	if err != nil {
		return nil, errors.Wrapf(err, "proc %d", pid)
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &ProcMaps{logger: logger, proc: proc, mem: m}, nil
}

func (p *ProcMaps) Images() ([]ImageInfo, error) {
	maps, err := p.proc.ProcMaps()
	if err != nil {
		return nil, errors.Wrapf(err, "maps of %d", p.proc.PID)
	}
	var res []ImageInfo
	for _, m := range maps {
		if !candidate(m) {
			continue
		}
		addr := uint64(m.StartAddr)
		if !elf.Probe(p.mem, addr) {
			continue
		}
		img, err := elf.Open(p.mem, addr)
		if err != nil {
			level.Debug(p.logger).Log("msg", "skipping mapping", "path", m.Pathname, "err", err)
			continue
		}
		slide, err := img.Slide()
		if err != nil {
			level.Debug(p.logger).Log("msg", "skipping mapping", "path", m.Pathname, "err", err)
			continue
		}
		res = append(res, ImageInfo{Header: addr, Slide: slide, Name: m.Pathname})
	}
	return res, nil
}

func candidate(m *procfs.ProcMap) bool {
	if m.Offset != 0 || m.Perms == nil || !m.Perms.Read {
		return false
	}
	if m.Pathname == "" {
		return false
	}
	if strings.HasPrefix(m.Pathname, "[") {
		return m.Pathname == "[vdso]"
	}
	return true
}
