package mem

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ProcMem reads a process address space through <procfs>/<pid>/mem.
type ProcMem struct {
	pid int
	*os.File
}

// OpenProcMem opens the mem file of pid under the procfs mounted at procFS,
// or /proc when procFS is empty.
func OpenProcMem(procFS string, pid int) (*ProcMem, error) {
	if procFS == "" {
		procFS = "/proc"
	}
	f, err := os.Open(filepath.Join(procFS, strconv.Itoa(pid), "mem"))
	if err != nil {
		return nil, err
	}
	return &ProcMem{pid: pid, File: f}, nil
}

func (m *ProcMem) ReadMemory(addr uint64, p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if int64(addr) < 0 {
		return errors.Wrapf(ErrFault, "0x%x out of range", addr)
	}
	n, err := m.File.ReadAt(p, int64(addr))
	if err != nil {
		return errors.Wrapf(ErrFault, "pid %d read 0x%x: %v", m.pid, addr, err)
	}
	if n != len(p) {
		return errors.Wrapf(ErrFault, "pid %d short read 0x%x %d/%d", m.pid, addr, n, len(p))
	}
	return nil
}

func (m *ProcMem) Close() error {
	return m.File.Close()
}

// VMReader reads a process address space with process_vm_readv(2). It needs
// no open file and is safe for concurrent use.
type VMReader struct {
	Pid int
}

func (r VMReader) ReadMemory(addr uint64, p []byte) error {
	if len(p) == 0 {
		return nil
	}
	local := []unix.Iovec{{Base: &p[0]}}
	local[0].SetLen(len(p))
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(p)}}
	n, err := unix.ProcessVMReadv(r.Pid, local, remote, 0)
	if err != nil {
		return errors.Wrapf(ErrFault, "pid %d process_vm_readv 0x%x: %v", r.Pid, addr, err)
	}
	if n != len(p) {
		return errors.Wrapf(ErrFault, "pid %d short read 0x%x %d/%d", r.Pid, addr, n, len(p))
	}
	return nil
}
