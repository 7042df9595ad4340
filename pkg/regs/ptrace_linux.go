//go:build linux && (amd64 || arm64 || 386 || arm)

package regs

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// PtraceReader reads registers of a ptrace-stopped thread. The calling OS
// thread must be the tracer of tid.
type PtraceReader struct{}

func (PtraceReader) ReadRegisters(tid ThreadID) (Snapshot, error) {
	var r unix.PtraceRegs
	if err := unix.PtraceGetRegs(int(tid), &r); err != nil {
		return Snapshot{}, errors.Wrapf(ErrRegisterRead, "thread %d: %v", tid, err)
	}
	return snapshotOf(&r), nil
}
