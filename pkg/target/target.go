// Package target gives access to the threads of one task: enumeration,
// suspension, register state and memory.
package target

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/grafana/backtrace/pkg/loader"
	"github.com/grafana/backtrace/pkg/mem"
	"github.com/grafana/backtrace/pkg/regs"
)

var (
	ErrSuspend     = errors.New("thread suspend failed")
	ErrUnsupported = errors.New("unsupported platform")
)

type Target interface {
	mem.Reader
	regs.Reader

	// Threads lists thread handles in a stable order.
	Threads() ([]regs.ThreadID, error)
	// Suspend stops tid until resume is called. Register reads for tid
	// must happen on the calling goroutine before resume.
	Suspend(tid regs.ThreadID) (resume func(), err error)
	Lister() loader.Lister
	MainThread() regs.ThreadID
	Arch() regs.Arch
	Close() error
}

// Static is a captured task: memory, register snapshots and an image
// list. Suspension is a no-op unless SuspendErrors names the thread.
type Static struct {
	Mem           mem.Reader
	Registers     regs.Static
	Images        loader.Static
	ThreadIDs     []regs.ThreadID
	Main          regs.ThreadID
	Architecture  regs.Arch
	SuspendErrors map[regs.ThreadID]error

	mu      sync.Mutex
	resumed map[regs.ThreadID]int
}

func (s *Static) ReadMemory(addr uint64, p []byte) error {
	return s.Mem.ReadMemory(addr, p)
}

func (s *Static) ReadRegisters(tid regs.ThreadID) (regs.Snapshot, error) {
	return s.Registers.ReadRegisters(tid)
}

func (s *Static) Threads() ([]regs.ThreadID, error) {
	return append([]regs.ThreadID(nil), s.ThreadIDs...), nil
}

func (s *Static) Suspend(tid regs.ThreadID) (func(), error) {
	if err := s.SuspendErrors[tid]; err != nil {
		return nil, errors.Wrapf(ErrSuspend, "thread %d: %v", tid, err)
	}
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.resumed == nil {
			s.resumed = make(map[regs.ThreadID]int)
		}
		s.resumed[tid]++
	}, nil
}

// Resumed reports how many times tid was resumed.
func (s *Static) Resumed(tid regs.ThreadID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resumed[tid]
}

func (s *Static) Lister() loader.Lister {
	return s.Images
}

func (s *Static) MainThread() regs.ThreadID {
	return s.Main
}

func (s *Static) Arch() regs.Arch {
	if s.Architecture.PtrSize == 0 {
		return regs.Host
	}
	return s.Architecture
}

func (s *Static) Close() error {
	return nil
}
