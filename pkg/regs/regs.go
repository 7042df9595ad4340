// Package regs reads the saved register state of a suspended thread and
// exposes it through a uniform pc/sp/fp/lr view. The mapping from the
// platform register file to that view is chosen at build time, one file per
// architecture.
package regs

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrRegisterRead = errors.New("register read failed")
)

// ThreadID is an opaque OS thread handle: a tid on Linux, a thread port on
// Darwin.
type ThreadID uint64

// Snapshot is the register state of one thread captured at one point in
// time. LR is meaningful only when HasLR is set.
type Snapshot struct {
	PC    uint64
	SP    uint64
	FP    uint64
	LR    uint64
	HasLR bool
}

func (s Snapshot) String() string {
	if s.HasLR {
		return fmt.Sprintf("pc=0x%x sp=0x%x fp=0x%x lr=0x%x", s.PC, s.SP, s.FP, s.LR)
	}
	return fmt.Sprintf("pc=0x%x sp=0x%x fp=0x%x", s.PC, s.SP, s.FP)
}

type Reader interface {
	ReadRegisters(tid ThreadID) (Snapshot, error)
}

// Arch describes how frame records are laid out in memory.
type Arch struct {
	Name      string
	PtrSize   int
	HasLR     bool
	ByteOrder binary.ByteOrder
}

// Host is the architecture of the running binary.
var Host = host

// Static serves snapshots captured earlier.
type Static map[ThreadID]Snapshot

func (s Static) ReadRegisters(tid ThreadID) (Snapshot, error) {
	snap, ok := s[tid]
	if !ok {
		return Snapshot{}, errors.Wrapf(ErrRegisterRead, "no snapshot for thread %d", tid)
	}
	return snap, nil
}
