package regs

import "golang.org/x/sys/unix"

func snapshotOf(r *unix.PtraceRegs) Snapshot {
	return Snapshot{PC: uint64(uint32(r.Eip)), SP: uint64(uint32(r.Esp)), FP: uint64(uint32(r.Ebp))}
}
