package regs

import "golang.org/x/sys/unix"

func snapshotOf(r *unix.PtraceRegs) Snapshot {
	return Snapshot{PC: r.Rip, SP: r.Rsp, FP: r.Rbp}
}
