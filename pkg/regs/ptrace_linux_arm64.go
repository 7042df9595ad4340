package regs

import "golang.org/x/sys/unix"

// x29 is the frame pointer, x30 the link register.
func snapshotOf(r *unix.PtraceRegs) Snapshot {
	return Snapshot{PC: r.Pc, SP: r.Sp, FP: r.Regs[29], LR: r.Regs[30], HasLR: true}
}
