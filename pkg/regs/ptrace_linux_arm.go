package regs

import "golang.org/x/sys/unix"

// ARM mode frame pointer is r11; sp, lr, pc are r13, r14, r15.
func snapshotOf(r *unix.PtraceRegs) Snapshot {
	return Snapshot{
		PC:    uint64(r.Uregs[15]),
		SP:    uint64(r.Uregs[13]),
		FP:    uint64(r.Uregs[11]),
		LR:    uint64(r.Uregs[14]),
		HasLR: true,
	}
}
