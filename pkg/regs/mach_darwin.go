//go:build darwin && cgo

package regs

/*
#include <mach/mach.h>

typedef struct {
	uint64_t pc;
	uint64_t sp;
	uint64_t fp;
	uint64_t lr;
	int has_lr;
} bt_regs;

static kern_return_t bt_thread_regs(mach_port_t thread, bt_regs *out) {
#if defined(__arm64__)
	arm_thread_state64_t st;
	mach_msg_type_number_t count = ARM_THREAD_STATE64_COUNT;
	kern_return_t kr = thread_get_state(thread, ARM_THREAD_STATE64, (thread_state_t)&st, &count);
	if (kr != KERN_SUCCESS) {
		return kr;
	}
	out->pc = (uint64_t)arm_thread_state64_get_pc(st);
	out->sp = (uint64_t)arm_thread_state64_get_sp(st);
	out->fp = (uint64_t)arm_thread_state64_get_fp(st);
	out->lr = (uint64_t)arm_thread_state64_get_lr(st);
	out->has_lr = 1;
	return KERN_SUCCESS;
#elif defined(__x86_64__)
	x86_thread_state64_t st;
	mach_msg_type_number_t count = x86_THREAD_STATE64_COUNT;
	kern_return_t kr = thread_get_state(thread, x86_THREAD_STATE64, (thread_state_t)&st, &count);
	if (kr != KERN_SUCCESS) {
		return kr;
	}
	out->pc = st.__rip;
	out->sp = st.__rsp;
	out->fp = st.__rbp;
	out->lr = 0;
	out->has_lr = 0;
	return KERN_SUCCESS;
#else
	return KERN_NOT_SUPPORTED;
#endif
}
*/
import "C"

import (
	"github.com/pkg/errors"
)

// MachReader reads registers with thread_get_state. ThreadID values are
// thread ports of the inspected task.
type MachReader struct{}

func (MachReader) ReadRegisters(tid ThreadID) (Snapshot, error) {
	var out C.bt_regs
	kr := C.bt_thread_regs(C.mach_port_t(tid), &out)
	if kr != C.KERN_SUCCESS {
		return Snapshot{}, errors.Wrapf(ErrRegisterRead, "thread %d: kern_return %d", tid, int(kr))
	}
	return Snapshot{
		PC:    uint64(out.pc),
		SP:    uint64(out.sp),
		FP:    uint64(out.fp),
		LR:    uint64(out.lr),
		HasLR: out.has_lr != 0,
	}, nil
}
