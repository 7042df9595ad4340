//go:build darwin && cgo

package mem

/*
#include <mach/mach.h>

static kern_return_t bt_vm_read(mach_port_t task, uint64_t addr, void *buf, size_t size) {
	vm_size_t out = 0;
	kern_return_t kr = vm_read_overwrite(task, (vm_address_t)addr, (vm_size_t)size, (vm_address_t)buf, &out);
	if (kr == KERN_SUCCESS && out != size) {
		return KERN_FAILURE;
	}
	return kr;
}
*/
import "C"

import (
	"unsafe"

	"github.com/pkg/errors"
)

// TaskReader reads the address space of a Mach task with vm_read_overwrite.
type TaskReader struct {
	Task uint32
}

// SelfTask returns the port of the current task.
func SelfTask() uint32 {
	return uint32(C.mach_task_self_)
}

func (r TaskReader) ReadMemory(addr uint64, p []byte) error {
	if len(p) == 0 {
		return nil
	}
	kr := C.bt_vm_read(C.mach_port_t(r.Task), C.uint64_t(addr), unsafe.Pointer(&p[0]), C.size_t(len(p)))
	if kr != C.KERN_SUCCESS {
		return errors.Wrapf(ErrFault, "vm_read_overwrite 0x%x: kern_return %d", addr, int(kr))
	}
	return nil
}
