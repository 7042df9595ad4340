//go:build darwin && cgo

package target

/*
#include <mach/mach.h>
#include <pthread.h>

static kern_return_t bt_task_threads(mach_port_t task, thread_act_array_t *list, mach_msg_type_number_t *count) {
	return task_threads(task, list, count);
}

static void bt_release_list(thread_act_array_t list, mach_msg_type_number_t count) {
	vm_deallocate(mach_task_self(), (vm_address_t)list, count * sizeof(thread_act_t));
}

static uint32_t bt_main_thread(void) {
	return (uint32_t)pthread_mach_thread_np(pthread_main_thread_np());
}

static uint32_t bt_thread_self(void) {
	mach_port_t self = mach_thread_self();
	mach_port_deallocate(mach_task_self(), self);
	return (uint32_t)self;
}
*/
import "C"

import (
	"sync"
	"unsafe"

	"github.com/go-kit/log"
	"github.com/pkg/errors"

	"github.com/grafana/backtrace/pkg/loader"
	"github.com/grafana/backtrace/pkg/mem"
	"github.com/grafana/backtrace/pkg/regs"
)

type TaskOptions struct {
	// SuspendThreads stops each thread while it is unwound. Off by default:
	// a suspended runtime thread may hold a lock the sweep itself needs.
	SuspendThreads bool
}

// Task is the current process seen through its Mach task port.
type Task struct {
	logger  log.Logger
	options TaskOptions
	reader  mem.TaskReader

	mu    sync.Mutex
	ports map[regs.ThreadID]struct{}
	regs.MachReader
}

func OpenSelf(logger log.Logger, options TaskOptions) (*Task, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Task{
		logger:  logger,
		options: options,
		reader:  mem.TaskReader{Task: mem.SelfTask()},
		ports:   make(map[regs.ThreadID]struct{}),
	}, nil
}

func (t *Task) ReadMemory(addr uint64, p []byte) error {
	return t.reader.ReadMemory(addr, p)
}

// Threads lists threads in the order task_threads reports them. The send
// rights received are released by Close.
func (t *Task) Threads() ([]regs.ThreadID, error) {
	var list C.thread_act_array_t
	var count C.mach_msg_type_number_t
	if kr := C.bt_task_threads(C.mach_port_t(t.reader.Task), &list, &count); kr != C.KERN_SUCCESS {
		return nil, errors.Errorf("task_threads: kern_return %d", int(kr))
	}
	defer C.bt_release_list(list, count)
	ports := unsafe.Slice((*C.thread_act_t)(unsafe.Pointer(list)), int(count))
	res := make([]regs.ThreadID, 0, len(ports))
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range ports {
		id := regs.ThreadID(p)
		t.ports[id] = struct{}{}
		res = append(res, id)
	}
	return res, nil
}

// Suspend never suspends the calling thread.
func (t *Task) Suspend(tid regs.ThreadID) (func(), error) {
	if !t.options.SuspendThreads || uint32(tid) == uint32(C.bt_thread_self()) {
		return func() {}, nil
	}
	if kr := C.thread_suspend(C.thread_act_t(tid)); kr != C.KERN_SUCCESS {
		return nil, errors.Wrapf(ErrSuspend, "thread %d: kern_return %d", tid, int(kr))
	}
	return func() {
		C.thread_resume(C.thread_act_t(tid))
	}, nil
}

func (t *Task) Lister() loader.Lister {
	return loader.Dyld{}
}

func (t *Task) MainThread() regs.ThreadID {
	return regs.ThreadID(C.bt_main_thread())
}

func (t *Task) Arch() regs.Arch {
	return regs.Host
}

func (t *Task) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for p := range t.ports {
		C.mach_port_deallocate(C.mach_task_self_, C.mach_port_name_t(p))
	}
	t.ports = make(map[regs.ThreadID]struct{})
	return nil
}
