//go:build linux && (amd64 || arm64 || 386 || arm)

package target

import (
	"path"
	"runtime"
	"sort"
	"strconv"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"

	"github.com/grafana/backtrace/pkg/loader"
	"github.com/grafana/backtrace/pkg/mem"
	"github.com/grafana/backtrace/pkg/regs"
)

type ProcessOptions struct {
	Pid int
	// ProcFS is the procfs mount point, /proc when empty.
	ProcFS string
}

// Process is another process on the same host, inspected with ptrace.
// Threads are stopped with PTRACE_SEIZE and PTRACE_INTERRUPT. A signal that
// stopped the thread instead of the interrupt is handed back on detach.
type Process struct {
	logger  log.Logger
	pid     int
	procFS  string
	fs      procfs.FS
	mem     mem.Reader
	procMem *mem.ProcMem
	lister  *loader.ProcMaps
	regs.PtraceReader
}

func OpenProcess(logger log.Logger, options ProcessOptions) (*Process, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	mountPoint := options.ProcFS
	if mountPoint == "" {
		mountPoint = procfs.DefaultMountPoint
	}
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, err
	}
	p := &Process{logger: logger, pid: options.Pid, procFS: mountPoint, fs: fs}

	readers := []mem.Reader{mem.VMReader{Pid: options.Pid}}
	procMem, err := mem.OpenProcMem(mountPoint, options.Pid)
	if err != nil {
		level.Debug(logger).Log("msg", "no /proc/pid/mem fallback", "pid", options.Pid, "err", err)
	} else {
		p.procMem = procMem
		readers = append(readers, procMem)
	}
	p.mem = mem.FirstOf(readers...)

	p.lister, err = loader.NewProcMaps(logger, fs, options.Pid, p.mem)
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

// Root is the process's view of the filesystem, where its ELF files are.
func (p *Process) Root() string {
	return path.Join(p.procFS, strconv.Itoa(p.pid), "root")
}

func (p *Process) ReadMemory(addr uint64, b []byte) error {
	return p.mem.ReadMemory(addr, b)
}

// Threads lists the main thread first, then the others by ascending tid.
func (p *Process) Threads() ([]regs.ThreadID, error) {
	procs, err := p.fs.AllThreads(p.pid)
	if err != nil {
		return nil, errors.Wrapf(err, "threads of %d", p.pid)
	}
	res := make([]regs.ThreadID, 0, len(procs))
	for _, t := range procs {
		res = append(res, regs.ThreadID(t.PID))
	}
	main := p.MainThread()
	sort.Slice(res, func(i, j int) bool {
		if (res[i] == main) != (res[j] == main) {
			return res[i] == main
		}
		return res[i] < res[j]
	})
	return res, nil
}

// Suspend locks the calling goroutine to its OS thread until resume: ptrace
// requests are only accepted from the thread that seized the tracee.
func (p *Process) Suspend(tid regs.ThreadID) (func(), error) {
	runtime.LockOSThread()
	id := int(tid)
	if err := unix.PtraceSeize(id); err != nil {
		runtime.UnlockOSThread()
		return nil, errors.Wrapf(ErrSuspend, "seize %d: %v", id, err)
	}
	return p.interrupt(id)
}

// interrupt stops a seized thread. The returned resume detaches it and
// unlocks the OS thread.
func (p *Process) interrupt(id int) (func(), error) {
	var sig unix.Signal
	resume := func() {
		if err := detach(id, sig); err != nil {
			level.Warn(p.logger).Log("msg", "detach failed", "tid", id, "err", err)
		}
		runtime.UnlockOSThread()
	}
	if err := unix.PtraceInterrupt(id); err != nil {
		resume()
		return nil, errors.Wrapf(ErrSuspend, "interrupt %d: %v", id, err)
	}
	var err error
	sig, err = waitStopped(id)
	if err != nil {
		resume()
		return nil, errors.Wrapf(ErrSuspend, "wait %d: %v", id, err)
	}
	if sig != 0 {
		level.Debug(p.logger).Log("msg", "thread stopped by signal", "tid", id, "signal", sig)
	}
	return resume, nil
}

// waitStopped waits for the thread to stop and returns the signal the stop
// intercepted, if any.
func waitStopped(tid int) (unix.Signal, error) {
	for {
		var ws unix.WaitStatus
		_, err := unix.Wait4(tid, &ws, unix.WALL, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		if ws.Exited() || ws.Signaled() {
			return 0, errors.Errorf("thread %d gone", tid)
		}
		if ws.Stopped() {
			return pendingSignal(ws), nil
		}
	}
}

// pendingSignal is the signal a stop withheld from the tracee. Event stops,
// including group-stops of a seized tracee, withhold nothing.
func pendingSignal(ws unix.WaitStatus) unix.Signal {
	if !ws.Stopped() {
		return 0
	}
	if (uint32(ws)>>16)&0xff == unix.PTRACE_EVENT_STOP {
		return 0
	}
	return ws.StopSignal()
}

// detach is PTRACE_DETACH with a signal to deliver on resume, which
// unix.PtraceDetach does not take.
func detach(tid int, sig unix.Signal) error {
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_DETACH, uintptr(tid), 0, uintptr(sig), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func (p *Process) Lister() loader.Lister {
	return p.lister
}

func (p *Process) MainThread() regs.ThreadID {
	return regs.ThreadID(p.pid)
}

func (p *Process) Arch() regs.Arch {
	return regs.Host
}

func (p *Process) Close() error {
	if p.procMem != nil {
		return p.procMem.Close()
	}
	return nil
}
