//go:build linux && (amd64 || arm64 || 386 || arm)

package target

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/grafana/backtrace/pkg/regs"
	"github.com/grafana/backtrace/pkg/test"
)

func TestProcessThreadOrder(t *testing.T) {
	root := t.TempDir()
	for _, tid := range []string{"100", "42", "7"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, "42", "task", tid), 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "42", "maps"), nil, 0o644))

	p, err := OpenProcess(test.NewTestingLogger(t), ProcessOptions{Pid: 42, ProcFS: root})
	require.NoError(t, err)
	defer p.Close()

	threads, err := p.Threads()
	require.NoError(t, err)
	require.Equal(t, []regs.ThreadID{42, 7, 100}, threads)
	require.Equal(t, regs.ThreadID(42), p.MainThread())
	require.Equal(t, filepath.Join(root, "42", "root"), p.Root())

	images, err := p.Lister().Images()
	require.NoError(t, err)
	require.Empty(t, images)
}

func TestProcessSuspend(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Skipf("no sleep binary: %v", err)
	}
	defer func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()

	p, err := OpenProcess(test.NewTestingLogger(t), ProcessOptions{Pid: cmd.Process.Pid})
	require.NoError(t, err)
	defer p.Close()

	threads, err := p.Threads()
	require.NoError(t, err)
	require.Equal(t, p.MainThread(), threads[0])

	resume, err := p.Suspend(p.MainThread())
	if err != nil {
		t.Skipf("ptrace not permitted here: %v", err)
	}
	snap, err := p.ReadRegisters(p.MainThread())
	resume()
	require.NoError(t, err)
	require.NotZero(t, snap.PC)
	require.NotZero(t, snap.SP)

	// the stack is readable through the reader the walker uses
	b := make([]byte, 8)
	require.NoError(t, p.ReadMemory(snap.SP, b))

	images, err := p.Lister().Images()
	require.NoError(t, err)
	require.NotEmpty(t, images)
}

func TestPendingSignal(t *testing.T) {
	testcases := []struct {
		name     string
		ws       unix.WaitStatus
		expected unix.Signal
	}{
		{"interrupt", unix.WaitStatus(0x7f | uint32(unix.SIGTRAP)<<8 | unix.PTRACE_EVENT_STOP<<16), 0},
		{"group stop", unix.WaitStatus(0x7f | uint32(unix.SIGSTOP)<<8 | unix.PTRACE_EVENT_STOP<<16), 0},
		{"signal delivery", unix.WaitStatus(0x7f | uint32(unix.SIGTERM)<<8), unix.SIGTERM},
		{"breakpoint", unix.WaitStatus(0x7f | uint32(unix.SIGTRAP)<<8), unix.SIGTRAP},
		{"exited", unix.WaitStatus(0), 0},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, pendingSignal(tc.ws))
		})
	}
}

func TestProcessSuspendKeepsSignal(t *testing.T) {
	cmd := exec.Command("sleep", "10")
	if err := cmd.Start(); err != nil {
		t.Skipf("no sleep binary: %v", err)
	}
	defer func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()
	pid := cmd.Process.Pid

	p, err := OpenProcess(test.NewTestingLogger(t), ProcessOptions{Pid: pid})
	require.NoError(t, err)
	defer p.Close()

	runtime.LockOSThread()
	if err := unix.PtraceSeize(pid); err != nil {
		runtime.UnlockOSThread()
		t.Skipf("ptrace not permitted here: %v", err)
	}
	// the signal reaches the seized thread before the interrupt does
	require.NoError(t, unix.Kill(pid, unix.SIGTERM))
	time.Sleep(100 * time.Millisecond)

	resume, err := p.interrupt(pid)
	require.NoError(t, err)
	resume()

	err = cmd.Wait()
	require.Error(t, err)
	status, ok := cmd.ProcessState.Sys().(syscall.WaitStatus)
	require.True(t, ok)
	require.True(t, status.Signaled())
	require.Equal(t, syscall.SIGTERM, status.Signal())
}
