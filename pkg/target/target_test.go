package target

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/grafana/backtrace/pkg/mem"
	"github.com/grafana/backtrace/pkg/regs"
)

func TestStatic(t *testing.T) {
	s := &Static{
		Mem:           mem.NewBuffer(mem.Region{Addr: 0x1000, Data: []byte{1, 2, 3, 4}}),
		Registers:     regs.Static{1: {PC: 0x1000}},
		ThreadIDs:     []regs.ThreadID{1, 2},
		Main:          1,
		SuspendErrors: map[regs.ThreadID]error{2: errors.New("gone")},
	}
	var _ Target = s

	threads, err := s.Threads()
	require.NoError(t, err)
	require.Equal(t, []regs.ThreadID{1, 2}, threads)
	require.Equal(t, regs.ThreadID(1), s.MainThread())
	require.Equal(t, regs.Host, s.Arch())

	resume, err := s.Suspend(1)
	require.NoError(t, err)
	snap, err := s.ReadRegisters(1)
	require.NoError(t, err)
	require.Equal(t, uint64(0x1000), snap.PC)
	resume()
	require.Equal(t, 1, s.Resumed(1))

	_, err = s.Suspend(2)
	require.True(t, errors.Is(err, ErrSuspend))
	_, err = s.ReadRegisters(2)
	require.True(t, errors.Is(err, regs.ErrRegisterRead))

	b := make([]byte, 2)
	require.NoError(t, s.ReadMemory(0x1002, b))
	require.Equal(t, []byte{3, 4}, b)
	require.NoError(t, s.Close())
}
