package unwind

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grafana/backtrace/pkg/mem"
	"github.com/grafana/backtrace/pkg/regs"
)

var arch64 = regs.Arch{Name: "test64", PtrSize: 8, ByteOrder: binary.LittleEndian}

const stackBase = 0x7ff000

// buildChain lays out n well-formed frame records followed by a null link
// and returns the frame pointer of the innermost record.
func buildChain(t *testing.T, arch regs.Arch, n int, rets func(i int) uint64) (*mem.Buffer, uint64) {
	t.Helper()
	ptr := arch.PtrSize
	stride := 4 * ptr
	stack := make([]byte, (n+1)*stride)
	put := func(off int, v uint64) {
		if ptr == 4 {
			arch.ByteOrder.PutUint32(stack[off:], uint32(v))
		} else {
			arch.ByteOrder.PutUint64(stack[off:], v)
		}
	}
	for i := 0; i < n; i++ {
		off := i * stride
		put(off, uint64(stackBase+(i+1)*stride))
		put(off+ptr, rets(i))
	}
	// terminal link: saved fp is null
	put(n*stride, 0)
	put(n*stride+ptr, 0xdead)
	return mem.NewBuffer(mem.Region{Addr: stackBase, Data: stack}), stackBase
}

func retAt(i int) uint64 {
	return uint64(0x400000 + i*0x10)
}

type countingReader struct {
	mem.Reader
	reads int
}

func (c *countingReader) ReadMemory(addr uint64, p []byte) error {
	c.reads++
	return c.Reader.ReadMemory(addr, p)
}

func TestWalkWellFormedChain(t *testing.T) {
	for _, n := range []int{0, 1, 5, 20, MaxFrames - 2} {
		buf, fp := buildChain(t, arch64, n, retAt)
		w := NewWalker(nil, buf, arch64)
		trace := w.Walk(regs.Snapshot{PC: 0x1234, FP: fp})

		require.Len(t, trace, n+1, "n=%d", n)
		require.Equal(t, uint64(0x1234), trace[0])
		for i := 0; i < n; i++ {
			require.Equal(t, retAt(i), trace[i+1])
		}
	}
}

func TestWalkNullPC(t *testing.T) {
	buf, fp := buildChain(t, arch64, 3, retAt)
	w := NewWalker(nil, buf, arch64)
	require.Empty(t, w.Walk(regs.Snapshot{PC: 0, FP: fp}))
}

func TestWalkNullFP(t *testing.T) {
	w := NewWalker(nil, mem.NewBuffer(), arch64)
	require.Equal(t, Trace{0x1234}, w.Walk(regs.Snapshot{PC: 0x1234}))
}

func TestWalkLinkRegister(t *testing.T) {
	buf, fp := buildChain(t, arch64, 2, retAt)
	w := NewWalker(nil, buf, arch64)

	trace := w.Walk(regs.Snapshot{PC: 0x1234, LR: 0x5678, HasLR: true, FP: fp})
	require.Equal(t, Trace{0x1234, 0x5678, retAt(0), retAt(1)}, trace)

	trace = w.Walk(regs.Snapshot{PC: 0x1234, LR: 0, HasLR: true, FP: fp})
	require.Equal(t, Trace{0x1234, retAt(0), retAt(1)}, trace)

	trace = w.Walk(regs.Snapshot{PC: 0x1234, LR: 0x5678, HasLR: true})
	require.Equal(t, Trace{0x1234, 0x5678}, trace)
}

func TestWalkStopsAtMaxFrames(t *testing.T) {
	buf, fp := buildChain(t, arch64, 3*MaxFrames, retAt)
	r := &countingReader{Reader: buf}
	w := NewWalker(nil, r, arch64)
	trace := w.Walk(regs.Snapshot{PC: 0x1234, FP: fp})

	require.Len(t, trace, MaxFrames)
	require.Equal(t, retAt(MaxFrames-2), trace[MaxFrames-1])
	// one read per appended return address, none after the cap
	require.Equal(t, MaxFrames-1, r.reads)
}

func TestWalkCustomMaxFrames(t *testing.T) {
	buf, fp := buildChain(t, arch64, 10, retAt)
	r := &countingReader{Reader: buf}
	w := &Walker{Mem: r, Arch: arch64, MaxFrames: 3}

	trace := w.Walk(regs.Snapshot{PC: 0x1234, LR: 0x5678, HasLR: true, FP: fp})
	require.Equal(t, Trace{0x1234, 0x5678, retAt(0)}, trace)
	require.Equal(t, 1, r.reads)

	w.MaxFrames = 1000
	require.Len(t, w.Walk(regs.Snapshot{PC: 0x1234, FP: fp}), 11)
}

func TestWalkCircularChain(t *testing.T) {
	stack := make([]byte, 16)
	binary.LittleEndian.PutUint64(stack, stackBase)
	binary.LittleEndian.PutUint64(stack[8:], 0x401000)
	w := NewWalker(nil, mem.NewBuffer(mem.Region{Addr: stackBase, Data: stack}), arch64)

	trace := w.Walk(regs.Snapshot{PC: 0x1234, FP: stackBase})
	require.Len(t, trace, MaxFrames)
	for _, pc := range trace[1:] {
		require.Equal(t, uint64(0x401000), pc)
	}
}

func TestWalkReadFailureTruncates(t *testing.T) {
	buf, fp := buildChain(t, arch64, 4, retAt)
	failAfter := 2
	r := mem.ReaderFunc(func(addr uint64, p []byte) error {
		if failAfter == 0 {
			return mem.ErrFault
		}
		failAfter--
		return buf.ReadMemory(addr, p)
	})
	w := NewWalker(nil, r, arch64)
	require.Equal(t, Trace{0x1234, retAt(0), retAt(1)}, w.Walk(regs.Snapshot{PC: 0x1234, FP: fp}))

	// frame pointer outside of any mapping
	w = NewWalker(nil, buf, arch64)
	require.Equal(t, Trace{0x1234}, w.Walk(regs.Snapshot{PC: 0x1234, FP: 0x10}))
}

func TestWalkNullReturnAddress(t *testing.T) {
	buf, fp := buildChain(t, arch64, 4, func(i int) uint64 {
		if i == 2 {
			return 0
		}
		return retAt(i)
	})
	w := NewWalker(nil, buf, arch64)
	require.Equal(t, Trace{0x1234, retAt(0), retAt(1)}, w.Walk(regs.Snapshot{PC: 0x1234, FP: fp}))
}

func TestWalk32(t *testing.T) {
	arch32 := regs.Arch{Name: "test32", PtrSize: 4, ByteOrder: binary.LittleEndian}
	buf, fp := buildChain(t, arch32, 3, retAt)
	w := NewWalker(nil, buf, arch32)
	require.Equal(t, Trace{0x1234, retAt(0), retAt(1), retAt(2)}, w.Walk(regs.Snapshot{PC: 0x1234, FP: fp}))
}
