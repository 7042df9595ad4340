// Package unwind walks frame-pointer chains.
package unwind

import (
	"encoding/binary"
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/grafana/backtrace/pkg/mem"
	"github.com/grafana/backtrace/pkg/regs"
)

// MaxFrames bounds every walk. It also bounds the work spent on corrupt or
// circular frame chains.
const MaxFrames = 50

// Trace holds return addresses, innermost frame first. The first entry is
// the program counter, followed by the link register when the architecture
// has one and it is set.
type Trace []uint64

// frameLink is the pair stored at every frame pointer address.
type frameLink struct {
	fp  uint64
	ret uint64
}

type Walker struct {
	Mem       mem.Reader
	Arch      regs.Arch
	MaxFrames int
	Logger    log.Logger
}

func NewWalker(logger log.Logger, m mem.Reader, arch regs.Arch) *Walker {
	return &Walker{Mem: m, Arch: arch, MaxFrames: MaxFrames, Logger: logger}
}

func (w *Walker) maxFrames() int {
	if w.MaxFrames <= 0 || w.MaxFrames > MaxFrames {
		return MaxFrames
	}
	return w.MaxFrames
}

// Walk never fails: it returns the prefix of the call stack it could
// establish. A null pc yields an empty trace.
func (w *Walker) Walk(s regs.Snapshot) Trace {
	limit := w.maxFrames()
	if s.PC == 0 {
		return nil
	}
	res := make(Trace, 0, limit)
	res = append(res, s.PC)
	if s.HasLR && s.LR != 0 && len(res) < limit {
		res = append(res, s.LR)
	}
	fp := s.FP
	if fp == 0 {
		return res
	}
	buf := make([]byte, 2*w.ptrSize())
	for len(res) < limit {
		link, err := w.readLink(fp, buf)
		if err != nil {
			w.debug("msg", "frame chain ends on read failure", "fp", fmt.Sprintf("0x%x", fp), "frames", len(res), "err", err)
			break
		}
		if link.fp == 0 || link.ret == 0 {
			break
		}
		res = append(res, link.ret)
		fp = link.fp
	}
	return res
}

func (w *Walker) readLink(fp uint64, buf []byte) (frameLink, error) {
	if err := w.Mem.ReadMemory(fp, buf); err != nil {
		return frameLink{}, err
	}
	order := w.Arch.ByteOrder
	if order == nil {
		order = binary.LittleEndian
	}
	if w.ptrSize() == 4 {
		return frameLink{
			fp:  uint64(order.Uint32(buf[0:4])),
			ret: uint64(order.Uint32(buf[4:8])),
		}, nil
	}
	return frameLink{
		fp:  order.Uint64(buf[0:8]),
		ret: order.Uint64(buf[8:16]),
	}, nil
}

func (w *Walker) ptrSize() int {
	if w.Arch.PtrSize == 4 {
		return 4
	}
	return 8
}

func (w *Walker) debug(keyvals ...interface{}) {
	if w.Logger == nil {
		return
	}
	_ = level.Debug(w.Logger).Log(keyvals...)
}
