package trace

import (
	"context"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	bcontext "github.com/grafana/backtrace/pkg/context"
	"github.com/grafana/backtrace/pkg/regs"
	"github.com/grafana/backtrace/pkg/report"
	"github.com/grafana/backtrace/pkg/symtab"
	"github.com/grafana/backtrace/pkg/target"
	"github.com/grafana/backtrace/pkg/unwind"
)

type SweepOptions struct {
	// MaxFrames caps each trace; 0 or anything above unwind.MaxFrames means
	// unwind.MaxFrames.
	MaxFrames int
	// Concurrency is the number of threads unwound at once. Values above 1
	// require a target whose primitives may be called from several
	// goroutines.
	Concurrency int
	Metrics     *Metrics // nil disables metrics
}

// Sweeper unwinds every thread of a target. A thread that cannot be
// suspended or whose registers cannot be read yields a trace with Err set;
// the sweep goes on with the next one.
type Sweeper struct {
	target   target.Target
	resolver *symtab.Resolver
	options  SweepOptions
}

func NewSweeper(t target.Target, resolver *symtab.Resolver, options SweepOptions) *Sweeper {
	if options.Concurrency < 1 {
		options.Concurrency = 1
	}
	return &Sweeper{target: t, resolver: resolver, options: options}
}

// Sweep returns one trace per thread in enumeration order. The context is
// checked before each thread; when it is done the traces collected so far
// are dropped and its error is returned.
func (s *Sweeper) Sweep(ctx context.Context) ([]report.ThreadTrace, error) {
	threads, err := s.target.Threads()
	if err != nil {
		return nil, errors.Wrap(err, "list threads")
	}
	level.Debug(bcontext.Logger(ctx)).Log("msg", "sweeping threads", "threads", len(threads))

	res := make([]report.ThreadTrace, len(threads))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.options.Concurrency)
	for i, tid := range threads {
		if gctx.Err() != nil {
			break
		}
		i, tid := i, tid
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res[i] = s.Thread(bcontext.WrapThread(gctx, uint64(tid)), tid)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// Thread unwinds a single thread. The thread stays suspended while its
// registers and frames are read and is resumed before symbolization.
func (s *Sweeper) Thread(ctx context.Context, tid regs.ThreadID) report.ThreadTrace {
	logger := bcontext.Logger(ctx)
	tt := report.ThreadTrace{
		Thread: tid,
		Main:   tid == s.target.MainThread(),
	}
	trace, err := s.unwind(logger, tid)
	if err != nil {
		level.Warn(logger).Log("msg", "failed to unwind thread", "err", err)
		tt.Err = err
		return tt
	}
	tt.Addresses = trace
	tt.Frames = NewAssembler(logger, s.resolver).Symbolize(trace)
	level.Debug(logger).Log("msg", "thread unwound", "frames", len(trace), "symbolized", len(tt.Frames))
	return tt
}

func (s *Sweeper) unwind(logger log.Logger, tid regs.ThreadID) (unwind.Trace, error) {
	resume, err := s.target.Suspend(tid)
	if err != nil {
		if s.options.Metrics != nil {
			s.options.Metrics.SuspendErrors.Inc()
		}
		return nil, err
	}
	defer resume()

	snap, err := s.target.ReadRegisters(tid)
	if err != nil {
		if s.options.Metrics != nil {
			s.options.Metrics.RegisterReadErrors.Inc()
		}
		return nil, err
	}
	level.Debug(logger).Log("msg", "registers", "regs", snap)

	w := unwind.NewWalker(logger, s.target, s.target.Arch())
	w.MaxFrames = s.options.MaxFrames
	trace := w.Walk(snap)
	if s.options.Metrics != nil {
		s.options.Metrics.FramesWalked.Observe(float64(len(trace)))
	}
	return trace, nil
}
