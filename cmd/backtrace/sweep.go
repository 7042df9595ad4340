package main

import (
	"context"
	"os"
	"strings"

	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	bcontext "github.com/grafana/backtrace/pkg/context"
	"github.com/grafana/backtrace/pkg/report"
	"github.com/grafana/backtrace/pkg/trace"
)

func sweep(ctx context.Context) error {
	t, err := openTarget(ctx)
	if err != nil {
		return err
	}
	defer t.Close()

	_, resolver, err := newResolver(ctx, t)
	if err != nil {
		return err
	}
	s := trace.NewSweeper(t, resolver, trace.SweepOptions{
		MaxFrames:   cfg.sweep.maxFrames,
		Concurrency: cfg.sweep.concurrency,
		Metrics:     trace.NewMetrics(bcontext.Registry(ctx)),
	})
	traces, err := s.Sweep(ctx)
	if err != nil {
		return err
	}
	return writeTraces(ctx, cfg.sweep.output, traces)
}

func writeTraces(ctx context.Context, outputFlag string, traces []report.ThreadTrace) error {
	switch {
	case outputFlag == "console":
		return report.Text{Color: cfg.sweep.color, Banner: cfg.sweep.banner}.Write(output(ctx), traces)
	case outputFlag == "table":
		return report.Table{}.Write(output(ctx), traces)
	case strings.HasPrefix(outputFlag, "pprof="):
		path := strings.TrimPrefix(outputFlag, "pprof=")
		if path == "" {
			return errors.New("no pprof output path given")
		}
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := (report.Pprof{}).Write(f, traces); err != nil {
			_ = f.Close()
			return errors.Wrap(err, "write pprof")
		}
		level.Info(bcontext.Logger(ctx)).Log("msg", "profile written", "path", path, "threads", len(traces))
		return f.Close()
	}
	return errors.Errorf("unknown output %q", outputFlag)
}
