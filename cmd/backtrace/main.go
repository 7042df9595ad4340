package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/version"
	"gopkg.in/alecthomas/kingpin.v2"

	bcontext "github.com/grafana/backtrace/pkg/context"
)

var cfg struct {
	verbose bool
	metrics bool
	target  struct {
		pid            int
		procFS         string
		root           string
		suspendThreads bool
	}
	sweep struct {
		maxFrames   int
		concurrency int
		output      string
		color       bool
		banner      bool
	}
}

var (
	consoleOutput = os.Stderr
	logger        = log.NewLogfmtLogger(consoleOutput)
)

func main() {
	registry := prometheus.NewRegistry()
	ctx := bcontext.WithRegistry(context.Background(), registry)
	ctx = withOutput(ctx, os.Stdout)

	app := kingpin.New(filepath.Base(os.Args[0]), "Print the call stacks of every thread of a process.").UsageWriter(os.Stdout)
	app.Version(version.Print("backtrace"))
	app.HelpFlag.Short('h')
	app.Flag("verbose", "Enable verbose logging.").Short('v').Default("0").BoolVar(&cfg.verbose)
	app.Flag("metrics", "Print collected metrics to stderr on exit.").Default("false").BoolVar(&cfg.metrics)
	app.Flag("pid", "Process to inspect. 0 inspects the current task where supported.").Short('p').Default("0").IntVar(&cfg.target.pid)
	app.Flag("procfs", "procfs mount point.").Default("/proc").StringVar(&cfg.target.procFS)
	app.Flag("root", "Filesystem root for image files. Defaults to the root of the inspected process.").StringVar(&cfg.target.root)
	app.Flag("suspend-threads", "Suspend threads of the current task while unwinding them.").Default("false").BoolVar(&cfg.target.suspendThreads)

	sweepCmd := app.Command("sweep", "Unwind and symbolize every thread.").Default()
	sweepCmd.Flag("max-frames", "Maximum number of frames per thread.").Default("50").IntVar(&cfg.sweep.maxFrames)
	sweepCmd.Flag("concurrency", "Number of threads unwound at once.").Default("1").IntVar(&cfg.sweep.concurrency)
	sweepCmd.Flag("output", "How to output the result, examples: console, table, pprof=./threads.pprof").Default("console").StringVar(&cfg.sweep.output)
	sweepCmd.Flag("color", "Colorize console output.").Default(strconv.FormatBool(isatty.IsTerminal(os.Stdout.Fd()))).BoolVar(&cfg.sweep.color)
	sweepCmd.Flag("banner", "Frame console output with start and end markers.").Default("false").BoolVar(&cfg.sweep.banner)

	imagesCmd := app.Command("images", "List the images loaded into the process.")

	// parse command line arguments
	parsedCmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	// enable verbose logging if requested
	if !cfg.verbose {
		logger = level.NewFilter(logger, level.AllowInfo())
	}
	ctx = bcontext.WithLogger(ctx, logger)

	var err error
	switch parsedCmd {
	case sweepCmd.FullCommand():
		err = sweep(ctx)
	case imagesCmd.FullCommand():
		err = images(ctx)
	default:
		level.Error(logger).Log("msg", "unknown command", "cmd", parsedCmd)
	}
	if cfg.metrics {
		if mErr := dumpMetrics(consoleOutput, registry); mErr != nil {
			level.Warn(logger).Log("msg", "failed to print metrics", "err", mErr)
		}
	}
	os.Exit(checkError(err))
}

func checkError(err error) int {
	if err == nil {
		return 0
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	return 1
}

type contextKey uint8

const (
	contextKeyOutput contextKey = iota
)

func withOutput(ctx context.Context, w io.Writer) context.Context {
	return context.WithValue(ctx, contextKeyOutput, w)
}

func output(ctx context.Context) io.Writer {
	if w, ok := ctx.Value(contextKeyOutput).(io.Writer); ok {
		return w
	}
	return os.Stdout
}
