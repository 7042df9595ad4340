package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/pprof/profile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/backtrace/pkg/report"
	"github.com/grafana/backtrace/pkg/symtab"
	"github.com/grafana/backtrace/pkg/trace"
)

var testTraces = []report.ThreadTrace{
	{
		Thread: 7,
		Main:   true,
		Frames: []symtab.SymbolMatch{
			{Image: "/usr/bin/app", Symbol: "main", Address: 0x401000, Offset: 0x20},
		},
	},
}

func TestWriteTraces(t *testing.T) {
	var buf bytes.Buffer
	ctx := withOutput(context.Background(), &buf)

	require.NoError(t, writeTraces(ctx, "console", testTraces))
	assert.Contains(t, buf.String(), "callbacktrace of main thread")
	assert.Contains(t, buf.String(), "main + 32")

	buf.Reset()
	require.NoError(t, writeTraces(ctx, "table", testTraces))
	assert.Contains(t, buf.String(), "0x0000000000401000")

	path := filepath.Join(t.TempDir(), "threads.pprof")
	require.NoError(t, writeTraces(ctx, "pprof="+path, testTraces))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	p, err := profile.Parse(f)
	require.NoError(t, err)
	require.Len(t, p.Sample, 1)

	require.Error(t, writeTraces(ctx, "pprof=", testTraces))
	require.ErrorContains(t, writeTraces(ctx, "json", testTraces), `unknown output "json"`)
}

func TestWriteImages(t *testing.T) {
	var buf bytes.Buffer
	writeImages(&buf, []symtab.LoadedImage{
		{Index: 0, Header: 0x400000, Name: "/usr/bin/app", Format: symtab.FormatELF, Bits: 64, Segments: make([]symtab.Segment, 2)},
	})
	assert.Contains(t, buf.String(), "elf64")
	assert.Contains(t, buf.String(), "0x400000")
	assert.Contains(t, buf.String(), "/usr/bin/app")
}

func TestDumpMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := trace.NewMetrics(reg)
	m.SuspendErrors.Inc()

	var buf bytes.Buffer
	require.NoError(t, dumpMetrics(&buf, reg))
	assert.Contains(t, buf.String(), "backtrace_suspend_errors_total 1")
}
