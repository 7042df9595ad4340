package test

import (
	"bytes"
	"sync"
	"testing"

	"github.com/go-kit/log"
)

type testingLogger struct {
	t  testing.TB
	mu sync.Mutex
}

// NewTestingLogger routes log lines to t.Log, formatted as logfmt.
func NewTestingLogger(t testing.TB) log.Logger {
	return &testingLogger{t: t}
}

func (l *testingLogger) Log(keyvals ...interface{}) error {
	l.t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	buf := &bytes.Buffer{}
	if err := log.NewLogfmtLogger(buf).Log(keyvals...); err != nil {
		return err
	}
	l.t.Log(string(bytes.TrimRight(buf.Bytes(), "\n")))
	return nil
}
