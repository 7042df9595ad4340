//go:build !(linux && (amd64 || arm64 || 386 || arm))

package target

import (
	"github.com/go-kit/log"
	"github.com/pkg/errors"
)

type ProcessOptions struct {
	Pid    int
	ProcFS string
}

// OpenProcess is only available on Linux.
func OpenProcess(log.Logger, ProcessOptions) (Target, error) {
	return nil, errors.Wrap(ErrUnsupported, "inspecting other processes needs linux and ptrace")
}
