//go:build !(darwin && cgo)

package target

import (
	"github.com/go-kit/log"
	"github.com/pkg/errors"
)

type TaskOptions struct {
	SuspendThreads bool
}

// OpenSelf is only available on Darwin built with cgo.
func OpenSelf(log.Logger, TaskOptions) (Target, error) {
	return nil, errors.Wrap(ErrUnsupported, "inspecting the current task needs darwin and cgo")
}
