package context

import (
	"bytes"
	"context"
	"testing"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestLogger(t *testing.T) {
	ctx := context.Background()
	require.Equal(t, defaultLogger, Logger(ctx))

	buf := &bytes.Buffer{}
	ctx = WrapThread(WithLogger(ctx, log.NewLogfmtLogger(buf)), 7)
	require.NoError(t, Logger(ctx).Log("msg", "hello"))
	require.Equal(t, "tid=7 msg=hello\n", buf.String())
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	require.Nil(t, Registry(ctx))
	reg := prometheus.NewRegistry()
	require.Equal(t, reg, Registry(WithRegistry(ctx, reg)))
}
