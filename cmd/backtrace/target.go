package main

import (
	"context"
	"path/filepath"
	"strconv"

	bcontext "github.com/grafana/backtrace/pkg/context"
	"github.com/grafana/backtrace/pkg/symtab"
	"github.com/grafana/backtrace/pkg/target"
)

func openTarget(ctx context.Context) (target.Target, error) {
	logger := bcontext.Logger(ctx)
	if cfg.target.pid == 0 {
		t, err := target.OpenSelf(logger, target.TaskOptions{SuspendThreads: cfg.target.suspendThreads})
		if err != nil {
			return nil, err
		}
		return t, nil
	}
	p, err := target.OpenProcess(logger, target.ProcessOptions{Pid: cfg.target.pid, ProcFS: cfg.target.procFS})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// fsRoot is where image paths of t are looked up.
func fsRoot(t target.Target) string {
	if cfg.target.root != "" {
		return cfg.target.root
	}
	if r, ok := t.(interface{ Root() string }); ok {
		return r.Root()
	}
	if cfg.target.pid != 0 {
		return filepath.Join(cfg.target.procFS, strconv.Itoa(cfg.target.pid), "root")
	}
	return ""
}

func newResolver(ctx context.Context, t target.Target) (*symtab.Catalog, *symtab.Resolver, error) {
	logger := bcontext.Logger(ctx)
	catalog := symtab.NewCatalog(logger, t.Lister(), t)
	resolver, err := symtab.NewResolver(logger, catalog, symtab.ResolverOptions{
		Root:    fsRoot(t),
		Metrics: symtab.NewMetrics(bcontext.Registry(ctx)),
	})
	if err != nil {
		return nil, nil, err
	}
	return catalog, resolver, nil
}
