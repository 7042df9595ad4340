// Package trace turns the threads of a target into symbolized traces.
package trace

import (
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/samber/lo"

	"github.com/grafana/backtrace/pkg/symtab"
	"github.com/grafana/backtrace/pkg/unwind"
)

// Assembler symbolizes the addresses of a trace.
type Assembler struct {
	logger   log.Logger
	resolver *symtab.Resolver
}

func NewAssembler(logger log.Logger, resolver *symtab.Resolver) *Assembler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Assembler{logger: logger, resolver: resolver}
}

// Symbolize returns one match per resolvable address, in trace order.
// Addresses outside every image, or preceding every symbol of their image,
// are dropped.
func (a *Assembler) Symbolize(t unwind.Trace) []symtab.SymbolMatch {
	return lo.FilterMap(t, func(addr uint64, i int) (symtab.SymbolMatch, bool) {
		m, err := a.resolver.Lookup(addr)
		if err != nil {
			level.Debug(a.logger).Log("msg", "dropping frame", "frame", i, "addr", fmt.Sprintf("0x%x", addr), "err", err)
			return symtab.SymbolMatch{}, false
		}
		return m, true
	})
}
