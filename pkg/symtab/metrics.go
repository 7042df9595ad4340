package symtab

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	ElfErrors      *prometheus.CounterVec
	KnownSymbols   *prometheus.CounterVec
	UnknownSymbols *prometheus.CounterVec
	UnknownModules prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ElfErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backtrace_elf_errors_total",
			Help: "Total number of errors while trying to load symbols of an elf file",
		}, []string{"error"}),
		KnownSymbols: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backtrace_known_symbols_total",
			Help: "Total number of successfully resolved addresses",
		}, []string{"format"}),
		UnknownSymbols: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backtrace_unknown_symbols_total",
			Help: "Total number of addresses inside a loaded image that could not be resolved to a symbol",
		}, []string{"format"}),
		UnknownModules: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtrace_unknown_modules_total",
			Help: "Total number of addresses outside of every loaded image",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ElfErrors,
			m.KnownSymbols,
			m.UnknownSymbols,
			m.UnknownModules,
		)
	}

	return m
}
