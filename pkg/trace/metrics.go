package trace

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	RegisterReadErrors prometheus.Counter
	SuspendErrors      prometheus.Counter
	FramesWalked       prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RegisterReadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtrace_register_read_errors_total",
			Help: "Total number of threads whose registers could not be read",
		}),
		SuspendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtrace_suspend_errors_total",
			Help: "Total number of threads that could not be suspended",
		}),
		FramesWalked: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "backtrace_frames_walked",
			Help:    "Number of return addresses collected per thread",
			Buckets: prometheus.LinearBuckets(0, 5, 11),
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.RegisterReadErrors,
			m.SuspendErrors,
			m.FramesWalked,
		)
	}

	return m
}
