package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Collectors は Metrics の値を読み出す Prometheus コレクタを返す
func (m *Metrics) Collectors(namespace, subsystem string) []prometheus.Collector {
	counter := func(name, help string, fn func() float64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, fn)
	}
	gauge := func(name, help string, fn func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, fn)
	}

	return []prometheus.Collector{
		counter("jobs_submitted_total", "Total number of jobs submitted to the pool",
			func() float64 { return float64(m.Submitted()) }),
		counter("jobs_completed_total", "Total number of jobs that returned normally",
			func() float64 { return float64(m.SuccessRequests()) }),
		counter("jobs_failed_total", "Total number of jobs that panicked",
			func() float64 { return float64(m.FailedRequests()) }),
		gauge("jobs_active", "Number of jobs currently executing",
			func() float64 { return float64(m.Active()) }),
		gauge("jobs_active_peak", "Highest number of jobs executing at once",
			func() float64 { return float64(m.PeakActive()) }),
		gauge("job_latency_average_seconds", "Average job execution time",
			func() float64 { return m.AverageLatency().Seconds() }),
		gauge("job_latency_p99_seconds", "Sampled 99th percentile job execution time",
			func() float64 { return m.P99Latency().Seconds() }),
	}
}

// Register はコレクタをレジストリに登録する
func (m *Metrics) Register(reg prometheus.Registerer, namespace, subsystem string) error {
	var errs []error
	for _, c := range m.Collectors(namespace, subsystem) {
		if err := reg.Register(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
