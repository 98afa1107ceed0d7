// Package metrics provides execution metrics collection and reporting.
//
// Metrics collects statistics about job (or request) latency, success and
// failure counts, throughput, and concurrency (how many executions are in
// flight and the highest value seen). It is safe to share one Metrics
// between all workers of a pool.
//
// # Basic Usage
//
//	m := metrics.New()
//
//	m.RecordSubmit()
//	m.RecordStart()
//	start := time.Now()
//	// ... do work ...
//	m.RecordFinish(time.Since(start), true)
//
//	fmt.Printf("Total: %d, Peak: %d, P99: %v\n",
//	    m.TotalRequests(), m.PeakActive(), m.P99Latency())
//
// Callers that do not track concurrency (a load generator, for example)
// call RecordSuccess and RecordFailure directly.
//
// # Prometheus
//
// Register exposes the counters as Prometheus collectors that read the
// live values on scrape:
//
//	reg := prometheus.NewRegistry()
//	_ = m.Register(reg, "hellopool", "pool")
//
// # Thread Safety
//
// Counters are atomic; latency samples are guarded by a RWMutex.
package metrics
