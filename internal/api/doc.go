// Package api serves the admin HTTP surface of a running pool.
//
// Routes:
//
//	GET /api/status   pool size, queue length and job counters as JSON
//	GET /api/metrics  throughput and latency summary as JSON
//	GET /metrics      Prometheus exposition of the pool collectors
//	GET /ws           WebSocket stream of status ticks and pool events
//
// The server is read-only; it never submits jobs or closes the pool.
//
// # Basic Usage
//
//	srv, err := api.NewServer(api.Config{Addr: "127.0.0.1:9090"}, pool, bus)
//	if err != nil {
//	    return err
//	}
//	go srv.Start(ctx)
package api
