// Package client provides a load generator for the hello server.
//
// The Client sends a fixed number of single-line requests to a target
// address. Each request is a job on the client's own worker.Pool, so
// Concurrency bounds the number of open connections. Dialing is retried
// with exponential backoff.
//
// # Basic Usage
//
//	config := client.DefaultConfig()
//	config.Requests = 1000
//	config.SlowRatio = 0.1 // 10% GET /sleep
//
//	cl, err := client.New(config)
//	if err != nil {
//	    return err
//	}
//	snap, err := cl.Run(ctx)
//	fmt.Printf("Total: %d, RPS: %.2f\n", snap.TotalRequests, snap.OverallRPS)
//
// # Configuration
//
// The Config struct allows tuning:
//   - Requests: number of requests to send
//   - Concurrency: parallel connections (pool workers)
//   - SlowRatio: fraction of GET /sleep requests
//   - MissingRatio: fraction of requests for an unknown path
//   - MaxRetries, RetryInterval: dial retry policy
//
// A request succeeds when the server answers with the expected status line:
// 200 OK for / and /sleep, 404 NOT FOUND for anything else.
package client
