// Package worker provides a fixed-size goroutine pool for concurrent job execution.
//
// The Pool owns N workers that take messages from one shared, unbounded
// queue. A message is either a job or a terminate signal. Each worker holds
// the queue's lock only while removing one message, so other workers keep
// fetching while it runs a long job.
//
// # Basic Usage
//
//	pool, err := worker.NewPool(4) // 4 workers
//	if err != nil {
//	    return err // size must be at least 1
//	}
//	defer pool.Close()
//
//	for i := 0; i < 100; i++ {
//	    if err := pool.Execute(func() {
//	        // do work
//	    }); err != nil {
//	        return err // pool already closed
//	    }
//	}
//
// # Configuration
//
// Use NewPoolWithConfig to share metrics, publish lifecycle events, or log
// through a specific logger:
//
//	config := worker.PoolConfig{
//	    NumWorkers: 8,
//	    Metrics:    metrics.New(),
//	    Events:     bus,
//	}
//	pool, err := worker.NewPoolWithConfig(config)
//
// # Shutdown
//
// Close sends one terminate signal per worker and only then waits for each
// worker to exit. It blocks until every job that was accepted by Execute
// has run; a job that is executing is never interrupted and there is no
// timeout. Execute after Close has begun returns ErrPoolClosed. Close is
// safe to call more than once.
//
// # Failing Jobs
//
// A job that panics is recovered by its worker, logged, counted as failed
// in the pool metrics, and published as a job_panicked event. The worker
// then continues with the next message.
package worker
