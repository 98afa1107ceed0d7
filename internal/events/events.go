// Package events provides pool lifecycle notifications and a pub/sub bus.
package events

import "time"

// EventType represents the type of event
type EventType string

const (
	// EventWorkerStarted is emitted when a worker goroutine enters its loop
	EventWorkerStarted EventType = "worker_started"
	// EventWorkerExited is emitted when a worker consumes a terminate signal
	EventWorkerExited EventType = "worker_exited"
	// EventWorkerDisconnected is emitted when a worker finds the queue closed without a terminate signal
	EventWorkerDisconnected EventType = "worker_disconnected"
	// EventJobStarted is emitted when a worker begins executing a job
	EventJobStarted EventType = "job_started"
	// EventJobFinished is emitted when a job returns normally
	EventJobFinished EventType = "job_finished"
	// EventJobPanicked is emitted when a job panics and the worker recovers
	EventJobPanicked EventType = "job_panicked"
	// EventPoolShutdown is emitted once every worker has been joined
	EventPoolShutdown EventType = "pool_shutdown"
)

// Event represents a pool lifecycle event
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	WorkerID  int       `json:"worker_id"`
	Data      EventData `json:"data,omitempty"`
}

// EventData contains event-specific data
type EventData struct {
	Duration string `json:"duration,omitempty"`
	Workers  int    `json:"workers,omitempty"`
	Error    string `json:"error,omitempty"`
}

func newEvent(t EventType, workerID int) Event {
	return Event{
		Type:      t,
		Timestamp: time.Now(),
		WorkerID:  workerID,
	}
}

// NewWorkerStartedEvent creates a worker started event
func NewWorkerStartedEvent(workerID int) Event {
	return newEvent(EventWorkerStarted, workerID)
}

// NewWorkerExitedEvent creates a worker exited event
func NewWorkerExitedEvent(workerID int) Event {
	return newEvent(EventWorkerExited, workerID)
}

// NewWorkerDisconnectedEvent creates a worker disconnected event
func NewWorkerDisconnectedEvent(workerID int, err error) Event {
	e := newEvent(EventWorkerDisconnected, workerID)
	if err != nil {
		e.Data.Error = err.Error()
	}
	return e
}

// NewJobStartedEvent creates a job started event
func NewJobStartedEvent(workerID int) Event {
	return newEvent(EventJobStarted, workerID)
}

// NewJobFinishedEvent creates a job finished event
func NewJobFinishedEvent(workerID int, took time.Duration) Event {
	e := newEvent(EventJobFinished, workerID)
	e.Data.Duration = took.String()
	return e
}

// NewJobPanickedEvent creates a job panicked event
func NewJobPanickedEvent(workerID int, took time.Duration, err error) Event {
	e := newEvent(EventJobPanicked, workerID)
	e.Data.Duration = took.String()
	if err != nil {
		e.Data.Error = err.Error()
	}
	return e
}

// NewPoolShutdownEvent creates a pool shutdown event. WorkerID is -1.
func NewPoolShutdownEvent(workers int) Event {
	e := newEvent(EventPoolShutdown, -1)
	e.Data.Workers = workers
	return e
}
