// Package queues provides the bounded-channel bundle the Workflow
// Orchestrator wires its three stages together with (spec §3, §4.7).
//
// Each named queue is a single-producer-multi-consumer channel in topology,
// though — matching the teacher's agent/internal/executor.Executor.queue —
// nothing here prevents multiple producers; callers enforce topology by
// convention, not by type.
package queues

import (
	"fmt"

	"github.com/gridpilot/pilot/internal/model"
)

// defaultCapacity matches the teacher's executor queueSize constant: small
// enough to apply backpressure, large enough that a burst of acquired jobs
// doesn't stall job acquisition on every tick.
const defaultCapacity = 16

// Bundle holds every named queue in the pipeline described by spec §3.
type Bundle struct {
	Jobs               chan *model.Job
	DataIn             chan *model.Job
	DataOut            chan *model.Job
	ValidatedJobs      chan *model.Job
	MonitoredPayloads  chan *model.Job
	FinishedJobs       chan *model.Job
	FailedJobs         chan *model.Job
	CompletedJobs      chan *model.Job
	CompletedJobIDs    chan string
}

// NewBundle allocates a Bundle whose queues each have the given capacity.
// Pass 0 to use the default capacity (16), matching the teacher's queueSize.
func NewBundle(capacity int) *Bundle {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Bundle{
		Jobs:              make(chan *model.Job, capacity),
		DataIn:            make(chan *model.Job, capacity),
		DataOut:           make(chan *model.Job, capacity),
		ValidatedJobs:     make(chan *model.Job, capacity),
		MonitoredPayloads: make(chan *model.Job, capacity),
		FinishedJobs:      make(chan *model.Job, capacity),
		FailedJobs:        make(chan *model.Job, capacity),
		CompletedJobs:     make(chan *model.Job, capacity),
		CompletedJobIDs:   make(chan string, capacity),
	}
}

// TryPut attempts a non-blocking send, matching the teacher's Enqueue
// ("Non-blocking — the caller should log and discard rejected jobs").
// Returns an error if the queue is full.
func TryPut[T any](ch chan<- T, v T, queueName string) error {
	select {
	case ch <- v:
		return nil
	default:
		return fmt.Errorf("queues: %s queue full, rejecting item", queueName)
	}
}
