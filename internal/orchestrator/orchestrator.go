// Package orchestrator implements the Workflow Orchestrator (spec §4.7):
// three concurrently supervised stages (job, data, monitor), each reporting
// failures into its own bucket, polled non-blocking with 100ms joins, plus
// signal-driven graceful shutdown with a hard-kill escalation path.
// Grounded on original_source/pilot/workflow/stager.py's run()/interrupt(),
// generalized from Python threads+queue.Queue to goroutines+channels, and on
// agent/cmd/agent/main.go's "go exec.Run(...); mgr.Run(ctx)" concurrent
// startup shape. Aggregate-error draining is modeled on
// fcostin-tcplb/lib/errors.AggregateErrorFromChannel.
package orchestrator

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/gridpilot/pilot/internal/queues"
)

// Stage is one of the three concurrently-run pipeline stages.
type Stage func(ctx context.Context, q *queues.Bundle) error

// AggregateError bundles every non-nil error collected from the stage
// buckets, matching fcostin-tcplb/lib/errors.AggregateError's shape.
type AggregateError struct {
	Errors []error
}

func (e *AggregateError) Error() string {
	if e == nil || len(e.Errors) == 0 {
		return "orchestrator: no errors"
	}
	msg := "orchestrator: aggregate error: "
	for i, err := range e.Errors {
		if i > 0 {
			msg += "; "
		}
		msg += err.Error()
	}
	return msg
}

// Orchestrator runs the job/data/monitor stages concurrently and supervises
// them until they finish or a signal requests shutdown.
type Orchestrator struct {
	Queues  *queues.Bundle
	Job     Stage
	Data    Stage
	Monitor Stage
	Logger  *zap.Logger

	// GracefulStop requests that stages wind down their current work and
	// exit at the next safe point.
	GracefulStop *atomic.Bool
	// AbortJob requests that stages abandon in-flight work immediately.
	AbortJob *atomic.Bool

	mu            sync.Mutex
	signalCounter int
	killTime      time.Time
}

// New builds an Orchestrator with fresh GracefulStop/AbortJob flags.
func New(q *queues.Bundle, job, data, monitor Stage, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		Queues:       q,
		Job:          job,
		Data:         data,
		Monitor:      monitor,
		Logger:       logger.Named("orchestrator"),
		GracefulStop: &atomic.Bool{},
		AbortJob:     &atomic.Bool{},
	}
}

// bucket pairs a named stage's result channel with its display name, for
// the non-blocking poll loop.
type bucket struct {
	name string
	errs chan error
	done chan struct{}
}

// Run starts all three stages, installs signal handlers, and blocks until
// every stage has exited — either on its own or because a signal requested
// shutdown — returning an *AggregateError if any stage failed.
func (o *Orchestrator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh,
		syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT,
		syscall.SIGSEGV, syscall.SIGXCPU, syscall.SIGUSR1, syscall.SIGBUS,
	)
	defer signal.Stop(sigCh)

	buckets := []*bucket{
		o.spawn(ctx, "job", o.Job),
		o.spawn(ctx, "data", o.Data),
		o.spawn(ctx, "monitor", o.Monitor),
	}

	var collected []error
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		remaining := 0
		for _, b := range buckets {
			select {
			case err := <-b.errs:
				if err != nil {
					o.Logger.Warn("received exception from stage", zap.String("stage", b.name), zap.Error(err))
					collected = append(collected, err)
				}
			default:
			}
			select {
			case <-b.done:
			default:
				remaining++
			}
		}

		if remaining == 0 {
			break
		}

		select {
		case sig := <-sigCh:
			o.onSignal(sig, time.Now())
			cancel()
		case <-ticker.C:
		}
	}

	o.Logger.Info("all orchestrator stages have joined")
	if len(collected) == 0 {
		return nil
	}
	return &AggregateError{Errors: collected}
}

// spawn runs stage in its own goroutine, reporting its terminal error (if
// any) on errs and closing done when it exits — the Go equivalent of
// stager.py's ExcThread + bucket.Queue pairing.
func (o *Orchestrator) spawn(ctx context.Context, name string, stage Stage) *bucket {
	b := &bucket{name: name, errs: make(chan error, 1), done: make(chan struct{})}
	if stage == nil {
		close(b.done)
		return b
	}
	go func() {
		defer close(b.done)
		if err := stage(ctx, o.Queues); err != nil {
			b.errs <- err
		}
	}()
	return b
}
