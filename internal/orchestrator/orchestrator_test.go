package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/gridpilot/pilot/internal/queues"
)

func TestRunReturnsNilWhenAllStagesSucceed(t *testing.T) {
	q := queues.NewBundle(1)
	noop := func(ctx context.Context, q *queues.Bundle) error {
		<-ctx.Done()
		return nil
	}
	o := New(q, noop, noop, noop, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if err := o.Run(ctx); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestRunAggregatesStageErrors(t *testing.T) {
	q := queues.NewBundle(1)
	failJob := func(ctx context.Context, q *queues.Bundle) error {
		return errors.New("job stage failed")
	}
	failData := func(ctx context.Context, q *queues.Bundle) error {
		return errors.New("data stage failed")
	}
	noop := func(ctx context.Context, q *queues.Bundle) error {
		<-ctx.Done()
		return nil
	}
	o := New(q, failJob, failData, noop, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	err := o.Run(ctx)
	agg, ok := err.(*AggregateError)
	if !ok {
		t.Fatalf("expected *AggregateError, got %T: %v", err, err)
	}
	if len(agg.Errors) != 2 {
		t.Fatalf("expected 2 aggregated errors, got %d: %v", len(agg.Errors), agg.Errors)
	}
}

func TestAggregateErrorMessage(t *testing.T) {
	empty := &AggregateError{}
	if empty.Error() == "" {
		t.Fatal("expected non-empty message even with no errors")
	}

	agg := &AggregateError{Errors: []error{errors.New("a"), errors.New("b")}}
	msg := agg.Error()
	if msg == "" {
		t.Fatal("expected non-empty message")
	}
}

func TestOnSignalSetsAbortAndGracefulStop(t *testing.T) {
	q := queues.NewBundle(1)
	noop := func(ctx context.Context, q *queues.Bundle) error { return nil }
	o := New(q, noop, noop, noop, zap.NewNop())

	now := time.Now()
	o.onSignal(sigTerm{}, now)

	if !o.AbortJob.Load() {
		t.Fatal("expected AbortJob set true after first signal")
	}
	if !o.GracefulStop.Load() {
		t.Fatal("expected GracefulStop set true after first signal")
	}
}

// sigTerm is a minimal os.Signal implementation for testing onSignal without
// depending on syscall.Signal's platform-specific values.
type sigTerm struct{}

func (sigTerm) String() string { return "sigterm-test" }
func (sigTerm) Signal()        {}
