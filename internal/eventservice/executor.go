// Package eventservice implements the Event-Service Executor (spec §4.6):
// a named local IPC socket speaking newline-framed JSON to the payload
// process, periodic batching of finished/failed event-range reports, and a
// small state machine tracking the executor's lifecycle.
package eventservice

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/gridpilot/pilot/internal/communicator"
	"github.com/gridpilot/pilot/internal/model"
	"github.com/gridpilot/pilot/internal/taxonomy"
)

func marshal(v interface{}) (json.RawMessage, error) {
	return json.Marshal(v)
}

func unmarshalInto(raw json.RawMessage, v interface{}) error {
	return json.Unmarshal(raw, v)
}

// State is the Event-Service Executor's lifecycle state (spec §4.6).
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// defaultBatchInterval matches the 5-second event-update batching cadence
// named in spec §4.6.
const defaultBatchInterval = 5 * time.Second

// Executor runs one Event-Service job's IPC loop: serving event-range
// requests from the payload process and batching its status reports back to
// the server via Communicator.
type Executor struct {
	SocketPath    string
	PandaID       int64
	Comm          *communicator.Communicator
	BatchInterval time.Duration
	Logger        *zap.Logger

	mu      sync.Mutex
	state   State
	pending []EventUpdate

	ln *listener
}

// New returns an idle Executor.
func New(socketPath string, pandaID int64, comm *communicator.Communicator, logger *zap.Logger) *Executor {
	return &Executor{
		SocketPath:    socketPath,
		PandaID:       pandaID,
		Comm:          comm,
		BatchInterval: defaultBatchInterval,
		Logger:        logger.Named("eventservice"),
		state:         StateIdle,
	}
}

// State returns the executor's current lifecycle state.
func (e *Executor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Executor) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Run opens the IPC socket and serves the payload process until ctx is
// cancelled, then drains (flushes any pending updates) and stops.
func (e *Executor) Run(ctx context.Context) error {
	e.setState(StateStarting)

	ln, err := newListener(e.SocketPath)
	if err != nil {
		e.setState(StateStopped)
		return taxonomy.New(taxonomy.MessageHandlingFailure, map[string]any{"socket": e.SocketPath}, err.Error())
	}
	e.ln = ln

	e.setState(StateRunning)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.batchLoop(ctx)
	}()

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		for {
			c, err := ln.accept()
			if err != nil {
				return
			}
			go e.handleConn(ctx, c)
		}
	}()

	<-ctx.Done()
	e.setState(StateDraining)
	ln.close()
	<-acceptDone
	wg.Wait()
	e.flush(context.Background())
	e.setState(StateStopped)
	return nil
}

// handleConn services one payload-process connection until it closes or
// sends a malformed line: requests for more event ranges are answered
// inline (blocking on Comm.GetEvents); status updates are appended to the
// pending batch for the next flush.
func (e *Executor) handleConn(ctx context.Context, nc net.Conn) {
	defer nc.Close()
	c := newConn(nc)

	for {
		req, ok, err := c.readRequest()
		if err != nil {
			e.Logger.Warn("ipc read failed", zap.Error(err))
			return
		}
		if !ok {
			return
		}

		switch req.Type {
		case "getEventRanges":
			e.serveEventRanges(ctx, c, req.NRanges)
		case "eventUpdate":
			e.enqueueUpdate(req.Update)
		default:
			e.Logger.Warn("ipc: unknown request type", zap.String("type", req.Type))
		}
	}
}

func (e *Executor) serveEventRanges(ctx context.Context, c *conn, n int) {
	if n <= 0 {
		n = 1
	}
	resp, err := e.Comm.GetEvents(ctx, communicator.GetEventsRequest{PandaID: e.PandaID, NRanges: n})
	if err != nil {
		e.Logger.Warn("getEventRanges failed", zap.Error(err))
		_ = c.writeResponse(ipcResponse{NoMoreEvents: true})
		return
	}

	ranges := make([]EventRange, 0, len(resp.EventRanges))
	for _, raw := range resp.EventRanges {
		var er EventRange
		if err := unmarshalInto(raw, &er); err == nil {
			ranges = append(ranges, er)
		}
	}

	_ = c.writeResponse(ipcResponse{EventRanges: ranges, NoMoreEvents: len(ranges) == 0})
}

func (e *Executor) enqueueUpdate(u EventUpdate) {
	e.mu.Lock()
	e.pending = append(e.pending, u)
	e.mu.Unlock()
}

// batchLoop flushes the pending update batch every BatchInterval until ctx
// is cancelled, matching connection.Manager.heartbeatLoop's ticker shape.
func (e *Executor) batchLoop(ctx context.Context) {
	interval := e.BatchInterval
	if interval <= 0 {
		interval = defaultBatchInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.flush(ctx)
		}
	}
}

// flush drains the pending batch and reports it to the server, a no-op if
// nothing is pending.
func (e *Executor) flush(ctx context.Context) {
	e.mu.Lock()
	if len(e.pending) == 0 {
		e.mu.Unlock()
		return
	}
	batch := e.pending
	e.pending = nil
	e.mu.Unlock()

	raw := make([]json.RawMessage, 0, len(batch))
	for _, u := range batch {
		data, err := marshal(u)
		if err != nil {
			continue
		}
		raw = append(raw, data)
	}

	if err := e.Comm.UpdateEvents(ctx, communicator.UpdateEventsRequest{EventRanges: raw}); err != nil {
		e.Logger.Warn("failed to flush event updates, batch dropped", zap.Int("count", len(batch)), zap.Error(err))
	}
}

// CloneAndContinue builds a continuation Job for an event-range source that
// is exhausted mid-payload, grounded on the original pilot's "executed clone
// job" handling: it returns a copy of job whose CloneJobID is job's ID,
// together with an ExecutedCloneJob taxonomy error. Nothing in this module
// calls it: the Executor does not detect an exhausted source, and neither
// the Executor nor the orchestrator re-enqueues the returned Job.
func CloneAndContinue(job *model.Job) (*model.Job, error) {
	clone := *job
	clone.CloneJobID = job.ID
	return &clone, taxonomy.New(taxonomy.ExecutedCloneJob, map[string]any{"job_id": job.ID}, "event range source exhausted mid-payload, continuing as clone job")
}
