// Package communicator implements the pilot's one channel of contact with
// the PanDA server: four JSON/HTTPS operations, each independently
// mutexed so a slow get_jobs call never blocks an update_events call (spec
// §4.5). Grounded on agent/internal/connection/manager.go's reconnect
// machinery, adapted from a long-lived gRPC session to short independent
// HTTP requests, each wrapped in its own circuit breaker rather than a
// single shared reconnect loop — spec §4.5 calls for operation-level
// isolation, not session-level.
package communicator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/gridpilot/pilot/internal/taxonomy"
)

// Config holds the parameters needed to reach the server.
type Config struct {
	// ServerURL is the base URL, resolved by internal/config's
	// get_panda_server-style fallback chain before reaching here.
	ServerURL string
	Timeout   time.Duration
}

// Communicator issues the four JSON/HTTPS operations the pilot needs. Each
// operation has its own mutex and circuit breaker so operations never
// contend with each other.
type Communicator struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger

	getJobsMu      sync.Mutex
	getEventsMu    sync.Mutex
	updateEventsMu sync.Mutex
	updateJobsMu   sync.Mutex

	getJobsBreaker      *gobreaker.CircuitBreaker
	getEventsBreaker    *gobreaker.CircuitBreaker
	updateEventsBreaker *gobreaker.CircuitBreaker
	updateJobsBreaker   *gobreaker.CircuitBreaker
}

// New builds a Communicator against cfg. logger is named "communicator".
func New(cfg Config, logger *zap.Logger) *Communicator {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Communicator{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.Named("communicator"),

		getJobsBreaker:      newBreaker("get_jobs"),
		getEventsBreaker:    newBreaker("get_events"),
		updateEventsBreaker: newBreaker("update_events"),
		updateJobsBreaker:   newBreaker("update_jobs"),
	}
}

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
}

// GetJobsRequest/Response mirror the getJob dispatcher call's shape.
type GetJobsRequest struct {
	SiteName string `json:"siteName"`
	Mem      int64  `json:"mem,omitempty"`
	DiskSpace int64 `json:"diskSpace,omitempty"`
}

type GetJobsResponse struct {
	StatusCode int               `json:"StatusCode"`
	Jobs       []json.RawMessage `json:"jobs"`
}

// GetEventsRequest/Response mirror the getEventRanges call.
type GetEventsRequest struct {
	PandaID int64 `json:"pandaID"`
	NRanges int   `json:"nRanges"`
}

type GetEventsResponse struct {
	StatusCode  int               `json:"StatusCode"`
	EventRanges []json.RawMessage `json:"eventRanges"`
}

// UpdateEventsRequest mirrors updateEventRanges.
type UpdateEventsRequest struct {
	EventRanges []json.RawMessage `json:"eventRanges"`
}

// UpdateJobsRequest mirrors updateJob.
type UpdateJobsRequest struct {
	PandaID int64  `json:"pandaID"`
	State   string `json:"state"`
}

// ackResponse is the minimal envelope every server endpoint replies with.
type ackResponse struct {
	StatusCode int    `json:"StatusCode"`
	Message    string `json:"errorDiag,omitempty"`
}

// GetJobs requests new job assignments from the server.
func (c *Communicator) GetJobs(ctx context.Context, req GetJobsRequest) (GetJobsResponse, error) {
	c.getJobsMu.Lock()
	defer c.getJobsMu.Unlock()

	out, err := c.getJobsBreaker.Execute(func() (interface{}, error) {
		var resp GetJobsResponse
		if err := c.doJSON(ctx, "/server/panda/getJob", req, &resp); err != nil {
			return nil, err
		}
		return resp, nil
	})
	if err != nil {
		return GetJobsResponse{}, wrapCommErr("get_jobs", err)
	}
	return out.(GetJobsResponse), nil
}

// GetEvents requests event ranges for an Event-Service job.
func (c *Communicator) GetEvents(ctx context.Context, req GetEventsRequest) (GetEventsResponse, error) {
	c.getEventsMu.Lock()
	defer c.getEventsMu.Unlock()

	out, err := c.getEventsBreaker.Execute(func() (interface{}, error) {
		var resp GetEventsResponse
		if err := c.doJSON(ctx, "/server/panda/getEventRanges", req, &resp); err != nil {
			return nil, err
		}
		return resp, nil
	})
	if err != nil {
		return GetEventsResponse{}, wrapCommErr("get_events", err)
	}
	return out.(GetEventsResponse), nil
}

// UpdateEvents reports finished/failed event ranges back to the server.
func (c *Communicator) UpdateEvents(ctx context.Context, req UpdateEventsRequest) error {
	c.updateEventsMu.Lock()
	defer c.updateEventsMu.Unlock()

	_, err := c.updateEventsBreaker.Execute(func() (interface{}, error) {
		var resp ackResponse
		if err := c.doJSON(ctx, "/server/panda/updateEventRanges", req, &resp); err != nil {
			return nil, err
		}
		return resp, nil
	})
	if err != nil {
		return wrapCommErr("update_events", err)
	}
	return nil
}

// UpdateJobs reports a job status transition back to the server.
func (c *Communicator) UpdateJobs(ctx context.Context, req UpdateJobsRequest) error {
	c.updateJobsMu.Lock()
	defer c.updateJobsMu.Unlock()

	_, err := c.updateJobsBreaker.Execute(func() (interface{}, error) {
		var resp ackResponse
		if err := c.doJSON(ctx, "/server/panda/updateJob", req, &resp); err != nil {
			return nil, err
		}
		return resp, nil
	})
	if err != nil {
		return wrapCommErr("update_jobs", err)
	}
	return nil
}

// doJSON POSTs body as JSON to c.cfg.ServerURL+path and decodes the response
// into out. Non-2xx responses are treated as communication failures.
func (c *Communicator) doJSON(ctx context.Context, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("communicator: failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ServerURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("communicator: failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("communicator: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("communicator: failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("communicator: server returned status %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("communicator: failed to decode response: %w", err)
	}
	return nil
}

func wrapCommErr(op string, err error) error {
	return taxonomy.New(taxonomy.CommunicationFailure, map[string]any{"operation": op}, err.Error())
}
