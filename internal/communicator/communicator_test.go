package communicator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/gridpilot/pilot/internal/taxonomy"
)

func TestGetJobsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/server/panda/getJob" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(`{"StatusCode":0,"jobs":[{"PandaID":1}]}`))
	}))
	defer srv.Close()

	c := New(Config{ServerURL: srv.URL}, zap.NewNop())
	resp, err := c.GetJobs(context.Background(), GetJobsRequest{SiteName: "SITE1"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if resp.StatusCode != 0 || len(resp.Jobs) != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestGetJobsServerErrorWrappedAsCommunicationFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := New(Config{ServerURL: srv.URL}, zap.NewNop())
	_, err := c.GetJobs(context.Background(), GetJobsRequest{SiteName: "SITE1"})
	if !taxonomy.Is(err, taxonomy.CommunicationFailure) {
		t.Fatalf("expected CommunicationFailure, got %v", err)
	}
}

func TestUpdateEventsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"StatusCode":0}`))
	}))
	defer srv.Close()

	c := New(Config{ServerURL: srv.URL}, zap.NewNop())
	if err := c.UpdateEvents(context.Background(), UpdateEventsRequest{}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestUpdateJobsUnreachableServer(t *testing.T) {
	c := New(Config{ServerURL: "http://127.0.0.1:1"}, zap.NewNop())
	err := c.UpdateJobs(context.Background(), UpdateJobsRequest{PandaID: 1, State: "running"})
	if !taxonomy.Is(err, taxonomy.CommunicationFailure) {
		t.Fatalf("expected CommunicationFailure for unreachable server, got %v", err)
	}
}

func TestNewDefaultsTimeout(t *testing.T) {
	c := New(Config{ServerURL: "http://example.invalid"}, zap.NewNop())
	if c.cfg.Timeout.Seconds() != 60 {
		t.Fatalf("expected default 60s timeout, got %v", c.cfg.Timeout)
	}
}
