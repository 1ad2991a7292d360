package eventservice

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/gridpilot/pilot/internal/communicator"
	"github.com/gridpilot/pilot/internal/model"
)

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateIdle:     "idle",
		StateStarting: "starting",
		StateRunning:  "running",
		StateDraining: "draining",
		StateStopped:  "stopped",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Fatalf("expected %q, got %q", want, got)
		}
	}
	if got := State(99).String(); got != "unknown" {
		t.Fatalf("expected unknown for out-of-range state, got %q", got)
	}
}

func TestCloneAndContinue(t *testing.T) {
	job := &model.Job{ID: "job-1"}
	clone, err := CloneAndContinue(job)
	if err == nil {
		t.Fatal("expected a taxonomy error describing the clone path")
	}
	if clone.CloneJobID != "job-1" {
		t.Fatalf("expected CloneJobID to reference the original job, got %q", clone.CloneJobID)
	}
	if clone == job {
		t.Fatal("expected a distinct clone Job value")
	}
}

func TestExecutorRunServesEventRangesAndFlushesUpdates(t *testing.T) {
	var gotUpdateEvents bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/server/panda/getEventRanges":
			w.Write([]byte(`{"StatusCode":0,"eventRanges":[{"eventRangeID":"er-1","PandaID":1}]}`))
		case "/server/panda/updateEventRanges":
			gotUpdateEvents = true
			w.Write([]byte(`{"StatusCode":0}`))
		}
	}))
	defer srv.Close()

	comm := communicator.New(communicator.Config{ServerURL: srv.URL}, zap.NewNop())
	socketPath := filepath.Join(t.TempDir(), "pilot.sock")

	exec := New(socketPath, 1, comm, zap.NewNop())
	exec.BatchInterval = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- exec.Run(ctx) }()

	waitForSocket(t, socketPath)

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("failed to dial ipc socket: %v", err)
	}
	defer conn.Close()

	writeLine(t, conn, ipcRequest{Type: "getEventRanges", NRanges: 1})
	resp := readResponse(t, conn)
	if len(resp.EventRanges) != 1 || resp.EventRanges[0].EventRangeID != "er-1" {
		t.Fatalf("unexpected event ranges response: %+v", resp)
	}

	writeLine(t, conn, ipcRequest{Type: "eventUpdate", Update: EventUpdate{EventRangeID: "er-1", Status: EventStatusFinished}})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if gotUpdateEvents {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !gotUpdateEvents {
		t.Fatal("expected the batched event update to be flushed to the server")
	}

	cancel()
	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Executor.Run to return after cancel")
	}

	if exec.State() != StateStopped {
		t.Fatalf("expected StateStopped after shutdown, got %v", exec.State())
	}
}

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if conn, err := net.Dial("unix", path); err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for socket at %s", path)
}

func writeLine(t *testing.T, conn net.Conn, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		t.Fatalf("failed to write request: %v", err)
	}
}

func readResponse(t *testing.T, conn net.Conn) ipcResponse {
	t.Helper()
	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		t.Fatalf("expected a response line, err=%v", scanner.Err())
	}
	var resp ipcResponse
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}
