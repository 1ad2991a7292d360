package eventservice

import (
	"bufio"
	"fmt"
	"net"
	"os"

	"github.com/goccy/go-json"
)

// listener wraps a named unix socket, generalized from
// restic.Wrapper.runWithProgress's bufio.Scanner-over-a-pipe pattern — here
// the pipe is a long-lived bidirectional socket to the payload process
// instead of a one-shot subprocess's stdout.
type listener struct {
	path string
	ln   net.Listener
}

// newListener creates (replacing any stale socket file) a unix socket at
// path.
func newListener(path string) (*listener, error) {
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("eventservice: failed to listen on %s: %w", path, err)
	}
	return &listener{path: path, ln: ln}, nil
}

func (l *listener) accept() (net.Conn, error) {
	return l.ln.Accept()
}

func (l *listener) close() error {
	err := l.ln.Close()
	os.Remove(l.path)
	return err
}

// conn wraps one accepted connection with newline-framed JSON encode/decode,
// matching spec §4.6's "newline-framed JSON" IPC wire format.
type conn struct {
	c      net.Conn
	reader *bufio.Scanner
}

func newConn(c net.Conn) *conn {
	scanner := bufio.NewScanner(c)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &conn{c: c, reader: scanner}
}

// readRequest blocks for the next newline-framed JSON request. Returns
// ok=false with a nil error when the payload process closes its end, and an
// error for a failed read or a malformed line.
func (c *conn) readRequest() (ipcRequest, bool, error) {
	if !c.reader.Scan() {
		if err := c.reader.Err(); err != nil {
			return ipcRequest{}, false, fmt.Errorf("eventservice: read failed: %w", err)
		}
		return ipcRequest{}, false, nil // clean EOF
	}
	line := c.reader.Bytes()
	if len(line) == 0 {
		return ipcRequest{}, true, nil
	}
	var req ipcRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return ipcRequest{}, false, fmt.Errorf("eventservice: malformed request: %w", err)
	}
	return req, true, nil
}

func (c *conn) writeResponse(resp ipcResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("eventservice: failed to marshal response: %w", err)
	}
	data = append(data, '\n')
	if _, err := c.c.Write(data); err != nil {
		return fmt.Errorf("eventservice: write failed: %w", err)
	}
	return nil
}

func (c *conn) close() error {
	return c.c.Close()
}
