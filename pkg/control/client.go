package control

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/praxis-tools/servitor/pkg/errors"
)

// Client sends single request/response exchanges to a running daemon's
// control socket. It is safe for sequential reuse; each Send opens a
// fresh connection, matching the short-lived CLI invocation pattern.
type Client struct {
	socketPath string
}

func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Send delivers one request and reads exactly one response
func (c *Client) Send(ctx context.Context, request *Request) (*Response, error) {
	if ctx == nil {
		return nil, errors.NewValidationError("context cannot be nil", nil)
	}

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, errors.NewIOError("failed to connect to daemon", err).
			WithContext("socket", c.socketPath)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	payload, err := json.Marshal(request)
	if err != nil {
		return nil, errors.NewProtocolError("failed to encode request", err)
	}
	payload = append(payload, '\n')
	if _, err := conn.Write(payload); err != nil {
		return nil, errors.NewIOError("failed to send request", err)
	}

	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		return nil, errors.NewIOError("failed to read response", err)
	}

	var response Response
	if err := json.Unmarshal(line, &response); err != nil {
		return nil, errors.NewProtocolError("failed to decode response", err)
	}
	return &response, nil
}

// Ping reports whether the daemon's control endpoint is connectable and
// responding. Used as the liveness signal by the client-side bootstrap.
func (c *Client) Ping(timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	response, err := c.Send(ctx, &Request{Command: CommandPing})
	return err == nil && response.OK
}
