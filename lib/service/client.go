// Copyright 2026 The Balance Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/balance-foundation/balance/lib/codec"
)

// dialTimeout covers only the connect phase; the daemon is local so a
// slow dial means it is not running.
const dialTimeout = 5 * time.Second

// responseReadTimeout is how long the client waits for the response
// after writing its request. Matched to the server's readTimeout +
// writeTimeout to allow for handler execution.
const responseReadTimeout = 45 * time.Second

// maxResponseSize matches the server's maxRequestSize for symmetry.
// Day listings are the largest responses and stay well under this.
const maxResponseSize = 256 * 1024

// CallError is returned by Call when the daemon responds with
// ok=false. Code carries the machine-readable taxonomy code when the
// daemon supplied one.
type CallError struct {
	Action  string
	Message string
	Code    string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("balance daemon error on %q: %s", e.Action, e.Message)
}

// Client sends CBOR requests to the daemon's control socket. Each Call
// opens a new connection, matching the server's one-request-per-
// connection model. The socket lives in the user's runtime directory
// and filesystem permissions are the only access control.
type Client struct {
	socketPath string
}

// NewClient creates a client for the daemon socket at socketPath.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Call sends one request and decodes the response.
//
// The fields map carries action-specific request fields; the client
// adds "action" itself. Pass nil for actions without parameters. On
// success, response data (if any) is CBOR-decoded into result when
// result is non-nil. On an ok=false response, returns a *CallError.
// Connection and encoding failures come back as plain errors.
func (c *Client) Call(ctx context.Context, action string, fields map[string]any, result any) error {
	request := make(map[string]any, len(fields)+1)
	for key, value := range fields {
		request[key] = value
	}
	request["action"] = action

	response, err := c.send(ctx, request)
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", action, c.socketPath, err)
	}

	if !response.OK {
		return &CallError{
			Action:  action,
			Message: response.Error,
			Code:    response.Code,
		}
	}

	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding response data for %q: %w", action, err)
		}
	}

	return nil
}

// send connects, writes the request, and reads the response.
func (c *Client) send(ctx context.Context, request any) (*Response, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}

	// Half-close the write side so the server's read sees a clean
	// EOF. CBOR is self-delimiting, so this is belt and braces.
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	return &response, nil
}
