// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

package ctl

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/lyra-voice/lyra/lib/codec"
)

// dialTimeout bounds the connect phase. The agent accepts immediately
// when it is up; a slow dial means it is not.
const dialTimeout = 5 * time.Second

// responseTimeout is how long the client waits for the response after
// writing the request. Matches the server's read plus write timeouts
// to leave room for handler execution.
const responseTimeout = 45 * time.Second

// ActionError is returned by Call when the agent responds with
// ok=false: the request was delivered and the agent refused or failed
// it. Connection and encoding problems are plain errors instead.
type ActionError struct {
	Action  string
	Message string
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("agent refused %q: %s", e.Action, e.Message)
}

// Client sends control requests to the agent socket. Each call opens
// a fresh connection, matching the server's one-request-per-connection
// model.
type Client struct {
	socketPath string
}

// NewClient creates a client for the agent socket at socketPath.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Status fetches the agent state snapshot.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var status Status
	if err := c.Call(ctx, ActionStatus, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// RestartClient asks the supervisor to restart the client application.
func (c *Client) RestartClient(ctx context.Context) error {
	return c.Call(ctx, ActionRestartClient, nil, nil)
}

// FlushSpool seals pending captured log lines and reports how many.
func (c *Client) FlushSpool(ctx context.Context) (*FlushResult, error) {
	var result FlushResult
	if err := c.Call(ctx, ActionFlushSpool, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Stop shuts the agent down cleanly.
func (c *Client) Stop(ctx context.Context) error {
	return c.Call(ctx, ActionStop, nil, nil)
}

// Call sends one request and decodes the response. fields carries
// action-specific parameters and may be nil; the "action" key is
// added by the client. On ok=false the returned error is an
// *ActionError wrapping the agent's message. On ok=true with data,
// the data is decoded into result when result is non-nil.
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
		return &ActionError{Action: action, Message: response.Error}
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

	// Half-close the write side so the server's read sees EOF cleanly.
	// CBOR is self-delimiting, so this is a courtesy, not framing.
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	conn.SetReadDeadline(time.Now().Add(responseTimeout))
	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxMessageSize)).Decode(&response); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &response, nil
}
