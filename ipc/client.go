package ipc

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roslynquery/roslynquery/protocol"
)

// Client owns one persistent connection to a daemon. Concurrent Request
// calls are serialized so frames never interleave. The connection is
// single-shot: any transport failure closes the client.
type Client struct {
	mu     sync.Mutex
	conn   net.Conn
	codec  *protocol.Codec
	closed bool
}

// Connect dials the daemon socket, giving up after the deadline.
func Connect(socketPath string, deadline time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, deadline)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", socketPath, err)
	}
	return &Client{conn: conn, codec: protocol.NewCodec(conn)}, nil
}

// Request performs one method call and returns the raw response. Protocol
// errors travel inside the response; transport errors close the client and
// are returned.
func (c *Client) Request(method string, params any) (*protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("client is closed")
	}

	var rawParams json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to encode params: %w", err)
		}
		rawParams = data
	}

	req := protocol.Request{
		JSONRPC: protocol.Version,
		ID:      uuid.NewString(),
		Method:  method,
		Params:  rawParams,
	}

	if err := c.codec.WriteFrame(&req); err != nil {
		c.closeLocked()
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	resp, err := c.codec.ReadResponse()
	if err != nil {
		c.closeLocked()
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.ID != "" && resp.ID != req.ID {
		c.closeLocked()
		return nil, fmt.Errorf("response id mismatch: got %q, want %q", resp.ID, req.ID)
	}
	return resp, nil
}

// Call performs a request and decodes a successful result into out. A
// protocol-level error response is returned as an error.
func (c *Client) Call(method string, params, out any) error {
	resp, err := c.Request(method, params)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("%s failed: %s (code %d)", method, resp.Error.Message, resp.Error.Code)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

// Close releases the connection. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
