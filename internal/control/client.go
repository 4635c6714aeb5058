package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MnAnX/Infra/internal/hermes"
)

// ErrNoReply is returned when the service did not answer in time
var ErrNoReply = errors.New("control: no reply before timeout")

// Client sends control commands to one service
type Client struct {
	conn *hermes.HermesClient
}

// NewClient connects to a control endpoint. Each command waits at most timeout.
func NewClient(endpoint string, timeout time.Duration) (*Client, error) {
	conn, err := hermes.NewClient(endpoint, timeout)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Send issues req and returns the reply. A timeout yields ErrNoReply.
func (c *Client) Send(req *Request) (*hermes.Reply, error) {
	body, err := req.Encode()
	if err != nil {
		return nil, err
	}
	reply, ok, err := c.conn.Request(string(body))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoReply
	}
	return reply, nil
}

// Call issues command and turns an error reply into an error
func (c *Client) Call(command, key string) (string, error) {
	reply, err := c.Send(NewRequest(command, key))
	if err != nil {
		return "", err
	}
	if err := reply.Err(); err != nil {
		return "", err
	}
	return reply.Payload, nil
}

// Status returns every counter of the service
func (c *Client) Status() (map[string]int64, error) {
	payload, err := c.Call(CommandStatus, "")
	if err != nil {
		return nil, err
	}
	counters := make(map[string]int64)
	if err := json.Unmarshal([]byte(payload), &counters); err != nil {
		return nil, fmt.Errorf("invalid status reply: %w", err)
	}
	return counters, nil
}

// Ping checks that the service answers
func (c *Client) Ping() error {
	_, err := c.Call(CommandPing, "")
	return err
}

// Stop asks the service to shut down
func (c *Client) Stop() (string, error) {
	return c.Call(CommandStop, "")
}

// Close releases the connection
func (c *Client) Close() error {
	return c.conn.Close()
}
