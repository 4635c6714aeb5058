// Package control implements the control channel: a ROUTER endpoint per
// service that answers operational commands by name.
package control

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Request is one control command. On the wire it is a JSON object; a body
// that is not JSON is read as a bare command name.
type Request struct {
	Command string            `json:"command"`
	Key     string            `json:"key,omitempty"`
	Params  map[string]string `json:"params,omitempty"`
}

// NewRequest builds a request for command with an optional key
func NewRequest(command, key string) *Request {
	return &Request{Command: command, Key: key}
}

// Param returns a named parameter or the empty string
func (r *Request) Param(name string) string {
	if r.Params == nil {
		return ""
	}
	return r.Params[name]
}

// Encode returns the wire body
func (r *Request) Encode() ([]byte, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode control request: %w", err)
	}
	return body, nil
}

// ParseRequest reads a control request body
func ParseRequest(body []byte) (*Request, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil, fmt.Errorf("empty control request")
	}

	if !strings.HasPrefix(trimmed, "{") {
		return &Request{Command: trimmed}, nil
	}

	var req Request
	if err := json.Unmarshal([]byte(trimmed), &req); err != nil {
		return nil, fmt.Errorf("invalid control request: %w", err)
	}
	req.Command = strings.TrimSpace(req.Command)
	if req.Command == "" {
		return nil, fmt.Errorf("field 'command' cannot be empty in the request")
	}
	return &req, nil
}
