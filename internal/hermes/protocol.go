package hermes

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// Hermes wire constants
const (
	// Worker signals, sent as the body of a message whose trail is only the
	// worker identity
	HERMES_READY      = "READY"
	HERMES_HEARTBEAT  = "HEARTBEAT"
	HERMES_DISCONNECT = "DISCONNECT"

	// Prefix of a reply body that carries an error message instead of a payload
	HERMES_ERROR_MARKER = "ERR\x00"
)

var (
	// ErrMalformedMessage is returned when a message has no empty delimiter
	// frame or the wrong number of body frames
	ErrMalformedMessage = errors.New("malformed message")

	// ErrOverload is the reason given to clients rejected by a full pending queue
	ErrOverload = errors.New("overload")
)

// Reply is what a client gets back for one request
type Reply struct {
	Trail        [][]byte
	Payload      string
	IsError      bool
	ErrorMessage string
}

// Err returns the reply's error message as an error, or nil for a success reply
func (r *Reply) Err() error {
	if !r.IsError {
		return nil
	}
	return errors.New(r.ErrorMessage)
}

// IsOverload reports whether the broker rejected the request because its
// pending queue was full
func (r *Reply) IsOverload() bool {
	return r.IsError && strings.HasPrefix(r.ErrorMessage, strings.ToUpper(ErrOverload.Error())+":")
}

func (r *Reply) String() string {
	if r.IsError {
		return "error: " + r.ErrorMessage
	}
	return r.Payload
}

// EncodeReplyBody builds the body frame of a success reply
func EncodeReplyBody(payload string) []byte {
	return []byte(payload)
}

// EncodeErrorBody builds the body frame of an error reply
func EncodeErrorBody(message string) []byte {
	if message == "" {
		message = "unknown error"
	}
	return []byte(HERMES_ERROR_MARKER + message)
}

// ParseReplyBody splits a reply body into payload or error message
func ParseReplyBody(body []byte) *Reply {
	if bytes.HasPrefix(body, []byte(HERMES_ERROR_MARKER)) {
		return &Reply{
			IsError:      true,
			ErrorMessage: strings.TrimPrefix(string(body), HERMES_ERROR_MARKER),
		}
	}
	return &Reply{Payload: string(body)}
}

// WorkerLostMessage is the error text sent back when the worker holding a
// request went away and no other worker or queue slot could take it
const WorkerLostMessage = "WORKER_LOST: request could not be delivered to a worker"

// overloadMessage is the error text sent back when the pending queue is full
func overloadMessage(depth int) string {
	return fmt.Sprintf("%s: pending queue full (depth %d)", strings.ToUpper(ErrOverload.Error()), depth)
}
