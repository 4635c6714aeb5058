package hermes

import (
	"errors"
	"fmt"
)

// Handler is the unit of work a service supplies. One instance may be shared
// by every worker of a pool, so Process must be safe for concurrent use.
type Handler interface {
	// ServiceName identifies the handler in logs and counters
	ServiceName() string

	// Process maps a request key to a reply. Semantically invalid keys are
	// reported with a *ProcessingError.
	Process(key string) (string, error)
}

// ProcessingError reports a key the handler cannot resolve
type ProcessingError struct {
	Key     string
	Message string
	Err     error
}

// NewProcessingError creates a ProcessingError for key
func NewProcessingError(key, format string, args ...interface{}) *ProcessingError {
	return &ProcessingError{
		Key:     key,
		Message: fmt.Sprintf(format, args...),
	}
}

func (e *ProcessingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// IsProcessingError reports whether err is, or wraps, a ProcessingError
func IsProcessingError(err error) bool {
	var pe *ProcessingError
	return errors.As(err, &pe)
}

// HandlerFunc adapts a plain function into a Handler
type HandlerFunc struct {
	Name string
	Fn   func(key string) (string, error)
}

// ServiceName returns the configured name
func (h HandlerFunc) ServiceName() string {
	return h.Name
}

// Process calls Fn
func (h HandlerFunc) Process(key string) (string, error) {
	return h.Fn(key)
}
