package control

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/MnAnX/Infra/internal/logger"
	"github.com/MnAnX/Infra/internal/status"
	"github.com/rs/zerolog"
)

// Base command names every service answers
const (
	CommandStatus   = "status"
	CommandStop     = "stop"
	CommandPing     = "ping"
	CommandCommands = "commands"
)

// CommandFunc executes one command and returns its plain-string reply
type CommandFunc func(req *Request) (string, error)

// Handler maps command names to functions
type Handler struct {
	service  string
	commands map[string]CommandFunc
	logger   zerolog.Logger
	mutex    sync.RWMutex
}

// NewHandler creates a handler answering the base vocabulary. status reports
// the counters in registry; stop calls stopFn in its own goroutine so the
// reply can be sent before the service shuts down.
func NewHandler(service string, registry *status.Registry, stopFn func()) *Handler {
	h := &Handler{
		service:  service,
		commands: make(map[string]CommandFunc),
		logger:   logger.GetLogger("control").With().Str("service", service).Logger(),
	}

	h.Register(CommandPing, func(*Request) (string, error) {
		return "pong", nil
	})

	h.Register(CommandStatus, func(req *Request) (string, error) {
		if registry == nil {
			return "{}", nil
		}
		if req.Key != "" {
			counter, ok := registry.Get(req.Key)
			if !ok {
				return "", fmt.Errorf("counter [%s] does not exist", req.Key)
			}
			return fmt.Sprintf("%d", counter.Value()), nil
		}
		body, err := json.Marshal(registry.Snapshot())
		if err != nil {
			return "", err
		}
		return string(body), nil
	})

	h.Register(CommandStop, func(*Request) (string, error) {
		if stopFn == nil {
			return "", fmt.Errorf("service %s cannot be stopped remotely", service)
		}
		go stopFn()
		return fmt.Sprintf("Service %s is stopping", service), nil
	})

	h.Register(CommandCommands, func(*Request) (string, error) {
		return strings.Join(h.Commands(), ","), nil
	})

	return h
}

// Register adds or replaces a command
func (h *Handler) Register(name string, fn CommandFunc) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.commands[strings.ToLower(name)] = fn
}

// Commands returns the sorted command names
func (h *Handler) Commands() []string {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	names := make([]string, 0, len(h.commands))
	for name := range h.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch runs the command named by req. Unknown commands and command
// failures come back as errors; a panicking command is recovered.
func (h *Handler) Dispatch(req *Request) (reply string, err error) {
	h.mutex.RLock()
	fn, ok := h.commands[strings.ToLower(req.Command)]
	h.mutex.RUnlock()

	if !ok {
		return "", fmt.Errorf("unknown command [%s]", req.Command)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("command %s failed: %v", req.Command, r)
		}
	}()

	h.logger.Debug().
		Str("command", req.Command).
		Str("key", req.Key).
		Msg("Executing control command")
	return fn(req)
}
