// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package hermes

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MnAnX/Infra/internal/logger"
	"github.com/MnAnX/Infra/internal/transport"
	"github.com/rs/zerolog"
)

// WorkerStats represents worker statistics
type WorkerStats struct {
	RequestsHandled int       `json:"requests_handled"`
	RequestsFailed  int       `json:"requests_failed"`
	LastRequest     time.Time `json:"last_request"`
	StartTime       time.Time `json:"start_time"`
}

// WorkerOption configures a Worker
type WorkerOption func(*HermesWorker)

// WithHeartbeat sets how often an idle worker reports liveness to the broker
func WithHeartbeat(interval time.Duration) WorkerOption {
	return func(w *HermesWorker) {
		w.heartbeat = interval
	}
}

// WithWorkerPollInterval sets how often a waiting worker checks for stop
func WithWorkerPollInterval(interval time.Duration) WorkerOption {
	return func(w *HermesWorker) {
		w.pollInterval = interval
	}
}

// HermesWorker owns one connection to the broker backend and serves one
// request at a time with its handler
type HermesWorker struct {
	endpoint     string
	identity     string
	handler      Handler
	heartbeat    time.Duration
	pollInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	err    error
	logger zerolog.Logger
	stats  *WorkerStats
	mutex  sync.RWMutex
}

// NewWorker creates a worker that will connect to the broker backend endpoint
func NewWorker(endpoint, identity string, handler Handler, opts ...WorkerOption) *HermesWorker {
	ctx, cancel := context.WithCancel(context.Background())

	service := ""
	if handler != nil {
		service = handler.ServiceName()
	}

	w := &HermesWorker{
		endpoint:     endpoint,
		identity:     identity,
		handler:      handler,
		heartbeat:    DefaultHeartbeat,
		pollInterval: DefaultPollInterval,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
		logger: logger.GetLogger("hermes.worker").With().
			Str("worker_id", identity).
			Str("service", service).
			Logger(),
		stats: &WorkerStats{
			StartTime: time.Now(),
		},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start connects to the broker and launches the request loop
func (w *HermesWorker) Start() error {
	w.logger.Info().
		Str("broker", w.endpoint).
		Msg("Starting Hermes worker")

	// linger long enough for DISCONNECT to leave on Stop
	conn, err := transport.NewDealer(w.endpoint,
		transport.WithIdentity(w.identity),
		transport.WithLinger(500*time.Millisecond))
	if err != nil {
		close(w.done)
		return fmt.Errorf("failed to connect to broker: %w", err)
	}

	go w.messageLoop(conn)
	return nil
}

// Stop asks the loop to exit and waits for it. A request being processed is
// completed and replied to first; nothing new is accepted afterwards.
func (w *HermesWorker) Stop() error {
	w.cancel()
	<-w.done
	return nil
}

// Done is closed once the request loop has exited
func (w *HermesWorker) Done() <-chan struct{} {
	return w.done
}

// Err returns the transport error that ended the loop, if any
func (w *HermesWorker) Err() error {
	w.mutex.RLock()
	defer w.mutex.RUnlock()
	return w.err
}

// messageLoop is the only code that touches conn
func (w *HermesWorker) messageLoop(conn *transport.Dealer) {
	defer close(w.done)
	defer func() {
		if err := conn.Close(); err != nil {
			w.logger.Error().Err(err).Msg("Error closing worker connection")
		}
		w.logger.Info().Msg("Hermes worker stopped")
	}()

	if err := w.signal(conn, HERMES_READY); err != nil {
		w.fail(err)
		return
	}
	lastSent := time.Now()

	for {
		select {
		case <-w.ctx.Done():
			if err := w.signal(conn, HERMES_DISCONNECT); err != nil {
				w.logger.Warn().Err(err).Msg("Failed to send disconnect")
			}
			return
		default:
		}

		msg, ok, err := conn.ReceiveMessage(w.pollInterval)
		if err != nil {
			w.fail(err)
			return
		}
		if !ok {
			if w.heartbeat > 0 && time.Since(lastSent) >= w.heartbeat {
				if err := w.signal(conn, HERMES_HEARTBEAT); err != nil {
					w.fail(err)
					return
				}
				lastSent = time.Now()
			}
			continue
		}

		env, err := Decode(msg)
		if err != nil {
			w.logger.Warn().
				Int("parts_count", len(msg)).
				Err(err).
				Msg("Dropping malformed request")
			continue
		}

		reply := w.handleRequest(env)
		if err := conn.SendMessage(reply.Frames()); err != nil {
			w.fail(err)
			return
		}
		lastSent = time.Now()
	}
}

func (w *HermesWorker) signal(conn *transport.Dealer, signal string) error {
	frames, err := Encode(nil, []byte(signal))
	if err != nil {
		return err
	}
	return conn.SendMessage(frames)
}

func (w *HermesWorker) fail(err error) {
	w.mutex.Lock()
	w.err = err
	w.mutex.Unlock()

	w.logger.Error().Err(err).Msg("Worker connection failed, exiting")
}

// handleRequest runs the handler and always produces a reply envelope
func (w *HermesWorker) handleRequest(env *Envelope) *Envelope {
	key := string(env.Body)

	w.logger.Debug().
		Str("client_id", env.Sender()).
		Str("key", key).
		Msg("Processing service request")

	payload, err := w.process(key)

	w.mutex.Lock()
	w.stats.LastRequest = time.Now()
	if err != nil {
		w.stats.RequestsFailed++
	} else {
		w.stats.RequestsHandled++
	}
	w.mutex.Unlock()

	if err != nil {
		event := w.logger.Error()
		if IsProcessingError(err) {
			event = w.logger.Debug()
		}
		event.Str("key", key).Err(err).Msg("Request processing failed")
		return NewEnvelope(env.Trail, EncodeErrorBody(err.Error()))
	}
	return NewEnvelope(env.Trail, EncodeReplyBody(payload))
}

// process calls the handler, turning a panic into an error
func (w *HermesWorker) process(key string) (payload string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	if w.handler == nil {
		return "", errors.New("no request handler configured")
	}
	return w.handler.Process(key)
}

// GetStats returns worker statistics
func (w *HermesWorker) GetStats() *WorkerStats {
	w.mutex.RLock()
	defer w.mutex.RUnlock()

	stats := *w.stats
	return &stats
}

// GetIdentity returns the worker identity
func (w *HermesWorker) GetIdentity() string {
	return w.identity
}
