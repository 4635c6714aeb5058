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

// Package transport provides a bounded-timeout DEALER connection used by
// clients, workers and the control channel.
package transport

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MnAnX/Infra/internal/logger"
	"github.com/pebbe/zmq4"
	"github.com/rs/zerolog"
)

// Forever makes Receive block until data arrives.
const Forever time.Duration = -1

// ErrClosed is returned by any operation on a closed Dealer.
var ErrClosed = errors.New("transport: connection closed")

// URI builds a tcp endpoint from a host and port.
func URI(host string, port int) string {
	return fmt.Sprintf("tcp://%s:%d", host, port)
}

// DealerOption configures a Dealer
type DealerOption func(*dealerOptions)

type dealerOptions struct {
	identity string
	linger   time.Duration
	sndhwm   int
	rcvhwm   int
}

// WithIdentity sets the socket identity seen by the peer ROUTER
func WithIdentity(identity string) DealerOption {
	return func(o *dealerOptions) {
		o.identity = identity
	}
}

// WithLinger sets how long pending outbound messages are kept after Close
func WithLinger(linger time.Duration) DealerOption {
	return func(o *dealerOptions) {
		o.linger = linger
	}
}

// WithHighWaterMarks sets the send and receive queue limits
func WithHighWaterMarks(snd, rcv int) DealerOption {
	return func(o *dealerOptions) {
		o.sndhwm = snd
		o.rcvhwm = rcv
	}
}

// Dealer wraps a single outbound DEALER connection. Every operation takes
// the connection lock, so one goroutine at a time is mid-send or mid-receive.
type Dealer struct {
	uri    string
	zctx   *zmq4.Context
	socket *zmq4.Socket
	poller *zmq4.Poller
	logger zerolog.Logger
	mutex  sync.Mutex
	closed bool
}

// NewDealer creates the socket and connects it to uri straight away. The
// connect itself is asynchronous: an unreachable peer is not an error, the
// socket keeps retrying in the background.
func NewDealer(uri string, opts ...DealerOption) (*Dealer, error) {
	options := &dealerOptions{
		linger: 0,
		sndhwm: 1000,
		rcvhwm: 1000,
	}
	for _, opt := range opts {
		opt(options)
	}

	zctx, err := zmq4.NewContext()
	if err != nil {
		return nil, fmt.Errorf("failed to create zmq context: %w", err)
	}

	socket, err := zctx.NewSocket(zmq4.DEALER)
	if err != nil {
		zctx.Term()
		return nil, fmt.Errorf("failed to create DEALER socket: %w", err)
	}

	fail := func(step string, err error) (*Dealer, error) {
		socket.Close()
		zctx.Term()
		return nil, fmt.Errorf("failed to %s: %w", step, err)
	}

	if options.identity != "" {
		if err := socket.SetIdentity(options.identity); err != nil {
			return fail("set socket identity", err)
		}
	}
	if err := socket.SetLinger(options.linger); err != nil {
		return fail("set linger", err)
	}
	if err := socket.SetSndhwm(options.sndhwm); err != nil {
		return fail("set send high watermark", err)
	}
	if err := socket.SetRcvhwm(options.rcvhwm); err != nil {
		return fail("set receive high watermark", err)
	}

	d := &Dealer{
		uri:    uri,
		zctx:   zctx,
		socket: socket,
		logger: logger.GetLogger("transport"),
	}

	if err := socket.Connect(uri); err != nil {
		d.logger.Warn().
			Str("endpoint", uri).
			Err(err).
			Msg("Connect failed, socket will keep retrying")
	}

	d.poller = zmq4.NewPoller()
	d.poller.Add(socket, zmq4.POLLIN)

	return d, nil
}

// URI returns the endpoint this connection targets
func (d *Dealer) URI() string {
	return d.uri
}

// Send emits frame as the last frame of a message
func (d *Dealer) Send(frame []byte) error {
	return d.send(frame, 0)
}

// SendString is Send for string payloads
func (d *Dealer) SendString(frame string) error {
	return d.send([]byte(frame), 0)
}

// SendMore emits frame with more frames of the same message to follow
func (d *Dealer) SendMore(frame []byte) error {
	return d.send(frame, zmq4.SNDMORE)
}

// SendMoreString is SendMore for string payloads
func (d *Dealer) SendMoreString(frame string) error {
	return d.send([]byte(frame), zmq4.SNDMORE)
}

func (d *Dealer) send(frame []byte, flags zmq4.Flag) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.closed {
		return ErrClosed
	}
	if _, err := d.socket.SendBytes(frame, flags); err != nil {
		return fmt.Errorf("failed to send frame: %w", err)
	}
	return nil
}

// SendMessage emits all frames as one multi-frame message under a single lock
func (d *Dealer) SendMessage(frames [][]byte) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.closed {
		return ErrClosed
	}
	if _, err := d.socket.SendMessage(frames); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Receive waits up to timeout for a single frame. ok is false when the
// timeout elapsed with nothing to read; that is not an error. A negative
// timeout blocks indefinitely.
func (d *Dealer) Receive(timeout time.Duration) (frame []byte, ok bool, err error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	ready, err := d.poll(timeout)
	if err != nil || !ready {
		return nil, false, err
	}

	frame, err = d.socket.RecvBytes(0)
	if err != nil {
		return nil, false, fmt.Errorf("failed to receive frame: %w", err)
	}
	return frame, true, nil
}

// ReceiveString is Receive returning the frame as a string
func (d *Dealer) ReceiveString(timeout time.Duration) (string, bool, error) {
	frame, ok, err := d.Receive(timeout)
	return string(frame), ok, err
}

// ReceiveMessage waits up to timeout for a complete multi-frame message
func (d *Dealer) ReceiveMessage(timeout time.Duration) ([][]byte, bool, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	ready, err := d.poll(timeout)
	if err != nil || !ready {
		return nil, false, err
	}

	frames, err := d.socket.RecvMessageBytes(0)
	if err != nil {
		return nil, false, fmt.Errorf("failed to receive message: %w", err)
	}
	return frames, true, nil
}

// poll must be called with the lock held
func (d *Dealer) poll(timeout time.Duration) (bool, error) {
	if d.closed {
		return false, ErrClosed
	}
	if timeout < 0 {
		timeout = -1
	}

	polled, err := d.poller.Poll(timeout)
	if err != nil {
		return false, fmt.Errorf("failed to poll socket: %w", err)
	}
	return len(polled) > 0, nil
}

// Close releases the socket and its context. Calls after the first are no-ops.
func (d *Dealer) Close() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	var firstErr error
	if err := d.socket.Close(); err != nil {
		firstErr = fmt.Errorf("failed to close socket: %w", err)
	}
	if err := d.zctx.Term(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to terminate context: %w", err)
	}
	return firstErr
}
