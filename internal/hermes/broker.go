package hermes

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MnAnX/Infra/internal/logger"
	"github.com/MnAnX/Infra/internal/status"
	"github.com/pebbe/zmq4"
	"github.com/rs/zerolog"
)

const (
	DefaultMaxPending   = 100
	DefaultPollInterval = 250 * time.Millisecond
	DefaultHeartbeat    = 5 * time.Second
	DefaultLiveness     = 3
)

// BrokerStats is a point-in-time view of the broker
type BrokerStats struct {
	Workers     int       `json:"workers"`
	IdleWorkers int       `json:"idle_workers"`
	Pending     int       `json:"pending"`
	Requests    int64     `json:"requests"`
	Replies     int64     `json:"replies"`
	Overloads   int64     `json:"overloads"`
	Malformed   int64     `json:"malformed"`
	Dropped     int64     `json:"dropped"`
	Requeued    int64     `json:"requeued"`
	StartTime   time.Time `json:"start_time"`
}

// BrokerOption configures a Broker
type BrokerOption func(*Broker)

// WithMaxPending caps the queue of requests waiting for an idle worker
func WithMaxPending(depth int) BrokerOption {
	return func(b *Broker) {
		b.maxPending = depth
	}
}

// WithCounters makes the broker register its counters in registry
func WithCounters(registry *status.Registry) BrokerOption {
	return func(b *Broker) {
		b.counters = registry
	}
}

// WithPollInterval sets how often the loop wakes up to check for shutdown
// and expired workers when there is no traffic
func WithPollInterval(interval time.Duration) BrokerOption {
	return func(b *Broker) {
		b.pollInterval = interval
	}
}

// WithWorkerExpiry sets how long an idle worker may stay silent before it
// is dropped. Zero disables expiry.
func WithWorkerExpiry(expiry time.Duration) BrokerOption {
	return func(b *Broker) {
		b.expiry = expiry
	}
}

// Broker accepts client requests on a frontend ROUTER and balances them over
// workers connected to a backend ROUTER. Both sockets belong to the loop
// goroutine once Start returns.
type Broker struct {
	frontendEndpoint string
	backendEndpoint  string
	maxPending       int
	pollInterval     time.Duration
	expiry           time.Duration
	counters         *status.Registry
	startTime        time.Time

	zctx     *zmq4.Context
	frontend *zmq4.Socket
	backend  *zmq4.Socket

	idleWorkers atomic.Int64
	workers     atomic.Int64
	pending     atomic.Int64

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	logger  zerolog.Logger
	mutex   sync.Mutex
	running bool
}

// NewBroker creates a broker for the given client-facing and worker-facing
// endpoints, e.g. "tcp://*:5555" and "tcp://*:5556"
func NewBroker(frontend, backend string, opts ...BrokerOption) *Broker {
	b := &Broker{
		frontendEndpoint: frontend,
		backendEndpoint:  backend,
		maxPending:       DefaultMaxPending,
		pollInterval:     DefaultPollInterval,
		expiry:           DefaultHeartbeat * DefaultLiveness,
		logger:           logger.GetLogger("hermes.broker"),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.counters == nil {
		b.counters = status.NewRegistry()
	}
	return b
}

// Start binds both sockets and launches the dispatch loop. A bind failure is
// a startup error and leaves nothing running.
func (b *Broker) Start() (err error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.running {
		return fmt.Errorf("broker already running")
	}

	b.logger.Info().
		Str("frontend", b.frontendEndpoint).
		Str("backend", b.backendEndpoint).
		Int("max_pending", b.maxPending).
		Msg("Starting Hermes broker")

	zctx, err := zmq4.NewContext()
	if err != nil {
		return fmt.Errorf("failed to create zmq context: %w", err)
	}

	var sockets []*zmq4.Socket
	defer func() {
		if err != nil {
			for _, s := range sockets {
				s.Close()
			}
			zctx.Term()
		}
	}()

	frontend, err := newRouter(zctx, b.frontendEndpoint)
	if frontend != nil {
		sockets = append(sockets, frontend)
	}
	if err != nil {
		return fmt.Errorf("frontend: %w", err)
	}

	backend, err := newRouter(zctx, b.backendEndpoint)
	if backend != nil {
		sockets = append(sockets, backend)
	}
	if err != nil {
		return fmt.Errorf("backend: %w", err)
	}

	b.zctx = zctx
	b.frontend = frontend
	b.backend = backend
	b.startTime = time.Now()
	b.ctx, b.cancel = context.WithCancel(context.Background())
	b.done = make(chan struct{})
	b.running = true

	go b.messageLoop(newDispatcher(b.maxPending, b.expiry, b.counters, b.logger))

	b.logger.Info().Msg("Hermes broker started successfully")
	return nil
}

func newRouter(zctx *zmq4.Context, endpoint string) (*zmq4.Socket, error) {
	socket, err := zctx.NewSocket(zmq4.ROUTER)
	if err != nil {
		return nil, fmt.Errorf("failed to create ROUTER socket: %w", err)
	}
	if err = socket.SetLinger(0); err != nil {
		return socket, fmt.Errorf("failed to set linger: %w", err)
	}
	// unroutable replies fail loudly instead of vanishing
	if err = socket.SetRouterMandatory(1); err != nil {
		return socket, fmt.Errorf("failed to set router mandatory: %w", err)
	}
	if err = socket.SetRcvhwm(1000); err != nil {
		return socket, fmt.Errorf("failed to set receive high watermark: %w", err)
	}
	if err = socket.SetSndhwm(1000); err != nil {
		return socket, fmt.Errorf("failed to set send high watermark: %w", err)
	}
	if err = socket.Bind(endpoint); err != nil {
		return socket, fmt.Errorf("failed to bind to %s: %w", endpoint, err)
	}
	return socket, nil
}

// Stop ends the dispatch loop and waits for it to release its sockets
func (b *Broker) Stop() error {
	b.mutex.Lock()
	if !b.running {
		b.mutex.Unlock()
		return nil
	}
	b.running = false
	b.mutex.Unlock()

	b.logger.Info().Msg("Stopping Hermes broker")
	b.cancel()
	<-b.done
	b.logger.Info().Msg("Hermes broker stopped")
	return nil
}

// messageLoop is the only code that touches the broker sockets
func (b *Broker) messageLoop(d *dispatcher) {
	defer close(b.done)
	defer func() {
		b.frontend.Close()
		b.backend.Close()
		if err := b.zctx.Term(); err != nil {
			b.logger.Error().Err(err).Msg("Error terminating broker context")
		}
	}()

	b.logger.Info().Msg("Starting Hermes broker message loop")

	poller := zmq4.NewPoller()
	poller.Add(b.frontend, zmq4.POLLIN)
	poller.Add(b.backend, zmq4.POLLIN)

	for {
		select {
		case <-b.ctx.Done():
			b.logger.Info().Msg("Hermes broker message loop stopping")
			return
		default:
		}

		polled, err := poller.Poll(b.pollInterval)
		if err != nil {
			b.logger.Error().Err(err).Msg("Polling error in broker")
			continue
		}

		for _, item := range polled {
			switch item.Socket {
			case b.frontend:
				b.handleFrontend(d)
			case b.backend:
				b.handleBackend(d)
			}
		}

		d.expireIdle()
		b.idleWorkers.Store(int64(d.idleCount()))
		b.workers.Store(int64(d.workerCount()))
		b.pending.Store(int64(d.pendingCount()))
	}
}

func (b *Broker) handleFrontend(d *dispatcher) {
	msg, err := b.frontend.RecvMessageBytes(0)
	if err != nil {
		b.logger.Error().Err(err).Msg("Failed to receive client message")
		return
	}

	env, err := Decode(msg)
	if err != nil {
		d.malformed.Increment()
		b.logger.Warn().
			Int("parts_count", len(msg)).
			Err(err).
			Msg("Dropping malformed client message")
		return
	}

	b.dispatch(d, d.clientRequest(env))
}

func (b *Broker) handleBackend(d *dispatcher) {
	msg, err := b.backend.RecvMessageBytes(0)
	if err != nil {
		b.logger.Error().Err(err).Msg("Failed to receive worker message")
		return
	}

	env, err := Decode(msg)
	if err != nil {
		d.malformed.Increment()
		b.logger.Warn().
			Int("parts_count", len(msg)).
			Err(err).
			Msg("Dropping malformed worker message")
		return
	}

	b.dispatch(d, d.workerMessage(env))
}

// dispatch sends messages in order. A failed send is handed back to the
// dispatcher, which may produce further messages in its place.
func (b *Broker) dispatch(d *dispatcher, messages []outbound) {
	for len(messages) > 0 {
		out := messages[0]
		messages = messages[1:]

		socket, side := b.frontend, "frontend"
		if out.backend {
			socket, side = b.backend, "backend"
		}

		if _, err := socket.SendMessage(out.frames); err != nil {
			if isUnroutable(err) {
				b.logger.Warn().
					Str("side", side).
					Str("peer", string(out.frames[0])).
					Msg("Could not route message, peer disconnected")
			} else {
				b.logger.Error().
					Str("side", side).
					Err(err).
					Msg("Failed to send message")
			}
			messages = append(messages, d.sendFailed(out)...)
		}
	}
}

func isUnroutable(err error) bool {
	var errno zmq4.Errno
	return errors.As(err, &errno) && errno == zmq4.EHOSTUNREACH
}

// Stats returns a snapshot of the broker state. Safe to call from any goroutine.
func (b *Broker) Stats() *BrokerStats {
	stats := &BrokerStats{
		Workers:     int(b.workers.Load()),
		IdleWorkers: int(b.idleWorkers.Load()),
		Pending:     int(b.pending.Load()),
	}
	if c, ok := b.counters.Get(CounterRequests); ok {
		stats.Requests = c.Value()
	}
	if c, ok := b.counters.Get(CounterReplies); ok {
		stats.Replies = c.Value()
	}
	if c, ok := b.counters.Get(CounterOverloads); ok {
		stats.Overloads = c.Value()
	}
	if c, ok := b.counters.Get(CounterMalformed); ok {
		stats.Malformed = c.Value()
	}
	if c, ok := b.counters.Get(CounterDropped); ok {
		stats.Dropped = c.Value()
	}
	if c, ok := b.counters.Get(CounterRequeued); ok {
		stats.Requeued = c.Value()
	}

	b.mutex.Lock()
	stats.StartTime = b.startTime
	b.mutex.Unlock()
	return stats
}

// Endpoints returns the frontend and backend endpoints
func (b *Broker) Endpoints() (frontend, backend string) {
	return b.frontendEndpoint, b.backendEndpoint
}

// IsRunning reports whether the dispatch loop is active
func (b *Broker) IsRunning() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.running
}
