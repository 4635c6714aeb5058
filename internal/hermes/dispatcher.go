package hermes

import (
	"time"

	"github.com/MnAnX/Infra/internal/status"
	"github.com/rs/zerolog"
)

// WorkerState represents the state of a worker as seen by the broker
type WorkerState int

const (
	WorkerStateIdle WorkerState = iota
	WorkerStateBusy
)

func (s WorkerState) String() string {
	switch s {
	case WorkerStateIdle:
		return "idle"
	case WorkerStateBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// Broker counter names registered in the status registry
const (
	CounterRequests  = "Broker.Requests"
	CounterReplies   = "Broker.Replies"
	CounterOverloads = "Broker.Overloads"
	CounterMalformed = "Broker.Malformed"
	CounterExpired   = "Broker.ExpiredWorkers"
	CounterDropped   = "Broker.Dropped"
	CounterRequeued  = "Broker.Requeued"
)

// workerHandle is the broker's view of one connected worker
type workerHandle struct {
	identity  []byte
	state     WorkerState
	idleSince time.Time
	lastSeen  time.Time
	requests  int

	// assigned is the client request the worker is busy with
	assigned *Envelope
}

// pendingRequest is a client request waiting for an idle worker
type pendingRequest struct {
	envelope *Envelope
	received time.Time
}

// outbound is a message the socket loop must send. worker is set on
// assignments so a failed send can be traced back to the handle.
type outbound struct {
	backend bool
	worker  string
	frames  [][]byte
}

// dispatcher holds the load-balancing state of a broker. It never touches a
// socket: every method returns the messages to send and is only ever called
// from the broker's loop goroutine.
type dispatcher struct {
	workers    map[string]*workerHandle
	idle       []*workerHandle
	pending    []*pendingRequest
	maxPending int
	expiry     time.Duration
	now        func() time.Time
	logger     zerolog.Logger

	requests  *status.Counter
	replies   *status.Counter
	overloads *status.Counter
	malformed *status.Counter
	expired   *status.Counter
	dropped   *status.Counter
	requeued  *status.Counter
}

func newDispatcher(maxPending int, expiry time.Duration, counters *status.Registry, log zerolog.Logger) *dispatcher {
	if maxPending < 0 {
		maxPending = 0
	}
	return &dispatcher{
		workers:    make(map[string]*workerHandle),
		maxPending: maxPending,
		expiry:     expiry,
		now:        time.Now,
		logger:     log,
		requests:   counters.Register(CounterRequests),
		replies:    counters.Register(CounterReplies),
		overloads:  counters.Register(CounterOverloads),
		malformed:  counters.Register(CounterMalformed),
		expired:    counters.Register(CounterExpired),
		dropped:    counters.Register(CounterDropped),
		requeued:   counters.Register(CounterRequeued),
	}
}

// clientRequest handles a decoded frontend message
func (d *dispatcher) clientRequest(env *Envelope) []outbound {
	if len(env.Trail) == 0 {
		d.malformed.Increment()
		d.logger.Warn().Msg("Dropping client request without routing trail")
		return nil
	}
	d.requests.Increment()

	if len(d.idle) > 0 {
		return []outbound{d.assign(d.popIdle(), env)}
	}

	if len(d.pending) >= d.maxPending {
		d.overloads.Increment()
		d.logger.Warn().
			Str("client_id", env.Sender()).
			Int("pending", len(d.pending)).
			Msg("Pending queue full, rejecting request")
		return []outbound{{
			frames: NewEnvelope(env.Trail, EncodeErrorBody(overloadMessage(d.maxPending))).Frames(),
		}}
	}

	d.pending = append(d.pending, &pendingRequest{envelope: env, received: d.now()})
	d.logger.Debug().
		Str("client_id", env.Sender()).
		Int("pending", len(d.pending)).
		Msg("Request queued - no workers available")
	return nil
}

// workerMessage handles a decoded backend message. The first hop of the
// trail is always the worker identity.
func (d *dispatcher) workerMessage(env *Envelope) []outbound {
	identity, rest, ok := env.Pop()
	if !ok {
		d.malformed.Increment()
		d.logger.Warn().Msg("Dropping backend message without worker identity")
		return nil
	}

	if len(rest.Trail) == 0 {
		return d.workerSignal(identity, env.Body)
	}

	worker := d.lookup(identity)
	worker.requests++
	worker.assigned = nil
	d.replies.Increment()

	out := []outbound{{frames: rest.Frames()}}
	if assigned := d.markIdle(worker); assigned != nil {
		out = append(out, *assigned)
	}
	return out
}

func (d *dispatcher) workerSignal(identity []byte, body []byte) []outbound {
	switch string(body) {
	case HERMES_READY:
		worker := d.lookup(identity)
		d.logger.Info().
			Str("worker_id", string(identity)).
			Msg("Worker ready")
		if assigned := d.markIdle(worker); assigned != nil {
			return []outbound{*assigned}
		}
	case HERMES_HEARTBEAT:
		// a heartbeat may cross an assignment on the wire, so it only
		// refreshes liveness and never changes state
		if _, known := d.workers[string(identity)]; known {
			d.lookup(identity)
		} else {
			worker := d.lookup(identity)
			if assigned := d.markIdle(worker); assigned != nil {
				return []outbound{*assigned}
			}
		}
	case HERMES_DISCONNECT:
		d.logger.Info().
			Str("worker_id", string(identity)).
			Msg("Worker disconnected")
		// an assignment can cross the DISCONNECT on the wire
		return d.release(string(identity))
	default:
		d.malformed.Increment()
		d.logger.Warn().
			Str("worker_id", string(identity)).
			Int("body_size", len(body)).
			Msg("Dropping unknown worker signal")
	}
	return nil
}

// lookup returns the handle for identity, registering unknown workers. The
// caller decides the state; a new handle starts busy so markIdle queues it.
func (d *dispatcher) lookup(identity []byte) *workerHandle {
	now := d.now()
	worker, exists := d.workers[string(identity)]
	if !exists {
		worker = &workerHandle{
			identity: append([]byte(nil), identity...),
			state:    WorkerStateBusy,
		}
		d.workers[string(identity)] = worker
	}
	worker.lastSeen = now
	return worker
}

// markIdle queues worker at the back of the idle queue, or hands it the
// oldest pending request straight away.
func (d *dispatcher) markIdle(worker *workerHandle) *outbound {
	if worker.state == WorkerStateIdle {
		return nil
	}

	if len(d.pending) > 0 {
		req := d.pending[0]
		d.pending[0] = nil
		d.pending = d.pending[1:]
		out := d.assign(worker, req.envelope)
		return &out
	}

	worker.state = WorkerStateIdle
	worker.idleSince = d.now()
	d.idle = append(d.idle, worker)
	return nil
}

func (d *dispatcher) popIdle() *workerHandle {
	worker := d.idle[0]
	d.idle[0] = nil
	d.idle = d.idle[1:]
	return worker
}

// assign sends env to worker, which must not be in the idle queue
func (d *dispatcher) assign(worker *workerHandle, env *Envelope) outbound {
	worker.state = WorkerStateBusy
	worker.assigned = env
	d.logger.Debug().
		Str("worker_id", string(worker.identity)).
		Str("client_id", env.Sender()).
		Msg("Request assigned to worker")
	return outbound{
		backend: true,
		worker:  string(worker.identity),
		frames:  env.Push(worker.identity).Frames(),
	}
}

// sendFailed handles a message the socket could not deliver. A reply whose
// client is gone is dropped. An assignment means the worker is gone: its
// handle is removed and the request handed on.
func (d *dispatcher) sendFailed(out outbound) []outbound {
	if !out.backend {
		d.dropped.Increment()
		return nil
	}

	d.logger.Warn().
		Str("worker_id", out.worker).
		Msg("Worker unreachable - removing")
	return d.release(out.worker)
}

// release removes a worker and requeues the request it was busy with
func (d *dispatcher) release(identity string) []outbound {
	worker, exists := d.workers[identity]
	if !exists {
		return nil
	}
	d.remove(identity)

	if worker.assigned == nil {
		return nil
	}
	env := worker.assigned
	worker.assigned = nil
	return d.requeue(env)
}

// requeue gives an already accepted request another worker. It goes ahead of
// newer pending requests; with no room left the client gets an error reply.
func (d *dispatcher) requeue(env *Envelope) []outbound {
	d.requeued.Increment()
	if len(d.idle) > 0 {
		return []outbound{d.assign(d.popIdle(), env)}
	}

	if len(d.pending) < d.maxPending {
		d.pending = append([]*pendingRequest{{envelope: env, received: d.now()}}, d.pending...)
		return nil
	}

	d.logger.Warn().
		Str("client_id", env.Sender()).
		Msg("No worker left for request, replying with error")
	return []outbound{{
		frames: NewEnvelope(env.Trail, EncodeErrorBody(WorkerLostMessage)).Frames(),
	}}
}

func (d *dispatcher) remove(identity string) {
	worker, exists := d.workers[identity]
	if !exists {
		return
	}
	delete(d.workers, identity)

	if worker.state != WorkerStateIdle {
		return
	}
	for i, w := range d.idle {
		if w == worker {
			d.idle = append(d.idle[:i], d.idle[i+1:]...)
			break
		}
	}
}

// expireIdle drops idle workers that have not been heard from within the
// expiry window. Busy workers cannot heartbeat and are left alone.
func (d *dispatcher) expireIdle() {
	if d.expiry <= 0 {
		return
	}
	now := d.now()
	for identity, worker := range d.workers {
		if worker.state == WorkerStateIdle && now.Sub(worker.lastSeen) > d.expiry {
			d.logger.Warn().
				Str("worker_id", identity).
				Msg("Worker expired - removing")
			d.remove(identity)
			d.expired.Increment()
		}
	}
}

func (d *dispatcher) idleCount() int {
	return len(d.idle)
}

func (d *dispatcher) pendingCount() int {
	return len(d.pending)
}

func (d *dispatcher) workerCount() int {
	return len(d.workers)
}
