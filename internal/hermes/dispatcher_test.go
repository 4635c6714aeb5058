package hermes

import (
	"strings"
	"testing"
	"time"

	"github.com/MnAnX/Infra/internal/logger"
	"github.com/MnAnX/Infra/internal/status"
)

func newTestDispatcher(maxPending int) *dispatcher {
	return newDispatcher(maxPending, 0, status.NewRegistry(), logger.New())
}

func ready(d *dispatcher, worker string) []outbound {
	return d.workerMessage(NewEnvelope(trailOf(worker), []byte(HERMES_READY)))
}

func request(d *dispatcher, client, key string) []outbound {
	return d.clientRequest(NewEnvelope(trailOf(client), []byte(key)))
}

func reply(d *dispatcher, worker, client, body string) []outbound {
	return d.workerMessage(NewEnvelope(trailOf(worker, client), []byte(body)))
}

// assignedWorker returns the worker identity a backend message is addressed to
func assignedWorker(t *testing.T, out outbound) string {
	t.Helper()
	if !out.backend {
		t.Fatalf("Expected a backend message, got frontend %q", out.frames)
	}
	return string(out.frames[0])
}

// checkInvariant fails if any worker is both queued idle and busy, or queued twice
func checkInvariant(t *testing.T, d *dispatcher) {
	t.Helper()
	seen := make(map[*workerHandle]bool)
	for _, w := range d.idle {
		if seen[w] {
			t.Fatalf("Worker %s queued twice", w.identity)
		}
		seen[w] = true
		if w.state != WorkerStateIdle {
			t.Fatalf("Worker %s in idle queue while %s", w.identity, w.state)
		}
	}
	for id, w := range d.workers {
		if w.state == WorkerStateIdle && !seen[w] {
			t.Fatalf("Idle worker %s missing from idle queue", id)
		}
	}
}

func TestDispatcherFIFOIdleAssignment(t *testing.T) {
	d := newTestDispatcher(10)

	ready(d, "w1")
	ready(d, "w2")
	ready(d, "w3")
	checkInvariant(t, d)

	out := request(d, "c1", "a")
	if len(out) != 1 || assignedWorker(t, out[0]) != "w1" {
		t.Fatalf("Expected first request to go to the oldest idle worker w1, got %v", out)
	}
	out = request(d, "c2", "b")
	if assignedWorker(t, out[0]) != "w2" {
		t.Errorf("Expected second request to go to w2, got %s", assignedWorker(t, out[0]))
	}

	// w1 finishes and goes to the back of the queue behind w3
	reply(d, "w1", "c1", "done")
	out = request(d, "c3", "c")
	if assignedWorker(t, out[0]) != "w3" {
		t.Errorf("Expected w3 (idle longer than w1), got %s", assignedWorker(t, out[0]))
	}
	out = request(d, "c4", "d")
	if assignedWorker(t, out[0]) != "w1" {
		t.Errorf("Expected w1, got %s", assignedWorker(t, out[0]))
	}
	checkInvariant(t, d)
}

func TestDispatcherAssignmentFrames(t *testing.T) {
	d := newTestDispatcher(10)
	ready(d, "w1")

	out := d.clientRequest(NewEnvelope(trailOf("client-1", "req-9"), []byte("42")))
	if len(out) != 1 {
		t.Fatalf("Expected one message, got %d", len(out))
	}

	env, err := Decode(out[0].frames)
	if err != nil {
		t.Fatalf("Assigned message does not decode: %v", err)
	}
	if !sameTrail(env.Trail, trailOf("w1", "client-1", "req-9")) {
		t.Errorf("Expected worker identity prepended to client trail, got %q", env.Trail)
	}
	if string(env.Body) != "42" {
		t.Errorf("Expected body 42, got %q", env.Body)
	}
}

func TestDispatcherReplyCorrelation(t *testing.T) {
	d := newTestDispatcher(10)
	for _, w := range []string{"w1", "w2", "w3"} {
		ready(d, w)
	}

	clients := []string{"c1", "c2", "c3"}
	assigned := make(map[string]string)
	for _, c := range clients {
		out := request(d, c, "key-"+c)
		assigned[c] = assignedWorker(t, out[0])
	}

	// replies arrive out of order
	for _, c := range []string{"c3", "c1", "c2"} {
		out := reply(d, assigned[c], c, "reply-for-"+c)
		if len(out) != 1 {
			t.Fatalf("Expected exactly one routed reply, got %d", len(out))
		}
		if out[0].backend {
			t.Fatal("Reply must go to the frontend")
		}
		env, err := Decode(out[0].frames)
		if err != nil {
			t.Fatalf("Routed reply does not decode: %v", err)
		}
		if env.Sender() != c || len(env.Trail) != 1 {
			t.Errorf("Reply for %s routed to %q", c, env.Trail)
		}
		if string(env.Body) != "reply-for-"+c {
			t.Errorf("Client %s got body %q", c, env.Body)
		}
	}
	checkInvariant(t, d)
}

func TestDispatcherPendingQueue(t *testing.T) {
	d := newTestDispatcher(10)

	if out := request(d, "c1", "a"); len(out) != 0 {
		t.Fatalf("Expected request to be queued, got %v", out)
	}
	if out := request(d, "c2", "b"); len(out) != 0 {
		t.Fatalf("Expected request to be queued, got %v", out)
	}
	if d.pendingCount() != 2 {
		t.Fatalf("Expected 2 pending, got %d", d.pendingCount())
	}

	// a new worker takes the oldest pending request immediately
	out := ready(d, "w1")
	if len(out) != 1 {
		t.Fatalf("Expected pending request to be assigned, got %v", out)
	}
	env, _ := Decode(out[0].frames)
	if !sameTrail(env.Trail, trailOf("w1", "c1")) {
		t.Errorf("Expected c1's request first, got %q", env.Trail)
	}
	if d.idleCount() != 0 {
		t.Error("Worker handed a pending request must not be idle")
	}

	// its reply both routes to c1 and pulls the next pending request
	out = reply(d, "w1", "c1", "done")
	if len(out) != 2 {
		t.Fatalf("Expected reply plus next assignment, got %d messages", len(out))
	}
	if out[0].backend || !out[1].backend {
		t.Errorf("Expected frontend reply then backend assignment")
	}
	if d.pendingCount() != 0 {
		t.Errorf("Expected empty pending queue, got %d", d.pendingCount())
	}
	checkInvariant(t, d)
}

func TestDispatcherOverload(t *testing.T) {
	registry := status.NewRegistry()
	d := newDispatcher(2, 0, registry, logger.New())

	if out := request(d, "c1", "a"); len(out) != 0 {
		t.Fatal("First request should be queued")
	}
	if out := request(d, "c2", "b"); len(out) != 0 {
		t.Fatal("Second request should be queued")
	}

	out := request(d, "c3", "c")
	if len(out) != 1 || out[0].backend {
		t.Fatalf("Expected an overload reply to the frontend, got %v", out)
	}
	env, err := Decode(out[0].frames)
	if err != nil {
		t.Fatalf("Overload reply does not decode: %v", err)
	}
	if env.Sender() != "c3" {
		t.Errorf("Overload reply addressed to %q", env.Sender())
	}
	r := ParseReplyBody(env.Body)
	if !r.IsError || !strings.HasPrefix(r.ErrorMessage, "OVERLOAD") {
		t.Errorf("Expected OVERLOAD error reply, got %+v", r)
	}

	if d.pendingCount() != 2 {
		t.Errorf("Expected pending queue to stay at 2, got %d", d.pendingCount())
	}
	if c, _ := registry.Get(CounterOverloads); c.Value() != 1 {
		t.Errorf("Expected 1 overload counted, got %d", c.Value())
	}
}

func TestDispatcherZeroDepthRejectsWithoutIdleWorker(t *testing.T) {
	d := newTestDispatcher(0)

	out := request(d, "c1", "a")
	if len(out) != 1 || !ParseReplyBody(mustDecode(t, out[0].frames).Body).IsError {
		t.Fatalf("Expected immediate overload reply, got %v", out)
	}
}

func mustDecode(t *testing.T, frames [][]byte) *Envelope {
	t.Helper()
	env, err := Decode(frames)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	return env
}

func TestDispatcherWorkerLifecycle(t *testing.T) {
	t.Run("duplicate ready does not queue twice", func(t *testing.T) {
		d := newTestDispatcher(10)
		ready(d, "w1")
		ready(d, "w1")
		if d.idleCount() != 1 {
			t.Errorf("Expected 1 idle worker, got %d", d.idleCount())
		}
		checkInvariant(t, d)
	})

	t.Run("heartbeat does not free a busy worker", func(t *testing.T) {
		d := newTestDispatcher(10)
		ready(d, "w1")
		request(d, "c1", "a")
		d.workerMessage(NewEnvelope(trailOf("w1"), []byte(HERMES_HEARTBEAT)))
		if d.idleCount() != 0 {
			t.Error("Heartbeat crossing an assignment must not mark the worker idle")
		}
		checkInvariant(t, d)
	})

	t.Run("heartbeat from unknown worker registers it", func(t *testing.T) {
		d := newTestDispatcher(10)
		d.workerMessage(NewEnvelope(trailOf("w9"), []byte(HERMES_HEARTBEAT)))
		if d.idleCount() != 1 || d.workerCount() != 1 {
			t.Errorf("Expected w9 registered idle, got idle=%d workers=%d", d.idleCount(), d.workerCount())
		}
	})

	t.Run("disconnect removes worker", func(t *testing.T) {
		d := newTestDispatcher(10)
		ready(d, "w1")
		ready(d, "w2")
		d.workerMessage(NewEnvelope(trailOf("w1"), []byte(HERMES_DISCONNECT)))
		if d.workerCount() != 1 || d.idleCount() != 1 {
			t.Fatalf("Expected only w2 left, got workers=%d idle=%d", d.workerCount(), d.idleCount())
		}
		out := request(d, "c1", "a")
		if assignedWorker(t, out[0]) != "w2" {
			t.Error("Removed worker must not receive requests")
		}
	})

	t.Run("unknown signal is dropped", func(t *testing.T) {
		registry := status.NewRegistry()
		d := newDispatcher(10, 0, registry, logger.New())
		out := d.workerMessage(NewEnvelope(trailOf("w1"), []byte("BOGUS")))
		if len(out) != 0 || d.workerCount() != 0 {
			t.Error("Unknown signal must be dropped")
		}
		if c, _ := registry.Get(CounterMalformed); c.Value() != 1 {
			t.Errorf("Expected malformed counter 1, got %d", c.Value())
		}
	})

	t.Run("reply from unknown worker is still routed", func(t *testing.T) {
		d := newTestDispatcher(10)
		out := reply(d, "w7", "c1", "late")
		if len(out) != 1 || mustDecode(t, out[0].frames).Sender() != "c1" {
			t.Fatalf("Expected late reply routed to c1, got %v", out)
		}
		if d.idleCount() != 1 {
			t.Error("Expected unknown worker to become idle")
		}
	})
}

func TestDispatcherExpiry(t *testing.T) {
	now := time.Now()
	d := newDispatcher(10, time.Second, status.NewRegistry(), logger.New())
	d.now = func() time.Time { return now }

	ready(d, "w1")
	ready(d, "w2")
	request(d, "c1", "a") // w1 busy

	now = now.Add(2 * time.Second)
	d.expireIdle()

	if _, ok := d.workers["w2"]; ok {
		t.Error("Expected silent idle worker w2 to expire")
	}
	if _, ok := d.workers["w1"]; !ok {
		t.Error("Busy worker w1 must not expire")
	}
	checkInvariant(t, d)
}

func TestDispatcherRejectsRequestWithoutTrail(t *testing.T) {
	d := newTestDispatcher(10)
	ready(d, "w1")
	if out := d.clientRequest(NewEnvelope(nil, []byte("a"))); len(out) != 0 {
		t.Error("Request without a trail cannot be answered and must be dropped")
	}
	if d.idleCount() != 1 {
		t.Error("Dropped request must not consume a worker")
	}
}

func TestDispatcherSendFailed(t *testing.T) {
	t.Run("reply to a gone client is dropped", func(t *testing.T) {
		registry := status.NewRegistry()
		d := newDispatcher(10, 0, registry, logger.New())
		ready(d, "w1")
		request(d, "c1", "a")
		out := reply(d, "w1", "c1", "done")

		if more := d.sendFailed(out[0]); len(more) != 0 {
			t.Errorf("Expected nothing to resend, got %v", more)
		}
		if c, _ := registry.Get(CounterDropped); c.Value() != 1 {
			t.Errorf("Expected 1 dropped, got %d", c.Value())
		}
		if d.idleCount() != 1 {
			t.Error("Worker must stay idle after its reply was dropped")
		}
	})

	t.Run("assignment moves to the next idle worker", func(t *testing.T) {
		d := newTestDispatcher(10)
		ready(d, "w1")
		ready(d, "w2")
		out := d.clientRequest(NewEnvelope(trailOf("c1", "req-1"), []byte("a")))
		if assignedWorker(t, out[0]) != "w1" {
			t.Fatalf("Expected w1 assigned first")
		}

		more := d.sendFailed(out[0])
		if len(more) != 1 || assignedWorker(t, more[0]) != "w2" {
			t.Fatalf("Expected reassignment to w2, got %v", more)
		}
		env := mustDecode(t, more[0].frames)
		if !sameTrail(env.Trail, trailOf("w2", "c1", "req-1")) || string(env.Body) != "a" {
			t.Errorf("Reassigned request changed: %q %q", env.Trail, env.Body)
		}
		if _, ok := d.workers["w1"]; ok {
			t.Error("Unreachable worker w1 must be removed")
		}
		checkInvariant(t, d)
	})

	t.Run("assignment goes ahead of pending requests", func(t *testing.T) {
		d := newTestDispatcher(10)
		ready(d, "w1")
		out := request(d, "c1", "a")
		request(d, "c2", "b")

		if more := d.sendFailed(out[0]); len(more) != 0 {
			t.Fatalf("Expected request queued, got %v", more)
		}
		if d.workerCount() != 0 || d.pendingCount() != 2 {
			t.Fatalf("Expected no workers and 2 pending, got workers=%d pending=%d", d.workerCount(), d.pendingCount())
		}

		next := ready(d, "w2")
		if env := mustDecode(t, next[0].frames); !sameTrail(env.Trail, trailOf("w2", "c1")) {
			t.Errorf("Expected the requeued c1 request first, got %q", env.Trail)
		}
	})

	t.Run("no room left replies with an error", func(t *testing.T) {
		d := newTestDispatcher(0)
		ready(d, "w1")
		out := request(d, "c1", "a")

		more := d.sendFailed(out[0])
		if len(more) != 1 || more[0].backend {
			t.Fatalf("Expected an error reply to the client, got %v", more)
		}
		env := mustDecode(t, more[0].frames)
		r := ParseReplyBody(env.Body)
		if env.Sender() != "c1" || !r.IsError || r.ErrorMessage != WorkerLostMessage {
			t.Errorf("Unexpected reply %q %+v", env.Trail, r)
		}
	})
}

func TestDispatcherDisconnectWhileBusy(t *testing.T) {
	registry := status.NewRegistry()
	d := newDispatcher(10, 0, registry, logger.New())
	ready(d, "w1")
	ready(d, "w2")
	request(d, "c1", "a")

	// the assignment to w1 crossed its DISCONNECT
	out := d.workerMessage(NewEnvelope(trailOf("w1"), []byte(HERMES_DISCONNECT)))
	if len(out) != 1 || assignedWorker(t, out[0]) != "w2" {
		t.Fatalf("Expected the request handed to w2, got %v", out)
	}
	if c, _ := registry.Get(CounterRequeued); c.Value() != 1 {
		t.Errorf("Expected 1 requeued, got %d", c.Value())
	}

	// once w2 has replied its DISCONNECT carries no request
	reply(d, "w2", "c1", "done")
	if out := d.workerMessage(NewEnvelope(trailOf("w2"), []byte(HERMES_DISCONNECT))); len(out) != 0 {
		t.Errorf("Expected nothing to requeue, got %v", out)
	}
	if d.workerCount() != 0 {
		t.Errorf("Expected no workers, got %d", d.workerCount())
	}
}
