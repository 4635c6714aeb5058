// Package status holds named monotonic counters that handlers increment and
// the control channel reads.
package status

import (
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
)

// Counter is a named, monotonically increasing value safe for concurrent use
type Counter struct {
	name  string
	value atomic.Int64
}

// Name returns the name the counter was registered under
func (c *Counter) Name() string {
	return c.name
}

// Increment adds one to the counter
func (c *Counter) Increment() {
	c.value.Add(1)
}

// Add adds n to the counter. Negative n is ignored to keep the value monotonic.
func (c *Counter) Add(n int64) {
	if n <= 0 {
		return
	}
	c.value.Add(n)
}

// Value returns a snapshot of the current value
func (c *Counter) Value() int64 {
	return c.value.Load()
}

func (c *Counter) String() string {
	return strconv.FormatInt(c.Value(), 10)
}

// Registry owns every counter of a process. Counters live as long as the
// registry; Register is idempotent by name.
type Registry struct {
	counters map[string]*Counter
	mutex    sync.RWMutex
}

// NewRegistry creates an empty counter registry
func NewRegistry() *Registry {
	return &Registry{
		counters: make(map[string]*Counter),
	}
}

// Register returns the counter called name, creating it on first use
func (r *Registry) Register(name string) *Counter {
	r.mutex.RLock()
	counter, exists := r.counters[name]
	r.mutex.RUnlock()
	if exists {
		return counter
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// lost the race to another registration
	if counter, exists := r.counters[name]; exists {
		return counter
	}
	counter = &Counter{name: name}
	r.counters[name] = counter
	return counter
}

// Get returns a registered counter without creating it
func (r *Registry) Get(name string) (*Counter, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	counter, exists := r.counters[name]
	return counter, exists
}

// Names returns the registered counter names in sorted order
func (r *Registry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	names := make([]string, 0, len(r.counters))
	for name := range r.counters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns the current value of every counter
func (r *Registry) Snapshot() map[string]int64 {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	values := make(map[string]int64, len(r.counters))
	for name, counter := range r.counters {
		values[name] = counter.Value()
	}
	return values
}

// Len returns the number of registered counters
func (r *Registry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.counters)
}

// Close drops every counter. Handles held by callers keep working but are
// no longer visible through the registry.
func (r *Registry) Close() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.counters = make(map[string]*Counter)
}
