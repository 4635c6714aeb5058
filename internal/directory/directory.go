// Package directory keeps track of which services are alive and where their
// control endpoints are.
package directory

import (
	"errors"
	"sort"
	"sync"

	"github.com/MnAnX/Infra/internal/logger"
	"github.com/MnAnX/Infra/internal/transport"
	"github.com/rs/zerolog"
)

// ErrInvalidEntry is returned for registrations without a name or host or
// with a port outside 1-65535
var ErrInvalidEntry = errors.New("invalid directory entry")

// Entry is one registered service
type Entry struct {
	Name string `json:"name"`
	Host string `json:"host"`
	Port int    `json:"port"`
	URI  string `json:"uri"`
}

// Directory maps service names to URIs. Re-registering a name replaces the
// previous entry.
type Directory struct {
	entries map[string]Entry
	logger  zerolog.Logger
	mutex   sync.RWMutex
}

// New creates an empty directory
func New() *Directory {
	return &Directory{
		entries: make(map[string]Entry),
		logger:  logger.GetLogger("directory"),
	}
}

// Register records name at host:port
func (d *Directory) Register(name, host string, port int) (Entry, error) {
	if name == "" || host == "" || port <= 0 || port > 65535 {
		return Entry{}, ErrInvalidEntry
	}

	entry := Entry{
		Name: name,
		Host: host,
		Port: port,
		URI:  transport.URI(host, port),
	}

	d.mutex.Lock()
	_, replaced := d.entries[name]
	d.entries[name] = entry
	d.mutex.Unlock()

	d.logger.Info().
		Str("service", name).
		Str("uri", entry.URI).
		Bool("replaced", replaced).
		Msg("Service registered")
	return entry, nil
}

// Deregister removes name and reports whether it was registered
func (d *Directory) Deregister(name string) bool {
	d.mutex.Lock()
	_, ok := d.entries[name]
	delete(d.entries, name)
	d.mutex.Unlock()

	if ok {
		d.logger.Info().Str("service", name).Msg("Service deregistered")
	}
	return ok
}

// List returns the registered names in sorted order
func (d *Directory) List() []string {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	names := make([]string, 0, len(d.entries))
	for name := range d.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the URI of name
func (d *Directory) Lookup(name string) (string, bool) {
	entry, ok := d.Entry(name)
	return entry.URI, ok
}

// Entry returns the full entry of name
func (d *Directory) Entry(name string) (Entry, bool) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	entry, ok := d.entries[name]
	return entry, ok
}

// AllWithURI returns a copy of the name to URI map
func (d *Directory) AllWithURI() map[string]string {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	all := make(map[string]string, len(d.entries))
	for name, entry := range d.entries {
		all[name] = entry.URI
	}
	return all
}

// Len returns the number of registered services
func (d *Directory) Len() int {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return len(d.entries)
}

// Close drops every entry
func (d *Directory) Close() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.entries = make(map[string]Entry)
}
