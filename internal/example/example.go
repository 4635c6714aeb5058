// Package example is a complete sample service: a handler that looks keys
// up in a store, a generator that keeps writing fresh data into it and an
// extra control command.
package example

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/MnAnX/Infra/internal/config"
	"github.com/MnAnX/Infra/internal/control"
	"github.com/MnAnX/Infra/internal/hermes"
	"github.com/MnAnX/Infra/internal/logger"
	"github.com/MnAnX/Infra/internal/manager"
	"github.com/MnAnX/Infra/internal/service"
	"github.com/MnAnX/Infra/internal/status"
	"github.com/MnAnX/Infra/internal/store"
	"github.com/rs/zerolog"
)

const (
	ServiceName     = "example-service"
	CounterReceived = "ExampleHandler.Received_Requests"
	CommandLookup   = "lookup"

	DefaultDataInterval = time.Second
)

// Handler answers a key with the value stored under it
type Handler struct {
	store    store.KeyStore
	received *status.Counter
}

// NewHandler creates the handler and registers its counter
func NewHandler(s store.KeyStore, counters *status.Registry) *Handler {
	return &Handler{
		store:    s,
		received: counters.Register(CounterReceived),
	}
}

func (h *Handler) ServiceName() string {
	return ServiceName
}

func (h *Handler) Process(key string) (string, error) {
	h.received.Increment()
	return lookup(h.store, key)
}

func lookup(s store.KeyStore, key string) (string, error) {
	value, err := s.Get(key)
	if errors.Is(err, store.ErrNotFound) {
		return "", hermes.NewProcessingError(key, "Key [%s] does not exist.", key)
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up key [%s]: %w", key, err)
	}
	return value, nil
}

// LookupCommand answers the control command "lookup" straight from the store
func LookupCommand(s store.KeyStore) control.CommandFunc {
	return func(req *control.Request) (string, error) {
		if req.Key == "" {
			return "", errors.New("Field 'key' cannot be empty in the request.")
		}
		return lookup(s, req.Key)
	}
}

// DataGenerator writes the current unix time in seconds mapped to a random
// value into a store on every tick
type DataGenerator struct {
	store    store.KeyStore
	interval time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

// NewDataGenerator creates a generator writing every interval
func NewDataGenerator(s store.KeyStore, interval time.Duration) *DataGenerator {
	if interval <= 0 {
		interval = DefaultDataInterval
	}
	return &DataGenerator{
		store:    s,
		interval: interval,
		now:      time.Now,
		logger:   logger.GetLogger("example.generator"),
	}
}

// Generate writes one entry and returns its key
func (g *DataGenerator) Generate() (string, error) {
	key := strconv.FormatInt(g.now().Unix(), 10)
	value := strconv.FormatFloat(rand.Float64(), 'f', -1, 64)
	if err := g.store.Set(key, value); err != nil {
		return "", err
	}
	return key, nil
}

// Run writes entries until ctx is done
func (g *DataGenerator) Run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	g.logger.Info().Dur("interval", g.interval).Msg("Data generator started")
	for {
		select {
		case <-ctx.Done():
			g.logger.Info().Msg("Data generator stopped")
			return
		case <-ticker.C:
			key, err := g.Generate()
			if err != nil {
				g.logger.Warn().Err(err).Msg("Failed to write generated data")
				continue
			}
			g.logger.Debug().Str("key", key).Msg("Generated data")
		}
	}
}

// New builds the example service from its configuration
func New(cfg *config.ServiceConfig) (*service.Service, error) {
	kv, err := store.Open(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	counters := status.NewRegistry()
	svc, err := service.New(cfg, NewHandler(kv, counters), service.WithCounters(counters))
	if err != nil {
		kv.Close()
		return nil, err
	}

	svc.OnStop("store", manager.StopFunc(kv.Close))
	svc.Commands().Register(CommandLookup, LookupCommand(kv))

	generator := NewDataGenerator(kv, cfg.DataInterval)
	svc.Go("generator", generator.Run)

	return svc, nil
}
