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

// Package service assembles a runnable service: broker, worker pool,
// control channel and counters around one handler.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/MnAnX/Infra/internal/config"
	"github.com/MnAnX/Infra/internal/control"
	"github.com/MnAnX/Infra/internal/directory"
	"github.com/MnAnX/Infra/internal/hermes"
	"github.com/MnAnX/Infra/internal/logger"
	"github.com/MnAnX/Infra/internal/manager"
	"github.com/MnAnX/Infra/internal/status"
	"github.com/rs/zerolog"
)

// CommandBroker reports the broker's queue and worker gauges
const CommandBroker = "broker"

// Option configures a Service
type Option func(*Service)

// WithCounters makes the service report counters from registry, so a handler
// created before the service can register its own counters there
func WithCounters(registry *status.Registry) Option {
	return func(s *Service) {
		s.counters = registry
	}
}

// Service is one configured service process
type Service struct {
	cfg      *config.ServiceConfig
	handler  hermes.Handler
	counters *status.Registry
	commands *control.Handler

	broker  *hermes.Broker
	pool    *hermes.Pool
	control *control.Server
	manager *manager.Manager

	logger  zerolog.Logger
	mutex   sync.Mutex
	started bool
}

// New prepares a service. An inactive or invalid configuration is a
// startup error.
func New(cfg *config.ServiceConfig, handler hermes.Handler, opts ...Option) (*Service, error) {
	if handler == nil {
		return nil, fmt.Errorf("service %s has no handler", cfg.Name)
	}
	if !cfg.IsActive() {
		return nil, fmt.Errorf("service %s is not set to active", cfg.Name)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	s := &Service{
		cfg:      cfg,
		handler:  handler,
		counters: status.NewRegistry(),
		manager:  manager.New(context.Background()),
		logger:   logger.GetLogger("service").With().Str("service", cfg.Name).Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	// registered first so it is released last
	s.manager.Register("counters", manager.StopFunc(func() error {
		s.counters.Close()
		return nil
	}))

	brokerOpts := []hermes.BrokerOption{hermes.WithCounters(s.counters)}
	if depth := cfg.MaxPending(); depth >= 0 {
		brokerOpts = append(brokerOpts, hermes.WithMaxPending(depth))
	}
	var workerOpts []hermes.WorkerOption
	if cfg.Heartbeat > 0 {
		brokerOpts = append(brokerOpts, hermes.WithWorkerExpiry(cfg.Heartbeat*hermes.DefaultLiveness))
		workerOpts = append(workerOpts, hermes.WithHeartbeat(cfg.Heartbeat))
	}

	s.broker = hermes.NewBroker(cfg.FrontendBind(), cfg.BackendBind(), brokerOpts...)
	s.pool = hermes.NewPool(cfg.BackendConnect(), handler, cfg.Service.Scale, workerOpts...)

	s.commands = control.NewHandler(cfg.Name, s.counters, func() {
		if err := s.Stop(); err != nil {
			s.logger.Error().Err(err).Msg("Error during remote stop")
		}
	})
	s.commands.Register(CommandBroker, func(*control.Request) (string, error) {
		body, err := json.Marshal(s.broker.Stats())
		return string(body), err
	})
	s.control = control.NewServer(cfg.ControlBind(), s.commands)

	return s, nil
}

// Name returns the service name
func (s *Service) Name() string {
	return s.cfg.Name
}

// Config returns the resolved configuration
func (s *Service) Config() *config.ServiceConfig {
	return s.cfg
}

// Counters is the registry reported by the status command
func (s *Service) Counters() *status.Registry {
	return s.counters
}

// Commands is the control vocabulary; services add their own commands here
func (s *Service) Commands() *control.Handler {
	return s.commands
}

// Broker returns the service broker
func (s *Service) Broker() *hermes.Broker {
	return s.broker
}

// Go runs a background loop that is cancelled on Stop
func (s *Service) Go(name string, fn func(ctx context.Context)) {
	s.manager.Go(name, fn)
}

// OnStop registers a resource to release on Stop, after the service's own
// sockets are closed
func (s *Service) OnStop(name string, stopper manager.Stopper) {
	s.manager.Register(name, stopper)
}

// Start binds the broker and control endpoints and launches the workers.
// Anything already started is stopped again if a later step fails.
func (s *Service) Start() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.started {
		return fmt.Errorf("service %s already started", s.cfg.Name)
	}

	// the counters and resources registered by the caller so far are
	// stopped last
	steps := []struct {
		name    string
		stopper interface {
			Start() error
			Stop() error
		}
	}{
		{"broker", s.broker},
		{"pool", s.pool},
		{"control", s.control},
	}

	var started []manager.Stopper
	for _, step := range steps {
		if err := step.stopper.Start(); err != nil {
			for i := len(started) - 1; i >= 0; i-- {
				started[i].Stop()
			}
			return fmt.Errorf("failed to start %s of %s: %w", step.name, s.cfg.Name, err)
		}
		started = append(started, step.stopper)
	}
	for _, step := range steps {
		s.manager.Register(step.name, step.stopper)
	}

	if url := s.cfg.Monitor.URL; url != "" {
		s.registerWithMonitor(url)
	}

	s.started = true
	s.logger.Info().
		Str("frontend", s.cfg.FrontendBind()).
		Str("backend", s.cfg.BackendBind()).
		Str("control", s.cfg.ControlBind()).
		Int("scale", s.cfg.Service.Scale).
		Msg("Service started")
	return nil
}

// registerWithMonitor announces the control endpoint. Failure is not fatal:
// the service still answers clients without a monitor.
func (s *Service) registerWithMonitor(url string) {
	registrar := directory.NewRegistrar(url)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := registrar.Register(ctx, s.cfg.Name, s.cfg.Host, s.cfg.Control.Port); err != nil {
		s.logger.Warn().Err(err).Msg("Could not register with monitor, continuing without it")
		return
	}

	s.manager.Register("monitor", manager.StopFunc(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return registrar.Deregister(ctx, s.cfg.Name)
	}))
}

// Stop shuts the service down gracefully. Later calls are no-ops.
func (s *Service) Stop() error {
	return s.manager.Stop()
}

// Done is closed once the service has fully stopped
func (s *Service) Done() <-chan struct{} {
	return s.manager.Done()
}

// Run starts the service and blocks until it is stopped by a signal or a
// remote stop command
func (s *Service) Run() error {
	if err := s.Start(); err != nil {
		s.manager.Stop()
		return err
	}
	return s.manager.WaitForSignal()
}
