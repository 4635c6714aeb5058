// Package manager keeps the books on what a service process has running so
// that it can be shut down in one call.
package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/MnAnX/Infra/internal/logger"
	"github.com/rs/zerolog"
)

// Stopper is anything with a blocking Stop, e.g. a broker, pool or server
type Stopper interface {
	Stop() error
}

// StopFunc adapts a plain function to Stopper
type StopFunc func() error

func (f StopFunc) Stop() error { return f() }

type process struct {
	name    string
	stopper Stopper
}

// Manager tracks background loops and stoppable processes. Stop cancels the
// loops, waits for them, then stops the processes in reverse registration
// order.
type Manager struct {
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	processes []process
	done      chan struct{}
	stopOnce  sync.Once
	stopErr   error
	logger    zerolog.Logger
	mutex     sync.Mutex
}

// New creates a manager whose loops are cancelled when parent is
func New(parent context.Context) *Manager {
	ctx, cancel := context.WithCancel(parent)
	return &Manager{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		logger: logger.GetLogger("manager"),
	}
}

// Context is cancelled when the manager begins stopping
func (m *Manager) Context() context.Context {
	return m.ctx
}

// Go runs fn in a tracked goroutine. fn must return once its context is done.
func (m *Manager) Go(name string, fn func(ctx context.Context)) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error().
					Str("loop", name).
					Interface("panic", r).
					Msg("Background loop panicked")
			}
		}()

		m.logger.Debug().Str("loop", name).Msg("Background loop started")
		fn(m.ctx)
		m.logger.Debug().Str("loop", name).Msg("Background loop exited")
	}()
}

// Register adds a process to stop on shutdown
func (m *Manager) Register(name string, s Stopper) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.processes = append(m.processes, process{name: name, stopper: s})
}

// Stop shuts everything down once; later calls return the first result.
// Safe to call from any goroutine, including a tracked loop's caller.
func (m *Manager) Stop() error {
	m.stopOnce.Do(func() {
		m.logger.Info().Msg("Stopping managed processes")
		m.cancel()
		m.wg.Wait()

		m.mutex.Lock()
		processes := m.processes
		m.processes = nil
		m.mutex.Unlock()

		var errs []error
		for i := len(processes) - 1; i >= 0; i-- {
			p := processes[i]
			if err := p.stopper.Stop(); err != nil {
				m.logger.Error().
					Str("process", p.name).
					Err(err).
					Msg("Error stopping process")
				errs = append(errs, fmt.Errorf("%s: %w", p.name, err))
				continue
			}
			m.logger.Debug().Str("process", p.name).Msg("Process stopped")
		}

		m.stopErr = errors.Join(errs...)
		close(m.done)
		m.logger.Info().Msg("All managed processes stopped")
	})
	return m.stopErr
}

// Done is closed once Stop has finished
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Wait blocks until Stop has finished and returns its result
func (m *Manager) Wait() error {
	<-m.done
	return m.stopErr
}

// WaitForSignal blocks until SIGINT/SIGTERM or until the manager is stopped
// by other means, then makes sure everything is stopped
func (m *Manager) WaitForSignal() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		m.logger.Info().
			Str("signal", sig.String()).
			Msg("Received shutdown signal")
		return m.Stop()
	case <-m.ctx.Done():
		return m.Stop()
	case <-m.done:
		return m.Wait()
	}
}
