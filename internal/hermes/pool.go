package hermes

import (
	"fmt"
	"sync"

	"github.com/MnAnX/Infra/internal/logger"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Pool runs a fixed number of workers sharing one handler
type Pool struct {
	endpoint string
	handler  Handler
	scale    int
	opts     []WorkerOption
	workers  []*HermesWorker
	logger   zerolog.Logger
	mutex    sync.Mutex
}

// NewPool creates a pool of scale workers for the broker backend at endpoint
func NewPool(endpoint string, handler Handler, scale int, opts ...WorkerOption) *Pool {
	if scale < 1 {
		scale = 1
	}
	return &Pool{
		endpoint: endpoint,
		handler:  handler,
		scale:    scale,
		opts:     opts,
		logger:   logger.GetLogger("hermes.pool"),
	}
}

// Start launches every worker. If one fails to start the ones already
// running are stopped again.
func (p *Pool) Start() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if len(p.workers) > 0 {
		return fmt.Errorf("pool already started")
	}

	// the suffix keeps identities unique across restarts of the same service
	instance := uuid.NewString()[:8]
	for i := 0; i < p.scale; i++ {
		identity := fmt.Sprintf("%s-%s-%d", p.handler.ServiceName(), instance, i)
		worker := NewWorker(p.endpoint, identity, p.handler, p.opts...)
		if err := worker.Start(); err != nil {
			p.stopLocked()
			return fmt.Errorf("failed to start worker %s: %w", identity, err)
		}
		p.workers = append(p.workers, worker)
	}

	p.logger.Info().
		Str("service", p.handler.ServiceName()).
		Int("scale", p.scale).
		Msg("Worker pool started")
	return nil
}

// Stop stops every worker and waits for all of them to finish
func (p *Pool) Stop() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.stopLocked()
	return nil
}

func (p *Pool) stopLocked() {
	var wg sync.WaitGroup
	for _, worker := range p.workers {
		wg.Add(1)
		go func(w *HermesWorker) {
			defer wg.Done()
			w.Stop()
		}(worker)
	}
	wg.Wait()

	if len(p.workers) > 0 {
		p.logger.Info().
			Str("service", p.handler.ServiceName()).
			Msg("Worker pool stopped")
	}
	p.workers = nil
}

// Size returns the configured number of workers
func (p *Pool) Size() int {
	return p.scale
}

// Workers returns the running workers
func (p *Pool) Workers() []*HermesWorker {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	workers := make([]*HermesWorker, len(p.workers))
	copy(workers, p.workers)
	return workers
}
