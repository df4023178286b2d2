package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Handler processes one job. A returned error is logged; the job is not
// automatically retried unless the caller re-enqueues it (Retries/MaxRetries
// are bookkeeping fields the handler itself is expected to check).
type Handler func(ctx context.Context, job *Job) error

// WorkerPool polls a Queue on an interval and dispatches ready jobs to the
// registered Handler for their JobType. Lifecycle (Start/Stop with a
// stop channel and sync.WaitGroup) follows the teacher's
// internal/queue/scheduler.go Scheduler goroutine-per-ticker idiom,
// collapsed to one poll loop since this domain's job classes share one
// dispatch path instead of dozens of fixed per-job tickers.
type WorkerPool struct {
	queue    Queue
	handlers map[JobType]Handler
	interval time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	stop    chan struct{}
	wg      sync.WaitGroup
	started bool
}

func NewWorkerPool(q Queue, pollInterval time.Duration, log zerolog.Logger) *WorkerPool {
	return &WorkerPool{
		queue:    q,
		handlers: map[JobType]Handler{},
		interval: pollInterval,
		log:      log.With().Str("component", "queue_worker_pool").Logger(),
	}
}

// Register binds a Handler to a JobType. Must be called before Start.
func (p *WorkerPool) Register(jobType JobType, h Handler) {
	p.handlers[jobType] = h
}

func (p *WorkerPool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.stop = make(chan struct{})
	p.started = true
	p.mu.Unlock()

	ticker := time.NewTicker(p.interval)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.drain(ctx)
			}
		}
	}()
}

func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	close(p.stop)
	p.started = false
	p.mu.Unlock()
	p.wg.Wait()
}

// drain dequeues and dispatches jobs until the queue has nothing ready.
func (p *WorkerPool) drain(ctx context.Context) {
	for {
		job, ok := p.queue.Dequeue()
		if !ok {
			return
		}
		handler, ok := p.handlers[job.Type]
		if !ok {
			p.log.Warn().Str("job_type", string(job.Type)).Msg("no handler registered, dropping job")
			continue
		}
		if err := handler(ctx, job); err != nil {
			p.log.Error().Err(err).Str("job_id", job.ID).Str("job_type", string(job.Type)).Msg("job handler failed")
		}
	}
}
