package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dmitrymomot/mailflow/pkg/logger"
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 256
	defaultTimeout   = time.Minute
)

// HandlerFunc dispatches one job by id. Errors are logged; the job record
// already carries the outcome.
type HandlerFunc func(ctx context.Context, jobID string) error

// Pool runs HandlerFunc on a fixed number of goroutines fed by a buffered
// queue. Enqueue never blocks.
type Pool struct {
	handler HandlerFunc
	limiter *rate.Limiter
	log     *slog.Logger
	queue   chan string
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	workers int
	timeout time.Duration
	started bool
	stopped bool
}

// Option configures a Pool.
type Option func(*Pool)

// WithWorkers sets the number of concurrent dispatches. Default 4.
func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithQueueSize sets the buffer size. Default 256.
func WithQueueSize(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.queue = make(chan string, n)
		}
	}
}

// WithRateLimit caps dispatches per second across all workers.
// A zero limit disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(p *Pool) {
		if perSecond > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
		}
	}
}

// WithJobTimeout bounds a single handler call. Default one minute.
func WithJobTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithLogger sets the pool logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.log = l
		}
	}
}

// NewPool creates a stopped pool. Call Start to launch workers.
func NewPool(handler HandlerFunc, opts ...Option) *Pool {
	p := &Pool{
		handler: handler,
		log:     logger.NewNope(),
		queue:   make(chan string, defaultQueueSize),
		workers: defaultWorkers,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the workers. They run until Stop or until ctx is canceled.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrAlreadyStarted
	}
	if p.stopped {
		return ErrStopped
	}

	ctx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))
	for i := range p.workers {
		p.wg.Add(1)
		go p.work(ctx, i)
	}
	p.started = true
	p.log.Info("dispatch pool started", slog.Int("workers", p.workers), slog.Int("queue_size", cap(p.queue)))
	return nil
}

// Enqueue schedules jobID for dispatch. It fails fast with ErrQueueFull
// so callers can fall back to the sweeper.
func (p *Pool) Enqueue(_ context.Context, jobID string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return ErrStopped
	}
	select {
	case p.queue <- jobID:
		return nil
	default:
		return ErrQueueFull
	}
}

// Len reports the number of queued, not yet started dispatches.
func (p *Pool) Len() int { return len(p.queue) }

// Stop closes the queue and waits for workers to drain it. When ctx
// expires first, in-flight handlers are canceled and ctx.Err is returned.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.queue)
	started := p.started
	p.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.log.Info("dispatch pool stopped")
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

func (p *Pool) work(ctx context.Context, worker int) {
	defer p.wg.Done()

	for jobID := range p.queue {
		if ctx.Err() != nil {
			return
		}
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return
			}
		}
		p.run(ctx, worker, jobID)
	}
}

func (p *Pool) run(ctx context.Context, worker int, jobID string) {
	ctx, cancel := context.WithTimeout(logger.WithJobID(ctx, jobID), p.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.log.ErrorContext(ctx, "dispatch handler panicked", slog.Int("worker", worker), slog.Any("panic", r))
		}
	}()

	if err := p.handler(ctx, jobID); err != nil {
		p.log.ErrorContext(ctx, "dispatch failed", slog.Int("worker", worker), slog.Any("error", err))
	}
}
