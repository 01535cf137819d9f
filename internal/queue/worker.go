package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Role classifies a worker at startup. High-priority workers bind to the
// high_priority queue only and may mask graceful termination while a task
// runs.
type Role string

const (
	RoleStandard     Role = "standard"
	RoleHighPriority Role = "high_priority"
)

// Queues returns the queue binding for the role, in dispatch precedence
// order.
func (r Role) Queues() []string {
	if r == RoleHighPriority {
		return []string{QueueHighPriority}
	}
	return []string{QueueOrgSync, QueueDefault}
}

// Handler executes one job.
type Handler func(ctx context.Context, job *Job) error

// HandlerRegistry maps task names to handlers. Fully populated during wiring;
// immutable afterwards.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewHandlerRegistry creates an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]Handler)}
}

// Register binds a task name to a handler. Re-registering a name panics; two
// handlers answering one name is a wiring bug.
func (r *HandlerRegistry) Register(name string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		panic(fmt.Sprintf("handler already registered for task %q", name))
	}
	r.handlers[name] = handler
}

// Lookup returns the handler for a task name.
func (r *HandlerRegistry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Pool runs a fixed number of workers against the broker. Each worker holds
// at most one job at a time; a panicking handler fails its job without
// taking the worker down.
type Pool struct {
	broker      *Broker
	registry    *HandlerRegistry
	role        Role
	size        int
	softTimeout time.Duration
	hardTimeout time.Duration
	logger      zerolog.Logger
	observe     func(queue, task, outcome string, elapsed time.Duration)

	wg sync.WaitGroup
}

// NewPool creates a worker pool. A non-positive size runs one worker. A
// non-positive softTimeout disables the per-task deadline; a non-positive
// hardTimeout disables the abandonment watchdog. The soft timeout cancels
// the task's context; the hard timeout frees the worker even from a handler
// that ignores cancellation.
func NewPool(broker *Broker, registry *HandlerRegistry, role Role, size int, softTimeout, hardTimeout time.Duration, logger zerolog.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		broker:      broker,
		registry:    registry,
		role:        role,
		size:        size,
		softTimeout: softTimeout,
		hardTimeout: hardTimeout,
		logger:      logger.With().Str("component", "worker_pool").Str("role", string(role)).Logger(),
	}
}

// Start launches the workers. They stop when ctx ends or the broker closes.
func (p *Pool) Start(ctx context.Context) {
	queues := p.role.Queues()
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go func(worker int) {
			defer p.wg.Done()
			logger := p.logger.With().Int("worker", worker).Logger()
			for {
				job, err := p.broker.Dequeue(ctx, queues...)
				if err != nil {
					return
				}
				p.run(ctx, job, logger)
			}
		}(i)
	}
}

// Wait blocks until all workers have exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// SetObserver installs a per-job completion callback, e.g. for metrics. Must
// be called before Start.
func (p *Pool) SetObserver(observe func(queue, task, outcome string, elapsed time.Duration)) {
	p.observe = observe
}

func (p *Pool) observeJob(job *Job, outcome string, start time.Time) {
	if p.observe != nil {
		p.observe(job.Queue, job.Name, outcome, time.Since(start))
	}
}

// retry re-enqueues a failed job after its retry delay.
func (p *Pool) retry(ctx context.Context, job *Job, logger zerolog.Logger) {
	next := *job
	next.ID = ""
	next.Attempt++
	next.Delay = job.RetryDelay
	next.RunAt = time.Time{}
	if err := p.broker.Enqueue(ctx, &next); err != nil {
		logger.Error().Err(err).Str("task", job.Name).Msg("failed to re-enqueue for retry")
	}
}

// errTaskPanicked lets the outcome switch tell a recovered panic from an
// ordinary handler error. Panicking jobs are never retried.
var errTaskPanicked = errors.New("task panicked")

func (p *Pool) run(ctx context.Context, job *Job, logger zerolog.Logger) {
	start := time.Now()

	handler, ok := p.registry.Lookup(job.Name)
	if !ok {
		logger.Error().Str("task", job.Name).Msg("no handler registered, dropping job")
		p.observeJob(job, "dropped", start)
		return
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if p.softTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, p.softTimeout)
	} else if p.hardTimeout > 0 {
		runCtx, cancel = context.WithCancel(ctx)
	}
	if cancel != nil {
		defer cancel()
	}

	if p.hardTimeout <= 0 {
		p.finish(ctx, job, p.invoke(runCtx, job, handler, logger), start, logger)
		return
	}

	// Buffered so a handler that eventually returns after abandonment does
	// not leak its goroutine on the send.
	done := make(chan error, 1)
	go func() {
		done <- p.invoke(runCtx, job, handler, logger)
	}()
	timer := time.NewTimer(p.hardTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		p.finish(ctx, job, err, start, logger)
	case <-timer.C:
		logger.Error().
			Str("task", job.Name).
			Str("job_id", job.ID).
			Dur("elapsed", time.Since(start)).
			Msg("task exceeded hard timeout, abandoning")
		p.observeJob(job, "abandoned", start)
	}
}

// invoke runs the handler, converting a panic into errTaskPanicked so every
// completion takes the same path through finish.
func (p *Pool) invoke(ctx context.Context, job *Job, handler Handler, logger zerolog.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Str("task", job.Name).
				Str("job_id", job.ID).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("task panicked")
			err = errTaskPanicked
		}
	}()
	return handler(ctx, job)
}

func (p *Pool) finish(ctx context.Context, job *Job, err error, start time.Time, logger zerolog.Logger) {
	switch {
	case err == nil:
		logger.Debug().
			Str("task", job.Name).
			Dur("elapsed", time.Since(start)).
			Msg("task done")
		p.observeJob(job, "ok", start)
	case errors.Is(err, errTaskPanicked):
		p.observeJob(job, "panic", start)
	default:
		logger.Error().
			Err(err).
			Str("task", job.Name).
			Str("job_id", job.ID).
			Int("attempt", job.Attempt).
			Dur("elapsed", time.Since(start)).
			Msg("task failed")
		if job.Attempt < job.MaxRetries {
			p.retry(ctx, job, logger)
			p.observeJob(job, "retry", start)
			return
		}
		p.observeJob(job, "error", start)
	}
}
