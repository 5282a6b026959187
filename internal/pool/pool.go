package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/bft-labs/visionflow/internal/domain"
	"github.com/bft-labs/visionflow/internal/pipeline"
	"github.com/bft-labs/visionflow/pkg/log"
)

// Task is one stage execution for one work item.
type Task struct {
	Item  domain.WorkItem
	Stage pipeline.Stage
}

// Completion reports the outcome of a task. On success the stage output has
// been appended to Item; on failure Err is a *domain.InferenceError.
type Completion struct {
	Item     domain.WorkItem
	Stage    string
	WorkerID string
	Duration time.Duration
	Err      error
}

// Config holds pool sizing.
type Config struct {
	// Size is the initial number of workers.
	Size int

	// MaxSize bounds Resize and the task queue.
	MaxSize int

	// FailureThreshold retires a worker after this many consecutive
	// failures. Zero disables retirement.
	FailureThreshold int
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxSize < 1 {
		return fmt.Errorf("%w: pool max size must be >= 1, got %d", domain.ErrInvalidConfig, c.MaxSize)
	}
	if c.Size < 1 || c.Size > c.MaxSize {
		return fmt.Errorf("%w: pool size %d outside [1, %d]", domain.ErrInvalidConfig, c.Size, c.MaxSize)
	}
	if c.FailureThreshold < 0 {
		return fmt.Errorf("%w: failure threshold must not be negative", domain.ErrInvalidConfig)
	}
	return nil
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// WithClock sets the clock used to time stages.
func WithClock(c clock.Clock) Option {
	return func(p *Pool) { p.clock = c }
}

// WithRetireHook sets a function called after a worker is retired for
// exceeding the failure threshold.
func WithRetireHook(fn func(workerID string, failures int)) Option {
	return func(p *Pool) { p.onRetire = fn }
}

type worker struct {
	id   string
	quit chan struct{}
}

// Pool is a resizable worker pool.
type Pool struct {
	cfg      Config
	logger   log.Logger
	clock    clock.Clock
	onRetire func(string, int)

	tasks       chan Task
	completions chan Completion

	// ctx is passed to invokers and cancelled only by Abort.
	ctx       context.Context
	cancel    context.CancelFunc
	stop      chan struct{}
	abort     chan struct{}
	stopOnce  sync.Once
	abortOnce sync.Once
	wg        sync.WaitGroup

	mu      sync.Mutex
	size    int
	workers map[string]*worker
	started bool
	stopped bool
	retired uint64
}

// New creates a pool. Call Start to launch the workers.
func New(cfg Config, opts ...Option) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		cfg:         cfg,
		logger:      log.NoopLogger{},
		clock:       clock.New(),
		tasks:       make(chan Task, cfg.MaxSize),
		completions: make(chan Completion, cfg.MaxSize),
		ctx:         ctx,
		cancel:      cancel,
		stop:        make(chan struct{}),
		abort:       make(chan struct{}),
		size:        cfg.Size,
		workers:     make(map[string]*worker),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Start launches the configured number of workers.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true
	for len(p.workers) < p.size {
		p.spawnLocked()
	}
	p.logger.Info("worker pool started", log.Int("size", p.size))
}

// Submit queues a task without blocking. It returns ErrPoolSaturated when
// the queue is full and ErrSchedulerStopped after Stop.
func (p *Pool) Submit(t Task) error {
	select {
	case <-p.stop:
		return domain.ErrSchedulerStopped
	default:
	}
	select {
	case p.tasks <- t:
		return nil
	default:
		return domain.ErrPoolSaturated
	}
}

// Completions returns the channel completions are delivered on.
func (p *Pool) Completions() <-chan Completion {
	return p.completions
}

// Size returns the target number of workers.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// MaxSize returns the upper bound for Resize.
func (p *Pool) MaxSize() int { return p.cfg.MaxSize }

// Workers returns the number of live workers.
func (p *Pool) Workers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Retired returns how many workers were retired for repeated failures.
func (p *Pool) Retired() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.retired
}

// Resize changes the number of workers. Growing takes effect immediately;
// surplus workers exit after their current task.
func (p *Pool) Resize(n int) error {
	if n < 1 || n > p.cfg.MaxSize {
		return fmt.Errorf("%w: pool size %d outside [1, %d]", domain.ErrInvalidConfig, n, p.cfg.MaxSize)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return domain.ErrSchedulerStopped
	}
	old := p.size
	p.size = n
	if !p.started {
		return nil
	}
	for len(p.workers) < n {
		p.spawnLocked()
	}
	for id, w := range p.workers {
		if len(p.workers) <= n {
			break
		}
		close(w.quit)
		delete(p.workers, id)
	}
	p.logger.Info("worker pool resized", log.Int("from", old), log.Int("to", n))
	return nil
}

// Stop lets workers finish their current task and exit. If ctx ends first
// the pool is aborted and ctx.Err() is returned.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.stopOnce.Do(func() { close(p.stop) })

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.Abort()
		return ctx.Err()
	}
}

// Abort cancels running invocations and makes workers exit without
// reporting. Tasks still queued are abandoned.
func (p *Pool) Abort() {
	p.abortOnce.Do(func() {
		p.cancel()
		close(p.abort)
	})
}

func (p *Pool) spawnLocked() {
	w := &worker{id: "w-" + uuid.NewString()[:8], quit: make(chan struct{})}
	p.workers[w.id] = w
	p.wg.Add(1)
	go p.run(w)
}

// retire removes a failing worker and starts a replacement. A worker that a
// shrink already removed is not counted.
func (p *Pool) retire(w *worker, failures int) {
	p.mu.Lock()
	if _, live := p.workers[w.id]; !live {
		p.mu.Unlock()
		p.logger.Debug("removed worker failed", log.String("worker", w.id), log.Int("consecutive_failures", failures))
		return
	}
	delete(p.workers, w.id)
	p.retired++
	if !p.stopped && len(p.workers) < p.size {
		p.spawnLocked()
	}
	p.mu.Unlock()

	p.logger.Warn("worker retired",
		log.String("worker", w.id),
		log.Int("consecutive_failures", failures),
		log.Err(domain.ErrWorkerFatal),
	)
	if p.onRetire != nil {
		p.onRetire(w.id, failures)
	}
}
