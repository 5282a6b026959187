package visionflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/bft-labs/visionflow/internal/aggregator"
	"github.com/bft-labs/visionflow/internal/metrics"
	"github.com/bft-labs/visionflow/internal/pipeline"
	"github.com/bft-labs/visionflow/internal/pool"
	"github.com/bft-labs/visionflow/internal/scheduler"
	"github.com/bft-labs/visionflow/internal/source"
	"github.com/bft-labs/visionflow/pkg/lifecycle"
	"github.com/bft-labs/visionflow/pkg/log"
)

// Engine is an embeddable stream inference runtime.
// Use New to create an instance, then Start to begin accepting frames.
type Engine struct {
	config    Config
	opts      options
	registry  *pipeline.Registry
	lifecycle *lifecycle.DefaultManager
	emitter   eventEmitter
	logger    log.Logger
	plugins   []Plugin

	// core is rebuilt when a stopped engine is started again.
	core atomic.Pointer[core]
	used bool

	// mu serializes Start and Stop.
	mu    sync.Mutex
	ctxMu sync.Mutex
	ctx   context.Context
}

// core is one generation of the processing components.
type core struct {
	pipelines *pipeline.Set
	metrics   *metrics.Metrics
	agg       *aggregator.Aggregator
	pool      *pool.Pool
	sched     *scheduler.Scheduler
}

// New creates an Engine in StateStopped. Configuration errors, including
// unknown stage kinds and bad stage params, are returned here.
func New(cfg Config, opts ...Option) (*Engine, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	registry := pipeline.NewRegistry()
	for _, k := range o.kinds {
		registry.Register(k.kind, k.factory)
	}

	emitter := eventEmitter{handler: o.eventHandler}
	e := &Engine{
		config:    cfg,
		opts:      o,
		registry:  registry,
		lifecycle: lifecycle.NewManager(o.logger, emitter),
		emitter:   emitter,
		logger:    o.logger,
		plugins:   o.plugins,
	}

	c, err := e.build()
	if err != nil {
		return nil, err
	}
	e.core.Store(c)
	return e, nil
}

func (e *Engine) build() (*core, error) {
	set, err := e.registry.BuildSet(e.config.Pipelines)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	agg := aggregator.New(m.Sink(MultiSink(e.opts.sinks)), e.config.HoldBound, e.logger)

	p, err := pool.New(e.config.poolConfig(),
		pool.WithLogger(e.logger),
		pool.WithClock(e.opts.clock),
		pool.WithRetireHook(func(id string, failures int) {
			m.WorkerRetired()
			e.emitter.workerRetired(id, failures)
		}),
	)
	if err != nil {
		return nil, err
	}

	schedCfg, err := e.config.schedulerConfig()
	if err != nil {
		return nil, err
	}
	s, err := scheduler.New(schedCfg, set, p, agg, m,
		scheduler.WithLogger(e.logger),
		scheduler.WithClock(e.opts.clock),
	)
	if err != nil {
		return nil, err
	}

	return &core{pipelines: set, metrics: m, agg: agg, pool: p, sched: s}, nil
}

// Start runs the scheduler and the worker pool in the background, creates
// the configured streams and initializes plugins. The provided context
// bounds the lifetime of the engine; cancelling it shuts the scheduler
// down as Stop would.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.lifecycle.CanStart() {
		return ErrAlreadyRunning
	}
	if err := e.lifecycle.TransitionTo(StateStarting, "Start() called"); err != nil {
		return err
	}

	if e.used {
		c, err := e.build()
		if err != nil {
			_ = e.lifecycle.TransitionTo(StateCrashed, "rebuild failed")
			return err
		}
		e.core.Store(c)
	}
	e.used = true
	c := e.core.Load()

	runCtx, cancel := context.WithCancel(ctx)
	e.ctxMu.Lock()
	e.ctx = runCtx
	e.ctxMu.Unlock()
	e.lifecycle.SetCancel(cancel)

	e.lifecycle.Go(func() {
		err := c.sched.Run(runCtx)
		if err != nil && e.lifecycle.State() == StateRunning {
			e.logger.Error("scheduler exited", log.Err(err))
			_ = e.lifecycle.TransitionTo(StateCrashed, err.Error())
		}
	})
	select {
	case <-c.sched.Ready():
	case <-c.sched.Done():
	}

	for _, spec := range e.config.Streams {
		if err := c.sched.CreateStream(spec); err != nil {
			e.abortStart(c, "stream "+spec.ID)
			return fmt.Errorf("create stream %s: %w", spec.ID, err)
		}
	}

	for i, p := range e.plugins {
		pcfg := PluginConfig{
			Logger: e.logger.With(log.String("plugin", p.Name())),
			Engine: e,
		}
		if err := initializePlugin(runCtx, p, pcfg); err != nil {
			e.logger.Error("plugin initialization failed",
				log.String("plugin", p.Name()),
				log.Err(err))
			e.shutdownPlugins(e.plugins[:i])
			e.abortStart(c, "plugin init failed: "+p.Name())
			return err
		}
		e.logger.Info("plugin initialized", log.String("plugin", p.Name()))
	}

	return e.lifecycle.TransitionTo(StateRunning, "scheduler running")
}

// abortStart undoes a partial Start. Called with e.mu held.
func (e *Engine) abortStart(c *core, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), e.config.ShutdownTimeout)
	defer cancel()
	_ = c.sched.Shutdown(ctx)
	e.lifecycle.Cancel()
	_ = e.lifecycle.Wait(ctx)
	_ = e.lifecycle.TransitionTo(StateCrashed, reason)
}

// Stop stops admission, drops buffered frames, waits for in-flight frames
// (bounded by the configured shutdown timeout and ctx) and shuts plugins
// down in reverse order. Errors from each step are combined.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.lifecycle.CanStop() {
		return ErrNotRunning
	}
	if err := e.lifecycle.TransitionTo(StateStopping, "Stop() called"); err != nil {
		return err
	}

	c := e.core.Load()
	var err error
	if serr := c.sched.Shutdown(ctx); serr != nil && !errors.Is(serr, ErrSchedulerStopped) {
		err = multierr.Append(err, serr)
	}
	e.lifecycle.Cancel()
	err = multierr.Append(err, e.lifecycle.Wait(ctx))
	err = multierr.Append(err, e.shutdownPlugins(e.plugins))

	if err != nil {
		_ = e.lifecycle.TransitionTo(StateCrashed, err.Error())
	} else {
		_ = e.lifecycle.TransitionTo(StateStopped, "graceful shutdown")
	}
	return err
}

func (e *Engine) shutdownPlugins(plugins []Plugin) error {
	ctx, cancel := context.WithTimeout(context.Background(), e.config.ShutdownTimeout)
	defer cancel()

	var err error
	for i := len(plugins) - 1; i >= 0; i-- {
		p := plugins[i]
		if perr := shutdownPlugin(ctx, p); perr != nil {
			e.logger.Error("plugin shutdown failed",
				log.String("plugin", p.Name()),
				log.Err(perr))
			err = multierr.Append(err, fmt.Errorf("plugin %s: %w", p.Name(), perr))
			continue
		}
		e.logger.Info("plugin shutdown complete", log.String("plugin", p.Name()))
	}
	return err
}

// Status returns the current lifecycle state.
func (e *Engine) Status() State {
	return e.lifecycle.State()
}

// Push submits a payload to a stream, creating the stream on first use.
// The engine assigns the sequence number. A frame dropped by the stream's
// policy is not an error; see Outcome.
func (e *Engine) Push(streamID string, payload []byte, ts time.Time) (Outcome, error) {
	if ts.IsZero() {
		ts = e.opts.clock.Now()
	}
	return e.core.Load().sched.Push(streamID, payload, ts)
}

// Submit submits a frame that already carries a sequence number, as
// produced by a FrameSource.
func (e *Engine) Submit(f Frame) (Outcome, error) {
	return e.core.Load().sched.Submit(f)
}

// StreamClosed signals that a stream has no more frames. Buffered frames
// are still processed.
func (e *Engine) StreamClosed(streamID string) error {
	return e.core.Load().sched.StreamClosed(streamID)
}

// CreateStream creates a stream with explicit settings.
func (e *Engine) CreateStream(spec StreamSpec) error {
	return e.core.Load().sched.CreateStream(spec)
}

// CloseStream closes a stream gracefully. Closing an already closed
// stream is a no-op.
func (e *Engine) CloseStream(streamID string) error {
	return e.core.Load().sched.CloseStream(streamID)
}

// CancelStream closes a stream and drops its buffered frames.
func (e *Engine) CancelStream(streamID string) error {
	return e.core.Load().sched.CancelStream(streamID)
}

// PoolResize changes the number of inference workers.
func (e *Engine) PoolResize(n int) error {
	if err := e.core.Load().sched.Resize(n); err != nil {
		return err
	}
	e.logger.Info("pool resized", log.Int("size", n))
	return nil
}

// PoolSize returns the current number of inference workers.
func (e *Engine) PoolSize() int {
	return e.core.Load().sched.Capacity()
}

// MetricsSnapshot returns counters, latency percentiles and per-stream
// state.
func (e *Engine) MetricsSnapshot() Snapshot {
	return e.core.Load().sched.Snapshot()
}

// Gatherer exposes the engine's Prometheus metrics.
func (e *Engine) Gatherer() prometheus.Gatherer {
	return e.core.Load().metrics.Registry()
}

// Pipelines returns the configured pipeline ids. The first is the default.
func (e *Engine) Pipelines() []string {
	return e.core.Load().pipelines.IDs()
}

// Attach pumps src into the engine until the source ends, ctx is
// cancelled or the engine stops, then closes the stream. It returns the
// number of frames submitted.
func (e *Engine) Attach(ctx context.Context, src FrameSource) (uint64, error) {
	e.ctxMu.Lock()
	runCtx := e.ctx
	e.ctxMu.Unlock()
	if runCtx == nil || !e.running() {
		return 0, ErrNotRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(runCtx, cancel)
	defer stop()

	id := src.StreamID()
	e.logger.Info("source attached", log.Stream(id))

	n, err := source.Pump(ctx, src, func(f Frame) error {
		_, err := e.Submit(f)
		return err
	})
	switch {
	case errors.Is(err, ErrSchedulerStopped), errors.Is(err, context.Canceled) && runCtx.Err() != nil:
		err = nil
	case err == nil:
		if cerr := e.StreamClosed(id); cerr != nil && !errors.Is(cerr, ErrUnknownStream) {
			err = cerr
		}
	}

	if err != nil {
		e.logger.Warn("source detached", log.Stream(id), log.Uint64("frames", n), log.Err(err))
	} else {
		e.logger.Info("source detached", log.Stream(id), log.Uint64("frames", n))
	}
	return n, err
}

func (e *Engine) running() bool {
	s := e.lifecycle.State()
	return s == StateRunning || s == StateStarting
}
