package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/bft-labs/visionflow/internal/aggregator"
	"github.com/bft-labs/visionflow/internal/domain"
	"github.com/bft-labs/visionflow/internal/metrics"
	"github.com/bft-labs/visionflow/internal/pipeline"
	"github.com/bft-labs/visionflow/internal/pool"
	"github.com/bft-labs/visionflow/internal/session"
	"github.com/bft-labs/visionflow/pkg/log"
)

// Config holds scheduler settings.
type Config struct {
	// Session is the default session configuration for new streams.
	Session session.Config

	// PressureRounds is the number of consecutive sweeps a session must
	// spend at (or below) its bound before it is escalated (or relaxed).
	PressureRounds int

	// SweepInterval is the period of idle and pressure checks.
	SweepInterval time.Duration

	// ShutdownTimeout bounds the wait for in-flight items on shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		Session:         session.DefaultConfig(),
		PressureRounds:  3,
		SweepInterval:   100 * time.Millisecond,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := c.Session.Validate(); err != nil {
		return err
	}
	if c.PressureRounds < 1 {
		return fmt.Errorf("%w: pressure rounds must be >= 1", domain.ErrInvalidConfig)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("%w: sweep interval must be positive", domain.ErrInvalidConfig)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: shutdown timeout must be positive", domain.ErrInvalidConfig)
	}
	return nil
}

// StreamSpec describes a stream created explicitly. Zero fields take the
// scheduler defaults.
type StreamSpec struct {
	ID          string        `toml:"id" json:"id"`
	Pipeline    string        `toml:"pipeline" json:"pipeline,omitempty"`
	BufferBound int           `toml:"buffer_bound" json:"buffer_bound,omitempty"`
	DropPolicy  string        `toml:"drop_policy" json:"drop_policy,omitempty"`
	IdleTimeout time.Duration `toml:"idle_timeout" json:"idle_timeout,omitempty"`
}

func (sp StreamSpec) sessionConfig(def session.Config) (session.Config, error) {
	cfg := def
	if sp.BufferBound > 0 {
		cfg.BufferBound = sp.BufferBound
	}
	if sp.DropPolicy != "" {
		p, err := domain.ParseDropPolicy(sp.DropPolicy)
		if err != nil {
			return cfg, err
		}
		cfg.Policy = p
	}
	if sp.IdleTimeout > 0 {
		cfg.IdleTimeout = sp.IdleTimeout
	}
	return cfg, cfg.Validate()
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithClock sets the clock driving sweeps, idle expiry and latencies.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// table is an immutable view of the live sessions.
type table map[string]*session.Session

// entry is the loop-owned state of one session.
type entry struct {
	sess     *session.Session
	pipe     *pipeline.Pipeline
	pressure int
	calm     int
}

// Scheduler dispatches frames from stream sessions to the worker pool and
// feeds completions to the aggregator.
type Scheduler struct {
	cfg       Config
	pipelines *pipeline.Set
	pool      *pool.Pool
	agg       *aggregator.Aggregator
	metrics   *metrics.Metrics
	logger    log.Logger
	clock     clock.Clock
	observer  session.Observer

	table    atomic.Pointer[table]
	wake     chan struct{}
	cmds     chan func()
	started  atomic.Bool
	stopping atomic.Bool
	ready    chan struct{}
	done     chan struct{}
	err      error

	// Owned by the loop goroutine.
	entries   map[string]*entry
	order     []string
	cursor    int
	inflight  map[domain.ItemKey]*pipeline.Pipeline
	floors    map[string]uint64
	needsReap bool
	shutdown  *shutdownState
}

// New creates a scheduler. Run starts it.
func New(
	cfg Config,
	pipelines *pipeline.Set,
	p *pool.Pool,
	agg *aggregator.Aggregator,
	m *metrics.Metrics,
	opts ...Option,
) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if pipelines == nil || p == nil || agg == nil || m == nil {
		return nil, fmt.Errorf("%w: scheduler needs pipelines, pool, aggregator and metrics", domain.ErrInvalidConfig)
	}

	s := &Scheduler{
		cfg:       cfg,
		pipelines: pipelines,
		pool:      p,
		agg:       agg,
		metrics:   m,
		logger:    log.NoopLogger{},
		clock:     clock.New(),
		wake:      make(chan struct{}, 1),
		cmds:      make(chan func()),
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
		entries:   make(map[string]*entry),
		inflight:  make(map[domain.ItemKey]*pipeline.Pipeline),
		floors:    make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.observer = accounting{agg: agg, metrics: m}
	s.table.Store(&table{})
	return s, nil
}

// accounting counts accounted frames and forwards them to the aggregator.
type accounting struct {
	agg     *aggregator.Aggregator
	metrics *metrics.Metrics
}

func (a accounting) Expect(streamID string, seq uint64) {
	a.metrics.FrameSubmitted()
	a.agg.Expect(streamID, seq)
}

func (a accounting) Skip(streamID string, seq uint64, reason domain.DropReason) {
	a.agg.Skip(streamID, seq, reason)
}

// Push submits a payload to a stream, creating the stream on first use.
// The sequence number is assigned by the session.
func (s *Scheduler) Push(streamID string, payload []byte, ts time.Time) (session.Outcome, error) {
	return s.Submit(domain.Frame{StreamID: streamID, Payload: payload, ArrivedAt: ts})
}

// Submit submits a frame. A non-zero Seq must be greater than the previous
// one of the stream.
func (s *Scheduler) Submit(f domain.Frame) (session.Outcome, error) {
	if f.StreamID == "" {
		return session.Outcome{}, fmt.Errorf("%w: empty stream id", domain.ErrUnknownStream)
	}

	// A session that closed between lookup and submit is replaced once.
	for attempt := 0; attempt < 2; attempt++ {
		if !s.started.Load() {
			return session.Outcome{}, domain.ErrNotRunning
		}
		if s.stopping.Load() {
			return session.Outcome{}, domain.ErrSchedulerStopped
		}

		sess := s.lookup(f.StreamID)
		if sess == nil || sess.State() == domain.SessionClosed {
			var err error
			if sess, err = s.create(StreamSpec{ID: f.StreamID}, true); err != nil {
				return session.Outcome{}, err
			}
		}

		out, err := sess.Submit(f)
		if errors.Is(err, domain.ErrSessionClosed) && sess.State() == domain.SessionClosed {
			continue
		}
		return out, err
	}
	return session.Outcome{}, fmt.Errorf("%w: stream %s", domain.ErrSessionClosed, f.StreamID)
}

// StreamClosed tells the scheduler a source has no more frames for the
// stream. It is equivalent to CloseStream.
func (s *Scheduler) StreamClosed(streamID string) error {
	return s.CloseStream(streamID)
}

// CreateStream creates a stream with explicit settings. It fails with
// ErrStreamExists if the stream is live.
func (s *Scheduler) CreateStream(spec StreamSpec) error {
	if spec.ID == "" {
		return fmt.Errorf("%w: stream id is required", domain.ErrInvalidConfig)
	}
	if !s.started.Load() {
		return domain.ErrNotRunning
	}
	_, err := s.create(spec, false)
	return err
}

// CloseStream stops intake for a stream. Buffered frames are still
// processed. Closing a closed stream is a no-op.
func (s *Scheduler) CloseStream(streamID string) error {
	return s.command(func() error { return s.closeStream(streamID, false) })
}

// CancelStream stops intake and drops the buffered frames of a stream.
func (s *Scheduler) CancelStream(streamID string) error {
	return s.command(func() error { return s.closeStream(streamID, true) })
}

// Resize changes the worker pool size.
func (s *Scheduler) Resize(n int) error {
	if s.stopping.Load() {
		return domain.ErrSchedulerStopped
	}
	if err := s.pool.Resize(n); err != nil {
		return err
	}
	s.metrics.SetCapacity(n)
	s.signal()
	return nil
}

// Capacity returns the current admission capacity.
func (s *Scheduler) Capacity() int {
	return s.pool.Size()
}

// Snapshot is the operational view returned by Snapshot.
type Snapshot struct {
	metrics.Snapshot
	Late     uint64          `json:"late"`
	Sessions []session.Stats `json:"sessions"`
}

// Snapshot returns counters, latency percentiles and per-session state.
func (s *Scheduler) Snapshot() Snapshot {
	snap := Snapshot{
		Snapshot: s.metrics.Snapshot(),
		Late:     s.agg.Stats().Late,
	}
	t := *s.table.Load()
	ids := make([]string, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		snap.Sessions = append(snap.Sessions, t[id].Stats())
	}
	return snap
}

// Shutdown stops admission, drops buffered frames and waits for in-flight
// items. If they do not finish within the shutdown timeout (or before ctx
// ends) they are reported as aborted and ErrShutdownTimeout is returned.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	if !s.started.Load() {
		return domain.ErrNotRunning
	}
	errc := make(chan error, 1)
	select {
	case s.cmds <- func() { s.beginShutdown(ctx, errc) }:
	case <-s.done:
		return s.err
	}
	return <-errc
}

// Ready is closed once Run has started the loop.
func (s *Scheduler) Ready() <-chan struct{} {
	return s.ready
}

// Done is closed when the loop has exited.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

func (s *Scheduler) lookup(streamID string) *session.Session {
	return (*s.table.Load())[streamID]
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// command runs fn on the loop goroutine and returns its error.
func (s *Scheduler) command(fn func() error) error {
	if !s.started.Load() {
		return domain.ErrNotRunning
	}
	errc := make(chan error, 1)
	select {
	case s.cmds <- func() { errc <- fn() }:
	case <-s.done:
		return domain.ErrSchedulerStopped
	}
	return <-errc
}

func (s *Scheduler) create(spec StreamSpec, ifMissing bool) (*session.Session, error) {
	var sess *session.Session
	err := s.command(func() error {
		var err error
		sess, err = s.openStream(spec, ifMissing)
		return err
	})
	return sess, err
}
