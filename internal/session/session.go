package session

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/bft-labs/visionflow/internal/domain"
)

// Config holds the per-stream buffering settings.
type Config struct {
	// BufferBound is the maximum number of buffered frames. Must be >= 1.
	BufferBound int

	// Policy decides what happens when the buffer is at bound.
	Policy domain.DropPolicy

	// IdleTimeout closes the stream after no submit for this long.
	// Zero disables idle expiry.
	IdleTimeout time.Duration

	// MinSpacing is the AdaptiveSample admission spacing at escalation 0.
	MinSpacing time.Duration

	// SampleWindow is the number of recent submits used to estimate pressure.
	SampleWindow int

	// Aggression scales the AdaptiveSample rejection probability (0..1).
	Aggression float64

	// MaxEscalation caps the backpressure escalation level.
	MaxEscalation int
}

// DefaultConfig returns the defaults used when a stream is auto-created.
func DefaultConfig() Config {
	return Config{
		BufferBound:   8,
		Policy:        domain.DropOldest,
		MinSpacing:    33 * time.Millisecond,
		SampleWindow:  16,
		Aggression:    0.5,
		MaxEscalation: 3,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.BufferBound < 1 {
		return fmt.Errorf("%w: buffer bound must be >= 1, got %d", domain.ErrInvalidConfig, c.BufferBound)
	}
	if c.Aggression < 0 || c.Aggression > 1 {
		return fmt.Errorf("%w: aggression must be within [0, 1], got %v", domain.ErrInvalidConfig, c.Aggression)
	}
	if c.MaxEscalation < 0 || c.MaxEscalation > 16 {
		return fmt.Errorf("%w: max escalation must be within [0, 16], got %d", domain.ErrInvalidConfig, c.MaxEscalation)
	}
	if c.IdleTimeout < 0 || c.MinSpacing < 0 {
		return fmt.Errorf("%w: durations must not be negative", domain.ErrInvalidConfig)
	}
	return nil
}

// Observer is told about every accounted frame. Expect is called under the
// session lock so calls arrive in sequence order per stream. Skip reports a
// frame that will never be dispatched.
type Observer interface {
	Expect(streamID string, seq uint64)
	Skip(streamID string, seq uint64, reason domain.DropReason)
}

type noopObserver struct{}

func (noopObserver) Expect(string, uint64)                  {}
func (noopObserver) Skip(string, uint64, domain.DropReason) {}

// Outcome is what the submitter learns about its frame.
type Outcome struct {
	Accepted bool
	// Reason is set when Accepted is false.
	Reason domain.DropReason
}

// Option configures a Session.
type Option func(*Session)

// WithClock sets the clock used for arrival stamps and idle expiry.
func WithClock(c clock.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithObserver sets the ordering observer.
func WithObserver(o Observer) Option {
	return func(s *Session) { s.observer = o }
}

// WithNotify sets the function called after a frame is buffered.
func WithNotify(fn func()) Option {
	return func(s *Session) { s.notify = fn }
}

// WithRand sets the random source used by AdaptiveSample.
func WithRand(r *rand.Rand) Option {
	return func(s *Session) { s.rand = r }
}

// WithSeqFloor makes the session reject sequence numbers <= floor.
// Used when a stream id is reused after its previous session closed.
func WithSeqFloor(floor uint64) Option {
	return func(s *Session) { s.lastSeq = floor }
}

// Session is the ingestion state of one stream.
type Session struct {
	id       string
	pipeline string
	cfg      Config
	clock    clock.Clock
	observer Observer
	notify   func()
	rand     *rand.Rand

	mu             sync.Mutex
	buf            []domain.Frame
	state          domain.SessionState
	lastSeq        uint64
	lastDispatched uint64
	lastSubmit     time.Time
	lastAdmitted   time.Time
	admittedAny    bool
	level          int
	pressure       *pressureWindow
	submitted      uint64
	accepted       uint64
	dropped        [domain.ReasonShutdownAborted + 1]uint64
	servedCost     float64
	shed           int
}

// New creates an Active session for stream id bound to the given pipeline.
func New(id, pipeline string, cfg Config, opts ...Option) (*Session, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: stream id is required", domain.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Session{
		id:       id,
		pipeline: pipeline,
		cfg:      cfg,
		clock:    clock.New(),
		observer: noopObserver{},
		notify:   func() {},
		buf:      make([]domain.Frame, 0, cfg.BufferBound),
		pressure: newPressureWindow(cfg.SampleWindow),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rand == nil {
		s.rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	s.lastSubmit = s.clock.Now()
	return s, nil
}

// ID returns the stream id.
func (s *Session) ID() string { return s.id }

// Pipeline returns the pipeline id the stream runs through.
func (s *Session) Pipeline() string { return s.pipeline }

// Config returns the session configuration.
func (s *Session) Config() Config { return s.cfg }

// Submit accounts a frame and buffers or drops it according to the policy.
//
// A zero Seq is replaced with the next sequence number. Frames with a
// regressing Seq, or submitted after Close, are rejected with an error and
// are not accounted.
func (s *Session) Submit(frame domain.Frame) (Outcome, error) {
	now := s.clock.Now()

	s.mu.Lock()
	if s.state != domain.SessionActive {
		s.mu.Unlock()
		return Outcome{}, fmt.Errorf("%w: stream %s", domain.ErrSessionClosed, s.id)
	}
	if frame.Seq == 0 {
		frame.Seq = s.lastSeq + 1
	} else if frame.Seq <= s.lastSeq {
		last := s.lastSeq
		s.mu.Unlock()
		return Outcome{}, fmt.Errorf("%w: stream %s seq %d after %d", domain.ErrSequenceRegression, s.id, frame.Seq, last)
	}
	frame.StreamID = s.id
	if frame.ArrivedAt.IsZero() {
		frame.ArrivedAt = now
	}
	s.lastSeq = frame.Seq
	s.lastSubmit = now
	s.submitted++
	s.observer.Expect(s.id, frame.Seq)

	out, evicted := s.admitLocked(frame)
	s.shed += len(evicted)
	for range evicted {
		s.dropped[domain.ReasonEvictedOldest]++
	}
	if !out.Accepted {
		s.dropped[out.Reason]++
	} else {
		s.accepted++
	}
	s.mu.Unlock()

	for _, seq := range evicted {
		s.observer.Skip(s.id, seq, domain.ReasonEvictedOldest)
	}
	if !out.Accepted {
		s.observer.Skip(s.id, frame.Seq, out.Reason)
	} else {
		s.notify()
	}
	return out, nil
}

// admitLocked applies the drop policy. It returns the outcome for frame and
// the sequence numbers evicted from the buffer head.
func (s *Session) admitLocked(frame domain.Frame) (Outcome, []uint64) {
	bound := s.effectiveBoundLocked()
	var evicted []uint64

	switch s.cfg.Policy {
	case domain.DropNewest:
		if len(s.buf) >= bound {
			return Outcome{Reason: domain.ReasonBufferFull}, nil
		}

	case domain.AdaptiveSample:
		s.pressure.record(len(s.buf) >= bound)
		if s.sustainedLocked() {
			if s.admittedAny && frame.ArrivedAt.Sub(s.lastAdmitted) < s.spacingLocked() {
				return Outcome{Reason: domain.ReasonSampled}, nil
			}
			if s.rand.Float64() >= 1-s.pressure.fraction()*s.cfg.Aggression {
				return Outcome{Reason: domain.ReasonSampled}, nil
			}
		}
		for len(s.buf) >= bound {
			evicted = append(evicted, s.popHeadLocked().Seq)
		}

	default:
		// DropOldest evicts down to the effective bound, which shrinks with
		// the escalation level.
		for len(s.buf) >= bound {
			evicted = append(evicted, s.popHeadLocked().Seq)
		}
	}

	s.buf = append(s.buf, frame)
	s.lastAdmitted = frame.ArrivedAt
	s.admittedAny = true
	return Outcome{Accepted: true}, evicted
}

func (s *Session) effectiveBoundLocked() int {
	if s.cfg.Policy != domain.DropOldest {
		return s.cfg.BufferBound
	}
	return max(s.cfg.BufferBound>>s.level, 1)
}

// sustainedLocked reports whether AdaptiveSample should start thinning.
func (s *Session) sustainedLocked() bool {
	return s.level > 0 || s.pressure.fraction() >= 0.5
}

func (s *Session) spacingLocked() time.Duration {
	return s.cfg.MinSpacing << s.level
}

func (s *Session) popHeadLocked() domain.Frame {
	f := s.buf[0]
	s.buf[0] = domain.Frame{}
	s.buf = s.buf[1:]
	return f
}

// Pop removes the head frame for dispatch. The last pop from a Draining
// session closes it.
func (s *Session) Pop() (domain.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buf) == 0 {
		return domain.Frame{}, false
	}
	f := s.popHeadLocked()
	s.lastDispatched = f.Seq
	if s.state == domain.SessionDraining && len(s.buf) == 0 {
		s.state = domain.SessionClosed
	}
	return f, true
}

// Close stops intake. Buffered frames are still dispatched; the session is
// Closed once they are gone. Close reports whether it changed the state.
func (s *Session) Close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != domain.SessionActive {
		return false
	}
	if len(s.buf) == 0 {
		s.state = domain.SessionClosed
	} else {
		s.state = domain.SessionDraining
	}
	return true
}

// Drain removes every buffered frame and reports each one to the observer
// as dropped with reason. A draining session becomes Closed. Returns the
// number of frames removed.
func (s *Session) Drain(reason domain.DropReason) int {
	s.mu.Lock()
	frames := s.buf
	s.buf = make([]domain.Frame, 0, s.cfg.BufferBound)
	s.dropped[reason] += uint64(len(frames))
	if s.state == domain.SessionDraining {
		s.state = domain.SessionClosed
	}
	s.mu.Unlock()

	for _, f := range frames {
		s.observer.Skip(s.id, f.Seq, reason)
	}
	return len(frames)
}

// Pending returns the number of buffered frames.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// State returns the lifecycle state.
func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// AtBound reports whether the buffer is at its effective bound.
func (s *Session) AtBound() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf) >= s.effectiveBoundLocked()
}

// Saturated reports sustained buffer pressure: the buffer is at the
// configured bound, or the session is escalated and frames were evicted
// since the previous call. A shrunken buffer that merely holds frames is
// not pressure. Each call clears the eviction count.
func (s *Session) Saturated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	shed := s.shed
	s.shed = 0
	if len(s.buf) >= s.cfg.BufferBound {
		return true
	}
	return s.level > 0 && shed > 0
}

// Escalate raises the escalation level by one, up to MaxEscalation.
func (s *Session) Escalate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.level >= s.cfg.MaxEscalation {
		return false
	}
	s.level++
	return true
}

// Relax resets the escalation level.
func (s *Session) Relax() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.level == 0 {
		return false
	}
	s.level = 0
	s.pressure.reset()
	return true
}

// Level returns the current escalation level.
func (s *Session) Level() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

// IdleExpired reports whether an Active session has seen no submit for the
// idle timeout.
func (s *Session) IdleExpired(now time.Time) bool {
	if s.cfg.IdleTimeout <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == domain.SessionActive && now.Sub(s.lastSubmit) >= s.cfg.IdleTimeout
}

// LastSeq returns the highest accounted sequence number.
func (s *Session) LastSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeq
}

// LastDispatched returns the sequence number of the last popped frame.
func (s *Session) LastDispatched() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastDispatched
}

// AddCost adds to the served cost of the stream.
func (s *Session) AddCost(c float64) {
	s.mu.Lock()
	s.servedCost += c
	s.mu.Unlock()
}

// Stats is a point-in-time view of a session.
type Stats struct {
	ID             string            `json:"id"`
	Pipeline       string            `json:"pipeline"`
	State          string            `json:"state"`
	Policy         string            `json:"policy"`
	Pending        int               `json:"pending"`
	Bound          int               `json:"bound"`
	Level          int               `json:"escalation_level"`
	Submitted      uint64            `json:"submitted"`
	Accepted       uint64            `json:"accepted"`
	Dropped        map[string]uint64 `json:"dropped"`
	LastSeq        uint64            `json:"last_seq"`
	LastDispatched uint64            `json:"last_dispatched"`
	ServedCost     float64           `json:"served_cost"`
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := make(map[string]uint64)
	for r, n := range s.dropped {
		if n > 0 {
			dropped[domain.DropReason(r).String()] = n
		}
	}
	return Stats{
		ID:             s.id,
		Pipeline:       s.pipeline,
		State:          s.state.String(),
		Policy:         s.cfg.Policy.String(),
		Pending:        len(s.buf),
		Bound:          s.effectiveBoundLocked(),
		Level:          s.level,
		Submitted:      s.submitted,
		Accepted:       s.accepted,
		Dropped:        dropped,
		LastSeq:        s.lastSeq,
		LastDispatched: s.lastDispatched,
		ServedCost:     s.servedCost,
	}
}
