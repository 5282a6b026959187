package session

import (
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"

	"github.com/bft-labs/visionflow/internal/domain"
)

type skip struct {
	Seq    uint64
	Reason domain.DropReason
}

type recorder struct {
	mu      sync.Mutex
	expects []uint64
	skips   []skip
}

func (r *recorder) Expect(_ string, seq uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expects = append(r.expects, seq)
}

func (r *recorder) Skip(_ string, seq uint64, reason domain.DropReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skips = append(r.skips, skip{seq, reason})
}

func newSession(t *testing.T, cfg Config, opts ...Option) (*Session, *recorder) {
	t.Helper()
	rec := &recorder{}
	s, err := New("cam-1", "default", cfg, append([]Option{WithObserver(rec)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, rec
}

func popAll(s *Session) []uint64 {
	var out []uint64
	for {
		f, ok := s.Pop()
		if !ok {
			return out
		}
		out = append(out, f.Seq)
	}
}

func TestSubmit_DropOldest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferBound = 3
	s, rec := newSession(t, cfg)

	for seq := uint64(1); seq <= 5; seq++ {
		out, err := s.Submit(domain.Frame{Seq: seq})
		if err != nil {
			t.Fatalf("Submit(%d): %v", seq, err)
		}
		if !out.Accepted {
			t.Errorf("Submit(%d) dropped, DropOldest always accepts the new frame", seq)
		}
	}

	if diff := cmp.Diff([]uint64{1, 2, 3, 4, 5}, rec.expects); diff != "" {
		t.Errorf("expects mismatch (-want +got):\n%s", diff)
	}
	wantSkips := []skip{{1, domain.ReasonEvictedOldest}, {2, domain.ReasonEvictedOldest}}
	if diff := cmp.Diff(wantSkips, rec.skips); diff != "" {
		t.Errorf("skips mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]uint64{3, 4, 5}, popAll(s)); diff != "" {
		t.Errorf("buffer mismatch (-want +got):\n%s", diff)
	}
	if got := s.Stats().Dropped["evicted_oldest"]; got != 2 {
		t.Errorf("evicted_oldest = %d, want 2", got)
	}
}

func TestSubmit_DropNewest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferBound = 2
	cfg.Policy = domain.DropNewest
	s, rec := newSession(t, cfg)

	var outcomes []Outcome
	for i := 0; i < 4; i++ {
		out, err := s.Submit(domain.Frame{Payload: []byte{byte(i)}})
		if err != nil {
			t.Fatal(err)
		}
		outcomes = append(outcomes, out)
	}

	want := []Outcome{
		{Accepted: true},
		{Accepted: true},
		{Reason: domain.ReasonBufferFull},
		{Reason: domain.ReasonBufferFull},
	}
	if diff := cmp.Diff(want, outcomes); diff != "" {
		t.Errorf("outcomes mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]skip{{3, domain.ReasonBufferFull}, {4, domain.ReasonBufferFull}}, rec.skips); diff != "" {
		t.Errorf("skips mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]uint64{1, 2}, popAll(s)); diff != "" {
		t.Errorf("buffer mismatch (-want +got):\n%s", diff)
	}
}

func TestSubmit_Sequence(t *testing.T) {
	s, rec := newSession(t, DefaultConfig(), WithSeqFloor(10))

	if _, err := s.Submit(domain.Frame{}); err != nil {
		t.Fatal(err)
	}
	if got := s.LastSeq(); got != 11 {
		t.Fatalf("assigned seq = %d, want 11", got)
	}
	if _, err := s.Submit(domain.Frame{Seq: 20}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Submit(domain.Frame{Seq: 20}); !errors.Is(err, domain.ErrSequenceRegression) {
		t.Errorf("duplicate seq error = %v, want ErrSequenceRegression", err)
	}
	if _, err := s.Submit(domain.Frame{Seq: 5}); !errors.Is(err, domain.ErrSequenceRegression) {
		t.Errorf("regressing seq error = %v, want ErrSequenceRegression", err)
	}
	if _, err := s.Submit(domain.Frame{}); err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]uint64{11, 20, 21}, rec.expects); diff != "" {
		t.Errorf("rejected frames must not be accounted (-want +got):\n%s", diff)
	}
	f, _ := s.Pop()
	if f.StreamID != "cam-1" || f.ArrivedAt.IsZero() {
		t.Errorf("frame not stamped: %+v", f)
	}
}

func TestClose(t *testing.T) {
	t.Run("empty session closes immediately", func(t *testing.T) {
		s, _ := newSession(t, DefaultConfig())
		if !s.Close() {
			t.Fatal("first Close should change state")
		}
		if s.State() != domain.SessionClosed {
			t.Errorf("state = %v, want Closed", s.State())
		}
		if s.Close() {
			t.Error("second Close should be a no-op")
		}
	})

	t.Run("buffered frames drain", func(t *testing.T) {
		s, rec := newSession(t, DefaultConfig())
		s.Submit(domain.Frame{})
		s.Submit(domain.Frame{})
		s.Close()

		if s.State() != domain.SessionDraining {
			t.Fatalf("state = %v, want Draining", s.State())
		}
		if _, err := s.Submit(domain.Frame{}); !errors.Is(err, domain.ErrSessionClosed) {
			t.Errorf("Submit after Close error = %v, want ErrSessionClosed", err)
		}
		if len(rec.expects) != 2 {
			t.Errorf("frame after close was accounted: %v", rec.expects)
		}
		if diff := cmp.Diff([]uint64{1, 2}, popAll(s)); diff != "" {
			t.Errorf("drain order mismatch (-want +got):\n%s", diff)
		}
		if s.State() != domain.SessionClosed {
			t.Errorf("state after last pop = %v, want Closed", s.State())
		}
	})
}

func TestDrain(t *testing.T) {
	s, rec := newSession(t, DefaultConfig())
	for i := 0; i < 3; i++ {
		s.Submit(domain.Frame{})
	}
	s.Close()

	if n := s.Drain(domain.ReasonStreamCancelled); n != 3 {
		t.Errorf("Drain() = %d, want 3", n)
	}
	want := []skip{
		{1, domain.ReasonStreamCancelled},
		{2, domain.ReasonStreamCancelled},
		{3, domain.ReasonStreamCancelled},
	}
	if diff := cmp.Diff(want, rec.skips); diff != "" {
		t.Errorf("skips mismatch (-want +got):\n%s", diff)
	}
	if s.State() != domain.SessionClosed || s.Pending() != 0 {
		t.Errorf("state=%v pending=%d after drain", s.State(), s.Pending())
	}
}

func TestEscalation_DropOldestShrinksWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferBound = 8
	cfg.MaxEscalation = 2
	s, _ := newSession(t, cfg)

	s.Escalate()
	s.Escalate()
	if s.Escalate() {
		t.Error("Escalate beyond MaxEscalation should be refused")
	}
	if s.Level() != 2 {
		t.Fatalf("level = %d, want 2", s.Level())
	}

	for i := 0; i < 5; i++ {
		s.Submit(domain.Frame{})
	}
	if !s.AtBound() {
		t.Error("session should be at its shrunken bound")
	}
	if diff := cmp.Diff([]uint64{4, 5}, popAll(s)); diff != "" {
		t.Errorf("buffer mismatch (-want +got):\n%s", diff)
	}

	if !s.Relax() || s.Level() != 0 {
		t.Errorf("Relax should reset the level, got %d", s.Level())
	}
	if s.Relax() {
		t.Error("Relax at level 0 should be a no-op")
	}
}

func TestSaturated(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferBound = 4
	cfg.MaxEscalation = 2
	s, _ := newSession(t, cfg)

	for i := 0; i < 4; i++ {
		s.Submit(domain.Frame{})
	}
	if !s.Saturated() {
		t.Error("buffer at the configured bound should be saturated")
	}

	s.Escalate()
	s.Escalate()
	s.Submit(domain.Frame{})
	if s.Pending() != 1 {
		t.Fatalf("pending = %d, want 1 at level 2", s.Pending())
	}
	if !s.Saturated() {
		t.Error("evictions while escalated should count as saturation")
	}
	if s.Saturated() {
		t.Error("a shrunken buffer with no new evictions should not be saturated")
	}
}

func TestAdaptiveSample(t *testing.T) {
	mock := clock.NewMock()
	cfg := Config{
		BufferBound:   1,
		Policy:        domain.AdaptiveSample,
		MinSpacing:    10 * time.Millisecond,
		SampleWindow:  2,
		Aggression:    0,
		MaxEscalation: 2,
	}
	s, rec := newSession(t, cfg, WithClock(mock), WithRand(rand.New(rand.NewPCG(1, 2))))

	submit := func(advance time.Duration) Outcome {
		t.Helper()
		mock.Add(advance)
		out, err := s.Submit(domain.Frame{})
		if err != nil {
			t.Fatal(err)
		}
		return out
	}

	// No pressure yet: admitted.
	if out := submit(0); !out.Accepted {
		t.Fatalf("frame 1 = %+v, want accepted", out)
	}
	// Buffer full, half the window under pressure: too close, sampled.
	if out := submit(time.Millisecond); out.Accepted || out.Reason != domain.ReasonSampled {
		t.Fatalf("frame 2 = %+v, want sampled", out)
	}
	// Far enough from frame 1: admitted, frame 1 evicted.
	if out := submit(20 * time.Millisecond); !out.Accepted {
		t.Fatalf("frame 3 = %+v, want accepted", out)
	}
	// Escalation doubles the spacing to 20ms; 15ms is too close.
	s.Escalate()
	if out := submit(15 * time.Millisecond); out.Accepted {
		t.Fatalf("frame 4 = %+v, want sampled at level 1", out)
	}

	want := []skip{
		{2, domain.ReasonSampled},
		{1, domain.ReasonEvictedOldest},
		{4, domain.ReasonSampled},
	}
	if diff := cmp.Diff(want, rec.skips); diff != "" {
		t.Errorf("skips mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]uint64{3}, popAll(s)); diff != "" {
		t.Errorf("buffer mismatch (-want +got):\n%s", diff)
	}
}

func TestIdleExpired(t *testing.T) {
	mock := clock.NewMock()
	cfg := DefaultConfig()
	cfg.IdleTimeout = time.Second
	s, _ := newSession(t, cfg, WithClock(mock))

	mock.Add(500 * time.Millisecond)
	s.Submit(domain.Frame{})

	mock.Add(999 * time.Millisecond)
	if s.IdleExpired(mock.Now()) {
		t.Error("expired before the idle timeout")
	}
	mock.Add(time.Millisecond)
	if !s.IdleExpired(mock.Now()) {
		t.Error("not expired after the idle timeout")
	}
	s.Close()
	if s.IdleExpired(mock.Now()) {
		t.Error("a draining session never expires")
	}
}

func TestNotifyOnlyOnAccept(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferBound = 1
	cfg.Policy = domain.DropNewest
	var calls int
	s, _ := newSession(t, cfg, WithNotify(func() { calls++ }))

	s.Submit(domain.Frame{})
	s.Submit(domain.Frame{})
	if calls != 1 {
		t.Errorf("notify calls = %d, want 1", calls)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero bound", func(c *Config) { c.BufferBound = 0 }},
		{"aggression", func(c *Config) { c.Aggression = 1.5 }},
		{"escalation", func(c *Config) { c.MaxEscalation = -1 }},
		{"negative idle", func(c *Config) { c.IdleTimeout = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, domain.ErrInvalidConfig) {
				t.Errorf("Validate() = %v, want ErrInvalidConfig", err)
			}
		})
	}
	if _, err := New("", "p", DefaultConfig()); err == nil {
		t.Error("New with empty id should fail")
	}
}
