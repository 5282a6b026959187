package visionflow_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/bft-labs/visionflow/internal/source"
	"github.com/bft-labs/visionflow/pkg/visionflow"
)

// =============================================================================
// Test Utilities
// =============================================================================

func verifyNoLeaks(t *testing.T) {
	t.Helper()
	t.Cleanup(func() { goleak.VerifyNone(t) })
}

// recorder is a Sink that keeps every outcome, per stream.
type recorder struct {
	mu      sync.Mutex
	seqs    map[string][]uint64
	results map[string]int
	failed  map[string]int
	drops   map[string]int
	gaps    int
}

func newRecorder() *recorder {
	return &recorder{
		seqs:    make(map[string][]uint64),
		results: make(map[string]int),
		failed:  make(map[string]int),
		drops:   make(map[string]int),
	}
}

func (r *recorder) OnResult(res visionflow.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seqs[res.StreamID] = append(r.seqs[res.StreamID], res.Seq)
	if res.Failed() {
		r.failed[res.StreamID]++
	} else {
		r.results[res.StreamID]++
	}
}

func (r *recorder) OnDrop(streamID string, seq uint64, _ visionflow.DropReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seqs[streamID] = append(r.seqs[streamID], seq)
	r.drops[streamID]++
}

func (r *recorder) OnOrderingGap(string, uint64, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gaps++
}

func (r *recorder) Seqs(stream string) []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.seqs[stream]...)
}

func seqRange(from, to uint64) []uint64 {
	var out []uint64
	for s := from; s <= to; s++ {
		out = append(out, s)
	}
	return out
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func testConfig() visionflow.Config {
	return visionflow.Config{
		PoolSize:      2,
		SweepInterval: 10 * time.Millisecond,
		Pipelines: []visionflow.PipelineSpec{{
			ID: "people",
			Stages: []visionflow.StageDescriptor{
				{Name: "detect", Kind: "simulated_detector", CostWeight: 3,
					Params: visionflow.StageParams{"latency": "1ms"}},
				{Name: "filter", Kind: "detections_filter",
					Params: visionflow.StageParams{"min_confidence": 0.5}},
			},
		}},
	}
}

func startEngine(t *testing.T, cfg visionflow.Config, opts ...visionflow.Option) *visionflow.Engine {
	t.Helper()
	e, err := visionflow.New(cfg, opts...)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() {
		if e.Status() == visionflow.StateRunning {
			_ = e.Stop(context.Background())
		}
	})
	return e
}

// =============================================================================
// Engine Tests
// =============================================================================

func TestEngine_EveryFrameAccountedInOrder(t *testing.T) {
	verifyNoLeaks(t)
	rec := newRecorder()
	e := startEngine(t, testConfig(), visionflow.WithSink(rec))

	for i := 0; i < 10; i++ {
		for _, id := range []string{"cam-a", "cam-b"} {
			if _, err := e.Push(id, []byte{byte(i)}, time.Time{}); err != nil {
				t.Fatalf("Push(%s) failed: %v", id, err)
			}
		}
	}
	if err := e.CloseStream("cam-a"); err != nil {
		t.Fatalf("CloseStream() failed: %v", err)
	}
	if err := e.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}

	for _, id := range []string{"cam-a", "cam-b"} {
		if diff := cmp.Diff(seqRange(1, 10), rec.Seqs(id)); diff != "" {
			t.Errorf("%s outcomes mismatch (-want +got):\n%s", id, diff)
		}
	}

	snap := e.MetricsSnapshot()
	if snap.Submitted != 20 {
		t.Errorf("Submitted = %d, want 20", snap.Submitted)
	}
	var dropped uint64
	for _, n := range snap.Dropped {
		dropped += n
	}
	if got := snap.Results + snap.Failures + dropped; got != 20 {
		t.Errorf("results+failures+drops = %d, want 20", got)
	}
	if e.Status() != visionflow.StateStopped {
		t.Errorf("Status = %v, want Stopped", e.Status())
	}
}

func TestEngine_Attach(t *testing.T) {
	verifyNoLeaks(t)
	rec := newRecorder()
	e := startEngine(t, testConfig(), visionflow.WithSink(rec))

	src, err := source.NewSynthetic(source.SyntheticConfig{StreamID: "syn", Frames: 5}, nil)
	if err != nil {
		t.Fatal(err)
	}
	n, err := e.Attach(context.Background(), src)
	if err != nil {
		t.Fatalf("Attach() failed: %v", err)
	}
	if n != 5 {
		t.Errorf("Attach() submitted %d frames, want 5", n)
	}

	eventually(t, func() bool { return len(rec.Seqs("syn")) == 5 })
	if diff := cmp.Diff(seqRange(1, 5), rec.Seqs("syn")); diff != "" {
		t.Errorf("outcomes mismatch (-want +got):\n%s", diff)
	}

	// The stream was closed after the source ended; a new one starts fresh
	// numbering above the old floor.
	if _, err := e.Push("syn", nil, time.Time{}); err != nil {
		t.Fatalf("Push() after Attach failed: %v", err)
	}
	eventually(t, func() bool { return len(rec.Seqs("syn")) == 6 })
	if got := rec.Seqs("syn")[5]; got != 6 {
		t.Errorf("seq after reuse = %d, want 6", got)
	}
}

func TestEngine_AttachRequiresRunning(t *testing.T) {
	e, err := visionflow.New(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	src, err := source.NewSynthetic(source.SyntheticConfig{StreamID: "syn", Frames: 1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Attach(context.Background(), src); !errors.Is(err, visionflow.ErrNotRunning) {
		t.Errorf("Attach() error = %v, want ErrNotRunning", err)
	}
}

func TestEngine_Lifecycle(t *testing.T) {
	verifyNoLeaks(t)
	tracker := &eventTracker{}
	e, err := visionflow.New(testConfig(), visionflow.WithEventHandler(tracker))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := e.Push("a", nil, time.Time{}); !errors.Is(err, visionflow.ErrNotRunning) {
		t.Errorf("Push() before Start error = %v, want ErrNotRunning", err)
	}
	if err := e.Stop(context.Background()); !errors.Is(err, visionflow.ErrNotRunning) {
		t.Errorf("Stop() before Start error = %v, want ErrNotRunning", err)
	}

	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := e.Start(ctx); !errors.Is(err, visionflow.ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}
	if err := e.Stop(ctx); err != nil {
		t.Fatal(err)
	}

	// A stopped engine can be started again.
	if err := e.Start(ctx); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if _, err := e.Push("a", nil, time.Time{}); err != nil {
		t.Errorf("Push() after restart failed: %v", err)
	}
	if err := e.Stop(ctx); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"Stopped->Starting", "Starting->Running", "Running->Stopping", "Stopping->Stopped",
		"Stopped->Starting", "Starting->Running", "Running->Stopping", "Stopping->Stopped",
	}
	if diff := cmp.Diff(want, tracker.Transitions()); diff != "" {
		t.Errorf("transitions mismatch (-want +got):\n%s", diff)
	}
}

func TestEngine_ConfiguredStreamsAndControls(t *testing.T) {
	verifyNoLeaks(t)
	cfg := testConfig()
	cfg.Pipelines = append(cfg.Pipelines, visionflow.PipelineSpec{
		ID:     "raw",
		Stages: []visionflow.StageDescriptor{{Name: "detect", Kind: "simulated_detector"}},
	})
	cfg.Streams = []visionflow.StreamSpec{
		{ID: "gate", Pipeline: "raw", BufferBound: 2, DropPolicy: "drop_newest"},
	}
	e := startEngine(t, cfg)

	if diff := cmp.Diff([]string{"people", "raw"}, e.Pipelines()); diff != "" {
		t.Errorf("Pipelines mismatch (-want +got):\n%s", diff)
	}

	snap := e.MetricsSnapshot()
	if len(snap.Sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(snap.Sessions))
	}
	got := snap.Sessions[0]
	if got.ID != "gate" || got.Pipeline != "raw" || got.Bound != 2 || got.Policy != "drop_newest" {
		t.Errorf("session = %+v", got)
	}

	if err := e.CreateStream(visionflow.StreamSpec{ID: "gate"}); !errors.Is(err, visionflow.ErrStreamExists) {
		t.Errorf("CreateStream(existing) error = %v, want ErrStreamExists", err)
	}
	if err := e.CreateStream(visionflow.StreamSpec{ID: "x", Pipeline: "nope"}); !errors.Is(err, visionflow.ErrUnknownPipeline) {
		t.Errorf("CreateStream(unknown pipeline) error = %v, want ErrUnknownPipeline", err)
	}
	if err := e.CancelStream("gate"); err != nil {
		t.Errorf("CancelStream() failed: %v", err)
	}
	if err := e.CloseStream("never-seen"); !errors.Is(err, visionflow.ErrUnknownStream) {
		t.Errorf("CloseStream(unknown) error = %v, want ErrUnknownStream", err)
	}

	if err := e.PoolResize(5); err != nil {
		t.Fatalf("PoolResize() failed: %v", err)
	}
	if e.PoolSize() != 5 || e.MetricsSnapshot().Capacity != 5 {
		t.Errorf("PoolSize = %d, Capacity = %d, want 5", e.PoolSize(), e.MetricsSnapshot().Capacity)
	}
}

func TestEngine_WorkerRetiredEvent(t *testing.T) {
	verifyNoLeaks(t)
	tracker := &eventTracker{}
	cfg := visionflow.Config{
		PoolSize:         1,
		FailureThreshold: 2,
		Pipelines: []visionflow.PipelineSpec{{
			ID:     "broken",
			Stages: []visionflow.StageDescriptor{{Name: "model", Kind: "always_fails"}},
		}},
	}
	failing := func(visionflow.StageParams) (visionflow.Invoker, error) {
		return visionflow.InvokerFunc(func(context.Context, visionflow.StageInput) (any, error) {
			return nil, errors.New("model unavailable")
		}), nil
	}
	rec := newRecorder()
	e := startEngine(t, cfg,
		visionflow.WithStageKind("always_fails", failing),
		visionflow.WithEventHandler(tracker),
		visionflow.WithSink(rec),
	)

	for i := 0; i < 2; i++ {
		if _, err := e.Push("a", nil, time.Time{}); err != nil {
			t.Fatal(err)
		}
	}

	eventually(t, func() bool { return tracker.Retired() == 1 })
	eventually(t, func() bool { return e.MetricsSnapshot().WorkerReplacements == 1 })
	eventually(t, func() bool { return len(rec.Seqs("a")) == 2 })
	if e.PoolSize() != 1 {
		t.Errorf("PoolSize after retirement = %d, want 1", e.PoolSize())
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  visionflow.Config
	}{
		{"no pipelines", visionflow.Config{}},
		{"unknown kind", visionflow.Config{Pipelines: []visionflow.PipelineSpec{{
			ID: "p", Stages: []visionflow.StageDescriptor{{Name: "s", Kind: "nope"}},
		}}}},
		{"bad policy", func() visionflow.Config {
			c := testConfig()
			c.DropPolicy = "drop_everything"
			return c
		}()},
		{"pool above max", func() visionflow.Config {
			c := testConfig()
			c.PoolSize, c.MaxPoolSize = 8, 4
			return c
		}()},
		{"duplicate stream", func() visionflow.Config {
			c := testConfig()
			c.Streams = []visionflow.StreamSpec{{ID: "a"}, {ID: "a"}}
			return c
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := visionflow.New(tt.cfg)
			if !errors.Is(err, visionflow.ErrInvalidConfig) {
				t.Errorf("New() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

// eventTracker records engine events.
type eventTracker struct {
	visionflow.BaseEventHandler
	mu          sync.Mutex
	transitions []string
	retired     int
}

func (e *eventTracker) OnStateChange(ev visionflow.StateChangeEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transitions = append(e.transitions, fmt.Sprintf("%s->%s", ev.Previous, ev.Current))
}

func (e *eventTracker) OnWorkerRetired(visionflow.WorkerRetiredEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.retired++
}

func (e *eventTracker) Transitions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.transitions...)
}

func (e *eventTracker) Retired() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.retired
}
