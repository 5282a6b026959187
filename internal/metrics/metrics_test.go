package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/bft-labs/visionflow/internal/domain"
	"github.com/bft-labs/visionflow/internal/ports"
)

func TestSink_CountsAndForwards(t *testing.T) {
	m := New()
	var forwarded int
	sink := m.Sink(ports.SinkFuncs{
		Result: func(domain.Result) { forwarded++ },
		Drop:   func(string, uint64, domain.DropReason) { forwarded++ },
		Gap:    func(string, uint64, uint64) { forwarded++ },
	})

	sink.OnResult(domain.Result{StreamID: "a", Seq: 1, Latency: 10 * time.Millisecond})
	sink.OnResult(domain.Result{StreamID: "a", Seq: 2, Err: errors.New("x")})
	sink.OnDrop("a", 3, domain.ReasonSampled)
	sink.OnDrop("a", 4, domain.ReasonSampled)
	sink.OnOrderingGap("a", 5, 6)

	if forwarded != 5 {
		t.Errorf("forwarded = %d, want 5", forwarded)
	}
	if got := testutil.ToFloat64(m.dropped.WithLabelValues("sampled")); got != 2 {
		t.Errorf("dropped{sampled} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.results.WithLabelValues("failed")); got != 1 {
		t.Errorf("results{failed} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.gaps); got != 1 {
		t.Errorf("gaps = %v, want 1", got)
	}

	snap := m.Snapshot()
	if snap.Results != 1 || snap.Failures != 1 || snap.Gaps != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.Dropped["sampled"] != 2 || snap.Dropped["buffer_full"] != 0 {
		t.Errorf("dropped = %v", snap.Dropped)
	}
}

func TestSnapshot_LatencyPercentiles(t *testing.T) {
	m := New()
	for i := 1; i <= 100; i++ {
		m.Result(domain.Result{StreamID: "cam", Latency: time.Duration(i) * time.Millisecond})
	}
	m.Result(domain.Result{StreamID: "other", Latency: 7 * time.Millisecond})

	snap := m.Snapshot()
	want := map[string]Latency{
		"cam":   {Samples: 100, P50: 50, P90: 90, P99: 99},
		"other": {Samples: 1, P50: 7, P90: 7, P99: 7},
	}
	if diff := cmp.Diff(want, snap.Latency); diff != "" {
		t.Errorf("latency mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"cam", "other"}, snap.Streams()); diff != "" {
		t.Errorf("streams mismatch (-want +got):\n%s", diff)
	}
}

func TestForgetStream(t *testing.T) {
	m := New()
	m.Result(domain.Result{StreamID: "cam", Latency: time.Millisecond})
	m.Result(domain.Result{StreamID: "gone", Latency: time.Millisecond})

	m.ForgetStream("gone")
	m.ForgetStream("never-seen")

	if diff := cmp.Diff([]string{"cam"}, m.Snapshot().Streams()); diff != "" {
		t.Errorf("streams mismatch (-want +got):\n%s", diff)
	}
}

func TestRing_KeepsLatestSamples(t *testing.T) {
	r := newRing(3)
	for i := 1; i <= 5; i++ {
		r.add(float64(i))
	}
	got := r.values()
	if diff := cmp.Diff([]float64{4, 5, 3}, got); diff != "" {
		t.Errorf("ring mismatch (-want +got):\n%s", diff)
	}
}

func TestGauges(t *testing.T) {
	m := New()
	m.SetInflight(3)
	m.SetCapacity(4)
	m.SetActiveSessions(2)
	m.WorkerRetired()
	m.FrameSubmitted()
	m.FrameAdmitted()
	m.StageCompleted("detect", 5*time.Millisecond)

	snap := m.Snapshot()
	if snap.InFlight != 3 || snap.Capacity != 4 || snap.ActiveSessions != 2 ||
		snap.WorkerReplacements != 1 || snap.Submitted != 1 || snap.Admitted != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
	if got := testutil.CollectAndCount(m.stageDuration); got != 1 {
		t.Errorf("stage duration series = %d, want 1", got)
	}
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatal(err)
	}
	if len(families) == 0 {
		t.Error("registry gathered no metric families")
	}
}
