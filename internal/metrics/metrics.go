package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bft-labs/visionflow/internal/domain"
)

const namespace = "visionflow"

// latencyWindow is the number of recent latencies kept per stream.
const latencyWindow = 512

// Metrics is the collector set of one engine. Each instance owns its own
// registry so several engines can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	submitted      prometheus.Counter
	admitted       prometheus.Counter
	dropped        *prometheus.CounterVec
	results        *prometheus.CounterVec
	gaps           prometheus.Counter
	workerRetired  prometheus.Counter
	inflight       prometheus.Gauge
	capacity       prometheus.Gauge
	activeSessions prometheus.Gauge
	stageDuration  *prometheus.HistogramVec
	frameLatency   prometheus.Histogram

	mu        sync.Mutex
	counts    counts
	latencies map[string]*ring
}

type counts struct {
	submitted uint64
	admitted  uint64
	dropped   map[domain.DropReason]uint64
	results   uint64
	failures  uint64
	gaps      uint64
	retired   uint64
	inflight  int
	capacity  int
	sessions  int
}

// New creates the collectors and registers them in a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		submitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_submitted_total",
			Help:      "Frames accounted by stream sessions.",
		}),
		admitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_admitted_total",
			Help:      "Frames dispatched to the worker pool.",
		}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Accounted frames that produced no result, by reason.",
		}, []string{"reason"}),
		results: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_total",
			Help:      "Results emitted to the sink by outcome.",
		}, []string{"outcome"}), // outcome: ok, failed
		gaps: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ordering_gaps_total",
			Help:      "Ordering gaps forced by the holding bound.",
		}),
		workerRetired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "workers_retired_total",
			Help:      "Workers replaced after consecutive failures.",
		}),
		inflight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inflight_items",
			Help:      "Work items between dispatch and completion.",
		}),
		capacity: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "capacity",
			Help:      "Configured worker pool size.",
		}),
		activeSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Stream sessions in the session table.",
		}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent inside a stage invoker.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~2s
		}, []string{"stage"}),
		frameLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_latency_seconds",
			Help:      "Arrival to result latency of emitted frames.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		counts:    counts{dropped: make(map[domain.DropReason]uint64)},
		latencies: make(map[string]*ring),
	}
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// FrameSubmitted counts an accounted frame.
func (m *Metrics) FrameSubmitted() {
	m.submitted.Inc()
	m.mu.Lock()
	m.counts.submitted++
	m.mu.Unlock()
}

// FrameAdmitted counts a frame handed to the pool.
func (m *Metrics) FrameAdmitted() {
	m.admitted.Inc()
	m.mu.Lock()
	m.counts.admitted++
	m.mu.Unlock()
}

// Dropped counts a dropped frame.
func (m *Metrics) Dropped(reason domain.DropReason) {
	m.dropped.WithLabelValues(reason.String()).Inc()
	m.mu.Lock()
	m.counts.dropped[reason]++
	m.mu.Unlock()
}

// Result records an emitted result and, for successes, its latency.
func (m *Metrics) Result(r domain.Result) {
	if r.Failed() {
		m.results.WithLabelValues("failed").Inc()
		m.mu.Lock()
		m.counts.failures++
		m.mu.Unlock()
		return
	}

	m.results.WithLabelValues("ok").Inc()
	m.frameLatency.Observe(r.Latency.Seconds())
	m.mu.Lock()
	m.counts.results++
	rg, ok := m.latencies[r.StreamID]
	if !ok {
		rg = newRing(latencyWindow)
		m.latencies[r.StreamID] = rg
	}
	rg.add(float64(r.Latency) / float64(time.Millisecond))
	m.mu.Unlock()
}

// ForgetStream drops the latency samples of a removed stream.
func (m *Metrics) ForgetStream(streamID string) {
	m.mu.Lock()
	delete(m.latencies, streamID)
	m.mu.Unlock()
}

// Gap counts a forced ordering gap.
func (m *Metrics) Gap() {
	m.gaps.Inc()
	m.mu.Lock()
	m.counts.gaps++
	m.mu.Unlock()
}

// WorkerRetired counts a worker replacement.
func (m *Metrics) WorkerRetired() {
	m.workerRetired.Inc()
	m.mu.Lock()
	m.counts.retired++
	m.mu.Unlock()
}

// StageCompleted records the duration of one stage execution.
func (m *Metrics) StageCompleted(stage string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// SetInflight sets the in-flight gauge.
func (m *Metrics) SetInflight(n int) {
	m.inflight.Set(float64(n))
	m.mu.Lock()
	m.counts.inflight = n
	m.mu.Unlock()
}

// SetCapacity sets the pool capacity gauge.
func (m *Metrics) SetCapacity(n int) {
	m.capacity.Set(float64(n))
	m.mu.Lock()
	m.counts.capacity = n
	m.mu.Unlock()
}

// SetActiveSessions sets the session gauge.
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
	m.mu.Lock()
	m.counts.sessions = n
	m.mu.Unlock()
}

// Latency summarises recent per-stream latencies in milliseconds.
type Latency struct {
	Samples int     `json:"samples"`
	P50     float64 `json:"p50_ms"`
	P90     float64 `json:"p90_ms"`
	P99     float64 `json:"p99_ms"`
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Submitted          uint64             `json:"submitted"`
	Admitted           uint64             `json:"admitted"`
	Dropped            map[string]uint64  `json:"dropped"`
	Results            uint64             `json:"results"`
	Failures           uint64             `json:"failures"`
	Gaps               uint64             `json:"gaps"`
	WorkerReplacements uint64             `json:"worker_replacements"`
	InFlight           int                `json:"in_flight"`
	Capacity           int                `json:"capacity"`
	ActiveSessions     int                `json:"active_sessions"`
	Latency            map[string]Latency `json:"latency"`
}

// Snapshot returns the current counters and latency percentiles.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		Submitted:          m.counts.submitted,
		Admitted:           m.counts.admitted,
		Dropped:            make(map[string]uint64, len(domain.DropReasons)),
		Results:            m.counts.results,
		Failures:           m.counts.failures,
		Gaps:               m.counts.gaps,
		WorkerReplacements: m.counts.retired,
		InFlight:           m.counts.inflight,
		Capacity:           m.counts.capacity,
		ActiveSessions:     m.counts.sessions,
		Latency:            make(map[string]Latency, len(m.latencies)),
	}
	for _, r := range domain.DropReasons {
		s.Dropped[r.String()] = m.counts.dropped[r]
	}
	for id, rg := range m.latencies {
		s.Latency[id] = summarize(rg.values())
	}
	return s
}

// Streams returns the stream ids with latency samples, sorted.
func (s Snapshot) Streams() []string {
	ids := make([]string, 0, len(s.Latency))
	for id := range s.Latency {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func summarize(samples []float64) Latency {
	if len(samples) == 0 {
		return Latency{}
	}
	data := stats.Float64Data(samples)
	p50, _ := stats.PercentileNearestRank(data, 50)
	p90, _ := stats.PercentileNearestRank(data, 90)
	p99, _ := stats.PercentileNearestRank(data, 99)
	return Latency{Samples: len(samples), P50: p50, P90: p90, P99: p99}
}

// ring keeps the last n samples.
type ring struct {
	buf  []float64
	next int
	full bool
}

func newRing(n int) *ring {
	return &ring{buf: make([]float64, n)}
}

func (r *ring) add(v float64) {
	r.buf[r.next] = v
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

func (r *ring) values() []float64 {
	if r.full {
		out := make([]float64, len(r.buf))
		copy(out, r.buf)
		return out
	}
	out := make([]float64, r.next)
	copy(out, r.buf[:r.next])
	return out
}
