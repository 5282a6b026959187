package metricsserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bft-labs/visionflow/internal/domain"
	"github.com/bft-labs/visionflow/pkg/visionflow"
)

type fakeEngine struct {
	state     visionflow.State
	reg       *prometheus.Registry
	resized   int
	closed    []string
	cancelled []string
}

func newFakeEngine() *fakeEngine {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "visionflow_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()
	return &fakeEngine{state: visionflow.StateRunning, reg: reg}
}

func (f *fakeEngine) Status() visionflow.State      { return f.state }
func (f *fakeEngine) Gatherer() prometheus.Gatherer { return f.reg }
func (f *fakeEngine) MetricsSnapshot() visionflow.Snapshot {
	var s visionflow.Snapshot
	s.Capacity = 4
	return s
}

func (f *fakeEngine) PoolResize(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: bad size", domain.ErrInvalidConfig)
	}
	f.resized = n
	return nil
}

func (f *fakeEngine) CloseStream(id string) error {
	if id == "missing" {
		return domain.ErrUnknownStream
	}
	f.closed = append(f.closed, id)
	return nil
}

func (f *fakeEngine) CancelStream(id string) error {
	f.cancelled = append(f.cancelled, id)
	return nil
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouter(t *testing.T) {
	fe := newFakeEngine()
	h := NewRouter(fe, 0)

	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		wantCode int
		wantBody string
	}{
		{"metrics", http.MethodGet, "/metrics", "", http.StatusOK, "visionflow_test_total 1"},
		{"healthz", http.MethodGet, "/healthz", "", http.StatusOK, `"state":"Running"`},
		{"snapshot", http.MethodGet, "/v1/snapshot", "", http.StatusOK, `"capacity":4`},
		{"resize", http.MethodPut, "/v1/pool", `{"size":6}`, http.StatusOK, `"size":6`},
		{"resize invalid", http.MethodPut, "/v1/pool", `{"size":0}`, http.StatusBadRequest, "bad size"},
		{"resize malformed", http.MethodPut, "/v1/pool", `{`, http.StatusBadRequest, "decode body"},
		{"close", http.MethodDelete, "/v1/streams/cam-1", "", http.StatusNoContent, ""},
		{"cancel", http.MethodDelete, "/v1/streams/cam-2?cancel=true", "", http.StatusNoContent, ""},
		{"close unknown", http.MethodDelete, "/v1/streams/missing", "", http.StatusNotFound, "unknown stream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d (body %s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body %q does not contain %q", rec.Body.String(), tt.wantBody)
			}
		})
	}

	if fe.resized != 6 {
		t.Errorf("resized = %d, want 6", fe.resized)
	}
	if len(fe.closed) != 1 || fe.closed[0] != "cam-1" {
		t.Errorf("closed = %v", fe.closed)
	}
	if len(fe.cancelled) != 1 || fe.cancelled[0] != "cam-2" {
		t.Errorf("cancelled = %v", fe.cancelled)
	}
}

func TestRouter_HealthNotRunning(t *testing.T) {
	fe := newFakeEngine()
	fe.state = visionflow.StateStopping
	rec := do(t, NewRouter(fe, 0), http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503", rec.Code)
	}
}

func TestRouter_RateLimit(t *testing.T) {
	h := NewRouter(newFakeEngine(), 2)
	for i := 0; i < 2; i++ {
		if rec := do(t, h, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d code = %d", i, rec.Code)
		}
	}
	rec := do(t, h, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("code = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
}

func TestPlugin_ServesEngine(t *testing.T) {
	p := New(Config{Addr: "127.0.0.1:0"})
	e, err := visionflow.New(visionflow.Config{
		PoolSize: 1,
		Pipelines: []visionflow.PipelineSpec{{
			ID:     "p",
			Stages: []visionflow.StageDescriptor{{Name: "detect", Kind: "simulated_detector"}},
		}},
	}, visionflow.WithPlugin(p))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = e.Stop(ctx) }()

	resp, err := http.Get("http://" + p.Addr() + "/v1/snapshot")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	var snap map[string]any
	if err := json.Unmarshal(body, &snap); err != nil {
		t.Fatalf("decode snapshot: %v (%s)", err, body)
	}
	if snap["capacity"] != float64(1) {
		t.Errorf("capacity = %v, want 1", snap["capacity"])
	}

	resp, err = http.Get("http://" + p.Addr() + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ = io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "visionflow_pool_capacity 1") {
		t.Errorf("metrics output missing pool capacity:\n%s", body)
	}
}
