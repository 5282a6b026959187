package metricsserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bft-labs/visionflow/pkg/visionflow"
)

// Engine is the part of *visionflow.Engine served by the router.
type Engine interface {
	Status() visionflow.State
	Gatherer() prometheus.Gatherer
	MetricsSnapshot() visionflow.Snapshot
	PoolResize(n int) error
	CloseStream(streamID string) error
	CancelStream(streamID string) error
}

// NewRouter returns the HTTP handler. requestLimit is per client IP per
// minute; zero disables limiting.
func NewRouter(e Engine, requestLimit int) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if requestLimit > 0 {
		r.Use(httprate.Limit(
			requestLimit,
			time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Retry-After", "60")
				writeError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
			}),
		))
	}

	h := handlers{engine: e}
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(e.Gatherer(), promhttp.HandlerOpts{}))
	r.Get("/healthz", h.health)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/snapshot", h.snapshot)
		r.Put("/pool", h.resize)
		r.Delete("/streams/{id}", h.closeStream)
	})
	return r
}

type handlers struct {
	engine Engine
}

func (h handlers) health(w http.ResponseWriter, _ *http.Request) {
	state := h.engine.Status()
	code := http.StatusOK
	if state != visionflow.StateRunning {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"state": state.String()})
}

func (h handlers) snapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.MetricsSnapshot())
}

type resizeRequest struct {
	Size int `json:"size"`
}

func (h handlers) resize(w http.ResponseWriter, r *http.Request) {
	var req resizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	if err := h.engine.PoolResize(req.Size); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h handlers) closeStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cancel, _ := strconv.ParseBool(r.URL.Query().Get("cancel"))

	var err error
	if cancel {
		err = h.engine.CancelStream(id)
	} else {
		err = h.engine.CloseStream(id)
	}
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, visionflow.ErrUnknownStream):
		return http.StatusNotFound
	case errors.Is(err, visionflow.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, visionflow.ErrNotRunning), errors.Is(err, visionflow.ErrSchedulerStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
