// Package metricsserver exposes engine metrics and operational controls
// over HTTP.
//
// Routes:
//
//	GET    /metrics              Prometheus exposition
//	GET    /healthz              lifecycle state
//	GET    /v1/snapshot          MetricsSnapshot as JSON
//	PUT    /v1/pool              {"size": N} resizes the worker pool
//	DELETE /v1/streams/{id}      closes a stream (?cancel=true drops its buffer)
package metricsserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/bft-labs/visionflow/pkg/log"
	"github.com/bft-labs/visionflow/pkg/visionflow"
)

// Config holds configuration options for the metrics server plugin.
type Config struct {
	// Addr is the listen address. Default: ":9090"
	Addr string

	// RequestLimit is the number of requests allowed per client per
	// minute. Default: 600
	RequestLimit int

	// ReadHeaderTimeout bounds reading request headers. Default: 5s
	ReadHeaderTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:              ":9090",
		RequestLimit:      600,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Plugin serves the HTTP endpoints.
type Plugin struct {
	cfg Config

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	logger   log.Logger
	done     chan struct{}
}

// New creates a metrics server plugin.
func New(cfg Config) *Plugin {
	d := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = d.Addr
	}
	if cfg.RequestLimit <= 0 {
		cfg.RequestLimit = d.RequestLimit
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = d.ReadHeaderTimeout
	}
	return &Plugin{cfg: cfg}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "metricsserver"
}

// Initialize binds the listen address and starts serving.
func (p *Plugin) Initialize(ctx context.Context, cfg visionflow.PluginConfig) error {
	ln, err := net.Listen("tcp", p.cfg.Addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           NewRouter(cfg.Engine, p.cfg.RequestLimit),
		ReadHeaderTimeout: p.cfg.ReadHeaderTimeout,
	}

	p.mu.Lock()
	p.server = srv
	p.listener = ln
	p.logger = cfg.Logger
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()

	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			cfg.Logger.Error("metrics server stopped", log.Err(err))
		}
	}()

	cfg.Logger.Info("metrics server listening", log.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or "" before Initialize.
func (p *Plugin) Addr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener == nil {
		return ""
	}
	return p.listener.Addr().String()
}

// Shutdown stops the server, waiting for in-flight requests until ctx ends.
func (p *Plugin) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	srv, done := p.server, p.done
	p.mu.Unlock()
	if srv == nil {
		return nil
	}

	err := srv.Shutdown(ctx)
	<-done
	return err
}

// WithMetricsServer returns an engine Option that enables the plugin.
func WithMetricsServer(cfg Config) visionflow.Option {
	return visionflow.WithPlugin(New(cfg))
}

var _ visionflow.Plugin = (*Plugin)(nil)
