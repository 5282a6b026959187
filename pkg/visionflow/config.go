package visionflow

import (
	"fmt"
	"time"

	"github.com/bft-labs/visionflow/internal/domain"
	"github.com/bft-labs/visionflow/internal/pool"
	"github.com/bft-labs/visionflow/internal/scheduler"
	"github.com/bft-labs/visionflow/internal/session"
)

// Config configures an Engine. Zero values take the defaults applied by
// SetDefaults.
type Config struct {
	// PoolSize is the initial number of inference workers. Default: 4
	PoolSize int

	// MaxPoolSize bounds PoolResize. Default: max(PoolSize, 64)
	MaxPoolSize int

	// FailureThreshold retires a worker after this many consecutive
	// failures. Default: 5
	FailureThreshold int

	// BufferBound is the default per-stream buffer bound. Default: 8
	BufferBound int

	// DropPolicy is the default policy: drop_oldest, drop_newest or
	// adaptive_sample. Default: drop_oldest
	DropPolicy string

	// IdleTimeout closes a stream after no frame arrived for this long.
	// Zero disables it.
	IdleTimeout time.Duration

	// MinSpacing, SampleWindow, Aggression and MaxEscalation tune adaptive
	// thinning. See session.Config.
	MinSpacing    time.Duration
	SampleWindow  int
	Aggression    float64
	MaxEscalation int

	// PressureRounds is the number of consecutive sweeps at the buffer
	// bound before a stream escalates. Default: 3
	PressureRounds int

	// SweepInterval is the period of idle and pressure checks. Default: 100ms
	SweepInterval time.Duration

	// ShutdownTimeout bounds the wait for in-flight frames. Default: 5s
	ShutdownTimeout time.Duration

	// HoldBound is the number of out-of-order results held per stream
	// before an ordering gap is forced. Default: 64
	HoldBound int

	// Pipelines are the available pipelines. The first is the default.
	Pipelines []PipelineSpec

	// Streams are created when the engine starts.
	Streams []StreamSpec
}

// SetDefaults fills zero fields with defaults.
func (c *Config) SetDefaults() {
	sd := session.DefaultConfig()
	cd := scheduler.DefaultConfig()

	if c.PoolSize <= 0 {
		c.PoolSize = 4
	}
	if c.MaxPoolSize <= 0 {
		c.MaxPoolSize = max(c.PoolSize, 64)
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.BufferBound <= 0 {
		c.BufferBound = sd.BufferBound
	}
	if c.DropPolicy == "" {
		c.DropPolicy = sd.Policy.String()
	}
	if c.MinSpacing <= 0 {
		c.MinSpacing = sd.MinSpacing
	}
	if c.SampleWindow <= 0 {
		c.SampleWindow = sd.SampleWindow
	}
	if c.Aggression == 0 {
		c.Aggression = sd.Aggression
	}
	if c.MaxEscalation == 0 {
		c.MaxEscalation = sd.MaxEscalation
	}
	if c.PressureRounds <= 0 {
		c.PressureRounds = cd.PressureRounds
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = cd.SweepInterval
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = cd.ShutdownTimeout
	}
}

// Validate checks the configuration. It does not resolve stage kinds;
// that happens in New.
func (c Config) Validate() error {
	if len(c.Pipelines) == 0 {
		return fmt.Errorf("%w: at least one pipeline is required", domain.ErrInvalidConfig)
	}
	if err := c.poolConfig().Validate(); err != nil {
		return err
	}
	if _, err := c.schedulerConfig(); err != nil {
		return err
	}
	seen := make(map[string]bool, len(c.Streams))
	for _, s := range c.Streams {
		if s.ID == "" {
			return fmt.Errorf("%w: stream id is required", domain.ErrInvalidConfig)
		}
		if seen[s.ID] {
			return fmt.Errorf("%w: duplicate stream %q", domain.ErrInvalidConfig, s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}

func (c Config) poolConfig() pool.Config {
	return pool.Config{
		Size:             c.PoolSize,
		MaxSize:          c.MaxPoolSize,
		FailureThreshold: c.FailureThreshold,
	}
}

func (c Config) schedulerConfig() (scheduler.Config, error) {
	policy, err := domain.ParseDropPolicy(c.DropPolicy)
	if err != nil {
		return scheduler.Config{}, err
	}
	cfg := scheduler.Config{
		Session: session.Config{
			BufferBound:   c.BufferBound,
			Policy:        policy,
			IdleTimeout:   c.IdleTimeout,
			MinSpacing:    c.MinSpacing,
			SampleWindow:  c.SampleWindow,
			Aggression:    c.Aggression,
			MaxEscalation: c.MaxEscalation,
		},
		PressureRounds:  c.PressureRounds,
		SweepInterval:   c.SweepInterval,
		ShutdownTimeout: c.ShutdownTimeout,
	}
	return cfg, cfg.Validate()
}
