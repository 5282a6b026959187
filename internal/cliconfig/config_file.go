package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/bft-labs/visionflow/internal/pipeline"
	"github.com/bft-labs/visionflow/internal/source"
	"github.com/bft-labs/visionflow/pkg/visionflow"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`

	PoolSize         int `toml:"pool_size"`
	MaxPoolSize      int `toml:"max_pool_size"`
	FailureThreshold int `toml:"failure_threshold"`

	BufferBound     int     `toml:"buffer_bound"`
	DropPolicy      string  `toml:"drop_policy"`
	IdleTimeout     string  `toml:"idle_timeout"`
	MinSpacing      string  `toml:"min_spacing"`
	Aggression      float64 `toml:"aggression"`
	PressureRounds  int     `toml:"pressure_rounds"`
	SweepInterval   string  `toml:"sweep_interval"`
	ShutdownTimeout string  `toml:"shutdown_timeout"`
	HoldBound       int     `toml:"hold_bound"`

	MetricsAddr  string `toml:"metrics_addr"`
	RequestLimit int    `toml:"request_limit"`
	Watch        *bool  `toml:"watch"`

	Webhook FileWebhook `toml:"webhook"`

	Pipelines []pipeline.Spec          `toml:"pipelines"`
	Streams   []FileStream             `toml:"streams"`
	Sources   []source.SyntheticConfig `toml:"sources"`
}

// FileWebhook is the [webhook] table.
type FileWebhook struct {
	URL           string `toml:"url"`
	MaxEvents     int    `toml:"max_events"`
	FlushInterval string `toml:"flush_interval"`
	Timeout       string `toml:"timeout"`
}

// FileStream is a [[streams]] entry.
type FileStream struct {
	ID          string `toml:"id"`
	Pipeline    string `toml:"pipeline"`
	BufferBound int    `toml:"buffer_bound"`
	DropPolicy  string `toml:"drop_policy"`
	IdleTimeout string `toml:"idle_timeout"`
}

func (fs FileStream) spec() (visionflow.StreamSpec, error) {
	spec := visionflow.StreamSpec{
		ID:          fs.ID,
		Pipeline:    fs.Pipeline,
		BufferBound: fs.BufferBound,
		DropPolicy:  fs.DropPolicy,
	}
	if fs.IdleTimeout != "" {
		d, err := time.ParseDuration(fs.IdleTimeout)
		if err != nil {
			return spec, fmt.Errorf("parse stream %s idle_timeout: %w", fs.ID, err)
		}
		spec.IdleTimeout = d
	}
	return spec, nil
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.visionflow/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".visionflow", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
// Pipelines, streams and sources exist only in the file and always apply.
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("log-format", fc.LogFormat, &cfg.LogFormat)
	s.setString("drop-policy", fc.DropPolicy, &cfg.DropPolicy)
	s.setString("metrics-addr", fc.MetricsAddr, &cfg.MetricsAddr)
	s.setString("webhook-url", fc.Webhook.URL, &cfg.WebhookURL)

	s.setInt("pool-size", fc.PoolSize, &cfg.PoolSize)
	s.setInt("max-pool-size", fc.MaxPoolSize, &cfg.MaxPoolSize)
	s.setInt("failure-threshold", fc.FailureThreshold, &cfg.FailureThreshold)
	s.setInt("buffer-bound", fc.BufferBound, &cfg.BufferBound)
	s.setInt("pressure-rounds", fc.PressureRounds, &cfg.PressureRounds)
	s.setInt("hold-bound", fc.HoldBound, &cfg.HoldBound)
	s.setInt("request-limit", fc.RequestLimit, &cfg.RequestLimit)
	s.setInt("webhook-max-events", fc.Webhook.MaxEvents, &cfg.WebhookMaxEvents)

	s.setFloat("aggression", fc.Aggression, &cfg.Aggression)

	durations := []struct {
		flag  string
		value string
		dst   *time.Duration
	}{
		{"idle-timeout", fc.IdleTimeout, &cfg.IdleTimeout},
		{"min-spacing", fc.MinSpacing, &cfg.MinSpacing},
		{"sweep-interval", fc.SweepInterval, &cfg.SweepInterval},
		{"shutdown-timeout", fc.ShutdownTimeout, &cfg.ShutdownTimeout},
		{"webhook-flush-interval", fc.Webhook.FlushInterval, &cfg.WebhookFlushInterval},
		{"webhook-timeout", fc.Webhook.Timeout, &cfg.WebhookTimeout},
	}
	for _, d := range durations {
		if err := s.setDuration(d.flag, d.value, d.dst); err != nil {
			return err
		}
	}

	s.setBool("watch", fc.Watch, &cfg.Watch)

	if len(fc.Pipelines) > 0 {
		cfg.Pipelines = fc.Pipelines
	}
	if len(fc.Streams) > 0 {
		cfg.Streams = make([]visionflow.StreamSpec, 0, len(fc.Streams))
		for _, st := range fc.Streams {
			spec, err := st.spec()
			if err != nil {
				return err
			}
			cfg.Streams = append(cfg.Streams, spec)
		}
	}
	if len(fc.Sources) > 0 {
		cfg.Sources = fc.Sources
	}
	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
