package cliconfig

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bft-labs/visionflow/internal/pipeline"
	"github.com/bft-labs/visionflow/internal/source"
	"github.com/bft-labs/visionflow/pkg/log"
	"github.com/bft-labs/visionflow/pkg/visionflow"
)

// Config holds CLI configuration for visionflow.
type Config struct {
	LogLevel  string
	LogFormat string

	PoolSize         int
	MaxPoolSize      int
	FailureThreshold int

	BufferBound     int
	DropPolicy      string
	IdleTimeout     time.Duration
	MinSpacing      time.Duration
	Aggression      float64
	PressureRounds  int
	SweepInterval   time.Duration
	ShutdownTimeout time.Duration
	HoldBound       int

	// MetricsAddr is the listen address of the HTTP endpoints. Empty
	// disables them.
	MetricsAddr  string
	RequestLimit int

	WebhookURL           string
	WebhookMaxEvents     int
	WebhookFlushInterval time.Duration
	WebhookTimeout       time.Duration

	// Watch reloads pool_size and log_level when the config file changes.
	Watch bool

	// SyntheticStreams adds this many synthetic sources on top of Sources.
	SyntheticStreams int
	SyntheticFPS     float64
	SyntheticFrames  uint64

	// Set from the config file only.
	Pipelines []pipeline.Spec
	Streams   []visionflow.StreamSpec
	Sources   []source.SyntheticConfig
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		LogLevel:             "info",
		LogFormat:            "console",
		PoolSize:             4,
		FailureThreshold:     5,
		BufferBound:          8,
		DropPolicy:           "drop_oldest",
		PressureRounds:       3,
		SweepInterval:        100 * time.Millisecond,
		ShutdownTimeout:      5 * time.Second,
		HoldBound:            64,
		MetricsAddr:          ":9090",
		RequestLimit:         600,
		WebhookMaxEvents:     100,
		WebhookFlushInterval: time.Second,
		WebhookTimeout:       10 * time.Second,
		SyntheticFPS:         30,
	}
}

// DefaultPipeline is used when the config file declares none.
func DefaultPipeline() pipeline.Spec {
	return pipeline.Spec{
		ID: "default",
		Stages: []pipeline.Descriptor{
			{Name: "detect", Kind: pipeline.KindSimulatedDetector, CostWeight: 1},
			{Name: "filter", Kind: pipeline.KindDetectionsFilter, CostWeight: 0.1,
				Params: pipeline.Params{"min_confidence": 0.5}},
		},
	}
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "console", "json":
	default:
		return fmt.Errorf("log format must be console or json, got %q", c.LogFormat)
	}

	if c.WebhookURL != "" {
		u, err := url.Parse(c.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("webhook url %q must be an absolute http(s) url", c.WebhookURL)
		}
	}
	if c.SyntheticStreams < 0 {
		return fmt.Errorf("synthetic streams must not be negative")
	}
	if c.SyntheticFPS < 0 {
		return fmt.Errorf("synthetic fps must not be negative")
	}

	if len(c.Pipelines) == 0 {
		c.Pipelines = []pipeline.Spec{DefaultPipeline()}
	}

	engine := c.Engine()
	engine.SetDefaults()
	return engine.Validate()
}

// Engine converts the CLI configuration to an engine configuration.
func (c Config) Engine() visionflow.Config {
	return visionflow.Config{
		PoolSize:         c.PoolSize,
		MaxPoolSize:      c.MaxPoolSize,
		FailureThreshold: c.FailureThreshold,
		BufferBound:      c.BufferBound,
		DropPolicy:       c.DropPolicy,
		IdleTimeout:      c.IdleTimeout,
		MinSpacing:       c.MinSpacing,
		Aggression:       c.Aggression,
		PressureRounds:   c.PressureRounds,
		SweepInterval:    c.SweepInterval,
		ShutdownTimeout:  c.ShutdownTimeout,
		HoldBound:        c.HoldBound,
		Pipelines:        c.Pipelines,
		Streams:          c.Streams,
	}
}

// SourceConfigs returns the file sources followed by the synthetic streams
// requested on the command line.
func (c Config) SourceConfigs() []source.SyntheticConfig {
	out := append([]source.SyntheticConfig(nil), c.Sources...)
	for i := 0; i < c.SyntheticStreams; i++ {
		out = append(out, source.SyntheticConfig{
			StreamID: fmt.Sprintf("synthetic-%d", i+1),
			FPS:      c.SyntheticFPS,
			Frames:   c.SyntheticFrames,
		})
	}
	return out
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

// newConfigSetter creates a new setter with the given changed flags map.
func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setFloat sets a float64 value if positive and flag not changed.
func (s *configSetter) setFloat(flag string, value float64, dst *float64) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setIntFromString parses a string to int and sets the destination if valid.
// Used for environment variables that come as strings.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

// setFloatFromString parses a string to float64 and sets the destination if valid.
// Used for environment variables that come as strings.
func (s *configSetter) setFloatFromString(flag, value string, dst *float64) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if f <= 0 {
		return nil
	}
	*dst = f
	return nil
}

// setBoolFromString parses a string to bool and sets the destination.
// Accepts "true", "1" as true, anything else as false.
// Used for environment variables that come as strings.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
