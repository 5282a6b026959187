package cliconfig

import "os"

// ApplyEnvConfig applies configuration from environment variables (VISIONFLOW_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("log-level", os.Getenv("VISIONFLOW_LOG_LEVEL"), &cfg.LogLevel)
	s.setString("log-format", os.Getenv("VISIONFLOW_LOG_FORMAT"), &cfg.LogFormat)
	s.setString("drop-policy", os.Getenv("VISIONFLOW_DROP_POLICY"), &cfg.DropPolicy)
	s.setString("metrics-addr", os.Getenv("VISIONFLOW_METRICS_ADDR"), &cfg.MetricsAddr)
	s.setString("webhook-url", os.Getenv("VISIONFLOW_WEBHOOK_URL"), &cfg.WebhookURL)

	ints := []struct {
		flag string
		env  string
		dst  *int
	}{
		{"pool-size", "VISIONFLOW_POOL_SIZE", &cfg.PoolSize},
		{"max-pool-size", "VISIONFLOW_MAX_POOL_SIZE", &cfg.MaxPoolSize},
		{"failure-threshold", "VISIONFLOW_FAILURE_THRESHOLD", &cfg.FailureThreshold},
		{"buffer-bound", "VISIONFLOW_BUFFER_BOUND", &cfg.BufferBound},
		{"pressure-rounds", "VISIONFLOW_PRESSURE_ROUNDS", &cfg.PressureRounds},
		{"hold-bound", "VISIONFLOW_HOLD_BOUND", &cfg.HoldBound},
		{"synthetic", "VISIONFLOW_SYNTHETIC_STREAMS", &cfg.SyntheticStreams},
	}
	for _, i := range ints {
		if err := s.setIntFromString(i.flag, os.Getenv(i.env), i.dst); err != nil {
			return err
		}
	}

	if err := s.setDuration("idle-timeout", os.Getenv("VISIONFLOW_IDLE_TIMEOUT"), &cfg.IdleTimeout); err != nil {
		return err
	}
	if err := s.setDuration("sweep-interval", os.Getenv("VISIONFLOW_SWEEP_INTERVAL"), &cfg.SweepInterval); err != nil {
		return err
	}
	if err := s.setDuration("shutdown-timeout", os.Getenv("VISIONFLOW_SHUTDOWN_TIMEOUT"), &cfg.ShutdownTimeout); err != nil {
		return err
	}

	if err := s.setFloatFromString("aggression", os.Getenv("VISIONFLOW_AGGRESSION"), &cfg.Aggression); err != nil {
		return err
	}
	if err := s.setFloatFromString("synthetic-fps", os.Getenv("VISIONFLOW_SYNTHETIC_FPS"), &cfg.SyntheticFPS); err != nil {
		return err
	}

	s.setBoolFromString("watch", os.Getenv("VISIONFLOW_WATCH"), &cfg.Watch)

	return nil
}
