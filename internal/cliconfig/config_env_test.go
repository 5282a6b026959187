package cliconfig

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestApplyEnvConfig(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		changed  map[string]bool
		initial  Config
		expected Config
		wantErr  bool
	}{
		{
			name: "applies all valid env vars",
			envVars: map[string]string{
				"VISIONFLOW_LOG_LEVEL":         "warn",
				"VISIONFLOW_POOL_SIZE":         "12",
				"VISIONFLOW_DROP_POLICY":       "drop_newest",
				"VISIONFLOW_SWEEP_INTERVAL":    "250ms",
				"VISIONFLOW_AGGRESSION":        "0.25",
				"VISIONFLOW_WEBHOOK_URL":       "https://hooks.example.com",
				"VISIONFLOW_SYNTHETIC_STREAMS": "3",
				"VISIONFLOW_WATCH":             "true",
			},
			changed: map[string]bool{},
			initial: Config{},
			expected: Config{
				LogLevel:         "warn",
				PoolSize:         12,
				DropPolicy:       "drop_newest",
				SweepInterval:    250 * time.Millisecond,
				Aggression:       0.25,
				WebhookURL:       "https://hooks.example.com",
				SyntheticStreams: 3,
				Watch:            true,
			},
		},
		{
			name: "respects changed flags",
			envVars: map[string]string{
				"VISIONFLOW_POOL_SIZE":    "12",
				"VISIONFLOW_BUFFER_BOUND": "16",
			},
			changed:  map[string]bool{"pool-size": true},
			initial:  Config{PoolSize: 2},
			expected: Config{PoolSize: 2, BufferBound: 16},
		},
		{
			name:    "returns error for invalid duration",
			envVars: map[string]string{"VISIONFLOW_IDLE_TIMEOUT": "not-a-duration"},
			changed: map[string]bool{},
			wantErr: true,
		},
		{
			name:    "returns error for invalid int",
			envVars: map[string]string{"VISIONFLOW_HOLD_BOUND": "not-a-number"},
			changed: map[string]bool{},
			wantErr: true,
		},
		{
			name:    "returns error for invalid float",
			envVars: map[string]string{"VISIONFLOW_SYNTHETIC_FPS": "fast"},
			changed: map[string]bool{},
			wantErr: true,
		},
		{
			name:     "handles bool '1' as true",
			envVars:  map[string]string{"VISIONFLOW_WATCH": "1"},
			changed:  map[string]bool{},
			expected: Config{Watch: true},
		},
		{
			name:     "handles bool 'false' as false",
			envVars:  map[string]string{"VISIONFLOW_WATCH": "false"},
			changed:  map[string]bool{},
			initial:  Config{Watch: true},
			expected: Config{Watch: false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg := tt.initial
			err := ApplyEnvConfig(&cfg, tt.changed)

			if tt.wantErr {
				if err == nil {
					t.Error("ApplyEnvConfig() expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("ApplyEnvConfig() unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.expected, cfg); diff != "" {
				t.Errorf("config mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// Integration test: precedence order (CLI > Env > File)
func TestConfigPrecedence(t *testing.T) {
	trueVal := true

	fileConf := FileConfig{
		PoolSize:    3,
		BufferBound: 4,
		DropPolicy:  "drop_newest",
		Watch:       &trueVal,
	}

	t.Setenv("VISIONFLOW_POOL_SIZE", "5")
	t.Setenv("VISIONFLOW_BUFFER_BOUND", "6")
	t.Setenv("VISIONFLOW_LOG_LEVEL", "debug")

	// Simulate CLI flags
	changed := map[string]bool{
		"pool-size": true,
	}

	cfg := Config{
		PoolSize: 7, // This should remain (CLI wins)
	}

	if err := ApplyFileConfig(&cfg, fileConf, changed); err != nil {
		t.Fatalf("ApplyFileConfig failed: %v", err)
	}
	if err := ApplyEnvConfig(&cfg, changed); err != nil {
		t.Fatalf("ApplyEnvConfig failed: %v", err)
	}

	if cfg.PoolSize != 7 {
		t.Errorf("PoolSize = %v, want 7 (CLI should win)", cfg.PoolSize)
	}
	if cfg.BufferBound != 6 {
		t.Errorf("BufferBound = %v, want 6 (env should override file)", cfg.BufferBound)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %v, want debug (env should set)", cfg.LogLevel)
	}
	if cfg.DropPolicy != "drop_newest" || !cfg.Watch {
		t.Errorf("DropPolicy = %v, Watch = %v, want file values", cfg.DropPolicy, cfg.Watch)
	}
}
