package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	httpadapter "github.com/bft-labs/visionflow/internal/adapters/http"
	"github.com/bft-labs/visionflow/internal/cliconfig"
	"github.com/bft-labs/visionflow/pkg/log"
)

func TestRun_OnceDeliversEveryFrame(t *testing.T) {
	var (
		mu     sync.Mutex
		counts = map[string]int{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var b httpadapter.Batch
		if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		for _, ev := range b.Events {
			counts[ev.Type]++
		}
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := cliconfig.DefaultConfig()
	cfg.LogLevel = "error"
	cfg.MetricsAddr = ""
	cfg.PoolSize = 2
	cfg.SweepInterval = 10 * time.Millisecond
	cfg.WebhookURL = srv.URL
	cfg.WebhookFlushInterval = 20 * time.Millisecond
	cfg.SyntheticStreams = 2
	cfg.SyntheticFPS = 0
	cfg.SyntheticFrames = 20
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := run(ctx, cfg, "", true); err != nil {
		t.Fatalf("run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	got := counts[httpadapter.EventResult] + counts[httpadapter.EventFailure] + counts[httpadapter.EventDrop]
	if got != 40 {
		t.Errorf("accounted frames = %d (%v), want 40", got, counts)
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	cfg := cliconfig.DefaultConfig()
	cfg.LogLevel = "error"
	cfg.MetricsAddr = ""
	cfg.SyntheticStreams = 1
	cfg.SyntheticFPS = 50
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, "", false) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func TestNewEngine_RejectsUnknownStageKind(t *testing.T) {
	cfg := cliconfig.DefaultConfig()
	cfg.MetricsAddr = ""
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	cfg.Pipelines[0].Stages[0].Kind = "no_such_kind"

	if _, err := newEngine(cfg, "", log.NewNoopLogger(), nil); err == nil {
		t.Fatal("expected error for unknown stage kind")
	}
}
