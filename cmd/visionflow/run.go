package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	httpadapter "github.com/bft-labs/visionflow/internal/adapters/http"
	logadapter "github.com/bft-labs/visionflow/internal/adapters/log"
	"github.com/bft-labs/visionflow/internal/cliconfig"
	"github.com/bft-labs/visionflow/internal/source"
	"github.com/bft-labs/visionflow/pkg/log"
	"github.com/bft-labs/visionflow/pkg/visionflow"
	"github.com/bft-labs/visionflow/plugins/configwatcher"
	"github.com/bft-labs/visionflow/plugins/metricsserver"
)

// crashWatcher cancels the run when the engine crashes.
type crashWatcher struct {
	visionflow.BaseEventHandler
	logger log.Logger
	cancel context.CancelFunc
}

func (c crashWatcher) OnStateChange(ev visionflow.StateChangeEvent) {
	if ev.Current == visionflow.StateCrashed {
		c.logger.Error("engine crashed", log.String("reason", ev.Reason))
		c.cancel()
	}
}

func (c crashWatcher) OnWorkerRetired(ev visionflow.WorkerRetiredEvent) {
	c.logger.Warn("worker replaced", log.String("worker", ev.WorkerID), log.Int("failures", ev.Failures))
}

// newEngine builds the engine with the sinks and plugins the configuration
// enables.
func newEngine(cfg cliconfig.Config, cfgFile string, logger log.Logger, extra []visionflow.Option) (*visionflow.Engine, error) {
	opts := []visionflow.Option{
		visionflow.WithLogger(logger),
		visionflow.WithSink(logadapter.NewSink(logger)),
	}
	if cfg.MetricsAddr != "" {
		opts = append(opts, metricsserver.WithMetricsServer(metricsserver.Config{
			Addr:         cfg.MetricsAddr,
			RequestLimit: cfg.RequestLimit,
		}))
	}
	if cfg.Watch && cfgFile != "" {
		wc := configwatcher.DefaultConfig()
		wc.Path = cfgFile
		opts = append(opts, configwatcher.WithConfigWatcher(wc))
	}
	opts = append(opts, extra...)
	return visionflow.New(cfg.Engine(), opts...)
}

func run(parent context.Context, cfg cliconfig.Config, cfgFile string, once bool) error {
	if parent == nil {
		parent = context.Background()
	}
	logger, err := log.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	logger.Info("configuration",
		log.String("config_file", cfgFile),
		log.Int("pool_size", cfg.PoolSize),
		log.String("drop_policy", cfg.DropPolicy),
		log.Int("pipelines", len(cfg.Pipelines)),
		log.Int("sources", len(cfg.SourceConfigs())),
		log.String("metrics_addr", cfg.MetricsAddr),
	)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	extra := []visionflow.Option{
		visionflow.WithEventHandler(crashWatcher{logger: logger, cancel: cancel}),
	}

	// The webhook outlives the engine so the final results are delivered.
	var (
		webhook     *httpadapter.WebhookSink
		webhookDone = make(chan error, 1)
	)
	if cfg.WebhookURL != "" {
		webhook, err = httpadapter.NewWebhookSink(httpadapter.WebhookConfig{
			URL:           cfg.WebhookURL,
			MaxEvents:     cfg.WebhookMaxEvents,
			FlushInterval: cfg.WebhookFlushInterval,
			Timeout:       cfg.WebhookTimeout,
		}, nil, logger, nil)
		if err != nil {
			return err
		}
		extra = append(extra, visionflow.WithSink(webhook))
	}

	engine, err := newEngine(cfg, cfgFile, logger, extra)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	webhookCtx, stopWebhook := context.WithCancel(context.Background())
	defer stopWebhook()
	if webhook != nil {
		go func() { webhookDone <- webhook.Run(webhookCtx) }()
	} else {
		close(webhookDone)
	}

	configs := cfg.SourceConfigs()
	sources := make([]*source.Synthetic, 0, len(configs))
	for _, sc := range configs {
		src, err := source.NewSynthetic(sc, nil)
		if err != nil {
			return fmt.Errorf("source %s: %w", sc.StreamID, err)
		}
		sources = append(sources, src)
	}

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, src := range sources {
		g.Go(func() error {
			_, err := engine.Attach(gctx, src)
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return nil
			}
			return err
		})
	}
	sourcesDone := make(chan error, 1)
	go func() { sourcesDone <- g.Wait() }()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received signal, stopping...")
	case runErr = <-sourcesDone:
		switch {
		case runErr != nil:
			logger.Error("source failed", log.Err(runErr))
		case once:
			logger.Info("all sources ended")
		default:
			// Keep serving the HTTP API until signalled.
			<-ctx.Done()
			logger.Info("received signal, stopping...")
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout+5*time.Second)
	defer cancelShutdown()

	if err := engine.Stop(shutdownCtx); err != nil {
		runErr = multierr.Append(runErr, fmt.Errorf("stop engine: %w", err))
	}
	stopWebhook()
	if err := <-webhookDone; err != nil {
		runErr = multierr.Append(runErr, err)
	}
	if webhook != nil {
		sent, overflow, failed := webhook.Stats()
		logger.Info("webhook stopped", log.Uint64("sent", sent), log.Uint64("overflow", overflow), log.Uint64("failed", failed))
	}

	snap := engine.MetricsSnapshot()
	logger.Info("stopped",
		log.Uint64("submitted", snap.Submitted),
		log.Uint64("results", snap.Results),
		log.Uint64("failures", snap.Failures),
		log.Uint64("gaps", snap.Gaps),
	)
	return runErr
}
