package main

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/visionflow/internal/cliconfig"
	"github.com/bft-labs/visionflow/pkg/log"
)

const helpBanner = `
        _     _             __ _
 __   _(_)___(_) ___  _ __ / _| | _____      __
 \ \ / / / __| |/ _ \| '_ \ |_| |/ _ \ \ /\ / /
  \ V /| \__ \ | (_) | | | |  _| | (_) \ V  V /
   \_/ |_|___/_|\___/|_| |_|_| |_|\___/ \_/\_/
`

const helpDescription = `
Schedule camera streams onto a shared pool of inference workers.

Highlights:
  - Every frame is accounted for: a result, a failure, or a drop with a reason.
  - Results are delivered per stream in frame order.
  - Bounded per-stream buffers with drop_oldest, drop_newest or adaptive sampling.
  - Prometheus metrics and a small control API; configure via file, env, or flags.
`

var longHelp = strings.TrimSpace(helpBanner) + "\n\n" + strings.TrimSpace(helpDescription)

var exampleUsage = strings.TrimSpace(`
  visionflow --synthetic 4 --synthetic-fps 30
  visionflow --config $HOME/.visionflow/config.toml --webhook-url http://localhost:8080/events
  visionflow validate --config ./config.toml
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var (
		cfgPath string
		once    bool
	)

	bootLog, _ := log.New(os.Stderr, "info", "console")

	// load resolves the configuration: file, then env, then flags.
	load := func(cmd *cobra.Command) (string, error) {
		cfgFile := cfgPath
		if cfgFile == "" {
			cfgFile = cliconfig.DefaultConfigPath()
		}

		changed := map[string]bool{}
		cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

		loaded := ""
		if cfgFile != "" && cliconfig.FileExists(cfgFile) {
			fc, err := cliconfig.LoadFileConfig(cfgFile)
			if err != nil {
				return "", fmt.Errorf("load config: %w", err)
			}
			if err := cliconfig.ApplyFileConfig(&cfg, fc, changed); err != nil {
				return "", err
			}
			loaded = cfgFile
		} else if cfgPath != "" {
			return "", fmt.Errorf("config file %s not found", cfgPath)
		}

		if err := cliconfig.ApplyEnvConfig(&cfg, changed); err != nil {
			return "", err
		}
		if err := cfg.Validate(); err != nil {
			return "", err
		}
		return loaded, nil
	}

	root := &cobra.Command{
		Use:           "visionflow",
		Short:         "Schedule camera streams onto a shared pool of inference workers",
		Long:          longHelp,
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile, err := load(cmd)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, cfgFile, once)
		},
	}

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and pipelines without starting",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile, err := load(cmd)
			if err != nil {
				return err
			}
			if _, err := newEngine(cfg, cfgFile, log.NewNoopLogger(), nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration ok: %d pipeline(s), %d stream(s), %d source(s)\n",
				len(cfg.Pipelines), len(cfg.Streams), len(cfg.SourceConfigs()))
			return nil
		},
	}
	root.AddCommand(validate)

	// Flags
	flags := root.PersistentFlags()
	flags.StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.visionflow/config.toml)")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	flags.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format (console or json)")

	flags.IntVar(&cfg.PoolSize, "pool-size", cfg.PoolSize, "number of inference workers")
	flags.IntVar(&cfg.MaxPoolSize, "max-pool-size", cfg.MaxPoolSize, "upper bound for runtime pool resizes (default: max(pool-size, 64))")
	flags.IntVar(&cfg.FailureThreshold, "failure-threshold", cfg.FailureThreshold, "consecutive failures before a worker is replaced")

	flags.IntVar(&cfg.BufferBound, "buffer-bound", cfg.BufferBound, "default per-stream buffer bound")
	flags.StringVar(&cfg.DropPolicy, "drop-policy", cfg.DropPolicy, "default drop policy (drop_oldest, drop_newest, adaptive_sample)")
	flags.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "close streams idle for this long (0 disables)")
	flags.DurationVar(&cfg.MinSpacing, "min-spacing", cfg.MinSpacing, "base spacing between sampled frames under adaptive_sample")
	flags.Float64Var(&cfg.Aggression, "aggression", cfg.Aggression, "adaptive sampling aggression in (0, 1]")
	flags.IntVar(&cfg.PressureRounds, "pressure-rounds", cfg.PressureRounds, "sweeps at the buffer bound before a stream escalates")
	flags.DurationVar(&cfg.SweepInterval, "sweep-interval", cfg.SweepInterval, "period of idle and pressure checks")
	flags.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "wait for in-flight frames on shutdown")
	flags.IntVar(&cfg.HoldBound, "hold-bound", cfg.HoldBound, "out-of-order results held per stream before a gap is reported")

	flags.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "listen address for /metrics and the control API (empty disables)")
	flags.IntVar(&cfg.RequestLimit, "request-limit", cfg.RequestLimit, "HTTP requests per client per minute")
	if err := flags.MarkHidden("request-limit"); err != nil {
		bootLog.Info("failed to hide request-limit flag", log.Err(err))
	}

	flags.StringVar(&cfg.WebhookURL, "webhook-url", cfg.WebhookURL, "POST batched results to this URL (optional)")
	flags.IntVar(&cfg.WebhookMaxEvents, "webhook-max-events", cfg.WebhookMaxEvents, "maximum events per webhook batch")
	flags.DurationVar(&cfg.WebhookFlushInterval, "webhook-flush-interval", cfg.WebhookFlushInterval, "flush partial webhook batches after this long")
	flags.DurationVar(&cfg.WebhookTimeout, "webhook-timeout", cfg.WebhookTimeout, "webhook HTTP timeout")

	flags.BoolVar(&cfg.Watch, "watch", cfg.Watch, "reload pool_size and log_level when the config file changes")

	flags.IntVar(&cfg.SyntheticStreams, "synthetic", cfg.SyntheticStreams, "number of synthetic camera streams to attach")
	flags.Float64Var(&cfg.SyntheticFPS, "synthetic-fps", cfg.SyntheticFPS, "frame rate of synthetic streams")
	flags.Uint64Var(&cfg.SyntheticFrames, "synthetic-frames", cfg.SyntheticFrames, "frames per synthetic stream (0 is unlimited)")
	root.Flags().BoolVar(&once, "once", once, "exit when every source has ended")

	if err := root.Execute(); err != nil {
		bootLog.Error("visionflow", log.Err(err))
		os.Exit(1)
	}
}
