// Package configwatcher reloads the mutable parts of the configuration
// file while the engine runs. When the file changes, pool_size is applied
// with PoolResize and log_level is applied to the engine logger.
package configwatcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"

	"github.com/bft-labs/visionflow/pkg/log"
	"github.com/bft-labs/visionflow/pkg/visionflow"
)

// Config holds configuration options for the config watcher plugin.
type Config struct {
	// Path is the TOML file to watch. An empty path disables the plugin.
	Path string

	// DebounceDelay is the delay to wait after a file change before
	// reloading. Default: 100 milliseconds
	DebounceDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DebounceDelay: 100 * time.Millisecond,
	}
}

// Target is the part of the engine the watcher drives.
type Target interface {
	PoolSize() int
	PoolResize(n int) error
}

// LevelSetter is implemented by loggers whose level can change at runtime,
// such as log.ZerologAdapter.
type LevelSetter interface {
	SetLevel(level zerolog.Level)
	Level() zerolog.Level
}

// reloadable is the subset of the configuration file applied at runtime.
type reloadable struct {
	PoolSize int    `toml:"pool_size"`
	LogLevel string `toml:"log_level"`
}

// Plugin implements config watching functionality.
type Plugin struct {
	mu sync.Mutex

	path          string
	debounceDelay time.Duration

	target   Target
	levels   LevelSetter
	logger   log.Logger
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	debounce *time.Timer
	reloads  atomic.Uint64
}

// New creates a new config watcher plugin with the given configuration.
func New(cfg Config) *Plugin {
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = 100 * time.Millisecond
	}
	return &Plugin{
		path:          cfg.Path,
		debounceDelay: cfg.DebounceDelay,
	}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "configwatcher"
}

// Initialize starts watching the configuration file.
func (p *Plugin) Initialize(ctx context.Context, cfg visionflow.PluginConfig) error {
	levels, _ := cfg.Logger.(LevelSetter)
	return p.start(ctx, cfg.Engine, levels, cfg.Logger)
}

func (p *Plugin) start(ctx context.Context, target Target, levels LevelSetter, logger log.Logger) error {
	if logger == nil {
		logger = log.NoopLogger{}
	}
	p.mu.Lock()
	p.target = target
	p.levels = levels
	p.logger = logger
	p.mu.Unlock()

	if p.path == "" {
		logger.Warn("config watcher disabled: no config file")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// Editors often replace the file, so watch its directory.
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(p.path), err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go p.watchLoop(watchCtx, watcher)

	logger.Info("config watcher started", log.String("path", p.path))
	return nil
}

// Shutdown stops the config watcher.
func (p *Plugin) Shutdown(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()

	p.mu.Lock()
	if p.debounce != nil {
		p.debounce.Stop()
	}
	p.mu.Unlock()
	return nil
}

// Reloads returns the number of applied reloads.
func (p *Plugin) Reloads() uint64 {
	return p.reloads.Load()
}

func (p *Plugin) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer p.wg.Done()
	defer watcher.Close()

	name := filepath.Base(p.path)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			p.debounceReload(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("config watcher error", log.Err(err))
		}
	}
}

func (p *Plugin) debounceReload(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.debounce != nil {
		p.debounce.Stop()
	}
	p.debounce = time.AfterFunc(p.debounceDelay, func() {
		if ctx.Err() != nil {
			return
		}
		if err := p.reload(); err != nil {
			p.logger.Warn("config reload failed", log.String("path", p.path), log.Err(err))
		}
	})
}

func (p *Plugin) reload() error {
	b, err := os.ReadFile(p.path)
	if err != nil {
		return err
	}
	var rc reloadable
	if err := toml.Unmarshal(b, &rc); err != nil {
		return fmt.Errorf("parse: %w", err)
	}

	p.mu.Lock()
	target, levels := p.target, p.levels
	p.mu.Unlock()

	if rc.LogLevel != "" && levels != nil {
		lvl, err := log.ParseLevel(rc.LogLevel)
		if err != nil {
			return err
		}
		if lvl != levels.Level() {
			levels.SetLevel(lvl)
			p.logger.Info("log level changed", log.String("level", lvl.String()))
		}
	}

	if rc.PoolSize > 0 && target != nil && rc.PoolSize != target.PoolSize() {
		if err := target.PoolResize(rc.PoolSize); err != nil {
			return fmt.Errorf("resize pool: %w", err)
		}
	}

	p.reloads.Add(1)
	return nil
}

// Ensure Plugin implements visionflow.Plugin.
var _ visionflow.Plugin = (*Plugin)(nil)
