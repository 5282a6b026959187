package visionflow

import (
	"context"
	"fmt"
)

// Plugin extends an Engine with optional functionality.
type Plugin interface {
	// Name returns the plugin identifier used in logs.
	Name() string

	// Initialize is called by Start once the scheduler is running. A
	// returned error aborts Start.
	Initialize(ctx context.Context, cfg PluginConfig) error

	// Shutdown is called by Stop after the scheduler has drained.
	Shutdown(ctx context.Context) error
}

// PluginConfig is passed to Plugin.Initialize.
type PluginConfig struct {
	// Logger is the engine logger annotated with the plugin name.
	Logger Logger

	// Engine is the running engine. Plugins may call its operational
	// controls from their own goroutines.
	Engine *Engine
}

// BasePlugin implements Plugin with no-ops. Embed it and override what is
// needed.
type BasePlugin struct{}

func (BasePlugin) Name() string                                   { return "base" }
func (BasePlugin) Initialize(context.Context, PluginConfig) error { return nil }
func (BasePlugin) Shutdown(context.Context) error                 { return nil }

func initializePlugin(ctx context.Context, p Plugin, cfg PluginConfig) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin %s: panic during initialize: %v", p.Name(), r)
		}
	}()
	return p.Initialize(ctx, cfg)
}

func shutdownPlugin(ctx context.Context, p Plugin) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin %s: panic during shutdown: %v", p.Name(), r)
		}
	}()
	return p.Shutdown(ctx)
}
