package visionflow

import (
	"github.com/benbjohnson/clock"

	"github.com/bft-labs/visionflow/pkg/log"
)

// Option configures optional behavior of an Engine.
type Option func(*options)

type stageKind struct {
	kind    string
	factory StageFactory
}

// options holds the optional configuration for an Engine.
type options struct {
	logger       log.Logger
	eventHandler EventHandler
	sinks        []Sink
	plugins      []Plugin
	kinds        []stageKind
	clock        clock.Clock
}

func defaultOptions() options {
	return options{
		logger: log.NoopLogger{},
		clock:  clock.New(),
	}
}

// WithLogger sets the logger. If not provided, nothing is logged.
func WithLogger(logger Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithSink adds a sink. Every sink receives every outcome, in the order the
// sinks were added.
func WithSink(sink Sink) Option {
	return func(o *options) {
		if sink != nil {
			o.sinks = append(o.sinks, sink)
		}
	}
}

// WithEventHandler sets a handler for engine events.
func WithEventHandler(handler EventHandler) Option {
	return func(o *options) {
		o.eventHandler = handler
	}
}

// WithPlugin registers a plugin. Plugins are initialized in registration
// order and shut down in reverse order.
func WithPlugin(plugin Plugin) Option {
	return func(o *options) {
		o.plugins = append(o.plugins, plugin)
	}
}

// WithStageKind registers a stage kind for pipeline descriptors.
func WithStageKind(kind string, factory StageFactory) Option {
	return func(o *options) {
		o.kinds = append(o.kinds, stageKind{kind: kind, factory: factory})
	}
}

// WithClock sets the clock used for arrival times, idle expiry and sweeps.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}
