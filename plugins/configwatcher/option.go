package configwatcher

import "github.com/bft-labs/visionflow/pkg/visionflow"

// WithConfigWatcher returns an engine Option that enables config file
// watching.
//
// Usage:
//
//	e, err := visionflow.New(cfg,
//	    configwatcher.WithConfigWatcher(configwatcher.Config{
//	        Path:          "/etc/visionflow/visionflow.toml",
//	        DebounceDelay: 100 * time.Millisecond,
//	    }),
//	)
func WithConfigWatcher(cfg Config) visionflow.Option {
	return visionflow.WithPlugin(New(cfg))
}
