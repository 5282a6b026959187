// Package log provides a logging abstraction for visionflow components.
//
// This package defines a Logger interface that can be implemented by
// any logging library. A zerolog implementation and a no-op logger for
// tests are provided.
//
// # Usage
//
// Build a zerolog-backed logger from CLI settings:
//
//	logger, err := log.New(os.Stderr, "info", "console")
//
// Attach component context once and pass the child around:
//
//	schedLog := logger.With(log.String("component", "scheduler"))
//
// Or use the no-op logger for testing:
//
//	logger := log.NewNoopLogger()
package log
