package domain

import (
	"errors"
	"fmt"
)

// Domain errors represent error conditions in the visionflow domain.
// These errors are returned by the public API and can be checked with errors.Is.
var (
	// ErrAlreadyRunning is returned when Start() is called on a running instance.
	ErrAlreadyRunning = errors.New("visionflow: already running")

	// ErrNotRunning is returned when Stop() is called on a stopped instance.
	ErrNotRunning = errors.New("visionflow: not running")

	// ErrShutdownTimeout is returned when the shutdown drain timed out and
	// in-flight work was aborted.
	ErrShutdownTimeout = errors.New("visionflow: shutdown timeout")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("visionflow: invalid configuration")

	// ErrSchedulerStopped is returned by operations after shutdown began.
	ErrSchedulerStopped = errors.New("visionflow: scheduler stopped")

	// ErrSessionClosed is returned when submitting to a draining or closed session.
	ErrSessionClosed = errors.New("visionflow: session closed")

	// ErrSequenceRegression is returned when a frame's sequence number does
	// not exceed the last one submitted on its stream.
	ErrSequenceRegression = errors.New("visionflow: sequence number regression")

	// ErrStreamExists is returned by CreateStream for a live stream id.
	ErrStreamExists = errors.New("visionflow: stream already exists")

	// ErrUnknownStream is returned for operations on unknown stream ids.
	ErrUnknownStream = errors.New("visionflow: unknown stream")

	// ErrUnknownPipeline is returned when a stream names an unknown pipeline.
	ErrUnknownPipeline = errors.New("visionflow: unknown pipeline")

	// ErrWorkerFatal marks a worker retired after consecutive failures.
	ErrWorkerFatal = errors.New("visionflow: worker exceeded consecutive failure threshold")

	// ErrPoolSaturated is returned when the pool task queue is full.
	ErrPoolSaturated = errors.New("visionflow: worker pool saturated")

	// ErrInvalidInputType is returned by stages given an input they cannot use.
	ErrInvalidInputType = errors.New("visionflow: invalid stage input type")
)

// InferenceError is a per-WorkItem stage failure.
// It is reported to the aggregator as a failure result; the stream continues.
type InferenceError struct {
	Stage string
	Err   error
}

// Error implements error.
func (e *InferenceError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying cause.
func (e *InferenceError) Unwrap() error {
	return e.Err
}
