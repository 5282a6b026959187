// Package pipeline defines inference stages, immutable pipelines and the
// stage-kind registry used to build them from declarative descriptors.
//
// A stage is an opaque capability: Invoke(ctx, input) -> output | error.
// Model families are plugged in as stage kinds (a name plus a Factory that
// turns descriptor params into an Invoker) rather than through inheritance.
//
// Built-in kinds operate on [Detections]: detections_filter,
// detections_offset, detections_shift, detections_consensus and
// simulated_detector.
package pipeline
