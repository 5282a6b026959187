// Package domain contains the core entities and value objects of visionflow.
//
// This package is the innermost layer. It has no dependencies on scheduling,
// transport or logging and holds only the data model shared by sessions, the
// worker pool, the aggregator and sinks.
//
// # Entities
//
//   - [Frame]: one unit of input with a stream-local sequence number
//   - [WorkItem]: a frame travelling through the stages of a pipeline
//   - [Result]: the ordered stage outputs (or failure) for one frame
//   - [DropPolicy], [DropReason], [SessionState]: session policy enums
//
// # Design Principles
//
// Domain values are:
//   - Owned by exactly one component at a time (no shared mutation)
//   - Free of infrastructure dependencies
//   - Testable without mocks or external systems
package domain
