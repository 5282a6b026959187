// Package ports defines the interfaces (ports) that connect the scheduling
// core to its external collaborators.
//
// Ports are the boundaries between the core and the outside world. They
// define what the core needs from transports and sinks without specifying how
// those needs are fulfilled.
//
// # Port Interfaces
//
//   - [FrameSource]: a lazy, cancellable sequence of frames from one stream
//   - [Sink]: receives results, drop markers and ordering gaps in order
//
// # Usage
//
// The scheduler depends only on these interfaces. Adapters (internal/source,
// internal/adapters) implement them with concrete transports.
package ports
