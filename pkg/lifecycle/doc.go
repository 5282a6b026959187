// Package lifecycle provides the engine state machine.
//
// A [DefaultManager] tracks the engine through Stopped, Starting, Running,
// Stopping and Crashed, reports every transition to an [EventEmitter], and
// tracks the background goroutines the engine starts so that shutdown can
// wait for them.
//
//	m := lifecycle.NewManager(logger, emitter)
//	if err := m.TransitionTo(lifecycle.StateStarting, "Start() called"); err != nil {
//	    return err
//	}
//	m.Go(func() { _ = scheduler.Run(ctx) })
//	...
//	if err := m.Wait(shutdownCtx); err != nil {
//	    return err // ErrShutdownTimeout
//	}
//
// # State Machine
//
// Valid state transitions:
//   - Stopped -> Starting
//   - Starting -> Running, Stopping, Crashed
//   - Running -> Stopping, Crashed
//   - Stopping -> Stopped, Crashed
//   - Crashed -> Starting
package lifecycle
