package visionflow

import "github.com/bft-labs/visionflow/pkg/lifecycle"

// State is the lifecycle state of an Engine.
type State = lifecycle.State

// Lifecycle states.
const (
	StateStopped  = lifecycle.StateStopped
	StateStarting = lifecycle.StateStarting
	StateRunning  = lifecycle.StateRunning
	StateStopping = lifecycle.StateStopping
	StateCrashed  = lifecycle.StateCrashed
)

// StateChangeEvent is emitted on every lifecycle transition.
type StateChangeEvent struct {
	Previous State
	Current  State
	Reason   string
}

// WorkerRetiredEvent is emitted when a worker exceeded its consecutive
// failure threshold and was replaced.
type WorkerRetiredEvent struct {
	WorkerID string
	Failures int
}

// EventHandler receives engine events. Calls are synchronous; handlers
// should return quickly.
type EventHandler interface {
	OnStateChange(event StateChangeEvent)
	OnWorkerRetired(event WorkerRetiredEvent)
}

// BaseEventHandler implements EventHandler with no-ops. Embed it to handle
// only some events.
type BaseEventHandler struct{}

func (BaseEventHandler) OnStateChange(StateChangeEvent)     {}
func (BaseEventHandler) OnWorkerRetired(WorkerRetiredEvent) {}

// eventEmitter adapts EventHandler to lifecycle.EventEmitter.
type eventEmitter struct {
	handler EventHandler
}

func (e eventEmitter) OnStateChange(previous, current lifecycle.State, reason string) {
	if e.handler == nil {
		return
	}
	e.handler.OnStateChange(StateChangeEvent{Previous: previous, Current: current, Reason: reason})
}

func (e eventEmitter) workerRetired(id string, failures int) {
	if e.handler == nil {
		return
	}
	e.handler.OnWorkerRetired(WorkerRetiredEvent{WorkerID: id, Failures: failures})
}
