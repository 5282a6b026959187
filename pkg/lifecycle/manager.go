package lifecycle

import (
	"context"
	"sync"

	"github.com/bft-labs/visionflow/internal/domain"
	"github.com/bft-labs/visionflow/pkg/log"
)

// Common lifecycle errors.
var (
	ErrNotRunning      = domain.ErrNotRunning
	ErrAlreadyRunning  = domain.ErrAlreadyRunning
	ErrShutdownTimeout = domain.ErrShutdownTimeout
)

// DefaultManager implements Manager.
type DefaultManager struct {
	mu           sync.RWMutex
	state        State
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	logger       log.Logger
	eventEmitter EventEmitter
}

// NewManager creates a new lifecycle manager. emitter may be nil.
func NewManager(logger log.Logger, emitter EventEmitter) *DefaultManager {
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &DefaultManager{
		state:        StateStopped,
		logger:       logger,
		eventEmitter: emitter,
	}
}

// State returns the current lifecycle state.
func (l *DefaultManager) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// TransitionTo attempts to transition to a new state.
func (l *DefaultManager) TransitionTo(newState State, reason string) error {
	l.mu.Lock()
	oldState := l.state
	if err := validTransition(oldState, newState); err != nil {
		l.mu.Unlock()
		return err
	}
	l.state = newState
	l.mu.Unlock()

	// Emit outside of lock
	if l.eventEmitter != nil {
		l.eventEmitter.OnStateChange(oldState, newState, reason)
	}

	l.logger.Info("state transition",
		log.String("from", oldState.String()),
		log.String("to", newState.String()),
		log.String("reason", reason),
	)
	return nil
}

func validTransition(from, to State) error {
	switch from {
	case StateStopped:
		if to != StateStarting {
			return ErrNotRunning
		}
	case StateStarting:
		if to != StateRunning && to != StateStopping && to != StateCrashed {
			return ErrAlreadyRunning
		}
	case StateRunning:
		if to != StateStopping && to != StateCrashed {
			return ErrAlreadyRunning
		}
	case StateStopping:
		if to != StateStopped && to != StateCrashed {
			return ErrAlreadyRunning
		}
	case StateCrashed:
		if to != StateStarting {
			return ErrNotRunning
		}
	}
	return nil
}

// CanStart returns true if Start() can be called.
func (l *DefaultManager) CanStart() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateStopped || l.state == StateCrashed
}

// CanStop returns true if Stop() can be called.
func (l *DefaultManager) CanStop() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateRunning || l.state == StateStarting
}

// SetCancel stores the cancel function of the running context.
func (l *DefaultManager) SetCancel(cancel context.CancelFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cancel = cancel
}

// Cancel cancels the running context, if any.
func (l *DefaultManager) Cancel() {
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Go runs fn in a tracked goroutine.
func (l *DefaultManager) Go(fn func()) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		fn()
	}()
}

// Wait waits for every goroutine started with Go. It returns
// ErrShutdownTimeout if ctx ends first.
func (l *DefaultManager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		l.logger.Warn("shutdown timeout, abandoning background work", log.Err(ctx.Err()))
		return ErrShutdownTimeout
	}
}

var _ Manager = (*DefaultManager)(nil)
