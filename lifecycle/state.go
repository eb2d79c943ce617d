// Package lifecycle tracks one-time initialization of the flashing capabilities.
//
// An AppState is created once per process and handed to the session
// orchestrator, which refuses to open sessions until the state is Ready.
package lifecycle

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// State is the readiness of the module.
type State int

const (
	Uninitialized State = iota
	Initializing
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// InitFunc loads whatever the module needs before sessions may open.
type InitFunc func(ctx context.Context) error

// InitError reports a failed initialization. Its message is the cause's, verbatim.
type InitError struct {
	Err error
}

func (e *InitError) Error() string {
	return e.Err.Error()
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// AppState is the process-wide readiness barrier.
//
// Concurrent Initialize calls while Initializing wait for the in-flight
// initialization and share its result. Ready never reverts and Failed is
// terminal: later calls return the same *InitError without retrying.
type AppState struct {
	init   InitFunc
	logger *zap.Logger

	group singleflight.Group

	mu    sync.RWMutex
	state State
	err   *InitError
}

// Option configures an AppState.
type Option func(*AppState)

// WithLogger sets the logger used to report state transitions.
func WithLogger(l *zap.Logger) Option {
	return func(a *AppState) {
		if l != nil {
			a.logger = l
		}
	}
}

// New returns an Uninitialized AppState that runs init on first Initialize.
func New(init InitFunc, opts ...Option) *AppState {
	if init == nil {
		init = func(context.Context) error { return nil }
	}

	a := &AppState{
		init:   init,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Initialize runs the init function once. See AppState for concurrency rules.
func (a *AppState) Initialize(ctx context.Context) error {
	if done, err := a.settled(); done {
		return err
	}

	ch := a.group.DoChan("init", func() (interface{}, error) {
		if done, err := a.settled(); done {
			return nil, err
		}

		a.transition(Initializing, nil)

		// Detached so one impatient caller cannot fail the shared initialization.
		if err := a.init(context.WithoutCancel(ctx)); err != nil {
			initErr := &InitError{Err: err}
			a.transition(Failed, initErr)

			return nil, initErr
		}

		a.transition(Ready, nil)

		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current readiness without blocking.
func (a *AppState) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.state
}

// Err returns the initialization failure, or nil.
func (a *AppState) Err() error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.err == nil {
		return nil
	}

	return a.err
}

// IsReady reports whether sessions may be opened.
func (a *AppState) IsReady() bool {
	return a.State() == Ready
}

func (a *AppState) settled() (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	switch a.state {
	case Ready:
		return true, nil
	case Failed:
		return true, a.err
	default:
		return false, nil
	}
}

func (a *AppState) transition(to State, err *InitError) {
	a.mu.Lock()
	from := a.state
	a.state = to
	a.err = err
	a.mu.Unlock()

	if err != nil {
		a.logger.Error("module initialization failed", zap.Stringer("from", from), zap.Error(err))
		return
	}

	a.logger.Debug("module state changed", zap.Stringer("from", from), zap.Stringer("to", to))
}
