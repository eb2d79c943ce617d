package session

import (
	"github.com/moffa90/go-blflash/device"
	"go.uber.org/zap"
)

// TransitionHook observes state machine transitions of an operation.
type TransitionHook func(op string, from, to Phase)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithProgressCallback forwards transfer progress from the device programmer.
func WithProgressCallback(cb device.ProgressCallback) Option {
	return func(o *Orchestrator) {
		o.progress = cb
	}
}

// WithMetrics sets the collectors updated after every operation.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithTransitionHook sets a hook called on every phase transition.
func WithTransitionHook(h TransitionHook) Option {
	return func(o *Orchestrator) {
		o.hook = h
	}
}
