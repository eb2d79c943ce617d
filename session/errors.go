package session

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies why a session operation failed.
type Kind int

const (
	// KindNotInitialized means the module was not Ready. Retry after initialization.
	KindNotInitialized Kind = iota + 1

	// KindInvalidConfig means static validation failed. The device was never touched.
	KindInvalidConfig

	// KindNotFound means a staged path was missing. For flash and check this is
	// detected before the device is touched.
	KindNotFound

	// KindConnection means the port could not be opened or the handshake failed.
	KindConnection

	// KindTransfer means the device failed mid-transfer. A dump buffer is
	// discarded; a flash leaves the device partially written.
	KindTransfer

	// KindCancelled means the caller's context ended. The session was still released.
	KindCancelled

	// KindMismatch means a check found the device contents differ from the image.
	KindMismatch
)

func (k Kind) String() string {
	switch k {
	case KindNotInitialized:
		return "not initialized"
	case KindInvalidConfig:
		return "invalid config"
	case KindNotFound:
		return "not found"
	case KindConnection:
		return "connection error"
	case KindTransfer:
		return "transfer error"
	case KindCancelled:
		return "cancelled"
	case KindMismatch:
		return "mismatch"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is returned by every Orchestrator operation.
type Error struct {
	// Kind classifies the failure
	Kind Kind

	// Op is the operation that failed ("dump", "flash" or "check")
	Op string

	// Detail is a human-readable description
	Detail string

	// Err is the underlying cause, if any
	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a session *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var sessErr *Error
	if !errors.As(err, &sessErr) {
		return false
	}
	return sessErr.Kind == kind
}

// KindOf returns the kind of a session *Error, or 0 if err is not one.
func KindOf(err error) Kind {
	var sessErr *Error
	if !errors.As(err, &sessErr) {
		return 0
	}
	return sessErr.Kind
}
