// Package device defines the capability a session needs from a device programmer.
//
// The session orchestrator only talks to these interfaces; package bootloader
// provides the serial BL602 implementation and internal/simdevice a simulated one.
package device

import (
	"context"
	"time"
)

// Phase names reported through Progress.
const (
	PhaseErasing   = "erasing"
	PhaseWriting   = "writing"
	PhaseReading   = "reading"
	PhaseVerifying = "verifying"
	PhaseComplete  = "complete"
)

// Progress describes how far a transfer has got.
type Progress struct {
	// Phase is one of the Phase* constants
	Phase string

	// Done is the number of bytes transferred so far
	Done uint64

	// Total is the number of bytes the transfer will move
	Total uint64

	// Percentage is the completion percentage (0.0 to 100.0)
	Percentage float64

	// Elapsed is the time since the transfer started
	Elapsed time.Duration
}

// ProgressCallback is called during transfers to report progress.
// Implementations should return quickly.
type ProgressCallback func(Progress)

// Report calls cb if it is set.
func (cb ProgressCallback) Report(p Progress) {
	if cb == nil {
		return
	}
	if p.Total > 0 {
		p.Percentage = float64(p.Done) / float64(p.Total) * 100
	}
	cb(p)
}

// Programmer opens sessions against a device.
type Programmer interface {
	// Open connects to the device on port. The handshake runs at initialBaud,
	// bulk transfers at baud.
	Open(ctx context.Context, port string, initialBaud, baud uint32) (Handle, error)
}

// AddressLimiter is implemented by programmers whose devices address a
// bounded flash range. Ranges ending beyond AddressLimit are rejected
// before a session is opened.
type AddressLimiter interface {
	AddressLimit() uint64
}

// Handle is an open session. Operations on one handle are strictly sequential.
type Handle interface {
	// ReadRange reads flash bytes [start, end).
	ReadRange(ctx context.Context, start, end uint64, progress ProgressCallback) ([]byte, error)

	// WriteImage writes image to flash starting at address, in order.
	WriteImage(ctx context.Context, address uint64, image []byte, progress ProgressCallback) error

	// Verify reports whether flash starting at address matches image.
	Verify(ctx context.Context, address uint64, image []byte) (bool, error)

	// Reset restarts the device into its application.
	Reset(ctx context.Context) error

	// Close releases the transport. It never fails observably.
	Close()
}
