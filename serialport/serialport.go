// Package serialport opens host serial ports for the bootloader.
package serialport

import (
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
)

// Port is the transport the bootloader drives. Read returns (0, nil) when the
// read timeout expires without data.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)

	// SetBaudRate reconfigures the line speed.
	SetBaudRate(baud uint32) error

	// SetReadTimeout bounds every subsequent Read.
	SetReadTimeout(timeout time.Duration) error

	// SetRTS and SetDTR drive the modem control lines used to reset the chip.
	SetRTS(level bool) error
	SetDTR(level bool) error

	// Flush waits until written bytes have left the host.
	Flush() error

	Close() error
}

type port struct {
	serial.Port
}

// Open opens name as an 8N1 serial port at baud.
func Open(name string, baud uint32) (Port, error) {
	p, err := serial.Open(name, mode(baud))
	if err != nil {
		return nil, errors.Wrapf(err, "open serial port %q", name)
	}

	return &port{Port: p}, nil
}

// List returns the serial ports present on the host.
func List() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, errors.Wrap(err, "list serial ports")
	}

	return ports, nil
}

func mode(baud uint32) *serial.Mode {
	return &serial.Mode{
		BaudRate: int(baud),
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

func (p *port) SetBaudRate(baud uint32) error {
	return errors.Wrapf(p.Port.SetMode(mode(baud)), "set baud rate %d", baud)
}

func (p *port) Flush() error {
	return errors.Wrap(p.Port.Drain(), "drain")
}
