package bootloader

import (
	"context"

	"github.com/pkg/errors"

	"github.com/moffa90/go-blflash/device"
	"github.com/moffa90/go-blflash/protocol"
)

// Opener opens serial sessions against BL602 devices. It implements
// device.Programmer.
type Opener struct {
	opts   []Option
	config Config
}

var (
	_ device.Programmer     = (*Opener)(nil)
	_ device.AddressLimiter = (*Opener)(nil)
)

// NewOpener returns an Opener whose Programmers use opts.
//
// Example:
//
//	orch := session.New(store, state, bootloader.NewOpener(
//	    bootloader.WithEflashLoader(loader),
//	    bootloader.WithLogger(logger),
//	))
func NewOpener(opts ...Option) *Opener {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Opener{
		opts:   opts,
		config: cfg,
	}
}

// Open opens port at initialBaud and connects. The port is released if
// connecting fails. A missing required eflash loader fails before the port
// is opened.
func (o *Opener) Open(ctx context.Context, port string, initialBaud, baud uint32) (device.Handle, error) {
	if err := o.config.checkLoader(); err != nil {
		return nil, err
	}

	sp, err := o.config.PortOpener(port, initialBaud)
	if err != nil {
		return nil, err
	}

	p := New(sp, o.opts...)
	if err := p.Connect(ctx, initialBaud, baud); err != nil {
		p.Close()
		return nil, errors.Wrapf(err, "connect %s", port)
	}

	return p, nil
}

// AddressLimit reports the end of the addressable flash range.
func (o *Opener) AddressLimit() uint64 {
	return protocol.AddressLimit
}
