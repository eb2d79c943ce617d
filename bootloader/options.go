package bootloader

import (
	"time"

	"github.com/moffa90/go-blflash/protocol"
	"github.com/moffa90/go-blflash/serialport"
)

// PortOpener opens the serial port a session runs on.
type PortOpener func(name string, baud uint32) (serialport.Port, error)

// Config holds the programmer configuration.
type Config struct {
	// Logger receives debug, info and error output; never nil
	Logger Logger

	// Timeout bounds the wait for each command response
	Timeout time.Duration

	// HandshakeTimeout bounds the wait for each handshake reply
	HandshakeTimeout time.Duration

	// PollInterval is the serial read timeout; cancellation is noticed at this granularity
	PollInterval time.Duration

	// ConnectRetries is the number of handshake attempts after reset
	ConnectRetries int

	// ChunkSize is the maximum data size per FlashProgram and LoadSegmentData command
	ChunkSize int

	// EflashLoader is the flash loader image run from RAM after the handshake
	EflashLoader []byte

	// RequireEflashLoader refuses to connect without an EflashLoader
	RequireEflashLoader bool

	// SkipUnchanged skips erase and program when the device already holds the image
	SkipUnchanged bool

	// VerifyAfterWrite compares device and image SHA-256 after programming
	VerifyAfterWrite bool

	// ResetDelay is the pause between modem line changes during reset
	ResetDelay time.Duration

	// HandshakeDelay is the pause between the handshake burst and the first poll
	HandshakeDelay time.Duration

	// RunImageDelay is the pause for the eflash loader to start
	RunImageDelay time.Duration

	// PortOpener opens serial ports for Opener
	PortOpener PortOpener
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		Logger:              nopLogger{},
		Timeout:             10 * time.Second,
		HandshakeTimeout:    200 * time.Millisecond,
		PollInterval:        100 * time.Millisecond,
		ConnectRetries:      10,
		ChunkSize:           protocol.MaxChunkSize,
		RequireEflashLoader: true,
		VerifyAfterWrite:    true,
		ResetDelay:          50 * time.Millisecond,
		HandshakeDelay:      200 * time.Millisecond,
		RunImageDelay:       500 * time.Millisecond,
		PortOpener:          serialport.Open,
	}
}

// checkLoader fails when a required eflash loader is missing.
func (c Config) checkLoader() error {
	if c.RequireEflashLoader && len(c.EflashLoader) == 0 {
		return ErrEflashLoaderRequired
	}
	return nil
}

// Option is a functional option for configuring the Programmer.
type Option func(*Config)

// WithLogger sets a logger for the programmer operations. A nil logger
// discards output.
//
// Example:
//
//	prog := bootloader.New(port, bootloader.WithLogger(myLogger))
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		if logger == nil {
			logger = nopLogger{}
		}
		c.Logger = logger
	}
}

// WithTimeout sets the command response timeout.
//
// Example:
//
//	prog := bootloader.New(port, bootloader.WithTimeout(30*time.Second))
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.Timeout = timeout
		}
	}
}

// WithHandshakeTimeout sets how long each handshake poll waits for "OK".
func WithHandshakeTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.HandshakeTimeout = timeout
		}
	}
}

// WithPollInterval sets the serial read timeout used while waiting for responses.
func WithPollInterval(interval time.Duration) Option {
	return func(c *Config) {
		if interval > 0 {
			c.PollInterval = interval
		}
	}
}

// WithConnectRetries sets the number of handshake attempts.
// Default is 10.
func WithConnectRetries(retries int) Option {
	return func(c *Config) {
		if retries > 0 {
			c.ConnectRetries = retries
		}
	}
}

// WithChunkSize sets the maximum data size per program command.
// Default is 4000 bytes, the largest chunk the eflash loader accepts.
//
// Example:
//
//	prog := bootloader.New(port, bootloader.WithChunkSize(1024))
func WithChunkSize(size int) Option {
	return func(c *Config) {
		if size > 0 && size <= protocol.MaxChunkSize {
			c.ChunkSize = size
		}
	}
}

// WithEflashLoader sets the eflash loader image uploaded to RAM after the
// handshake. The image starts with the 176-byte boot header followed by the
// 16-byte segment header and the segment data.
//
// The boot ROM does not answer flash commands, so a loader is required
// unless WithEflashLoaderRequired(false) says the device already runs one.
func WithEflashLoader(image []byte) Option {
	return func(c *Config) {
		c.EflashLoader = image
	}
}

// WithEflashLoaderRequired controls whether Connect refuses to run without an
// eflash loader. Default is true. Pass false when the device already runs a
// flash-capable loader and answers flash commands at the bulk baud rate.
func WithEflashLoaderRequired(require bool) Option {
	return func(c *Config) {
		c.RequireEflashLoader = require
	}
}

// WithSkipUnchanged skips erase and program when the device SHA-256 of the
// target range already matches the image.
func WithSkipUnchanged(skip bool) Option {
	return func(c *Config) {
		c.SkipUnchanged = skip
	}
}

// WithVerifyAfterWrite enables or disables the SHA-256 check after programming.
// Default is true.
func WithVerifyAfterWrite(verify bool) Option {
	return func(c *Config) {
		c.VerifyAfterWrite = verify
	}
}

// WithDelays overrides the reset, handshake and run-image pauses.
// Zero disables a pause. Mostly useful against simulated devices.
func WithDelays(reset, handshake, runImage time.Duration) Option {
	return func(c *Config) {
		c.ResetDelay = reset
		c.HandshakeDelay = handshake
		c.RunImageDelay = runImage
	}
}

// WithPortOpener replaces serialport.Open when the Opener opens a port.
func WithPortOpener(open PortOpener) Option {
	return func(c *Config) {
		if open != nil {
			c.PortOpener = open
		}
	}
}
