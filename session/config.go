package session

import (
	"sort"

	"github.com/pkg/errors"
)

// Operation names.
const (
	OpDump  = "dump"
	OpFlash = "flash"
	OpCheck = "check"
)

// Config is one of DumpConfig, FlashConfig or CheckConfig.
type Config interface {
	// Op returns the operation the config drives.
	Op() string

	// Validate checks the static invariants of the config.
	Validate() error

	isConfig()
}

// Connection holds the serial settings shared by every operation.
type Connection struct {
	// Port is the serial port name, e.g. /dev/ttyUSB0 or COM3
	Port string `yaml:"port" envconfig:"PORT"`

	// BaudRate is used for bulk transfer after the handshake
	BaudRate uint32 `yaml:"baud_rate" envconfig:"BAUD_RATE"`

	// InitialBaudRate is used for the handshake
	InitialBaudRate uint32 `yaml:"initial_baud_rate" envconfig:"INITIAL_BAUD_RATE"`
}

// Validate checks the port and both baud rates.
func (c Connection) Validate() error {
	if c.Port == "" {
		return errors.New("port must not be empty")
	}
	if c.BaudRate == 0 {
		return errors.New("baud rate must be greater than zero")
	}
	if c.InitialBaudRate == 0 {
		return errors.New("initial baud rate must be greater than zero")
	}
	return nil
}

// DumpConfig reads flash [Start, End) into the staged file Output.
type DumpConfig struct {
	Connection

	Output string
	Start  uint64
	End    uint64
}

func (DumpConfig) Op() string { return OpDump }
func (DumpConfig) isConfig()  {}

// Validate checks the connection, the output path and the byte range.
func (c DumpConfig) Validate() error {
	if err := c.Connection.Validate(); err != nil {
		return err
	}
	if c.Output == "" {
		return errors.New("output path must not be empty")
	}
	if c.End <= c.Start {
		return errors.Errorf("end (0x%X) must be greater than start (0x%X)", c.End, c.Start)
	}
	return nil
}

// Size returns the number of bytes the dump reads.
func (c DumpConfig) Size() uint64 {
	return c.End - c.Start
}

// Placement puts a staged file at a flash address.
type Placement struct {
	Path    string
	Address uint64
}

// FlashConfig writes the staged file Image at Address, plus any Extra
// placements, in one session.
type FlashConfig struct {
	Connection

	Image   string
	Address uint64

	// Extra places further staged files, such as a second stage bootloader
	// and partition tables
	Extra []Placement

	// Reset restarts the device once every placement is written
	Reset bool
}

func (FlashConfig) Op() string { return OpFlash }
func (FlashConfig) isConfig()  {}

// Validate checks the connection and the placements.
// Whether the images are staged is checked when the flash runs.
func (c FlashConfig) Validate() error {
	if err := c.Connection.Validate(); err != nil {
		return err
	}
	return validatePlacements(c.Placements())
}

// Placements returns Image and Extra ordered by address.
func (c FlashConfig) Placements() []Placement {
	return placements(c.Image, c.Address, c.Extra)
}

// CheckConfig compares the staged file Image at Address, plus any Extra
// placements, with the device contents.
type CheckConfig struct {
	Connection

	Image   string
	Address uint64
	Extra   []Placement
}

func (CheckConfig) Op() string { return OpCheck }
func (CheckConfig) isConfig()  {}

// Validate checks the connection and the placements.
func (c CheckConfig) Validate() error {
	if err := c.Connection.Validate(); err != nil {
		return err
	}
	return validatePlacements(c.Placements())
}

// Placements returns Image and Extra ordered by address.
func (c CheckConfig) Placements() []Placement {
	return placements(c.Image, c.Address, c.Extra)
}

func placements(image string, address uint64, extra []Placement) []Placement {
	out := make([]Placement, 0, len(extra)+1)
	out = append(out, Placement{Path: image, Address: address})
	out = append(out, extra...)

	sort.SliceStable(out, func(i, j int) bool { return out[i].Address < out[j].Address })

	return out
}

func validatePlacements(ps []Placement) error {
	for _, p := range ps {
		if p.Path == "" {
			return errors.Errorf("image path at 0x%X must not be empty", p.Address)
		}
	}
	for i := 1; i < len(ps); i++ {
		if ps[i].Address == ps[i-1].Address {
			return errors.Errorf("%q and %q are both placed at 0x%X", ps[i-1].Path, ps[i].Path, ps[i].Address)
		}
	}
	return nil
}
