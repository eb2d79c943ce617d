package protocol

import (
	"errors"
	"fmt"
)

// ErrInvalidResponse is returned when a response does not start with OK or FL.
var ErrInvalidResponse = errors.New("invalid response header")

// RomError represents a failure code returned by the boot ROM or eflash loader.
type RomError struct {
	// Operation is the command that failed
	Operation string

	// Code is the 16-bit error code reported by the device
	Code uint16
}

func (e *RomError) Error() string {
	if e.Operation == "" {
		return fmt.Sprintf("ROM error 0x%04X", e.Code)
	}
	return fmt.Sprintf("%s failed: ROM error 0x%04X", e.Operation, e.Code)
}

// IsRomError returns true if the error is, or wraps, a RomError.
func IsRomError(err error) bool {
	var romErr *RomError
	return errors.As(err, &romErr)
}

// CommandName returns a human-readable name for a command code.
func CommandName(cmd byte) string {
	switch cmd {
	case CmdBootInfo:
		return "boot info"
	case CmdLoadBootHeader:
		return "load boot header"
	case CmdLoadSegmentHeader:
		return "load segment header"
	case CmdLoadSegmentData:
		return "load segment data"
	case CmdCheckImage:
		return "check image"
	case CmdRunImage:
		return "run image"
	case CmdFlashErase:
		return "flash erase"
	case CmdFlashProgram:
		return "flash program"
	case CmdFlashRead:
		return "flash read"
	case CmdSha256Read:
		return "sha256 read"
	default:
		return fmt.Sprintf("command 0x%02X", cmd)
	}
}
