package bootloader

import (
	"encoding/hex"
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrConnectionFailed is returned when no handshake succeeded after reset.
	ErrConnectionFailed = errors.New("connection failed: device did not answer the handshake")

	// ErrTimeout is returned when the device does not answer in time.
	ErrTimeout = errors.New("timeout waiting for device")

	// ErrEflashLoaderRequired is returned by Connect and Opener.Open when no
	// eflash loader is configured and one is required.
	ErrEflashLoaderRequired = errors.New("eflash loader required: the boot ROM does not answer flash commands")
)

// VerificationError indicates that the device SHA-256 of the written range
// differs from the image.
type VerificationError struct {
	Address  uint32
	Length   uint32
	Expected [32]byte
	Actual   [32]byte
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("firmware verification failed at 0x%08X+%d: sha256 %s, expected %s",
		e.Address, e.Length, hex.EncodeToString(e.Actual[:]), hex.EncodeToString(e.Expected[:]))
}

// ShortReadError indicates that the device returned no data for a flash read.
type ShortReadError struct {
	Address uint32
	Want    uint32
}

func (e *ShortReadError) Error() string {
	return fmt.Sprintf("short read at 0x%08X: device returned 0 of %d bytes", e.Address, e.Want)
}
