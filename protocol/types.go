package protocol

// BootInfo contains boot ROM identification.
// Returned by the BootInfo command.
type BootInfo struct {
	// BootromVersion is the boot ROM version
	BootromVersion uint32

	// OTPInfo is the raw 16-byte OTP/eFuse information block
	OTPInfo [16]byte
}

// Status is the outcome marker read at the start of a response.
type Status int

const (
	// StatusKindOK means the command succeeded
	StatusKindOK Status = iota

	// StatusKindFail means a ROM error code follows
	StatusKindFail
)
