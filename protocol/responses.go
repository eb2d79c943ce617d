package protocol

import (
	"encoding/binary"
	"fmt"
)

// ParseStatus classifies the two status bytes that open every response.
//
// Returns StatusKindOK for "OK", StatusKindFail for "FL", or ErrInvalidResponse.
func ParseStatus(b []byte) (Status, error) {
	if len(b) != StatusSize {
		return 0, fmt.Errorf("status must be %d bytes, got %d", StatusSize, len(b))
	}

	switch [2]byte{b[0], b[1]} {
	case StatusOK:
		return StatusKindOK, nil
	case StatusFail:
		return StatusKindFail, nil
	default:
		return 0, fmt.Errorf("%w: 0x%02X 0x%02X", ErrInvalidResponse, b[0], b[1])
	}
}

// ParseRomError decodes the 16-bit little-endian error code following "FL".
func ParseRomError(operation string, code []byte) (*RomError, error) {
	if len(code) != ErrorCodeSize {
		return nil, fmt.Errorf("error code must be %d bytes, got %d", ErrorCodeSize, len(code))
	}

	return &RomError{
		Operation: operation,
		Code:      binary.LittleEndian.Uint16(code),
	}, nil
}

// ParseLength decodes the 16-bit little-endian payload length of a response.
func ParseLength(b []byte) (uint16, error) {
	if len(b) != LengthSize {
		return 0, fmt.Errorf("length must be %d bytes, got %d", LengthSize, len(b))
	}
	return binary.LittleEndian.Uint16(b), nil
}

// ParseBootInfoResponse parses the BootInfo response payload.
//
// Data format (BootInfoSize bytes):
//
//	[BOOTROM_VERSION(4)][OTP_INFO(16)]
func ParseBootInfoResponse(data []byte) (*BootInfo, error) {
	if len(data) != BootInfoSize {
		return nil, fmt.Errorf("invalid data length for BootInfo response: got %d bytes, expected %d", len(data), BootInfoSize)
	}

	info := &BootInfo{
		BootromVersion: binary.LittleEndian.Uint32(data[0:4]),
	}
	copy(info.OTPInfo[:], data[4:20])

	return info, nil
}

// ParseSha256Response parses the Sha256Read response payload.
func ParseSha256Response(data []byte) ([Sha256Size]byte, error) {
	var digest [Sha256Size]byte
	if len(data) != Sha256Size {
		return digest, fmt.Errorf("invalid data length for Sha256Read response: got %d bytes, expected %d", len(data), Sha256Size)
	}

	copy(digest[:], data)
	return digest, nil
}

// BuildResponse constructs a response as a device would send it.
// A nil payload produces a bare "OK"; a non-nil payload is length-prefixed.
func BuildResponse(payload []byte) []byte {
	resp := append([]byte{}, StatusOK[:]...)
	if payload == nil {
		return resp
	}

	lenBytes := make([]byte, LengthSize)
	binary.LittleEndian.PutUint16(lenBytes, uint16(len(payload)))
	resp = append(resp, lenBytes...)

	return append(resp, payload...)
}

// BuildFailResponse constructs a "FL" response carrying a ROM error code.
func BuildFailResponse(code uint16) []byte {
	resp := append([]byte{}, StatusFail[:]...)
	codeBytes := make([]byte, ErrorCodeSize)
	binary.LittleEndian.PutUint16(codeBytes, code)
	return append(resp, codeBytes...)
}

// ParseCommand splits a request frame into its command code and payload.
// It is the inverse of BuildCommand and is used by device simulators.
func ParseCommand(frame []byte) (cmd byte, payload []byte, err error) {
	if len(frame) < HeaderSize {
		return 0, nil, fmt.Errorf("frame too short: got %d bytes, minimum is %d", len(frame), HeaderSize)
	}

	dataLen := int(binary.LittleEndian.Uint16(frame[2:4]))
	if len(frame) != HeaderSize+dataLen {
		return 0, nil, fmt.Errorf("frame length mismatch: got %d bytes, expected %d (HeaderSize=%d + dataLen=%d)",
			len(frame), HeaderSize+dataLen, HeaderSize, dataLen)
	}

	return frame[0], frame[HeaderSize:], nil
}
