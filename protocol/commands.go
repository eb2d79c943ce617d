package protocol

import (
	"encoding/binary"
	"fmt"
)

// BuildCommand constructs a request frame for any command code.
//
// Frame structure:
//
//	[CMD][CHECKSUM][LEN_L][LEN_H][PAYLOAD...]
//
// The checksum byte is left at zero; neither the boot ROM nor the eflash
// loader require it.
func BuildCommand(cmd byte, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("payload length %d exceeds maximum %d bytes", len(payload), MaxPayloadSize)
	}

	frame := make([]byte, HeaderSize, HeaderSize+len(payload))
	frame[0] = cmd
	frame[1] = 0
	binary.LittleEndian.PutUint16(frame[2:4], uint16(len(payload)))

	return append(frame, payload...), nil
}

// BuildBootInfoCmd constructs a BootInfo request (no payload).
func BuildBootInfoCmd() ([]byte, error) {
	return BuildCommand(CmdBootInfo, nil)
}

// BuildLoadBootHeaderCmd constructs a LoadBootHeader request.
// The header must be exactly BootHeaderSize bytes.
func BuildLoadBootHeaderCmd(header []byte) ([]byte, error) {
	if len(header) != BootHeaderSize {
		return nil, fmt.Errorf("boot header must be exactly %d bytes, got %d", BootHeaderSize, len(header))
	}
	return BuildCommand(CmdLoadBootHeader, header)
}

// BuildLoadSegmentHeaderCmd constructs a LoadSegmentHeader request.
// The header must be exactly SegmentHeaderSize bytes.
func BuildLoadSegmentHeaderCmd(header []byte) ([]byte, error) {
	if len(header) != SegmentHeaderSize {
		return nil, fmt.Errorf("segment header must be exactly %d bytes, got %d", SegmentHeaderSize, len(header))
	}
	return BuildCommand(CmdLoadSegmentHeader, header)
}

// BuildLoadSegmentDataCmd constructs a LoadSegmentData request carrying one chunk.
func BuildLoadSegmentDataCmd(data []byte) ([]byte, error) {
	if err := checkChunk(data); err != nil {
		return nil, err
	}
	return BuildCommand(CmdLoadSegmentData, data)
}

// BuildCheckImageCmd constructs a CheckImage request (no payload).
func BuildCheckImageCmd() ([]byte, error) {
	return BuildCommand(CmdCheckImage, nil)
}

// BuildRunImageCmd constructs a RunImage request (no payload).
func BuildRunImageCmd() ([]byte, error) {
	return BuildCommand(CmdRunImage, nil)
}

// BuildFlashEraseCmd constructs a FlashErase request for the range [start, end).
//
// Payload structure:
//
//	[START(4)][END(4)]
func BuildFlashEraseCmd(start, end uint32) ([]byte, error) {
	if end < start {
		return nil, fmt.Errorf("erase end 0x%08X is before start 0x%08X", end, start)
	}

	payload := make([]byte, 8)
	binary.LittleEndian.PutUint32(payload[0:4], start)
	binary.LittleEndian.PutUint32(payload[4:8], end)

	return BuildCommand(CmdFlashErase, payload)
}

// BuildFlashProgramCmd constructs a FlashProgram request writing data at addr.
//
// Payload structure:
//
//	[ADDR(4)][DATA...]
func BuildFlashProgramCmd(addr uint32, data []byte) ([]byte, error) {
	if err := checkChunk(data); err != nil {
		return nil, err
	}

	payload := make([]byte, 4, 4+len(data))
	binary.LittleEndian.PutUint32(payload, addr)
	payload = append(payload, data...)

	return BuildCommand(CmdFlashProgram, payload)
}

// BuildFlashReadCmd constructs a FlashRead request for size bytes at addr.
//
// Payload structure:
//
//	[ADDR(4)][SIZE(4)]
func BuildFlashReadCmd(addr, size uint32) ([]byte, error) {
	if size == 0 {
		return nil, fmt.Errorf("read size cannot be zero")
	}
	if size > ReadBlockSize {
		return nil, fmt.Errorf("read size %d exceeds maximum %d bytes", size, ReadBlockSize)
	}

	return BuildCommand(CmdFlashRead, addrLenPayload(addr, size))
}

// BuildSha256ReadCmd constructs a Sha256Read request for length bytes at addr.
//
// Payload structure:
//
//	[ADDR(4)][LEN(4)]
func BuildSha256ReadCmd(addr, length uint32) ([]byte, error) {
	return BuildCommand(CmdSha256Read, addrLenPayload(addr, length))
}

func addrLenPayload(addr, n uint32) []byte {
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint32(payload[0:4], addr)
	binary.LittleEndian.PutUint32(payload[4:8], n)
	return payload
}

func checkChunk(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("data cannot be empty")
	}
	if len(data) > MaxChunkSize {
		return fmt.Errorf("data length %d exceeds maximum %d bytes", len(data), MaxChunkSize)
	}
	return nil
}

// HandshakeLength returns how many HandshakeByte values fill the line for
// durationMs milliseconds at the given baud rate (10 bits per byte on the wire).
func HandshakeLength(baudRate uint32, durationMs int) int {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	return int(baudRate) / 10 / 1000 * durationMs
}

// BuildHandshake returns the handshake burst for the given baud rate.
func BuildHandshake(baudRate uint32, durationMs int) []byte {
	burst := make([]byte, HandshakeLength(baudRate, durationMs))
	for i := range burst {
		burst[i] = HandshakeByte
	}
	return burst
}
