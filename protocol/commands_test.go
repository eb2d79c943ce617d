package protocol

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCommand(t *testing.T) {
	tests := []struct {
		name    string
		cmd     byte
		payload []byte
		want    []byte
		wantErr bool
	}{
		{
			name: "no payload",
			cmd:  CmdBootInfo,
			want: []byte{CmdBootInfo, 0x00, 0x00, 0x00},
		},
		{
			name:    "with payload",
			cmd:     CmdFlashRead,
			payload: []byte{0x01, 0x02, 0x03},
			want:    []byte{CmdFlashRead, 0x00, 0x03, 0x00, 0x01, 0x02, 0x03},
		},
		{
			name:    "payload too large",
			cmd:     CmdFlashProgram,
			payload: make([]byte, MaxPayloadSize+1),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := BuildCommand(tt.cmd, tt.payload)
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, frame)
		})
	}
}

func TestBuildLoadHeaders(t *testing.T) {
	t.Run("boot header", func(t *testing.T) {
		frame, err := BuildLoadBootHeaderCmd(make([]byte, BootHeaderSize))
		require.NoError(t, err)
		assert.Equal(t, byte(CmdLoadBootHeader), frame[0])
		assert.Len(t, frame, HeaderSize+BootHeaderSize)

		_, err = BuildLoadBootHeaderCmd(make([]byte, BootHeaderSize-1))
		assert.ErrorContains(t, err, "boot header must be exactly 176 bytes")
	})

	t.Run("segment header", func(t *testing.T) {
		frame, err := BuildLoadSegmentHeaderCmd(make([]byte, SegmentHeaderSize))
		require.NoError(t, err)
		assert.Equal(t, byte(CmdLoadSegmentHeader), frame[0])

		_, err = BuildLoadSegmentHeaderCmd(nil)
		assert.ErrorContains(t, err, "segment header must be exactly 16 bytes")
	})
}

func TestBuildFlashEraseCmd(t *testing.T) {
	frame, err := BuildFlashEraseCmd(0x1000, 0x3000)
	require.NoError(t, err)

	cmd, payload, err := ParseCommand(frame)
	require.NoError(t, err)
	assert.Equal(t, byte(CmdFlashErase), cmd)
	assert.Equal(t, uint32(0x1000), binary.LittleEndian.Uint32(payload[0:4]))
	assert.Equal(t, uint32(0x3000), binary.LittleEndian.Uint32(payload[4:8]))

	_, err = BuildFlashEraseCmd(0x3000, 0x1000)
	assert.ErrorContains(t, err, "before start")
}

func TestBuildFlashProgramCmd(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr string
	}{
		{name: "single byte", data: []byte{0xAA}},
		{name: "max chunk", data: make([]byte, MaxChunkSize)},
		{name: "empty", data: nil, wantErr: "data cannot be empty"},
		{name: "too large", data: make([]byte, MaxChunkSize+1), wantErr: "exceeds maximum 4000 bytes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := BuildFlashProgramCmd(0x2000, tt.data)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			cmd, payload, err := ParseCommand(frame)
			require.NoError(t, err)
			assert.Equal(t, byte(CmdFlashProgram), cmd)
			assert.Equal(t, uint32(0x2000), binary.LittleEndian.Uint32(payload[0:4]))
			assert.Equal(t, tt.data, payload[4:])
		})
	}
}

func TestBuildFlashReadCmd(t *testing.T) {
	frame, err := BuildFlashReadCmd(0x10, ReadBlockSize)
	require.NoError(t, err)
	assert.Equal(t, []byte{CmdFlashRead, 0x00, 0x08, 0x00, 0x10, 0x00, 0x00, 0x00, 0x00, 0x10, 0x00, 0x00}, frame)

	_, err = BuildFlashReadCmd(0, 0)
	assert.ErrorContains(t, err, "cannot be zero")

	_, err = BuildFlashReadCmd(0, ReadBlockSize+1)
	assert.ErrorContains(t, err, "exceeds maximum")
}

func TestBuildLoadSegmentDataCmd(t *testing.T) {
	frame, err := BuildLoadSegmentDataCmd([]byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []byte{CmdLoadSegmentData, 0x00, 0x03, 0x00, 1, 2, 3}, frame)

	_, err = BuildLoadSegmentDataCmd(nil)
	assert.Error(t, err)
}

func TestHandshake(t *testing.T) {
	tests := []struct {
		name     string
		baudRate uint32
		ms       int
		want     int
	}{
		{name: "115200 for 5ms", baudRate: 115200, ms: 5, want: 55},
		{name: "2000000 for 5ms", baudRate: 2000000, ms: 5, want: 1000},
		{name: "unset rate uses default", baudRate: 0, ms: 5, want: 55},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HandshakeLength(tt.baudRate, tt.ms))

			burst := BuildHandshake(tt.baudRate, tt.ms)
			require.Len(t, burst, tt.want)
			for _, b := range burst {
				require.Equal(t, byte(HandshakeByte), b)
			}
		})
	}
}
