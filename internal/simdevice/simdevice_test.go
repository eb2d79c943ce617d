package simdevice

import (
	"crypto/sha256"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moffa90/go-blflash/protocol"
)

func send(t *testing.T, d *Device, frame []byte, err error) {
	t.Helper()
	require.NoError(t, err)
	_, werr := d.Write(frame)
	require.NoError(t, werr)
}

func drain(t *testing.T, d *Device) []byte {
	t.Helper()

	buf := make([]byte, 8192)
	n, err := d.Read(buf)
	require.NoError(t, err)
	return buf[:n]
}

func TestHandshake(t *testing.T) {
	d := New(16)
	_, err := d.Open("sim", 115200)
	require.NoError(t, err)

	_, err = d.Write(protocol.BuildHandshake(115200, 5))
	require.NoError(t, err)

	assert.Equal(t, protocol.StatusOK[:], drain(t, d))
	assert.Equal(t, 1, d.Handshakes())
}

func TestDropHandshakes(t *testing.T) {
	d := New(16)
	d.DropHandshakes(1)
	require.NoError(t, d.SetReadTimeout(time.Millisecond))

	_, err := d.Write([]byte{0x55, 0x55})
	require.NoError(t, err)
	assert.Empty(t, drain(t, d))

	_, err = d.Write([]byte{0x55, 0x55})
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusOK[:], drain(t, d))
}

func TestEraseProgramRead(t *testing.T) {
	d := New(64)

	cmd, err := protocol.BuildFlashProgramCmd(8, []byte{0x0F, 0xF0})
	send(t, d, cmd, err)
	assert.Equal(t, protocol.BuildResponse(nil), drain(t, d))

	cmd, err = protocol.BuildFlashReadCmd(8, 2)
	send(t, d, cmd, err)
	assert.Equal(t, protocol.BuildResponse([]byte{0x0F, 0xF0}), drain(t, d))

	// Programming without erase only clears bits.
	cmd, err = protocol.BuildFlashProgramCmd(8, []byte{0xF0, 0xFF})
	send(t, d, cmd, err)
	drain(t, d)
	assert.Equal(t, []byte{0x00, 0xF0}, d.Flash()[8:10])

	cmd, err = protocol.BuildFlashEraseCmd(0, 64)
	send(t, d, cmd, err)
	drain(t, d)
	assert.Equal(t, []byte{0xFF, 0xFF}, d.Flash()[8:10])
}

func TestSha256Read(t *testing.T) {
	d := New(32)
	d.Load(0, []byte("hello"))

	cmd, err := protocol.BuildSha256ReadCmd(0, 5)
	send(t, d, cmd, err)

	digest := sha256.Sum256([]byte("hello"))
	assert.Equal(t, protocol.BuildResponse(digest[:]), drain(t, d))
}

func TestSplitFrames(t *testing.T) {
	d := New(16)

	cmd, err := protocol.BuildBootInfoCmd()
	require.NoError(t, err)

	_, err = d.Write(cmd[:2])
	require.NoError(t, err)
	require.NoError(t, d.SetReadTimeout(time.Millisecond))
	assert.Empty(t, drain(t, d))

	_, err = d.Write(cmd[2:])
	require.NoError(t, err)

	resp := drain(t, d)
	require.Len(t, resp, protocol.StatusSize+protocol.LengthSize+protocol.BootInfoSize)
	assert.Equal(t, BootromVersion, binary.LittleEndian.Uint32(resp[4:8]))
}

func TestFailureInjection(t *testing.T) {
	t.Run("fail command", func(t *testing.T) {
		d := New(16)
		d.FailCommand(protocol.CmdFlashErase, 0x1234)

		cmd, err := protocol.BuildFlashEraseCmd(0, 4)
		send(t, d, cmd, err)
		assert.Equal(t, protocol.BuildFailResponse(0x1234), drain(t, d))
	})

	t.Run("require loader", func(t *testing.T) {
		d := New(16)
		d.RequireLoader(true)

		cmd, err := protocol.BuildFlashReadCmd(0, 4)
		send(t, d, cmd, err)
		assert.Equal(t, protocol.BuildFailResponse(ErrCodeNoLoader), drain(t, d))
	})

	t.Run("out of range", func(t *testing.T) {
		d := New(16)

		cmd, err := protocol.BuildFlashReadCmd(8, 16)
		send(t, d, cmd, err)
		assert.Equal(t, protocol.BuildFailResponse(ErrCodeOutOfRange), drain(t, d))
	})

	t.Run("unknown command", func(t *testing.T) {
		d := New(16)

		cmd, err := protocol.BuildCommand(0x7E, nil)
		send(t, d, cmd, err)
		assert.Equal(t, protocol.BuildFailResponse(ErrCodeUnknownCommand), drain(t, d))
		assert.Equal(t, []byte{0x7E}, d.Commands())
	})
}

func TestClose(t *testing.T) {
	d := New(16)

	require.NoError(t, d.Close())
	assert.ErrorIs(t, d.Close(), ErrClosed)

	_, err := d.Write([]byte{0x10})
	assert.ErrorIs(t, err, ErrClosed)

	_, err = d.Open("sim", 9600)
	require.NoError(t, err)
	_, err = d.Write([]byte{0x55})
	assert.NoError(t, err)
	assert.Equal(t, 1, d.Closes())
}
