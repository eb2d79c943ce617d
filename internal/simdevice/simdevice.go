// Package simdevice simulates a BL602 boot ROM and eflash loader behind a
// serial port. It validates request frames, keeps a flash array and answers
// the way the chip does, with hooks to inject failures.
package simdevice

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/moffa90/go-blflash/protocol"
	"github.com/moffa90/go-blflash/serialport"
)

// ROM error codes returned by the simulator.
const (
	ErrCodeUnknownCommand uint16 = 0x0102
	ErrCodeBadLength      uint16 = 0x0103
	ErrCodeOutOfRange     uint16 = 0x0204
	ErrCodeNoLoader       uint16 = 0x0301
)

// BootromVersion is reported by the BootInfo command.
const BootromVersion uint32 = 0x00000001

// ErrClosed is returned by Read and Write after Close.
var ErrClosed = errors.New("simulated port is closed")

var _ serialport.Port = (*Device)(nil)

// Device is a simulated chip reachable through serialport.Port.
type Device struct {
	mu sync.Mutex

	flash []byte
	in    []byte
	out   bytes.Buffer

	closed      bool
	readTimeout time.Duration

	loaderHeader  []byte
	loaderData    int
	loaderRunning bool

	// failure injection
	requireLoader  bool
	failCommands   map[byte]uint16
	dropHandshakes int
	silent         bool
	corrupt        bool
	shortReads     bool
	failReadAt     int
	openErr        error

	// counters
	opens      int
	closes     int
	handshakes int
	reads      int
	baudRates  []uint32
	lineOps    int
	commands   []byte
}

// New returns a device with size bytes of erased (0xFF) flash.
func New(size int) *Device {
	flash := make([]byte, size)
	for i := range flash {
		flash[i] = 0xFF
	}

	return &Device{
		flash:        flash,
		failCommands: make(map[byte]uint16),
		failReadAt:   -1,
	}
}

// Open reopens the simulated port at baud. Its signature matches
// bootloader.PortOpener.
func (d *Device) Open(name string, baud uint32) (serialport.Port, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.openErr != nil {
		return nil, errors.Wrapf(d.openErr, "open serial port %q", name)
	}

	d.opens++
	d.closed = false
	d.in = nil
	d.out.Reset()
	d.loaderRunning = false
	d.baudRates = append(d.baudRates, baud)

	return d, nil
}

// Load writes data into flash at addr, bypassing the protocol.
func (d *Device) Load(addr int, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	copy(d.flash[addr:], data)
}

// Flash returns a copy of the flash contents.
func (d *Device) Flash() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]byte{}, d.flash...)
}

// RequireLoader makes flash commands fail until an eflash loader has run.
func (d *Device) RequireLoader(require bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requireLoader = require
}

// FailCommand makes every cmd request fail with the given ROM error code.
func (d *Device) FailCommand(cmd byte, code uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failCommands[cmd] = code
}

// DropHandshakes ignores the next n handshake bursts.
func (d *Device) DropHandshakes(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dropHandshakes = n
}

// SetSilent stops the device from answering anything.
func (d *Device) SetSilent(silent bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.silent = silent
}

// CorruptPrograms flips the low bit of the first byte of every programmed chunk.
func (d *Device) CorruptPrograms(corrupt bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.corrupt = corrupt
}

// ShortReads makes flash reads answer with an empty payload.
func (d *Device) ShortReads(short bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shortReads = short
}

// FailReadAt makes the n-th flash read (0-based) fail with ErrCodeOutOfRange.
func (d *Device) FailReadAt(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failReadAt = n
}

// FailOpen makes Open return err.
func (d *Device) FailOpen(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.openErr = err
}

// Opens returns how many times the port was opened.
func (d *Device) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// Closes returns how many times the port was closed.
func (d *Device) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

// Handshakes returns how many handshakes were answered.
func (d *Device) Handshakes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handshakes
}

// BaudRates returns every baud rate the port was opened or set at, in order.
func (d *Device) BaudRates() []uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uint32{}, d.baudRates...)
}

// LineOps returns how many RTS and DTR changes were made.
func (d *Device) LineOps() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lineOps
}

// Commands returns the command codes received, in order.
func (d *Device) Commands() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte{}, d.commands...)
}

// LoaderRunning reports whether an eflash loader was uploaded and started.
func (d *Device) LoaderRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loaderRunning
}

// Read returns pending response bytes. With nothing pending it waits for the
// read timeout and returns (0, nil), like a real port.
func (d *Device) Read(p []byte) (int, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return 0, ErrClosed
	}
	if d.out.Len() > 0 {
		n, _ := d.out.Read(p)
		d.mu.Unlock()
		return n, nil
	}
	wait := d.readTimeout
	d.mu.Unlock()

	time.Sleep(wait)

	return 0, nil
}

// Write feeds request bytes to the simulated chip.
func (d *Device) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return 0, ErrClosed
	}

	data := p
	if len(d.in) == 0 && len(data) > 0 && data[0] == protocol.HandshakeByte {
		for len(data) > 0 && data[0] == protocol.HandshakeByte {
			data = data[1:]
		}
		d.handleHandshake()
	}

	d.in = append(d.in, data...)
	d.processFrames()

	return len(p), nil
}

func (d *Device) SetBaudRate(baud uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.baudRates = append(d.baudRates, baud)
	return nil
}

func (d *Device) SetReadTimeout(timeout time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.readTimeout = timeout
	return nil
}

func (d *Device) SetRTS(bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lineOps++
	return nil
}

func (d *Device) SetDTR(bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lineOps++
	return nil
}

func (d *Device) Flush() error {
	return nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	d.closed = true
	d.closes++

	return nil
}

func (d *Device) handleHandshake() {
	if d.silent {
		return
	}
	if d.dropHandshakes > 0 {
		d.dropHandshakes--
		return
	}

	d.handshakes++
	d.out.Write(protocol.StatusOK[:])
}

func (d *Device) processFrames() {
	for len(d.in) >= protocol.HeaderSize {
		n := protocol.HeaderSize + int(binary.LittleEndian.Uint16(d.in[2:4]))
		if len(d.in) < n {
			return
		}

		frame := d.in[:n]
		d.in = d.in[n:]

		cmd, payload, err := protocol.ParseCommand(frame)
		if err != nil {
			d.fail(ErrCodeBadLength)
			continue
		}

		d.commands = append(d.commands, cmd)
		if d.silent {
			continue
		}
		if code, ok := d.failCommands[cmd]; ok {
			d.fail(code)
			continue
		}

		d.handle(cmd, payload)
	}
}

func (d *Device) handle(cmd byte, payload []byte) {
	switch cmd {
	case protocol.CmdBootInfo:
		info := make([]byte, protocol.BootInfoSize)
		binary.LittleEndian.PutUint32(info[0:4], BootromVersion)
		copy(info[4:], "SIMULATED-BL602!")
		d.ok(info)

	case protocol.CmdLoadBootHeader:
		if len(payload) != protocol.BootHeaderSize {
			d.fail(ErrCodeBadLength)
			return
		}
		d.loaderHeader = nil
		d.loaderData = 0
		d.ok(nil)

	case protocol.CmdLoadSegmentHeader:
		if len(payload) != protocol.SegmentHeaderSize {
			d.fail(ErrCodeBadLength)
			return
		}
		d.loaderHeader = append([]byte{}, payload...)
		d.ok(payload)

	case protocol.CmdLoadSegmentData:
		if d.loaderHeader == nil {
			d.fail(ErrCodeNoLoader)
			return
		}
		d.loaderData += len(payload)
		d.ok(nil)

	case protocol.CmdCheckImage:
		if d.loaderHeader == nil {
			d.fail(ErrCodeNoLoader)
			return
		}
		d.ok(nil)

	case protocol.CmdRunImage:
		if d.loaderHeader == nil {
			d.fail(ErrCodeNoLoader)
			return
		}
		d.loaderRunning = true
		d.ok(nil)

	case protocol.CmdFlashErase, protocol.CmdFlashProgram, protocol.CmdFlashRead, protocol.CmdSha256Read:
		if d.requireLoader && !d.loaderRunning {
			d.fail(ErrCodeNoLoader)
			return
		}
		d.handleFlash(cmd, payload)

	default:
		d.fail(ErrCodeUnknownCommand)
	}
}

func (d *Device) handleFlash(cmd byte, payload []byte) {
	if len(payload) < 4 || (cmd != protocol.CmdFlashProgram && len(payload) != 8) {
		d.fail(ErrCodeBadLength)
		return
	}

	addr := int(binary.LittleEndian.Uint32(payload[0:4]))

	switch cmd {
	case protocol.CmdFlashErase:
		end := int(binary.LittleEndian.Uint32(payload[4:8]))
		if !d.inRange(addr, end-addr) {
			d.fail(ErrCodeOutOfRange)
			return
		}
		for i := addr; i < end; i++ {
			d.flash[i] = 0xFF
		}
		d.ok(nil)

	case protocol.CmdFlashProgram:
		data := payload[4:]
		if !d.inRange(addr, len(data)) {
			d.fail(ErrCodeOutOfRange)
			return
		}
		// NOR flash only clears bits.
		for i, b := range data {
			d.flash[addr+i] &= b
		}
		if d.corrupt && len(data) > 0 {
			d.flash[addr] ^= 0x01
		}
		d.ok(nil)

	case protocol.CmdFlashRead:
		size := int(binary.LittleEndian.Uint32(payload[4:8]))
		read := d.reads
		d.reads++
		if read == d.failReadAt || !d.inRange(addr, size) {
			d.fail(ErrCodeOutOfRange)
			return
		}
		if d.shortReads {
			d.ok([]byte{})
			return
		}
		d.ok(d.flash[addr : addr+size])

	case protocol.CmdSha256Read:
		length := int(binary.LittleEndian.Uint32(payload[4:8]))
		if !d.inRange(addr, length) {
			d.fail(ErrCodeOutOfRange)
			return
		}
		digest := sha256.Sum256(d.flash[addr : addr+length])
		d.ok(digest[:])
	}
}

func (d *Device) inRange(addr, n int) bool {
	return addr >= 0 && n >= 0 && addr+n <= len(d.flash)
}

func (d *Device) ok(payload []byte) {
	d.out.Write(protocol.BuildResponse(payload))
}

func (d *Device) fail(code uint16) {
	d.out.Write(protocol.BuildFailResponse(code))
}
