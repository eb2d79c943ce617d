package bootloader

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/moffa90/go-blflash/device"
	"github.com/moffa90/go-blflash/protocol"
	"github.com/moffa90/go-blflash/serialport"
)

// handshakeBurst is how long the 0x55 burst keeps the line busy, in milliseconds.
const handshakeBurst = 5

// handshakePolls is how many response reads follow each burst.
const handshakePolls = 5

// Programmer drives a BL602 boot ROM and eflash loader over a serial port.
// It implements device.Handle once connected.
//
// Programmer is not safe for concurrent use: commands on one port are
// strictly sequential.
type Programmer struct {
	port   serialport.Port
	config Config

	baud     uint32
	bootInfo *protocol.BootInfo
	closed   bool
}

var _ device.Handle = (*Programmer)(nil)

// New creates a new Programmer on an open port with the given options.
//
// Example:
//
//	port, _ := serialport.Open("/dev/ttyUSB0", 115200)
//	prog := bootloader.New(port, bootloader.WithEflashLoader(loader))
//	err := prog.Connect(ctx, 115200, 1000000)
func New(port serialport.Port, opts ...Option) *Programmer {
	if port == nil {
		panic("port cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Programmer{
		port:   port,
		config: cfg,
	}
}

// Connect brings the chip up for flash access:
//  1. Reset into the boot ROM at initialBaud
//  2. Handshake, retrying up to ConnectRetries times
//  3. Read the boot info
//  4. Upload and run the eflash loader, if configured
//  5. Switch to baud and handshake again
//
// Without a loader, and unless RequireEflashLoader is off, Connect fails with
// ErrEflashLoaderRequired before touching the port.
//
// The operation can be cancelled via context.
func (p *Programmer) Connect(ctx context.Context, initialBaud, baud uint32) error {
	if err := p.config.checkLoader(); err != nil {
		return err
	}

	if err := p.setBaud(initialBaud); err != nil {
		return err
	}
	if err := p.port.SetReadTimeout(p.config.PollInterval); err != nil {
		return errors.Wrap(err, "set read timeout")
	}

	p.logInfo("start connection", "baud", initialBaud)

	if err := p.resetToFlash(ctx); err != nil {
		return errors.Wrap(err, "reset to flash")
	}

	if err := p.startConnection(ctx); err != nil {
		return err
	}

	info, err := p.getBootInfo(ctx)
	if err != nil {
		return errors.Wrap(err, "get boot info")
	}
	p.bootInfo = info

	p.logDebug("boot info",
		"bootrom_version", fmt.Sprintf("0x%08X", info.BootromVersion),
		"otp_info", fmt.Sprintf("%X", info.OTPInfo),
	)

	if len(p.config.EflashLoader) > 0 {
		if err := p.loadEflashLoader(ctx); err != nil {
			return errors.Wrap(err, "load eflash loader")
		}
	}

	if baud != p.baud || len(p.config.EflashLoader) > 0 {
		if err := p.setBaud(baud); err != nil {
			return err
		}
		if err := p.handshake(ctx); err != nil {
			return errors.Wrapf(err, "handshake at %d baud", baud)
		}
	}

	p.logInfo("connected", "baud", p.baud)

	return nil
}

// BootInfo returns the boot ROM information read by Connect, or nil.
func (p *Programmer) BootInfo() *protocol.BootInfo {
	return p.bootInfo
}

// ReadRange reads flash bytes [start, end) in ReadBlockSize blocks.
func (p *Programmer) ReadRange(ctx context.Context, start, end uint64, progress device.ProgressCallback) ([]byte, error) {
	if end <= start {
		return nil, errors.Errorf("end 0x%X must be greater than start 0x%X", end, start)
	}
	if end > protocol.AddressLimit {
		return nil, errors.Errorf("end 0x%X is beyond the 32-bit address space", end)
	}

	startTime := time.Now()
	total := end - start
	buf := make([]byte, 0, total)

	progress.Report(device.Progress{Phase: device.PhaseReading, Total: total})

	for cur := start; cur < end; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		size := uint32(min(end-cur, protocol.ReadBlockSize))
		data, err := p.flashRead(ctx, uint32(cur), size)
		if err != nil {
			return nil, errors.Wrapf(err, "read 0x%08X", cur)
		}
		if len(data) == 0 {
			return nil, &ShortReadError{Address: uint32(cur), Want: size}
		}
		if len(data) > int(size) {
			return nil, errors.Wrapf(protocol.ErrInvalidResponse, "flash read returned %d bytes, requested %d", len(data), size)
		}

		buf = append(buf, data...)
		cur += uint64(len(data))

		progress.Report(device.Progress{
			Phase:   device.PhaseReading,
			Done:    uint64(len(buf)),
			Total:   total,
			Elapsed: time.Since(startTime),
		})
	}

	p.logThroughput("dump complete", total, time.Since(startTime))
	progress.Report(device.Progress{Phase: device.PhaseComplete, Done: total, Total: total, Elapsed: time.Since(startTime)})

	return buf, nil
}

// WriteImage erases flash [address, address+len(image)) and programs image
// there in order.
//
// With SkipUnchanged the write is skipped when the device already holds the
// image. With VerifyAfterWrite a SHA-256 mismatch returns *VerificationError.
// A failed write is not rolled back.
func (p *Programmer) WriteImage(ctx context.Context, address uint64, image []byte, progress device.ProgressCallback) error {
	addr, size, err := flashRange(address, image)
	if err != nil {
		return err
	}

	startTime := time.Now()
	total := uint64(size)
	digest := sha256.Sum256(image)

	if p.config.SkipUnchanged {
		actual, err := p.sha256Read(ctx, addr, size)
		if err != nil {
			return errors.Wrap(err, "read device sha256")
		}
		if actual == digest {
			p.logInfo("skip write, sha256 matches", "address", hexAddr(addr), "size", humanize.IBytes(total))
			progress.Report(device.Progress{Phase: device.PhaseComplete, Done: total, Total: total, Elapsed: time.Since(startTime)})
			return nil
		}
	}

	progress.Report(device.Progress{Phase: device.PhaseErasing, Total: total})
	p.logInfo("erase flash", "address", hexAddr(addr), "size", humanize.IBytes(total))

	if err := p.flashErase(ctx, addr, addr+size); err != nil {
		return errors.Wrap(err, "erase")
	}

	p.logInfo("program flash", "address", hexAddr(addr), "sha256", fmt.Sprintf("%x", digest))

	chunk := p.config.ChunkSize
	for off := 0; off < len(image); off += chunk {
		if err := ctx.Err(); err != nil {
			return err
		}

		cur := addr + uint32(off)
		data := image[off:min(off+chunk, len(image))]
		if err := p.flashProgram(ctx, cur, data); err != nil {
			return errors.Wrapf(err, "program 0x%08X", cur)
		}

		progress.Report(device.Progress{
			Phase:   device.PhaseWriting,
			Done:    uint64(off + len(data)),
			Total:   total,
			Elapsed: time.Since(startTime),
		})
	}

	p.logThroughput("program complete", total, time.Since(startTime))

	if p.config.VerifyAfterWrite {
		progress.Report(device.Progress{Phase: device.PhaseVerifying, Done: total, Total: total, Elapsed: time.Since(startTime)})

		actual, err := p.sha256Read(ctx, addr, size)
		if err != nil {
			return errors.Wrap(err, "read device sha256")
		}
		if actual != digest {
			return &VerificationError{Address: addr, Length: size, Expected: digest, Actual: actual}
		}
	}

	progress.Report(device.Progress{Phase: device.PhaseComplete, Done: total, Total: total, Elapsed: time.Since(startTime)})

	return nil
}

// Verify reports whether flash starting at address has the SHA-256 of image.
func (p *Programmer) Verify(ctx context.Context, address uint64, image []byte) (bool, error) {
	addr, size, err := flashRange(address, image)
	if err != nil {
		return false, err
	}

	digest := sha256.Sum256(image)

	actual, err := p.sha256Read(ctx, addr, size)
	if err != nil {
		return false, errors.Wrap(err, "read device sha256")
	}

	if actual != digest {
		p.logInfo("sha256 mismatch", "address", hexAddr(addr), "device", fmt.Sprintf("%x", actual), "image", fmt.Sprintf("%x", digest))
		return false, nil
	}

	p.logDebug("sha256 match", "address", hexAddr(addr), "size", size)

	return true, nil
}

// Reset restarts the chip into the application.
func (p *Programmer) Reset(ctx context.Context) error {
	if err := p.port.SetRTS(false); err != nil {
		return errors.Wrap(err, "set RTS")
	}
	if err := sleep(ctx, p.config.ResetDelay); err != nil {
		return err
	}
	if err := p.port.SetDTR(true); err != nil {
		return errors.Wrap(err, "set DTR")
	}
	if err := sleep(ctx, p.config.ResetDelay); err != nil {
		return err
	}
	if err := p.port.SetDTR(false); err != nil {
		return errors.Wrap(err, "set DTR")
	}
	return sleep(ctx, p.config.ResetDelay)
}

// Close releases the serial port. It is safe to call more than once.
func (p *Programmer) Close() {
	if p.closed {
		return
	}
	p.closed = true

	if err := p.port.Close(); err != nil {
		p.logError("close port", "error", err)
		return
	}

	p.logDebug("port closed")
}

func (p *Programmer) setBaud(baud uint32) error {
	if err := p.port.SetBaudRate(baud); err != nil {
		return err
	}
	p.baud = baud
	return nil
}

// resetToFlash toggles RTS and DTR so the chip boots into the ROM loader.
func (p *Programmer) resetToFlash(ctx context.Context) error {
	steps := []struct {
		set   func(bool) error
		level bool
	}{
		{p.port.SetRTS, true},
		{p.port.SetDTR, true},
		{p.port.SetDTR, false},
		{p.port.SetRTS, false},
	}

	for _, s := range steps {
		if err := s.set(s.level); err != nil {
			return err
		}
		if err := sleep(ctx, p.config.ResetDelay); err != nil {
			return err
		}
	}

	return nil
}

func (p *Programmer) startConnection(ctx context.Context) error {
	for i := 1; i <= p.config.ConnectRetries; i++ {
		if err := p.port.Flush(); err != nil {
			return errors.Wrap(err, "flush")
		}

		err := p.handshake(ctx)
		if err == nil {
			p.logInfo("connection succeeded", "attempt", i)
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		p.logDebug("handshake failed, retrying", "attempt", i, "error", err)
	}

	return errors.Wrapf(ErrConnectionFailed, "after %d attempts", p.config.ConnectRetries)
}

// handshake sends a burst of 0x55 and polls for "OK".
func (p *Programmer) handshake(ctx context.Context) error {
	burst := protocol.BuildHandshake(p.baud, handshakeBurst)
	p.logDebug("handshake", "baud", p.baud, "burst", len(burst))

	if _, err := p.port.Write(burst); err != nil {
		return errors.Wrap(err, "write handshake")
	}
	if err := p.port.Flush(); err != nil {
		return errors.Wrap(err, "flush")
	}
	if err := sleep(ctx, p.config.HandshakeDelay); err != nil {
		return err
	}

	var lastErr error
	for i := 0; i < handshakePolls; i++ {
		_, err := p.readResponse(ctx, "handshake", false, p.config.HandshakeTimeout)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		lastErr = err
	}

	return lastErr
}

func (p *Programmer) loadEflashLoader(ctx context.Context) error {
	loader := p.config.EflashLoader
	if len(loader) < protocol.BootHeaderSize+protocol.SegmentHeaderSize {
		return errors.Errorf("eflash loader is %d bytes, shorter than its %d header bytes",
			len(loader), protocol.BootHeaderSize+protocol.SegmentHeaderSize)
	}

	bootHeader := loader[:protocol.BootHeaderSize]
	segmentHeader := loader[protocol.BootHeaderSize : protocol.BootHeaderSize+protocol.SegmentHeaderSize]
	segmentData := loader[protocol.BootHeaderSize+protocol.SegmentHeaderSize:]

	cmd, err := protocol.BuildLoadBootHeaderCmd(bootHeader)
	if err != nil {
		return err
	}
	if _, err := p.command(ctx, protocol.CmdLoadBootHeader, cmd, false); err != nil {
		return err
	}

	cmd, err = protocol.BuildLoadSegmentHeaderCmd(segmentHeader)
	if err != nil {
		return err
	}
	echo, err := p.command(ctx, protocol.CmdLoadSegmentHeader, cmd, true)
	if err != nil {
		return err
	}
	if string(echo) != string(segmentHeader) {
		p.logError("segment header echo mismatch", "sent", fmt.Sprintf("%X", segmentHeader), "received", fmt.Sprintf("%X", echo))
	}

	startTime := time.Now()
	p.logInfo("sending eflash loader", "size", humanize.IBytes(uint64(len(loader))))

	for off := 0; off < len(segmentData); off += p.config.ChunkSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		cmd, err := protocol.BuildLoadSegmentDataCmd(segmentData[off:min(off+p.config.ChunkSize, len(segmentData))])
		if err != nil {
			return err
		}
		if _, err := p.command(ctx, protocol.CmdLoadSegmentData, cmd, false); err != nil {
			return errors.Wrapf(err, "segment data at offset %d", off)
		}
	}

	p.logThroughput("eflash loader sent", uint64(len(loader)), time.Since(startTime))

	if cmd, err = protocol.BuildCheckImageCmd(); err != nil {
		return err
	}
	if _, err := p.command(ctx, protocol.CmdCheckImage, cmd, false); err != nil {
		return err
	}

	if cmd, err = protocol.BuildRunImageCmd(); err != nil {
		return err
	}
	if _, err := p.command(ctx, protocol.CmdRunImage, cmd, false); err != nil {
		return err
	}

	return sleep(ctx, p.config.RunImageDelay)
}

func (p *Programmer) getBootInfo(ctx context.Context) (*protocol.BootInfo, error) {
	cmd, err := protocol.BuildBootInfoCmd()
	if err != nil {
		return nil, err
	}

	data, err := p.command(ctx, protocol.CmdBootInfo, cmd, true)
	if err != nil {
		return nil, err
	}

	return protocol.ParseBootInfoResponse(data)
}

func (p *Programmer) flashErase(ctx context.Context, start, end uint32) error {
	cmd, err := protocol.BuildFlashEraseCmd(start, end)
	if err != nil {
		return err
	}

	_, err = p.command(ctx, protocol.CmdFlashErase, cmd, false)
	return err
}

func (p *Programmer) flashProgram(ctx context.Context, addr uint32, data []byte) error {
	cmd, err := protocol.BuildFlashProgramCmd(addr, data)
	if err != nil {
		return err
	}

	_, err = p.command(ctx, protocol.CmdFlashProgram, cmd, false)
	return err
}

func (p *Programmer) flashRead(ctx context.Context, addr, size uint32) ([]byte, error) {
	cmd, err := protocol.BuildFlashReadCmd(addr, size)
	if err != nil {
		return nil, err
	}

	return p.command(ctx, protocol.CmdFlashRead, cmd, true)
}

func (p *Programmer) sha256Read(ctx context.Context, addr, length uint32) ([protocol.Sha256Size]byte, error) {
	cmd, err := protocol.BuildSha256ReadCmd(addr, length)
	if err != nil {
		return [protocol.Sha256Size]byte{}, err
	}

	data, err := p.command(ctx, protocol.CmdSha256Read, cmd, true)
	if err != nil {
		return [protocol.Sha256Size]byte{}, err
	}

	return protocol.ParseSha256Response(data)
}

// command sends a request frame and reads its response. When withPayload is
// set the response carries a length-prefixed payload, which is returned.
func (p *Programmer) command(ctx context.Context, cmd byte, frame []byte, withPayload bool) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if _, err := p.port.Write(frame); err != nil {
		return nil, errors.Wrapf(err, "write %s", protocol.CommandName(cmd))
	}
	if err := p.port.Flush(); err != nil {
		return nil, errors.Wrap(err, "flush")
	}

	return p.readResponse(ctx, protocol.CommandName(cmd), withPayload, p.config.Timeout)
}

// readResponse reads "OK" with an optional payload, or "FL" with a ROM error code.
func (p *Programmer) readResponse(ctx context.Context, op string, withPayload bool, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)

	status, err := p.readExact(ctx, protocol.StatusSize, deadline)
	if err != nil {
		return nil, err
	}

	kind, err := protocol.ParseStatus(status)
	if err != nil {
		return nil, err
	}

	if kind == protocol.StatusKindFail {
		code, err := p.readExact(ctx, protocol.ErrorCodeSize, deadline)
		if err != nil {
			return nil, err
		}
		romErr, err := protocol.ParseRomError(op, code)
		if err != nil {
			return nil, err
		}
		return nil, romErr
	}

	if !withPayload {
		return nil, nil
	}

	lenBytes, err := p.readExact(ctx, protocol.LengthSize, deadline)
	if err != nil {
		return nil, err
	}
	n, err := protocol.ParseLength(lenBytes)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return []byte{}, nil
	}

	return p.readExact(ctx, int(n), deadline)
}

// readExact reads n bytes, polling the port until deadline. The port returns
// no data when its read timeout expires, which bounds how long a cancelled
// ctx goes unnoticed.
func (p *Programmer) readExact(ctx context.Context, n int, deadline time.Time) ([]byte, error) {
	buf := make([]byte, n)

	for got := 0; got < n; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		m, err := p.port.Read(buf[got:])
		if err != nil {
			return nil, errors.Wrap(err, "read")
		}
		got += m

		if m == 0 && !time.Now().Before(deadline) {
			return nil, errors.Wrapf(ErrTimeout, "got %d of %d bytes", got, n)
		}
	}

	return buf, nil
}

func (p *Programmer) logThroughput(msg string, n uint64, elapsed time.Duration) {
	rate := "n/a"
	if ms := elapsed.Milliseconds(); ms > 0 {
		rate = humanize.IBytes(uint64(float64(n)/float64(ms)*1000)) + "/s"
	}

	p.logInfo(msg, "size", humanize.IBytes(n), "elapsed", elapsed.String(), "rate", rate)
}

// sleep pauses for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// flashRange checks that image is non-empty and fits below AddressLimit at address.
func flashRange(address uint64, image []byte) (uint32, uint32, error) {
	if len(image) == 0 {
		return 0, 0, errors.New("image cannot be empty")
	}
	if address+uint64(len(image)) > protocol.AddressLimit {
		return 0, 0, errors.Errorf("image of %d bytes at 0x%X does not fit the 32-bit address space", len(image), address)
	}
	return uint32(address), uint32(len(image)), nil
}

func hexAddr(addr uint32) string {
	return fmt.Sprintf("0x%08X", addr)
}
