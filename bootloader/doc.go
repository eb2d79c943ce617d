// Package bootloader programs Bouffalo Lab BL602 chips over a serial port.
//
// # Overview
//
// A Programmer talks to the chip in two stages:
//   - The boot ROM, reached by toggling RTS/DTR and sending a 0x55 handshake
//   - The eflash loader, uploaded to RAM and started by the boot ROM
//
// The eflash loader then serves flash erase, program, read and SHA-256
// commands at the bulk baud rate.
//
// # Basic Usage
//
//	port, err := serialport.Open("/dev/ttyUSB0", 115200)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	prog := bootloader.New(port, bootloader.WithEflashLoader(loader))
//	defer prog.Close()
//
//	if err := prog.Connect(ctx, 115200, 1000000); err != nil {
//	    log.Fatal(err)
//	}
//
//	data, err := prog.ReadRange(ctx, 0, 0x100000, nil)
//
// # Sessions
//
// Opener implements device.Programmer, so the session orchestrator can open
// one Programmer per operation:
//
//	orch := session.New(store, state, bootloader.NewOpener(
//	    bootloader.WithEflashLoader(loader),
//	    bootloader.WithSkipUnchanged(true),
//	))
//
// # Error Handling
//
// The package returns typed errors for device failures:
//
//	var romErr *protocol.RomError
//	if errors.As(err, &romErr) {
//	    fmt.Printf("%s rejected with code 0x%04X\n", romErr.Operation, romErr.Code)
//	}
//
//	var verr *bootloader.VerificationError
//	if errors.As(err, &verr) {
//	    fmt.Println("device contents differ after programming")
//	}
//
// ErrConnectionFailed and ErrTimeout are matched with errors.Is.
//
// # Cancellation
//
// Every blocking call takes a context. Responses are polled at the
// configured PollInterval, so a cancelled context is noticed within one
// interval. Close is always safe to call, including after a failure.
package bootloader
