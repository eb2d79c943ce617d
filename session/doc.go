// Package session orchestrates device sessions for the DUMP, FLASH and CHECK operations.
//
// # Overview
//
// Each operation follows the same sequence:
//   - Validate the configuration (never touches hardware)
//   - Require the module to be initialized
//   - For flash and check, load the image from the staging store
//   - Open a session through a device.Programmer
//   - Transfer, then release the session on every exit path
//
// # Basic Usage
//
//	store := staging.New()
//	state := lifecycle.New(initFunc)
//	if err := state.Initialize(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	orch := session.New(store, state, bootloader.NewOpener())
//
//	store.Write("app.bin", image)
//	err := orch.Flash(ctx, session.FlashConfig{
//	    Connection: session.Connection{Port: "/dev/ttyUSB0", BaudRate: 1000000, InitialBaudRate: 115200},
//	    Image:      "app.bin",
//	})
//
// # Errors
//
// Every failure is a *Error whose Kind tells the caller what happened:
//
//	if session.IsKind(err, session.KindNotInitialized) {
//	    // initialize first, then retry
//	}
//
// # Cancellation
//
// Cancelling the context stops the transfer at the next command boundary. The
// device handle is still closed and the error has KindCancelled.
package session
