// Package protocol implements the BL602 boot ROM and eflash loader serial protocol.
//
// This package provides functions to build request frames and parse responses.
// It performs no I/O; package bootloader drives a serial port with it.
//
// # Protocol Overview
//
// Requests share one layout:
//
//	[CMD][CHECKSUM][LEN_L][LEN_H][PAYLOAD...]
//
// Responses open with a two-byte status marker:
//
//	OK:   [0x4F][0x4B]                          (no payload)
//	OK:   [0x4F][0x4B][LEN_L][LEN_H][DATA...]   (with payload)
//	FL:   [0x46][0x4C][CODE_L][CODE_H]
//
// Before any command the host repeats HandshakeByte on the line for a few
// milliseconds so the ROM can lock onto the baud rate; the ROM answers "OK".
//
// # Command Builders
//
//	frame, err := protocol.BuildFlashReadCmd(0x0, 4096)
//	frame, err := protocol.BuildFlashProgramCmd(addr, chunk)
//
// # Response Parsers
//
//	status, err := protocol.ParseStatus(hdr)
//	info, err := protocol.ParseBootInfoResponse(data)
//	digest, err := protocol.ParseSha256Response(data)
//
// # Error Handling
//
// A "FL" response is reported as a *RomError carrying the device code:
//
//	romErr, _ := protocol.ParseRomError("flash read", code)
//	// romErr.Error() returns: "flash read failed: ROM error 0x0005"
package protocol
