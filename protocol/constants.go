package protocol

// Command codes understood by the BL602 boot ROM.
const (
	// CmdBootInfo reads the boot ROM version and OTP information
	CmdBootInfo = 0x10

	// CmdLoadBootHeader sends the 176-byte boot header of a RAM image
	CmdLoadBootHeader = 0x11

	// CmdLoadSegmentHeader sends the 16-byte segment header of a RAM image
	CmdLoadSegmentHeader = 0x17

	// CmdLoadSegmentData sends a chunk of RAM image segment data
	CmdLoadSegmentData = 0x18

	// CmdCheckImage asks the ROM to validate the loaded RAM image
	CmdCheckImage = 0x19

	// CmdRunImage jumps into the loaded RAM image
	CmdRunImage = 0x1A
)

// Command codes understood by the eflash loader once it is running.
const (
	// CmdFlashErase erases the flash range [start, end)
	CmdFlashErase = 0x30

	// CmdFlashProgram writes data at a flash address
	CmdFlashProgram = 0x31

	// CmdFlashRead reads up to ReadBlockSize bytes from a flash address
	CmdFlashRead = 0x32

	// CmdSha256Read computes the SHA-256 digest of a flash range on the device
	CmdSha256Read = 0x3D
)

// Response status markers. Every response starts with one of them.
var (
	// StatusOK ("OK") precedes a successful response
	StatusOK = [2]byte{0x4F, 0x4B}

	// StatusFail ("FL") precedes a 16-bit little-endian ROM error code
	StatusFail = [2]byte{0x46, 0x4C}
)

// Frame layout constants.
const (
	// HeaderSize is CMD(1) + CHECKSUM(1) + LEN(2)
	HeaderSize = 4

	// StatusSize is the size of the OK/FL marker
	StatusSize = 2

	// LengthSize is the size of the length prefix on response payloads
	LengthSize = 2

	// ErrorCodeSize is the size of the ROM error code following FL
	ErrorCodeSize = 2

	// MaxPayloadSize is the largest payload the 16-bit length field can describe
	MaxPayloadSize = 0xFFFF
)

// Sizes fixed by the boot ROM and the eflash loader.
const (
	// BootHeaderSize is the required boot header length
	BootHeaderSize = 176

	// SegmentHeaderSize is the required segment header length
	SegmentHeaderSize = 16

	// MaxChunkSize is the largest data chunk sent in a single LoadSegmentData or FlashProgram
	MaxChunkSize = 4000

	// ReadBlockSize is the largest range requested by a single FlashRead
	ReadBlockSize = 4096

	// Sha256Size is the digest length returned by Sha256Read
	Sha256Size = 32

	// BootInfoSize is the payload length of a BootInfo response
	BootInfoSize = 20

	// AddressLimit is one past the highest flash address a command can carry
	AddressLimit = 1 << 32
)

// HandshakeByte is repeated on the line to let the ROM detect the baud rate.
const HandshakeByte = 0x55

// DefaultBaudRate is used to size the handshake burst when no rate has been set.
const DefaultBaudRate = 115200
