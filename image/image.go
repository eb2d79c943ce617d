package image

import (
	"bytes"
	"debug/elf"
	"io"
	"os"

	"github.com/pkg/errors"
)

const (
	// FlashBase is where the BL602 maps external flash into the address space (XIP).
	FlashBase = 0x23000000

	// FlashWindow is the size of the XIP flash window.
	FlashWindow = 16 * 1024 * 1024

	// erased is the value of an erased flash byte
	erased = 0xFF
)

var elfMagic = []byte{0x7F, 'E', 'L', 'F'}

// Format identifies how an image was encoded.
type Format int

const (
	FormatRaw Format = iota
	FormatELF
)

func (f Format) String() string {
	switch f {
	case FormatRaw:
		return "raw"
	case FormatELF:
		return "elf"
	default:
		return "unknown"
	}
}

// Segment is a block of bytes placed at a physical address.
type Segment struct {
	// Addr is the physical load address
	Addr uint32

	// Data is the segment's file contents
	Data []byte
}

// Image is a parsed firmware image.
type Image struct {
	// Format is the detected encoding
	Format Format

	// Entry is the ELF entry point (zero for raw images)
	Entry uint32

	// Segments holds the loadable ELF segments in file order (nil for raw images)
	Segments []Segment

	raw []byte
}

// Parse reads and parses the image at path.
//
// Example:
//
//	img, err := image.Parse("app.bin")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("%s image\n", img.Format)
func Parse(path string) (*Image, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read image")
	}

	img, err := ParseBytes(b)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}

	return img, nil
}

// ParseBytes parses an image held in memory. Data starting with the ELF magic
// is parsed as ELF; anything else is a raw image.
func ParseBytes(b []byte) (*Image, error) {
	if len(b) == 0 {
		return nil, errors.New("empty image")
	}

	if !bytes.HasPrefix(b, elfMagic) {
		return &Image{Format: FormatRaw, raw: b}, nil
	}

	return parseELF(b)
}

func parseELF(b []byte) (*Image, error) {
	f, err := elf.NewFile(bytes.NewReader(b))
	if err != nil {
		return nil, errors.Wrap(err, "invalid ELF")
	}
	defer func() { _ = f.Close() }()

	img := &Image{
		Format: FormatELF,
		Entry:  uint32(f.Entry),
	}

	for i, p := range f.Progs {
		if p.Type != elf.PT_LOAD || p.Filesz == 0 || p.Off == 0 {
			continue
		}

		data, err := io.ReadAll(p.Open())
		if err != nil {
			return nil, errors.Wrapf(err, "read segment %d", i)
		}

		img.Segments = append(img.Segments, Segment{
			Addr: uint32(p.Paddr),
			Data: data,
		})
	}

	return img, nil
}

// FlashBin returns the bytes to write at flash offset 0.
//
// A raw image is returned unchanged. ELF segments inside the XIP window are
// copied to their offset from FlashBase; gaps are filled with 0xFF and
// segments outside the window are skipped.
func (img *Image) FlashBin() ([]byte, error) {
	if img.Format == FormatRaw {
		return img.raw, nil
	}

	var size uint32
	var inFlash []Segment
	for _, s := range img.Segments {
		if s.Addr < FlashBase || uint64(s.Addr)+uint64(len(s.Data)) > FlashBase+FlashWindow {
			continue
		}
		inFlash = append(inFlash, s)
		size = max(size, s.Addr-FlashBase+uint32(len(s.Data)))
	}

	if len(inFlash) == 0 {
		return nil, errors.Errorf("no loadable segments in the flash window 0x%08X-0x%08X", FlashBase, FlashBase+FlashWindow)
	}

	bin := bytes.Repeat([]byte{erased}, int(size))
	for _, s := range inFlash {
		copy(bin[s.Addr-FlashBase:], s.Data)
	}

	return bin, nil
}
