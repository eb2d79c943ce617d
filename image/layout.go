package image

import (
	"github.com/pkg/errors"
)

const (
	// Boot2Offset is where boot2 and a boot2-less application start inside
	// their header-wrapped image.
	Boot2Offset = 0x2000

	// FirmwareOffset is where the application starts inside its image when
	// boot2 loads it from the FW partition.
	FirmwareOffset = 0x1000

	// FirmwarePartition names the partition boot2 boots from.
	FirmwarePartition = "FW"
)

// Region is a block of bytes to write at a flash address.
type Region struct {
	Name    string
	Address uint32
	Data    []byte
}

// Raw places bin at flash offset 0 unchanged.
func Raw(bin []byte) []Region {
	return []Region{{Name: "image", Address: 0, Data: bin}}
}

// WithoutBoot2 wraps bin in a boot header so the boot ROM starts it
// directly from flash offset 0.
func WithoutBoot2(hdr BootHeaderConfig, bin []byte) ([]Region, error) {
	img, err := hdr.MakeImage(Boot2Offset, bin)
	if err != nil {
		return nil, errors.Wrap(err, "build firmware image")
	}

	return []Region{{Name: "firmware", Address: 0, Data: img}}, nil
}

// WithBoot2 lays out boot2 at offset 0, both partition table copies and the
// application in the FW partition.
func WithBoot2(pt PartitionConfig, hdr BootHeaderConfig, boot2, bin []byte) ([]Region, error) {
	table, err := pt.Bytes()
	if err != nil {
		return nil, errors.Wrap(err, "encode partition table")
	}

	fw, ok := pt.Entry(FirmwarePartition)
	if !ok {
		return nil, errors.Errorf("partition table has no %s entry", FirmwarePartition)
	}

	boot2Img, err := hdr.MakeImage(Boot2Offset, boot2)
	if err != nil {
		return nil, errors.Wrap(err, "build boot2 image")
	}

	fwImg, err := hdr.MakeImage(FirmwareOffset, bin)
	if err != nil {
		return nil, errors.Wrap(err, "build firmware image")
	}
	if uint64(len(fwImg)) > uint64(fw.Size0) {
		return nil, errors.Errorf("firmware image of %d bytes does not fit the %s partition (%d bytes)",
			len(fwImg), FirmwarePartition, fw.Size0)
	}

	return []Region{
		{Name: "boot2", Address: 0, Data: boot2Img},
		{Name: "partition", Address: pt.Table.Address0, Data: table},
		{Name: "partition-backup", Address: pt.Table.Address1, Data: table},
		{Name: "firmware", Address: fw.Address0, Data: fwImg},
	}, nil
}
