package image

import (
	_ "embed"
	"encoding/binary"
	"hash/crc32"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

const (
	partitionMagic      = "BFPT"
	partitionHeaderSize = 16
	partitionEntrySize  = 36

	// maxPartitionName leaves room for the terminating NUL in the 9-byte field
	maxPartitionName = 8
)

//go:embed defaults/partition_cfg_2M.toml
var defaultPartitionCfg []byte

// PartitionTable places the two copies of the partition table.
type PartitionTable struct {
	Address0 uint32 `toml:"address0"`
	Address1 uint32 `toml:"address1"`
}

// PartitionEntry is one [[pt_entry]] of a partition configuration.
type PartitionEntry struct {
	Type     uint8  `toml:"type"`
	Name     string `toml:"name"`
	Device   uint8  `toml:"device"`
	Address0 uint32 `toml:"address0"`
	Size0    uint32 `toml:"size0"`
	Address1 uint32 `toml:"address1"`
	Size1    uint32 `toml:"size1"`
	Len      uint32 `toml:"len"`
}

// PartitionConfig is a partition_cfg TOML file.
type PartitionConfig struct {
	Table   PartitionTable   `toml:"pt_table"`
	Entries []PartitionEntry `toml:"pt_entry"`
}

// DefaultPartitionConfig returns the built-in table for 2 MiB parts.
func DefaultPartitionConfig() (PartitionConfig, error) {
	return ParsePartitionConfig(defaultPartitionCfg)
}

// LoadPartitionConfig reads a partition configuration file. An empty path
// returns the built-in default.
func LoadPartitionConfig(path string) (PartitionConfig, error) {
	if path == "" {
		return DefaultPartitionConfig()
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return PartitionConfig{}, errors.Wrap(err, "failed to read partition config")
	}

	cfg, err := ParsePartitionConfig(b)
	if err != nil {
		return PartitionConfig{}, errors.Wrapf(err, "parse %s", path)
	}

	return cfg, nil
}

// ParsePartitionConfig decodes and validates a partition configuration.
func ParsePartitionConfig(b []byte) (PartitionConfig, error) {
	var cfg PartitionConfig
	if _, err := toml.Decode(string(b), &cfg); err != nil {
		return PartitionConfig{}, errors.Wrap(err, "invalid partition config")
	}

	if err := cfg.Validate(); err != nil {
		return PartitionConfig{}, err
	}

	return cfg, nil
}

// Validate checks that the table can be encoded.
func (c PartitionConfig) Validate() error {
	if len(c.Entries) == 0 {
		return errors.New("partition table has no entries")
	}
	if c.Table.Address0 == c.Table.Address1 {
		return errors.Errorf("both partition table copies are at 0x%X", c.Table.Address0)
	}

	for i, e := range c.Entries {
		if e.Name == "" {
			return errors.Errorf("partition entry %d has no name", i)
		}
		if len(e.Name) > maxPartitionName {
			return errors.Errorf("partition name %q is longer than %d bytes", e.Name, maxPartitionName)
		}
	}

	return nil
}

// Entry returns the entry called name.
func (c PartitionConfig) Entry(name string) (PartitionEntry, bool) {
	for _, e := range c.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return PartitionEntry{}, false
}

// Bytes encodes the table as the boot2 loader reads it: a 16-byte header,
// one 36-byte record per entry and a CRC32 of the records.
func (c PartitionConfig) Bytes() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	out := make([]byte, 0, partitionHeaderSize+partitionEntrySize*len(c.Entries)+4)
	out = append(out, partitionMagic...)
	out = binary.LittleEndian.AppendUint16(out, 0) // version
	out = binary.LittleEndian.AppendUint16(out, uint16(len(c.Entries)))
	out = binary.LittleEndian.AppendUint32(out, 0) // age
	out = binary.LittleEndian.AppendUint32(out, crc32.ChecksumIEEE(out))

	for _, e := range c.Entries {
		var name [maxPartitionName + 1]byte
		copy(name[:], e.Name)

		out = append(out, e.Type, e.Device, 0)
		out = append(out, name[:]...)
		out = binary.LittleEndian.AppendUint32(out, e.Address0)
		out = binary.LittleEndian.AppendUint32(out, e.Address1)
		out = binary.LittleEndian.AppendUint32(out, e.Size0)
		out = binary.LittleEndian.AppendUint32(out, e.Size1)
		out = binary.LittleEndian.AppendUint32(out, e.Len)
		out = binary.LittleEndian.AppendUint32(out, 0) // age
	}

	return binary.LittleEndian.AppendUint32(out, crc32.ChecksumIEEE(out[partitionHeaderSize:])), nil
}
