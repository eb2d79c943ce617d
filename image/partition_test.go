package image

import (
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPartitionConfig(t *testing.T) {
	pt, err := DefaultPartitionConfig()
	require.NoError(t, err)

	assert.Equal(t, PartitionTable{Address0: 0xE000, Address1: 0xF000}, pt.Table)
	require.Len(t, pt.Entries, 7)

	fw, ok := pt.Entry("FW")
	require.True(t, ok)
	assert.Equal(t, PartitionEntry{
		Type: 0, Name: "FW", Address0: 0x10000, Size0: 0xC8000, Address1: 0xD8000, Size1: 0x88000,
	}, fw)

	factory, ok := pt.Entry("factory")
	require.True(t, ok)
	assert.Equal(t, uint8(7), factory.Type)

	_, ok = pt.Entry("boot")
	assert.False(t, ok)
}

func TestPartitionBytes(t *testing.T) {
	pt := PartitionConfig{
		Table: PartitionTable{Address0: 0xE000, Address1: 0xF000},
		Entries: []PartitionEntry{
			{Type: 0, Name: "FW", Address0: 0x10000, Size0: 0xC8000, Address1: 0xD8000, Size1: 0x88000},
			{Type: 7, Name: "factory", Device: 1, Address0: 0x1F8000, Size0: 0x7000, Len: 5},
		},
	}

	b, err := pt.Bytes()
	require.NoError(t, err)
	require.Len(t, b, 16+2*36+4)

	le := binary.LittleEndian
	assert.Equal(t, []byte("BFPT"), b[0:4])
	assert.Equal(t, uint16(0), le.Uint16(b[4:]))
	assert.Equal(t, uint16(2), le.Uint16(b[6:]))
	assert.Equal(t, crc32.ChecksumIEEE(b[0:12]), le.Uint32(b[12:]))

	first := b[16:52]
	assert.Equal(t, []byte{0, 0, 0}, first[0:3])
	assert.Equal(t, []byte{'F', 'W', 0, 0, 0, 0, 0, 0, 0}, first[3:12])
	assert.Equal(t, uint32(0x10000), le.Uint32(first[12:]))
	assert.Equal(t, uint32(0xD8000), le.Uint32(first[16:]))
	assert.Equal(t, uint32(0xC8000), le.Uint32(first[20:]))
	assert.Equal(t, uint32(0x88000), le.Uint32(first[24:]))

	second := b[52:88]
	assert.Equal(t, []byte{7, 1, 0}, second[0:3])
	assert.Equal(t, []byte("factory\x00\x00"), second[3:12])
	assert.Equal(t, uint32(5), le.Uint32(second[28:]))
	assert.Equal(t, uint32(0), le.Uint32(second[32:]))

	assert.Equal(t, crc32.ChecksumIEEE(b[16:88]), le.Uint32(b[88:]))
}

func TestPartitionValidate(t *testing.T) {
	table := PartitionTable{Address0: 0xE000, Address1: 0xF000}

	tests := []struct {
		name   string
		cfg    PartitionConfig
		errMsg string
	}{
		{name: "no entries", cfg: PartitionConfig{Table: table}, errMsg: "no entries"},
		{
			name:   "same table address",
			cfg:    PartitionConfig{Table: PartitionTable{Address0: 0xE000, Address1: 0xE000}, Entries: []PartitionEntry{{Name: "FW"}}},
			errMsg: "both partition table copies are at 0xE000",
		},
		{name: "empty name", cfg: PartitionConfig{Table: table, Entries: []PartitionEntry{{}}}, errMsg: "entry 0 has no name"},
		{name: "long name", cfg: PartitionConfig{Table: table, Entries: []PartitionEntry{{Name: "firmware1"}}}, errMsg: "longer than 8 bytes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.cfg.Bytes()
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestLoadPartitionConfig(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "partition_cfg_4M.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[pt_table]
address0 = 0xE000
address1 = 0xF000

[[pt_entry]]
type = 0
name = "FW"
device = 0
address0 = 0x10000
size0 = 0x1C8000
address1 = 0
size1 = 0
len = 0
`), 0o600))

	pt, err := LoadPartitionConfig(path)
	require.NoError(t, err)
	require.Len(t, pt.Entries, 1)
	assert.Equal(t, uint32(0x1C8000), pt.Entries[0].Size0)

	def, err := LoadPartitionConfig("")
	require.NoError(t, err)
	assert.Len(t, def.Entries, 7)

	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("[pt_table]\naddress0 = 0xE000\naddress1 = 0xF000\n\n[[pt_entry]]\nname = \"toolongname\"\n"), 0o600))
	_, err = LoadPartitionConfig(bad)
	assert.ErrorContains(t, err, "longer than 8 bytes")

	_, err = LoadPartitionConfig(filepath.Join(dir, "missing.toml"))
	assert.ErrorContains(t, err, "failed to read partition config")
}
