package image

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/binary"
	"hash/crc32"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// BootHeaderSize is the encoded size of a boot header.
const BootHeaderSize = 176

//go:embed defaults/efuse_bootheader_cfg.conf
var defaultBootHeaderCfg []byte

// FlashParams describes the SPI flash part to the boot ROM. Its field order
// is the on-flash layout.
type FlashParams struct {
	FlashMagic uint32 `toml:"flashcfg_magic_code"`

	IOMode          uint8 `toml:"io_mode"`
	ContReadSupport uint8 `toml:"cont_read_support"`
	SfctrlClkDelay  uint8 `toml:"sfctrl_clk_delay"`
	SfctrlClkInvert uint8 `toml:"sfctrl_clk_invert"`

	ResetEnCmd          uint8 `toml:"reset_en_cmd"`
	ResetCmd            uint8 `toml:"reset_cmd"`
	ExitContReadCmd     uint8 `toml:"exit_contread_cmd"`
	ExitContReadCmdSize uint8 `toml:"exit_contread_cmd_size"`

	JedecIDCmd       uint8 `toml:"jedecid_cmd"`
	JedecIDCmdDmyClk uint8 `toml:"jedecid_cmd_dmy_clk"`
	QPIJedecIDCmd    uint8 `toml:"qpi_jedecid_cmd"`
	QPIJedecIDDmyClk uint8 `toml:"qpi_jedecid_dmy_clk"`

	SectorSize uint8  `toml:"sector_size"`
	MfgID      uint8  `toml:"mfg_id"`
	PageSize   uint16 `toml:"page_size"`

	ChipEraseCmd   uint8 `toml:"chip_erase_cmd"`
	SectorEraseCmd uint8 `toml:"sector_erase_cmd"`
	Blk32kEraseCmd uint8 `toml:"blk32k_erase_cmd"`
	Blk64kEraseCmd uint8 `toml:"blk64k_erase_cmd"`

	WriteEnableCmd       uint8 `toml:"write_enable_cmd"`
	PageProgCmd          uint8 `toml:"page_prog_cmd"`
	QPageProgCmd         uint8 `toml:"qpage_prog_cmd"`
	QualPageProgAddrMode uint8 `toml:"qual_page_prog_addr_mode"`

	FastReadCmd       uint8 `toml:"fast_read_cmd"`
	FastReadDmyClk    uint8 `toml:"fast_read_dmy_clk"`
	QPIFastReadCmd    uint8 `toml:"qpi_fast_read_cmd"`
	QPIFastReadDmyClk uint8 `toml:"qpi_fast_read_dmy_clk"`

	FastReadDOCmd     uint8 `toml:"fast_read_do_cmd"`
	FastReadDODmyClk  uint8 `toml:"fast_read_do_dmy_clk"`
	FastReadDIOCmd    uint8 `toml:"fast_read_dio_cmd"`
	FastReadDIODmyClk uint8 `toml:"fast_read_dio_dmy_clk"`

	FastReadQOCmd     uint8 `toml:"fast_read_qo_cmd"`
	FastReadQODmyClk  uint8 `toml:"fast_read_qo_dmy_clk"`
	FastReadQIOCmd    uint8 `toml:"fast_read_qio_cmd"`
	FastReadQIODmyClk uint8 `toml:"fast_read_qio_dmy_clk"`

	QPIFastReadQIOCmd    uint8 `toml:"qpi_fast_read_qio_cmd"`
	QPIFastReadQIODmyClk uint8 `toml:"qpi_fast_read_qio_dmy_clk"`
	QPIPageProgCmd       uint8 `toml:"qpi_page_prog_cmd"`
	WriteVregEnableCmd   uint8 `toml:"write_vreg_enable_cmd"`

	WelRegIndex  uint8 `toml:"wel_reg_index"`
	QERegIndex   uint8 `toml:"qe_reg_index"`
	BusyRegIndex uint8 `toml:"busy_reg_index"`
	WelBitPos    uint8 `toml:"wel_bit_pos"`

	QEBitPos       uint8 `toml:"qe_bit_pos"`
	BusyBitPos     uint8 `toml:"busy_bit_pos"`
	WelRegWriteLen uint8 `toml:"wel_reg_write_len"`
	WelRegReadLen  uint8 `toml:"wel_reg_read_len"`

	QERegWriteLen    uint8 `toml:"qe_reg_write_len"`
	QERegReadLen     uint8 `toml:"qe_reg_read_len"`
	ReleasePowerDown uint8 `toml:"release_power_down"`
	BusyRegReadLen   uint8 `toml:"busy_reg_read_len"`

	RegReadCmd0 uint8 `toml:"reg_read_cmd0"`
	RegReadCmd1 uint8 `toml:"reg_read_cmd1"`
	_           uint16

	RegWriteCmd0 uint8 `toml:"reg_write_cmd0"`
	RegWriteCmd1 uint8 `toml:"reg_write_cmd1"`
	_            uint16

	EnterQPICmd      uint8 `toml:"enter_qpi_cmd"`
	ExitQPICmd       uint8 `toml:"exit_qpi_cmd"`
	ContReadCode     uint8 `toml:"cont_read_code"`
	ContReadExitCode uint8 `toml:"cont_read_exit_code"`

	BurstWrapCmd      uint8 `toml:"burst_wrap_cmd"`
	BurstWrapDmyClk   uint8 `toml:"burst_wrap_dmy_clk"`
	BurstWrapDataMode uint8 `toml:"burst_wrap_data_mode"`
	BurstWrapCode     uint8 `toml:"burst_wrap_code"`

	DeBurstWrapCmd       uint8 `toml:"de_burst_wrap_cmd"`
	DeBurstWrapCmdDmyClk uint8 `toml:"de_burst_wrap_cmd_dmy_clk"`
	DeBurstWrapCodeMode  uint8 `toml:"de_burst_wrap_code_mode"`
	DeBurstWrapCode      uint8 `toml:"de_burst_wrap_code"`

	SectorEraseTime uint16 `toml:"sector_erase_time"`
	Blk32kEraseTime uint16 `toml:"blk32k_erase_time"`
	Blk64kEraseTime uint16 `toml:"blk64k_erase_time"`
	PageProgTime    uint16 `toml:"page_prog_time"`
	ChipEraseTime   uint16 `toml:"chip_erase_time"`
	PowerDownDelay  uint8  `toml:"power_down_delay"`
	QEData          uint8  `toml:"qe_data"`

	// FlashCRC is recomputed on encode
	FlashCRC uint32 `toml:"-"`
}

// ClockParams selects the crystal and clock dividers. Its field order is
// the on-flash layout.
type ClockParams struct {
	ClockMagic uint32 `toml:"clkcfg_magic_code"`

	XtalType     uint8 `toml:"xtal_type"`
	PLLClk       uint8 `toml:"pll_clk"`
	HClkDiv      uint8 `toml:"hclk_div"`
	BClkDiv      uint8 `toml:"bclk_div"`
	FlashClkType uint8 `toml:"flash_clk_type"`
	FlashClkDiv  uint8 `toml:"flash_clk_div"`
	_            uint16

	// ClockCRC is recomputed on encode
	ClockCRC uint32 `toml:"-"`
}

// BootHeaderConfig is the [BOOTHEADER_CFG] section of an
// efuse_bootheader_cfg.conf file.
type BootHeaderConfig struct {
	Magic    uint32 `toml:"magic_code"`
	Revision uint32 `toml:"revision"`

	FlashParams
	ClockParams

	Sign             uint8 `toml:"sign"`
	EncryptType      uint8 `toml:"encrypt_type"`
	KeySel           uint8 `toml:"key_sel"`
	NoSegment        uint8 `toml:"no_segment"`
	CacheEnable      uint8 `toml:"cache_enable"`
	NotLoadInBootROM uint8 `toml:"notload_in_bootrom"`
	AESRegionLock    uint8 `toml:"aes_region_lock"`
	CacheWayDisable  uint8 `toml:"cache_way_disable"`
	CRCIgnore        uint8 `toml:"crc_ignore"`
	HashIgnore       uint8 `toml:"hash_ignore"`

	ImgLen    uint32 `toml:"img_len"`
	BootEntry uint32 `toml:"bootentry"`
	ImgStart  uint32 `toml:"img_start"`
}

type bootHeaderFile struct {
	BootHeader *BootHeaderConfig `toml:"BOOTHEADER_CFG"`
}

// DefaultBootHeaderConfig returns the built-in 40 MHz header configuration.
func DefaultBootHeaderConfig() (BootHeaderConfig, error) {
	return ParseBootHeaderConfig(defaultBootHeaderCfg)
}

// LoadBootHeaderConfig reads a boot header configuration file. An empty path
// returns the built-in default.
func LoadBootHeaderConfig(path string) (BootHeaderConfig, error) {
	if path == "" {
		return DefaultBootHeaderConfig()
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return BootHeaderConfig{}, errors.Wrap(err, "failed to read boot header config")
	}

	cfg, err := ParseBootHeaderConfig(b)
	if err != nil {
		return BootHeaderConfig{}, errors.Wrapf(err, "parse %s", path)
	}

	return cfg, nil
}

// ParseBootHeaderConfig decodes the [BOOTHEADER_CFG] section of b. Keys the
// header computes itself, such as hash_0 and crc32, are ignored.
func ParseBootHeaderConfig(b []byte) (BootHeaderConfig, error) {
	file := bootHeaderFile{BootHeader: &BootHeaderConfig{}}

	md, err := toml.Decode(string(b), &file)
	if err != nil {
		return BootHeaderConfig{}, errors.Wrap(err, "invalid boot header config")
	}
	if !md.IsDefined("BOOTHEADER_CFG") {
		return BootHeaderConfig{}, errors.New("missing [BOOTHEADER_CFG] section")
	}

	return *file.BootHeader, nil
}

// flags packs the boot options into the header's configuration word.
func (c BootHeaderConfig) flags() uint32 {
	return uint32(c.Sign&0x3) |
		uint32(c.EncryptType&0x3)<<2 |
		uint32(c.KeySel&0x3)<<4 |
		uint32(c.NoSegment&0x1)<<8 |
		uint32(c.CacheEnable&0x1)<<9 |
		uint32(c.NotLoadInBootROM&0x1)<<10 |
		uint32(c.AESRegionLock&0x1)<<11 |
		uint32(c.CacheWayDisable&0xF)<<12 |
		uint32(c.CRCIgnore&0x1)<<16 |
		uint32(c.HashIgnore&0x1)<<17
}

// Encode returns the 176-byte header for an image with the given sha256.
// ImgLen is written as configured; MakeImage sets it from the image.
func (c BootHeaderConfig) Encode(hash [sha256.Size]byte) []byte {
	var flash, clock bytes.Buffer
	_ = binary.Write(&flash, binary.LittleEndian, c.FlashParams)
	_ = binary.Write(&clock, binary.LittleEndian, c.ClockParams)

	fb, cb := flash.Bytes(), clock.Bytes()
	binary.LittleEndian.PutUint32(fb[len(fb)-4:], crc32.ChecksumIEEE(fb[4:len(fb)-4]))
	binary.LittleEndian.PutUint32(cb[len(cb)-4:], crc32.ChecksumIEEE(cb[4:len(cb)-4]))

	out := make([]byte, 0, BootHeaderSize)
	out = binary.LittleEndian.AppendUint32(out, c.Magic)
	out = binary.LittleEndian.AppendUint32(out, c.Revision)
	out = append(out, fb...)
	out = append(out, cb...)
	out = binary.LittleEndian.AppendUint32(out, c.flags())
	out = binary.LittleEndian.AppendUint32(out, c.ImgLen)
	out = binary.LittleEndian.AppendUint32(out, c.BootEntry)
	out = binary.LittleEndian.AppendUint32(out, c.ImgStart)
	out = append(out, hash[:]...)
	out = append(out, make([]byte, 8)...)
	out = binary.LittleEndian.AppendUint32(out, crc32.ChecksumIEEE(out))

	return out
}

// MakeImage pads bin to 16 bytes, stamps its length and sha256 into the
// header and returns the header padded with 0xFF to offset, followed by bin.
func (c BootHeaderConfig) MakeImage(offset int, bin []byte) ([]byte, error) {
	if offset < BootHeaderSize {
		return nil, errors.Errorf("image offset 0x%X leaves no room for the %d-byte boot header", offset, BootHeaderSize)
	}
	if len(bin) == 0 {
		return nil, errors.New("empty image")
	}

	padded := (len(bin) + 15) / 16 * 16
	if uint64(padded) > uint64(^uint32(0)) {
		return nil, errors.Errorf("image of %d bytes is too large for a boot header", len(bin))
	}

	out := bytes.Repeat([]byte{erased}, offset+padded)
	copy(out[offset:], bin)
	body := out[offset:]

	c.ImgLen = uint32(padded)
	copy(out, c.Encode(sha256.Sum256(body)))

	return out, nil
}
