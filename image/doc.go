// Package image loads firmware images and lays them out for flashing.
//
// Two input formats are recognized:
//   - ELF executables, whose loadable segments are placed at their physical
//     addresses and flattened into a flash image relative to the XIP base
//   - Anything else, which is treated as a raw flash image
//
// A flash image is then placed in one of three layouts: Raw writes it
// unchanged at offset 0, WithoutBoot2 prefixes it with a boot header so the
// boot ROM starts it directly, and WithBoot2 writes boot2, the partition
// table and the application into its FW partition. Boot headers and
// partition tables are configured with the TOML files the vendor SDK ships;
// built-in defaults cover the common 40 MHz, 2 MiB parts.
//
// Example:
//
//	img, err := image.Parse("firmware.elf")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	bin, err := img.FlashBin()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	hdr, err := image.DefaultBootHeaderConfig()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	regions, err := image.WithoutBoot2(hdr, bin)
package image
