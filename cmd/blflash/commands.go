package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/alecthomas/kingpin/v2"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/moffa90/go-blflash/image"
	"github.com/moffa90/go-blflash/session"
)

const (
	defaultDumpStart = "0"
	defaultDumpEnd   = "0x100000"
)

// errNoBoot2 is returned when the boot2 layout is selected without a boot2 image.
var errNoBoot2 = errors.New("pass --boot2 <blsp_boot2.bin> or --without-boot2")

// layoutFlags select how a firmware image is placed in flash.
type layoutFlags struct {
	raw           bool
	withoutBoot2  bool
	boot2         string
	bootHeaderCfg string
	partitionCfg  string
}

func (l *layoutFlags) setup(cmd *kingpin.CmdClause) {
	cmd.Flag("raw", "Write the image as-is at offset 0, without a boot header").BoolVar(&l.raw)
	cmd.Flag("without-boot2", "Wrap the image in a boot header and boot it directly from offset 0").Short('w').BoolVar(&l.withoutBoot2)
	cmd.Flag("boot2", "boot2 image written at offset 0 ahead of the partition table").StringVar(&l.boot2)
	cmd.Flag("boot-header-cfg", "Boot header configuration (efuse_bootheader_cfg.conf)").StringVar(&l.bootHeaderCfg)
	cmd.Flag("partition-cfg", "Partition table configuration (partition_cfg_2M.toml)").StringVar(&l.partitionCfg)
}

// regions lays bin out in flash according to the selected mode.
func (l *layoutFlags) regions(bin []byte) ([]image.Region, error) {
	if l.raw && l.withoutBoot2 {
		return nil, errors.New("--raw and --without-boot2 cannot be combined")
	}
	if l.raw {
		return image.Raw(bin), nil
	}

	hdr, err := image.LoadBootHeaderConfig(l.bootHeaderCfg)
	if err != nil {
		return nil, err
	}

	if l.withoutBoot2 {
		return image.WithoutBoot2(hdr, bin)
	}

	if l.boot2 == "" {
		return nil, errNoBoot2
	}

	boot2, err := os.ReadFile(l.boot2)
	if err != nil {
		return nil, errors.Wrap(err, "read boot2 image")
	}

	pt, err := image.LoadPartitionConfig(l.partitionCfg)
	if err != nil {
		return nil, err
	}

	return image.WithBoot2(pt, hdr, boot2, bin)
}

type commandFlash struct {
	image  string
	layout layoutFlags
}

func (c *commandFlash) setup(a *app) {
	cmd := a.kp.Command("flash", "Write a firmware image (raw binary or ELF) to flash")
	cmd.Arg("image", "Firmware image").Required().StringVar(&c.image)
	cmd.Flag("force", "Write even when the device already holds the image").BoolVar(&a.force)
	c.layout.setup(cmd)
	cmd.Action(a.action(func(ctx context.Context, svc *services) error {
		return c.run(ctx, a, svc)
	}))
}

func (c *commandFlash) run(ctx context.Context, a *app, svc *services) error {
	placements, err := stageImage(svc, c.image, &c.layout)
	if err != nil {
		return err
	}

	cfg := session.FlashConfig{
		Connection: svc.cfg.Connection,
		Image:      placements[0].Path,
		Address:    placements[0].Address,
		Extra:      placements[1:],
		Reset:      svc.cfg.ResetAfterFlash,
	}

	if err := svc.orch.Flash(ctx, cfg); err != nil {
		return err
	}

	successColor.Fprintf(a.stdout, "Flashed %s\n", c.image) //nolint:errcheck

	return nil
}

type commandCheck struct {
	image  string
	layout layoutFlags
}

func (c *commandCheck) setup(a *app) {
	cmd := a.kp.Command("check", "Compare flash contents with a firmware image")
	cmd.Arg("image", "Firmware image").Required().StringVar(&c.image)
	c.layout.setup(cmd)
	cmd.Action(a.action(func(ctx context.Context, svc *services) error {
		return c.run(ctx, a, svc)
	}))
}

func (c *commandCheck) run(ctx context.Context, a *app, svc *services) error {
	placements, err := stageImage(svc, c.image, &c.layout)
	if err != nil {
		return err
	}

	cfg := session.CheckConfig{
		Connection: svc.cfg.Connection,
		Image:      placements[0].Path,
		Address:    placements[0].Address,
		Extra:      placements[1:],
	}

	if err := svc.orch.Check(ctx, cfg); err != nil {
		return err
	}

	successColor.Fprintf(a.stdout, "Flash matches %s\n", c.image) //nolint:errcheck

	return nil
}

type commandDump struct {
	output string
	start  string
	end    string
}

func (c *commandDump) setup(a *app) {
	cmd := a.kp.Command("dump", "Read a flash range into a file")
	cmd.Arg("output", "Output file").Required().StringVar(&c.output)
	cmd.Flag("start", "Start address, e.g. 0x2000 or 8KiB").Default(defaultDumpStart).StringVar(&c.start)
	cmd.Flag("end", "End address (exclusive), e.g. 0x100000 or 1MiB").Default(defaultDumpEnd).StringVar(&c.end)
	cmd.Action(a.action(func(ctx context.Context, svc *services) error {
		return c.run(ctx, a, svc)
	}))
}

func (c *commandDump) run(ctx context.Context, a *app, svc *services) error {
	start, err := parseAddress(c.start)
	if err != nil {
		return errors.Wrap(err, "invalid --start")
	}

	end, err := parseAddress(c.end)
	if err != nil {
		return errors.Wrap(err, "invalid --end")
	}

	cfg := session.DumpConfig{
		Connection: svc.cfg.Connection,
		Output:     c.output,
		Start:      start,
		End:        end,
	}

	if err := svc.orch.Dump(ctx, cfg); err != nil {
		return err
	}

	data, err := svc.orch.ReadFile(c.output)
	if err != nil {
		return err
	}

	if err := os.WriteFile(c.output, data, 0o644); err != nil { //nolint:gosec
		return errors.Wrap(err, "write output")
	}

	successColor.Fprintf(a.stdout, "Dumped %s (0x%X-0x%X) to %s\n", //nolint:errcheck
		humanize.IBytes(uint64(len(data))), start, end, c.output)

	return nil
}

type commandPorts struct{}

func (c *commandPorts) setup(a *app) {
	cmd := a.kp.Command("ports", "List serial ports")
	cmd.Action(func(*kingpin.ParseContext) error {
		if err := c.run(a); err != nil {
			return a.report(err)
		}
		return nil
	})
}

func (c *commandPorts) run(a *app) error {
	ports, err := a.listPorts()
	if err != nil {
		return err
	}

	if len(ports) == 0 {
		noteColor.Fprintln(a.stdout, "No serial ports found") //nolint:errcheck
		return nil
	}

	for _, p := range ports {
		fmt.Fprintln(a.stdout, p) //nolint:errcheck
	}

	return nil
}

// stageImage loads a firmware file, lays it out for flash and stages every
// region as "path[region]". Placements are returned in layout order.
func stageImage(svc *services, path string, layout *layoutFlags) ([]session.Placement, error) {
	img, err := image.Parse(path)
	if err != nil {
		return nil, err
	}

	bin, err := img.FlashBin()
	if err != nil {
		return nil, errors.Wrapf(err, "convert %s", path)
	}

	regions, err := layout.regions(bin)
	if err != nil {
		return nil, err
	}

	placements := make([]session.Placement, 0, len(regions))
	for _, r := range regions {
		name := fmt.Sprintf("%s[%s]", path, r.Name)
		svc.orch.WriteFile(name, r.Data)

		svc.logger.Debug("staged region",
			zap.String("name", name),
			zap.Stringer("format", img.Format),
			zap.String("address", fmt.Sprintf("0x%08X", r.Address)),
			zap.String("size", humanize.IBytes(uint64(len(r.Data)))))

		placements = append(placements, session.Placement{Path: name, Address: uint64(r.Address)})
	}

	return placements, nil
}

// parseAddress accepts decimal, 0x-prefixed hex, octal or a humanized size
// such as "1MiB".
func parseAddress(s string) (uint64, error) {
	if v, err := strconv.ParseUint(s, 0, 64); err == nil {
		return v, nil
	}

	v, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, errors.Errorf("%q is not an address or size", s)
	}

	return v, nil
}
