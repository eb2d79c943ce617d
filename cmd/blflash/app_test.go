package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moffa90/go-blflash/bootloader"
	"github.com/moffa90/go-blflash/device"
	"github.com/moffa90/go-blflash/image"
	"github.com/moffa90/go-blflash/internal/simdevice"
	"github.com/moffa90/go-blflash/session"
)

const simFlashSize = 256 * 1024

type testEnv struct {
	app    *app
	sim    *simdevice.Device
	dir    string
	stdout *bytes.Buffer
	stderr *bytes.Buffer

	// skipLoader passes --skip-eflash-loader on every run
	skipLoader bool
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	color.NoColor = true
	for _, k := range []string{"BLFLASH_CONFIG", "BLFLASH_PORT", "BLFLASH_BAUD_RATE", "BLFLASH_INITIAL_BAUD_RATE", "BLFLASH_EFLASH_LOADER", "BLFLASH_SKIP_EFLASH_LOADER", "BLFLASH_FORCE", "BLFLASH_RESET_AFTER_FLASH"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}

	env := &testEnv{
		sim:    simdevice.New(simFlashSize),
		dir:    t.TempDir(),
		stdout:     &bytes.Buffer{},
		stderr:     &bytes.Buffer{},
		skipLoader: true,
	}

	env.app = newApp(env.stdout, env.stderr)
	env.app.bootloaderOptions = []bootloader.Option{
		bootloader.WithPortOpener(env.sim.Open),
		bootloader.WithTimeout(200 * time.Millisecond),
		bootloader.WithHandshakeTimeout(5 * time.Millisecond),
		bootloader.WithPollInterval(time.Millisecond),
		bootloader.WithDelays(0, 0, 0),
	}

	return env
}

func (e *testEnv) run(args ...string) error {
	base := []string{"--port", "/dev/ttySIM", "--log-level", "error"}
	if e.skipLoader {
		base = append(base, "--skip-eflash-loader")
	}

	_, err := e.app.kp.Parse(append(base, args...))
	return err
}

func (e *testEnv) path(name string) string {
	return filepath.Join(e.dir, name)
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*13 + 1)
	}
	return b
}

func TestDumpCommand(t *testing.T) {
	env := newTestEnv(t)
	content := pattern(simFlashSize)
	env.sim.Load(0, content)

	out := env.path("dump.bin")
	require.NoError(t, env.run("dump", "--start", "0x1000", "--end", "12KiB", out))

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, content[0x1000:0x3000], got)
	assert.Contains(t, env.stdout.String(), "Dumped 8.0 KiB (0x1000-0x3000)")

	assert.Equal(t, 1, env.sim.Opens())
	assert.Equal(t, 1, env.sim.Closes())
}

func TestDumpCommandInvalidRange(t *testing.T) {
	env := newTestEnv(t)

	err := env.run("dump", "--start", "0x2000", "--end", "0x1000", env.path("o.bin"))
	require.Error(t, err)
	assert.True(t, session.IsKind(err, session.KindInvalidConfig))
	assert.Zero(t, env.sim.Opens())
	assert.Contains(t, env.stderr.String(), "ERROR: dump: invalid config")

	_, statErr := os.Stat(env.path("o.bin"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestDumpCommandBadAddress(t *testing.T) {
	env := newTestEnv(t)

	err := env.run("dump", "--end", "lots", env.path("o.bin"))
	assert.ErrorContains(t, err, `invalid --end: "lots" is not an address or size`)
}

func TestFlashAndCheckCommands(t *testing.T) {
	env := newTestEnv(t)

	img := pattern(9000)
	imgPath := env.path("app.bin")
	require.NoError(t, os.WriteFile(imgPath, img, 0o600))

	require.NoError(t, env.run("flash", "--without-boot2", imgPath))
	flash := env.sim.Flash()
	assert.Equal(t, []byte("BFNP"), flash[0:4])
	assert.Equal(t, img, flash[image.Boot2Offset:image.Boot2Offset+len(img)])
	assert.Contains(t, env.stdout.String(), "Flashed "+imgPath)

	require.NoError(t, env.run("check", "--without-boot2", imgPath))
	assert.Contains(t, env.stdout.String(), "Flash matches "+imgPath)

	other := pattern(9000)
	other[100] ^= 0xFF
	otherPath := env.path("other.bin")
	require.NoError(t, os.WriteFile(otherPath, other, 0o600))

	err := env.run("check", "--without-boot2", otherPath)
	require.Error(t, err)
	assert.True(t, session.IsKind(err, session.KindMismatch))
	assert.Contains(t, err.Error(), otherPath+"[firmware]")
	assert.Contains(t, env.stderr.String(), "Run 'blflash flash'")

	assert.Equal(t, env.sim.Opens(), env.sim.Closes())
}

func TestFlashCommandRaw(t *testing.T) {
	env := newTestEnv(t)

	img := pattern(3000)
	imgPath := env.path("app.bin")
	require.NoError(t, os.WriteFile(imgPath, img, 0o600))

	require.NoError(t, env.run("flash", "--raw", imgPath))
	assert.Equal(t, img, env.sim.Flash()[:len(img)])

	err := env.run("flash", "--raw", "--without-boot2", imgPath)
	assert.ErrorContains(t, err, "cannot be combined")
	assert.Equal(t, 1, env.sim.Opens())
}

func TestFlashCommandWithBoot2(t *testing.T) {
	env := newTestEnv(t)

	boot2 := pattern(4000)
	boot2Path := env.path("blsp_boot2.bin")
	require.NoError(t, os.WriteFile(boot2Path, boot2, 0o600))

	img := []byte("application firmware")
	imgPath := env.path("app.bin")
	require.NoError(t, os.WriteFile(imgPath, img, 0o600))

	require.NoError(t, env.run("flash", "--boot2", boot2Path, imgPath))

	flash := env.sim.Flash()
	assert.Equal(t, boot2, flash[image.Boot2Offset:image.Boot2Offset+len(boot2)])
	assert.Equal(t, []byte("BFPT"), flash[0xE000:0xE004])
	assert.Equal(t, flash[0xE000:0xE100], flash[0xF000:0xF100], "backup table")
	assert.Equal(t, []byte("BFNP"), flash[0x10000:0x10004])
	assert.Equal(t, img, flash[0x10000+image.FirmwareOffset:0x10000+image.FirmwareOffset+len(img)])

	require.NoError(t, env.run("check", "--boot2", boot2Path, imgPath))
	assert.Equal(t, 2, env.sim.Opens())
}

func TestFlashCommandRequiresBoot2(t *testing.T) {
	env := newTestEnv(t)

	imgPath := env.path("app.bin")
	require.NoError(t, os.WriteFile(imgPath, pattern(100), 0o600))

	err := env.run("flash", imgPath)
	assert.ErrorIs(t, err, errNoBoot2)
	assert.Contains(t, env.stderr.String(), "--without-boot2")
	assert.Zero(t, env.sim.Opens())
}

func TestMissingEflashLoaderFailsFast(t *testing.T) {
	env := newTestEnv(t)
	env.skipLoader = false

	err := env.run("dump", env.path("o.bin"))
	require.Error(t, err)
	assert.True(t, session.IsKind(err, session.KindConnection))
	assert.ErrorIs(t, err, bootloader.ErrEflashLoaderRequired)
	assert.Contains(t, env.stderr.String(), "--skip-eflash-loader")
	assert.Zero(t, env.sim.Opens())
}

func TestFlashCommandMissingImage(t *testing.T) {
	env := newTestEnv(t)

	err := env.run("flash", env.path("missing.bin"))
	assert.ErrorContains(t, err, "failed to read image")
	assert.Zero(t, env.sim.Opens())
}

func TestFlashCommandWithEflashLoader(t *testing.T) {
	env := newTestEnv(t)
	env.sim.RequireLoader(true)

	loader := make([]byte, 176+16+5000)
	loaderPath := env.path("eflash_loader.bin")
	require.NoError(t, os.WriteFile(loaderPath, loader, 0o600))

	imgPath := env.path("app.bin")
	require.NoError(t, os.WriteFile(imgPath, pattern(100), 0o600))

	env.skipLoader = false
	require.NoError(t, env.run("--eflash-loader", loaderPath, "flash", "--raw", imgPath))
	assert.True(t, env.sim.LoaderRunning())
	assert.Equal(t, pattern(100), env.sim.Flash()[:100])
}

func TestMissingEflashLoaderFailsInitialization(t *testing.T) {
	env := newTestEnv(t)

	imgPath := env.path("app.bin")
	require.NoError(t, os.WriteFile(imgPath, pattern(100), 0o600))

	err := env.run("--eflash-loader", env.path("nope.bin"), "flash", "--raw", imgPath)
	assert.ErrorContains(t, err, "load eflash loader")
	assert.Zero(t, env.sim.Opens())
}

func TestConnectionFailure(t *testing.T) {
	env := newTestEnv(t)
	env.sim.FailOpen(errors.New("port busy"))

	err := env.run("dump", env.path("o.bin"))
	require.Error(t, err)
	assert.True(t, session.IsKind(err, session.KindConnection))
	assert.Contains(t, err.Error(), "port busy")
}

func TestConfigFileAndFlags(t *testing.T) {
	env := newTestEnv(t)

	cfgPath := env.path("blflash.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("baud_rate: 500000\ninitial_baud_rate: 57600\nlog_level: warn\n"), 0o600))

	require.NoError(t, env.run("--config", cfgPath, "--baud-rate", "2000000", "dump", "--end", "16", env.path("o.bin")))

	// Open at the initial rate, then handshake at the initial and bulk rates.
	assert.Equal(t, []uint32{57600, 57600, 2000000}, env.sim.BaudRates())
}

func TestPortsCommand(t *testing.T) {
	env := newTestEnv(t)

	env.app.listPorts = func() ([]string, error) { return []string{"/dev/ttyUSB0", "/dev/ttyUSB1"}, nil }
	require.NoError(t, env.run("ports"))
	assert.Equal(t, "/dev/ttyUSB0\n/dev/ttyUSB1\n", env.stdout.String())

	env.stdout.Reset()
	env.app.listPorts = func() ([]string, error) { return nil, nil }
	require.NoError(t, env.run("ports"))
	assert.Equal(t, "No serial ports found\n", env.stdout.String())
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{in: "0", want: 0},
		{in: "4096", want: 4096},
		{in: "0x100000", want: 0x100000},
		{in: "1MiB", want: 1 << 20},
		{in: "64 KiB", want: 64 << 10},
		{in: "soon", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseAddress(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProgressPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := newProgressPrinter(&buf)

	p.Report(device.Progress{Phase: "erasing", Done: 0, Total: 2048})
	p.Report(device.Progress{Phase: "writing", Done: 1024, Total: 2048})
	p.Report(device.Progress{Phase: "writing", Done: 2048, Total: 2048})
	p.Report(device.Progress{Phase: "complete", Done: 2048, Total: 2048})

	assert.Equal(t,
		"\r  erasing   0 B / 2.0 KiB (0.0%)\n"+
			"\r  writing   1.0 KiB / 2.0 KiB (50.0%)"+
			"\r  writing   2.0 KiB / 2.0 KiB (100.0%)\n",
		buf.String())
}
