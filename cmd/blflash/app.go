package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/moffa90/go-blflash/bootloader"
	"github.com/moffa90/go-blflash/config"
	"github.com/moffa90/go-blflash/internal/logging"
	"github.com/moffa90/go-blflash/lifecycle"
	"github.com/moffa90/go-blflash/serialport"
	"github.com/moffa90/go-blflash/session"
	"github.com/moffa90/go-blflash/staging"
)

var (
	successColor = color.New(color.FgGreen)
	errorColor   = color.New(color.FgHiRed)
	noteColor    = color.New(color.FgHiCyan)
)

// app holds the command line and everything a command needs to run.
type app struct {
	kp     *kingpin.Application
	stdout io.Writer
	stderr io.Writer

	configPath        string
	logLevel          string
	eflashLoader      string
	skipEflashLoader  bool
	metricsListenAddr string
	conn              session.Connection
	force             bool

	// overridable in tests
	bootloaderOptions []bootloader.Option
	listPorts         func() ([]string, error)
}

// services are built once per command invocation.
type services struct {
	cfg    *config.Config
	logger *zap.Logger
	orch   *session.Orchestrator

	stopMetrics func()
}

func (s *services) close() {
	s.stopMetrics()
	_ = s.logger.Sync()
}

func newApp(stdout, stderr io.Writer) *app {
	a := &app{
		kp:        kingpin.New("blflash", "BL602 serial flasher"),
		stdout:    stdout,
		stderr:    stderr,
		listPorts: serialport.List,
	}

	a.kp.UsageWriter(stdout)
	a.kp.ErrorWriter(stderr)

	a.kp.Flag("config", "YAML configuration file").Envar("BLFLASH_CONFIG").StringVar(&a.configPath)
	a.kp.Flag("log-level", "Log level").EnumVar(&a.logLevel, "debug", "info", "warn", "error")
	a.kp.Flag("eflash-loader", "Eflash loader image uploaded before flash access").StringVar(&a.eflashLoader)
	a.kp.Flag("skip-eflash-loader", "Talk to the boot ROM directly; only for devices whose ROM answers flash commands").BoolVar(&a.skipEflashLoader)
	a.kp.Flag("metrics-listen-addr", "Expose Prometheus metrics on a given host:port").StringVar(&a.metricsListenAddr)

	a.kp.Flag("port", "Serial port, e.g. /dev/ttyUSB0 or COM3").Short('p').StringVar(&a.conn.Port)
	a.kp.Flag("baud-rate", "Baud rate for flash transfers").Short('b').Uint32Var(&a.conn.BaudRate)
	a.kp.Flag("initial-baud-rate", "Baud rate for the ROM handshake").Uint32Var(&a.conn.InitialBaudRate)

	(&commandFlash{}).setup(a)
	(&commandCheck{}).setup(a)
	(&commandDump{}).setup(a)
	(&commandPorts{}).setup(a)

	return a
}

// action wraps run with configuration, logging, metrics and a session
// orchestrator. Interrupting the process cancels the running operation.
func (a *app) action(run func(ctx context.Context, svc *services) error) kingpin.Action {
	return func(*kingpin.ParseContext) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		svc, err := a.setup(ctx)
		if err != nil {
			return a.report(err)
		}
		defer svc.close()

		if err := run(ctx, svc); err != nil {
			return a.report(err)
		}

		return nil
	}
}

// reportedError is an error already printed to the user.
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

func (a *app) report(err error) error {
	errorColor.Fprintf(a.stderr, "ERROR: %v\n", err) //nolint:errcheck

	switch {
	case session.IsKind(err, session.KindMismatch):
		noteColor.Fprintln(a.stderr, "Run 'blflash flash' to write the image.") //nolint:errcheck
	case errors.Is(err, bootloader.ErrEflashLoaderRequired):
		noteColor.Fprintln(a.stderr, "Pass --eflash-loader <eflash_loader_40m.bin>, or --skip-eflash-loader if the ROM handles flash commands.") //nolint:errcheck
	}

	return &reportedError{err: err}
}

func (a *app) setup(ctx context.Context) (*services, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, err
	}

	a.applyFlags(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := logging.New(a.stderr, cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	metrics := session.NewMetrics(reg)

	var loader []byte

	state := lifecycle.New(func(context.Context) error {
		if cfg.EflashLoader == "" {
			if cfg.SkipEflashLoader {
				logger.Warn("eflash loader skipped, the device must accept flash commands directly")
			}
			return nil
		}

		b, err := os.ReadFile(cfg.EflashLoader)
		if err != nil {
			return errors.Wrap(err, "load eflash loader")
		}
		loader = b

		return nil
	}, lifecycle.WithLogger(logger))

	if err := state.Initialize(ctx); err != nil {
		return nil, err
	}

	opts := []bootloader.Option{
		bootloader.WithLogger(logging.Bootloader(logger)),
		bootloader.WithEflashLoader(loader),
		bootloader.WithEflashLoaderRequired(!cfg.SkipEflashLoader),
		bootloader.WithSkipUnchanged(!cfg.Force),
	}
	opts = append(opts, a.bootloaderOptions...)

	orch := session.New(staging.New(), state, bootloader.NewOpener(opts...),
		session.WithLogger(logger),
		session.WithMetrics(metrics),
		session.WithProgressCallback(newProgressPrinter(a.stderr)),
	)

	return &services{
		cfg:         cfg,
		logger:      logger,
		orch:        orch,
		stopMetrics: startMetrics(cfg.MetricsListenAddr, reg, logger),
	}, nil
}

// applyFlags overrides cfg with every flag given on the command line.
func (a *app) applyFlags(cfg *config.Config) {
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if a.eflashLoader != "" {
		cfg.EflashLoader = a.eflashLoader
	}
	if a.skipEflashLoader {
		cfg.SkipEflashLoader = true
	}
	if a.metricsListenAddr != "" {
		cfg.MetricsListenAddr = a.metricsListenAddr
	}
	if a.conn.Port != "" {
		cfg.Port = a.conn.Port
	}
	if a.conn.BaudRate != 0 {
		cfg.BaudRate = a.conn.BaudRate
	}
	if a.conn.InitialBaudRate != 0 {
		cfg.InitialBaudRate = a.conn.InitialBaudRate
	}
	if a.force {
		cfg.Force = true
	}
}

// startMetrics serves reg on addr until the returned func is called.
func startMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) func() {
	if addr == "" {
		return func() {}
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("starting prometheus metrics", zap.String("addr", addr))

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener failed", zap.Error(err))
		}
	}()

	return func() { _ = srv.Close() }
}
