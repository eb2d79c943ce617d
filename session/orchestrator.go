package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/moffa90/go-blflash/device"
	"github.com/moffa90/go-blflash/lifecycle"
	"github.com/moffa90/go-blflash/staging"
)

// Phase is a state of the per-operation state machine:
//
//	Idle -> ConfigValidated -> SessionOpened -> Transferring -> Completed
//
// Any non-terminal phase may move to Failed.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConfigValidated
	PhaseSessionOpened
	PhaseTransferring
	PhaseCompleted
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConfigValidated:
		return "config-validated"
	case PhaseSessionOpened:
		return "session-opened"
	case PhaseTransferring:
		return "transferring"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Orchestrator runs dump, flash and check operations.
//
// It does not serialize calls: the caller must not start a second operation
// on the same port before the first returns. Every operation releases its
// device handle before returning, including on failure and cancellation.
type Orchestrator struct {
	store      *staging.Store
	state      *lifecycle.AppState
	programmer device.Programmer

	logger   *zap.Logger
	progress device.ProgressCallback
	metrics  *Metrics
	hook     TransitionHook
}

// New creates an Orchestrator. Operations fail with KindNotInitialized until
// state is Ready.
func New(store *staging.Store, state *lifecycle.AppState, programmer device.Programmer, opts ...Option) *Orchestrator {
	if store == nil {
		panic("store cannot be nil")
	}
	if programmer == nil {
		panic("programmer cannot be nil")
	}

	o := &Orchestrator{
		store:      store,
		state:      state,
		programmer: programmer,
		logger:     zap.NewNop(),
		metrics:    NewMetrics(nil),
	}
	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Run dispatches cfg to Dump, Flash or Check.
func (o *Orchestrator) Run(ctx context.Context, cfg Config) error {
	switch c := cfg.(type) {
	case DumpConfig:
		return o.Dump(ctx, c)
	case FlashConfig:
		return o.Flash(ctx, c)
	case CheckConfig:
		return o.Check(ctx, c)
	default:
		return &Error{Kind: KindInvalidConfig, Op: "run", Detail: fmt.Sprintf("unsupported config %T", cfg)}
	}
}

// Dump reads flash [cfg.Start, cfg.End) and stages it at cfg.Output.
// On any failure nothing is staged.
func (o *Orchestrator) Dump(ctx context.Context, cfg DumpConfig) (err error) {
	r := o.begin(OpDump)

	var transferred int
	defer func() { o.finish(r, transferred, err) }()

	if err := cfg.Validate(); err != nil {
		return r.fail(KindInvalidConfig, "", err)
	}
	if err := o.checkAddressLimit(cfg.End); err != nil {
		return r.fail(KindInvalidConfig, "", err)
	}
	r.to(PhaseConfigValidated)

	if err := o.checkReady(r); err != nil {
		return err
	}

	h, err := o.open(ctx, r, cfg.Connection)
	if err != nil {
		return err
	}
	defer o.release(r, h)

	r.to(PhaseTransferring)

	data, err := h.ReadRange(ctx, cfg.Start, cfg.End, o.progress)
	if err != nil {
		return r.transferFailed(ctx, err)
	}

	if uint64(len(data)) != cfg.Size() {
		return r.fail(KindTransfer, fmt.Sprintf("short read: got %d of %d bytes", len(data), cfg.Size()), nil)
	}

	o.store.Write(cfg.Output, data)
	transferred = len(data)

	r.to(PhaseCompleted)

	return nil
}

// Flash writes the images staged at cfg.Placements to the device, in
// address order, then resets it if cfg.Reset is set.
//
// A missing or empty image is rejected before the device is touched. A
// failed write is not rolled back: the device keeps whatever was written.
func (o *Orchestrator) Flash(ctx context.Context, cfg FlashConfig) (err error) {
	r := o.begin(OpFlash)

	var transferred int
	defer func() { o.finish(r, transferred, err) }()

	images, err := o.prepareImages(r, cfg, cfg.Placements())
	if err != nil {
		return err
	}

	h, err := o.open(ctx, r, cfg.Connection)
	if err != nil {
		return err
	}
	defer o.release(r, h)

	r.to(PhaseTransferring)

	for _, img := range images {
		r.logger.Debug("writing image", zap.String("path", img.Path), zap.String("address", hexAddr(img.Address)))

		if err := h.WriteImage(ctx, img.Address, img.data, o.progress); err != nil {
			return r.transferFailed(ctx, errors.Wrapf(err, "write %q at %s", img.Path, hexAddr(img.Address)))
		}
		transferred += len(img.data)
	}

	if cfg.Reset {
		if err := h.Reset(ctx); err != nil {
			return r.transferFailed(ctx, errors.Wrap(err, "reset"))
		}
	}

	r.to(PhaseCompleted)

	return nil
}

// Check compares the images staged at cfg.Placements with the device
// contents without writing anything.
func (o *Orchestrator) Check(ctx context.Context, cfg CheckConfig) (err error) {
	r := o.begin(OpCheck)

	var transferred int
	defer func() { o.finish(r, transferred, err) }()

	images, err := o.prepareImages(r, cfg, cfg.Placements())
	if err != nil {
		return err
	}

	h, err := o.open(ctx, r, cfg.Connection)
	if err != nil {
		return err
	}
	defer o.release(r, h)

	r.to(PhaseTransferring)

	var differ []string
	for _, img := range images {
		match, err := h.Verify(ctx, img.Address, img.data)
		if err != nil {
			return r.transferFailed(ctx, errors.Wrapf(err, "verify %q at %s", img.Path, hexAddr(img.Address)))
		}
		if !match {
			differ = append(differ, fmt.Sprintf("%q at %s", img.Path, hexAddr(img.Address)))
		}
	}
	if len(differ) > 0 {
		return r.fail(KindMismatch, "device contents differ from "+strings.Join(differ, ", "), nil)
	}

	for _, img := range images {
		transferred += len(img.data)
	}

	r.to(PhaseCompleted)

	return nil
}

// ReadFile returns a copy of a staged file.
func (o *Orchestrator) ReadFile(path string) ([]byte, error) {
	return o.store.Read(path)
}

// WriteFile stages data at path.
func (o *Orchestrator) WriteFile(path string, data []byte) {
	o.store.Write(path, data)
}

// stagedImage is a placement with its staged contents.
type stagedImage struct {
	Placement
	data []byte
}

// prepareImages validates cfg, checks readiness and loads every placement
// from the staging store.
func (o *Orchestrator) prepareImages(r *run, cfg Config, ps []Placement) ([]stagedImage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, r.fail(KindInvalidConfig, "", err)
	}
	r.to(PhaseConfigValidated)

	if err := o.checkReady(r); err != nil {
		return nil, err
	}

	images := make([]stagedImage, 0, len(ps))
	for _, p := range ps {
		data, err := o.store.Read(p.Path)
		if err != nil {
			return nil, r.fail(KindNotFound, "", err)
		}
		if len(data) == 0 {
			return nil, r.fail(KindInvalidConfig, fmt.Sprintf("staged image %q is empty", p.Path), nil)
		}
		images = append(images, stagedImage{Placement: p, data: data})
	}

	if err := o.checkLayout(images); err != nil {
		return nil, r.fail(KindInvalidConfig, "", err)
	}

	return images, nil
}

// checkLayout rejects overlapping images and images beyond the device's
// address range. images must be ordered by address.
func (o *Orchestrator) checkLayout(images []stagedImage) error {
	for i, img := range images {
		end := img.Address + uint64(len(img.data))
		if err := o.checkAddressLimit(end); err != nil {
			return errors.Wrapf(err, "image %q", img.Path)
		}
		if i+1 < len(images) && end > images[i+1].Address {
			return errors.Errorf("image %q at %s overlaps %q at %s",
				img.Path, hexAddr(img.Address), images[i+1].Path, hexAddr(images[i+1].Address))
		}
	}
	return nil
}

// checkAddressLimit fails when end lies beyond the programmer's address range.
func (o *Orchestrator) checkAddressLimit(end uint64) error {
	limiter, ok := o.programmer.(device.AddressLimiter)
	if !ok {
		return nil
	}
	if limit := limiter.AddressLimit(); end > limit {
		return errors.Errorf("end 0x%X is beyond the device address limit 0x%X", end, limit)
	}
	return nil
}

func (o *Orchestrator) checkReady(r *run) error {
	if o.state == nil {
		return r.fail(KindNotInitialized, "no module state", nil)
	}

	if s := o.state.State(); s != lifecycle.Ready {
		return r.fail(KindNotInitialized, "module is "+s.String(), o.state.Err())
	}

	return nil
}

func (o *Orchestrator) open(ctx context.Context, r *run, conn Connection) (device.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, r.fail(KindCancelled, "", err)
	}

	r.logger.Debug("opening session",
		zap.String("port", conn.Port),
		zap.Uint32("initial_baud_rate", conn.InitialBaudRate),
		zap.Uint32("baud_rate", conn.BaudRate))

	h, err := o.programmer.Open(ctx, conn.Port, conn.InitialBaudRate, conn.BaudRate)
	if err != nil {
		if ctx.Err() != nil {
			return nil, r.fail(KindCancelled, "", err)
		}
		return nil, r.fail(KindConnection, fmt.Sprintf("port %s", conn.Port), err)
	}

	r.to(PhaseSessionOpened)

	return h, nil
}

func (o *Orchestrator) release(r *run, h device.Handle) {
	h.Close()
	r.logger.Debug("session released")
}

func (o *Orchestrator) begin(op string) *run {
	id := uuid.NewString()

	return &run{
		op:     op,
		phase:  PhaseIdle,
		start:  time.Now(),
		hook:   o.hook,
		logger: o.logger.With(zap.String("op", op), zap.String("session", id)),
	}
}

func (o *Orchestrator) finish(r *run, transferred int, err error) {
	elapsed := time.Since(r.start)
	o.metrics.observe(r.op, transferred, elapsed, err)

	if err != nil {
		r.logger.Error("operation failed", zap.Duration("elapsed", elapsed), zap.Error(err))
		return
	}

	r.logger.Info("operation complete", zap.Int("bytes", transferred), zap.Duration("elapsed", elapsed))
}

// run tracks one operation through its phases.
type run struct {
	op     string
	phase  Phase
	start  time.Time
	hook   TransitionHook
	logger *zap.Logger
}

func (r *run) to(p Phase) {
	from := r.phase
	r.phase = p

	r.logger.Debug("phase", zap.Stringer("from", from), zap.Stringer("to", p))

	if r.hook != nil {
		r.hook(r.op, from, p)
	}
}

func (r *run) fail(kind Kind, detail string, cause error) error {
	r.to(PhaseFailed)

	return &Error{Kind: kind, Op: r.op, Detail: detail, Err: cause}
}

func (r *run) transferFailed(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return r.fail(KindCancelled, "", err)
	}

	return r.fail(KindTransfer, "", err)
}

func hexAddr(addr uint64) string {
	return fmt.Sprintf("0x%08X", addr)
}
