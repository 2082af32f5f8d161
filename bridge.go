package vcam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/virtual-camera/internal/fpsstats"
	"github.com/e7canasta/orion-care-sensor/modules/virtual-camera/internal/nv12"
	"github.com/e7canasta/orion-care-sensor/modules/virtual-camera/internal/ratelog"
)

const (
	// DefaultPlayWait bounds the wait for the pipeline to reach playing
	DefaultPlayWait = 2 * time.Second
	// DefaultPullTimeout bounds a single pull; it is also the worst-case stop latency
	DefaultPullTimeout = 200 * time.Millisecond
	// DefaultLogInterval gates the no-sample, fallback and mismatch log sites
	DefaultLogInterval = 2 * time.Second

	// pullBackoff is slept when the port fails without waiting (EOS, flushing)
	pullBackoff = 50 * time.Millisecond
)

var (
	errFormatMismatch    = errors.New("unexpected sample format")
	errDimensionMismatch = errors.New("unexpected sample dimensions")
	errPlaneLayout       = errors.New("sample does not expose two planes")
)

// BridgeOption customizes a FrameBridge
type BridgeOption func(*FrameBridge)

// WithPlayWait overrides the bounded wait for the playing state
func WithPlayWait(d time.Duration) BridgeOption {
	return func(b *FrameBridge) { b.playWait = d }
}

// WithPullTimeout overrides the bounded pull wait
func WithPullTimeout(d time.Duration) BridgeOption {
	return func(b *FrameBridge) { b.pullTimeout = d }
}

// WithLogInterval overrides the interval of rate-limited log sites
func WithLogInterval(d time.Duration) BridgeOption {
	return func(b *FrameBridge) { b.logInterval = d }
}

// FrameBridge drives a pipeline on a background goroutine, keeps the most
// recent decoded frame and serves copies of it to a polling consumer.
//
// Two locks are used:
//   - mu serializes Start/Stop and owns the pipeline objects
//   - frameMu guards the latest-frame slot and the active geometry
//
// The slot is only ever replaced wholesale, so a reader sees either the
// previous complete frame or the new one.
type FrameBridge struct {
	driver      Driver
	playWait    time.Duration
	pullTimeout time.Duration
	logInterval time.Duration

	// Lifecycle
	mu      sync.Mutex
	run     *bridgeRun
	wg      sync.WaitGroup
	running atomic.Bool

	// Latest-frame slot
	frameMu         sync.Mutex
	cfg             PipelineConfig
	configured      bool
	latest          []byte
	hasFrame        bool
	firstCopyLogged bool

	// Rate-limited log sites
	noSampleLog *ratelog.Limiter
	fallbackLog *ratelog.Limiter
	mismatchLog *ratelog.Limiter
	pullErrLog  *ratelog.Limiter

	// Statistics (atomic for thread-safety)
	framesStored      atomic.Uint64
	framesDropped     atomic.Uint64
	pullTimeouts      atomic.Uint64
	copies            atomic.Uint64
	placeholderCopies atomic.Uint64
	ingest            *fpsstats.Window

	busErrMu  sync.Mutex
	busErrors map[string]uint64
}

// bridgeRun is the state of one Start..Stop cycle
type bridgeRun struct {
	ctx      context.Context
	cancel   context.CancelFunc
	cfg      PipelineConfig
	pipeline Pipeline
	port     Port
	started  time.Time

	// touched only by the pull goroutine
	firstFrameLogged bool
}

// NewFrameBridge creates a bridge over driver. Nothing runs until Start.
func NewFrameBridge(driver Driver, opts ...BridgeOption) *FrameBridge {
	b := &FrameBridge{
		driver:      driver,
		playWait:    DefaultPlayWait,
		pullTimeout: DefaultPullTimeout,
		logInterval: DefaultLogInterval,
		ingest:      fpsstats.NewWindow(fpsstats.DefaultWindowSize),
		busErrors:   make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(b)
	}

	b.noSampleLog = ratelog.New(b.logInterval)
	b.fallbackLog = ratelog.New(b.logInterval)
	b.mismatchLog = ratelog.New(b.logInterval)
	b.pullErrLog = ratelog.New(b.logInterval)
	return b
}

// Start builds the pipeline for cfg and launches the pull goroutine
//
// This method:
//  1. Validates cfg (ErrInvalidConfig)
//  2. Runs the process-wide driver init (ErrDriverInitFailed, cached)
//  3. Returns nil immediately if already running (the run is not restarted)
//  4. Builds the pipeline and locates/configures the output port (ErrInvalidPipeline)
//  5. Resets the latest-frame slot and spawns the pull goroutine
//
// Frames arrive asynchronously; until the first one is stored,
// CopyLatestFrameInto serves the placeholder frame.
func (b *FrameBridge) Start(cfg PipelineConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := b.driver.Init(); err != nil {
		return fmt.Errorf("%w: %w", ErrDriverInitFailed, err)
	}

	if b.run != nil {
		slog.Debug("frame-bridge: already running, start is a no-op",
			"resolution", b.run.cfg.Resolution(),
		)
		return nil
	}

	description := ResolveDescription(cfg)

	slog.Info("frame-bridge: starting pipeline",
		"resolution", cfg.Resolution(),
		"fps", fmt.Sprintf("%d/%d", cfg.FPSNumerator, cfg.FPSDenominator),
		"pipeline", description,
	)

	pipeline, err := b.driver.Build(description)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPipeline, err)
	}

	port, err := pipeline.OutputPort(OutputPortName)
	if err != nil {
		pipeline.Release()
		return fmt.Errorf("%w: pipeline must expose an appsink named %q: %w", ErrInvalidPipeline, OutputPortName, err)
	}

	// Exact format, no negotiation: a mismatch is caught per sample
	if err := port.Configure(PortFormat{
		Format:         SupportedFormat,
		Width:          int(cfg.Width),
		Height:         int(cfg.Height),
		FPSNumerator:   int(cfg.FPSNumerator),
		FPSDenominator: int(cfg.FPSDenominator),
	}); err != nil {
		pipeline.Release()
		return fmt.Errorf("%w: configure output port: %w", ErrInvalidPipeline, err)
	}

	active := cfg
	active.Description = description

	b.frameMu.Lock()
	b.cfg = active
	b.configured = true
	b.latest = nil
	b.hasFrame = false
	b.firstCopyLogged = false
	b.frameMu.Unlock()

	b.noSampleLog.Reset()
	b.fallbackLog.Reset()
	b.mismatchLog.Clear()
	b.pullErrLog.Clear()
	b.ingest.Reset()

	ctx, cancel := context.WithCancel(context.Background())
	run := &bridgeRun{
		ctx:      ctx,
		cancel:   cancel,
		cfg:      active,
		pipeline: pipeline,
		port:     port,
		started:  time.Now(),
	}
	b.run = run
	b.running.Store(true)

	b.wg.Add(1)
	go b.pullLoop(run)

	slog.Info("frame-bridge: pipeline started",
		"note", "frames will arrive asynchronously once the pipeline reaches PLAYING state",
	)
	return nil
}

// Stop halts the pipeline and joins the pull goroutine
//
// This method:
//  1. Cancels the run so the pull loop exits at its next iteration
//  2. Moves the pipeline to its stopped state (synchronous)
//  3. Waits for the pull goroutine (no slot writes happen after this)
//  4. Releases the pipeline and discards the latest frame
//
// Idempotent - safe to call multiple times or before Start.
func (b *FrameBridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	run := b.run
	if run == nil {
		slog.Debug("frame-bridge: not running, nothing to stop")
		return
	}

	slog.Info("frame-bridge: stopping pipeline")

	run.cancel()
	if err := run.pipeline.SetStopped(); err != nil {
		slog.Error("frame-bridge: failed to stop pipeline", "error", err)
	}

	b.wg.Wait()

	run.pipeline.Release()
	b.run = nil
	b.running.Store(false)

	b.frameMu.Lock()
	b.latest = nil
	b.hasFrame = false
	b.frameMu.Unlock()

	slog.Info("frame-bridge: pipeline stopped",
		"frames_stored", b.framesStored.Load(),
		"frames_dropped", b.framesDropped.Load(),
		"uptime", time.Since(run.started),
	)
}

// pullLoop runs on the background goroutine for one Start..Stop cycle
func (b *FrameBridge) pullLoop(run *bridgeRun) {
	defer b.wg.Done()

	slog.Debug("frame-bridge: pull loop enter")

	if err := run.pipeline.SetPlaying(); err != nil {
		slog.Error("frame-bridge: failed to set pipeline to PLAYING", "error", err)
	} else if err := run.pipeline.WaitPlaying(b.playWait); err != nil {
		// Not fatal: live sources may take longer, the loop keeps pulling
		slog.Warn("frame-bridge: pipeline not PLAYING yet",
			"wait", b.playWait,
			"error", err,
		)
	} else {
		slog.Info("frame-bridge: pipeline reached PLAYING state")
	}

	for run.ctx.Err() == nil {
		b.drainEvents(run)

		pulled, err := run.port.PullImage(b.pullTimeout, func(img DecodedImage) error {
			return b.storeImage(run, img)
		})

		if !pulled {
			if err != nil {
				b.logPullError(err)
				select {
				case <-run.ctx.Done():
				case <-time.After(pullBackoff):
				}
				continue
			}

			b.pullTimeouts.Add(1)
			if ok, _ := b.noSampleLog.Allow(); ok {
				slog.Info("frame-bridge: no sample pulled from appsink",
					"for", b.logInterval,
				)
			}
			continue
		}
		b.noSampleLog.Reset()

		if err != nil {
			b.framesDropped.Add(1)
			if ok, suppressed := b.mismatchLog.Allow(); ok {
				slog.Warn("frame-bridge: dropping sample",
					"error", err,
					"expected", fmt.Sprintf("%s %s", SupportedFormat, run.cfg.Resolution()),
					"suppressed", suppressed,
				)
			}
		}
	}

	b.drainEvents(run)
	slog.Debug("frame-bridge: pull loop exit")
}

// storeImage validates a decoded image, repacks it and swaps it into the slot.
// img memory is only valid during this call.
func (b *FrameBridge) storeImage(run *bridgeRun, img DecodedImage) error {
	width, height := int(run.cfg.Width), int(run.cfg.Height)

	if img.Format != SupportedFormat {
		return fmt.Errorf("%w: expected %s, got %s", errFormatMismatch, SupportedFormat, img.Format)
	}
	if img.Width != width || img.Height != height {
		return fmt.Errorf("%w: expected %dx%d, got %dx%d", errDimensionMismatch, width, height, img.Width, img.Height)
	}
	if len(img.Planes) < 2 || len(img.Strides) < 2 {
		return errPlaneLayout
	}

	packed, err := nv12.Pack(width, height, img.Planes[0], img.Strides[0], img.Planes[1], img.Strides[1])
	if err != nil {
		return err
	}

	if !run.firstFrameLogged {
		run.firstFrameLogged = true
		slog.Info("frame-bridge: first sample received",
			"y_stride", img.Strides[0],
			"uv_stride", img.Strides[1],
			"y_size", width*height,
			"uv_size", width*height/2,
			"startup", time.Since(run.started),
		)
	}

	b.frameMu.Lock()
	b.latest = packed
	b.hasFrame = true
	b.frameMu.Unlock()

	b.framesStored.Add(1)
	b.ingest.Add(time.Now())
	return nil
}

func (b *FrameBridge) logPullError(err error) {
	if ok, suppressed := b.pullErrLog.Allow(); ok {
		slog.Warn("frame-bridge: pull failed",
			"error", err,
			"suppressed", suppressed,
		)
	}
}

// drainEvents logs every pending bus event and counts errors by category
func (b *FrameBridge) drainEvents(run *bridgeRun) {
	for _, ev := range run.pipeline.DrainEvents() {
		switch ev.Severity {
		case SeverityError:
			category := ev.Category
			if category == "" {
				category = "unknown"
			}
			b.busErrMu.Lock()
			b.busErrors[category]++
			b.busErrMu.Unlock()

			slog.Error("frame-bridge: pipeline bus error",
				"source", ev.Source,
				"message", ev.Message,
				"debug", ev.Debug,
				"category", category,
			)
		case SeverityWarning:
			slog.Warn("frame-bridge: pipeline bus warning",
				"source", ev.Source,
				"message", ev.Message,
				"debug", ev.Debug,
			)
		default:
			slog.Debug("frame-bridge: pipeline bus message",
				"source", ev.Source,
				"message", ev.Message,
			)
		}
	}
}

// CopyLatestFrameInto copies the latest frame into dst, whose rows are
// stride bytes apart. The chroma plane starts at stride*height.
//
// Returns:
//   - ErrNotRunning if the bridge was never started
//   - ErrInvalidArgument if stride <= 0 or stride < width
//   - ErrBufferTooSmall if len(dst) < stride*height*3/2
//
// Nothing is written on these failures. When no valid frame is stored a
// black placeholder frame is written and nil is returned. Only the frame
// lock is taken; the call never waits on the pipeline.
func (b *FrameBridge) CopyLatestFrameInto(dst []byte, stride int) error {
	b.frameMu.Lock()
	defer b.frameMu.Unlock()

	if !b.configured {
		return ErrNotRunning
	}

	width, height := int(b.cfg.Width), int(b.cfg.Height)
	if stride <= 0 || stride < width {
		return fmt.Errorf("%w: stride %d for width %d", ErrInvalidArgument, stride, width)
	}

	if !nv12.Fits(len(dst), stride, height) {
		return fmt.Errorf("%w: have %d bytes for stride %d and height %d", ErrBufferTooSmall, len(dst), stride, height)
	}

	if !b.hasFrame || len(b.latest) < b.cfg.FrameSize() {
		b.placeholderCopies.Add(1)
		if ok, suppressed := b.fallbackLog.Allow(); ok {
			slog.Info("frame-bridge: using placeholder frame",
				"has_frame", b.hasFrame,
				"latest_frame_bytes", len(b.latest),
				"stride", stride,
				"length", len(dst),
				"suppressed", suppressed,
			)
		}
		nv12.FillPlaceholder(dst, stride, width, height)
		return nil
	}

	if !b.firstCopyLogged {
		b.firstCopyLogged = true
		slog.Info("frame-bridge: first frame copy",
			"stride", stride,
			"length", len(dst),
		)
	}

	nv12.CopyOut(dst, stride, b.latest, width, height)
	b.copies.Add(1)
	return nil
}

// Running reports whether the bridge is between Start and Stop
func (b *FrameBridge) Running() bool {
	return b.running.Load()
}

// Config returns the active (or last) config, including the resolved description
func (b *FrameBridge) Config() PipelineConfig {
	b.frameMu.Lock()
	defer b.frameMu.Unlock()
	return b.cfg
}

// Stats returns a snapshot of bridge counters
//
// Thread-safe - never blocks on Start/Stop.
func (b *FrameBridge) Stats() BridgeStats {
	now := time.Now()
	ingest := b.ingest.Stats(now)

	var lastFrameAge time.Duration
	if last := b.ingest.Last(); !last.IsZero() {
		lastFrameAge = now.Sub(last)
	}

	b.busErrMu.Lock()
	busErrors := make(map[string]uint64, len(b.busErrors))
	for k, v := range b.busErrors {
		busErrors[k] = v
	}
	b.busErrMu.Unlock()

	cfg := b.Config()
	return BridgeStats{
		Running:           b.running.Load(),
		Resolution:        cfg.Resolution(),
		FramesStored:      b.framesStored.Load(),
		FramesDropped:     b.framesDropped.Load(),
		PullTimeouts:      b.pullTimeouts.Load(),
		Copies:            b.copies.Load(),
		PlaceholderCopies: b.placeholderCopies.Load(),
		BusErrors:         busErrors,
		IngestFPS:         ingest.FPSMean,
		IngestStable:      ingest.IsStable,
		LastFrameAge:      lastFrameAge,
	}
}
