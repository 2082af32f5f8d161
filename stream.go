package vcam

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-care-sensor/modules/virtual-camera/internal/ratelog"
)

// DefaultRequestLogInterval gates the sample throughput log line
const DefaultRequestLogInterval = 2 * time.Second

// FrameSource is the part of FrameBridge a Stream drives
type FrameSource interface {
	Start(cfg PipelineConfig) error
	Stop()
	CopyLatestFrameInto(dst []byte, stride int) error
}

// StreamConfig wires a Stream to its collaborators
type StreamConfig struct {
	// Pipeline is passed to the frame source on every entry into Running
	Pipeline PipelineConfig
	// Source produces frames (usually a *FrameBridge)
	Source FrameSource
	// Allocator hands out destination images for RequestSample
	Allocator Allocator
	// Sink receives lifecycle and sample-ready events
	Sink EventSink
	// Name identifies the stream in logs and events (default: generated)
	Name string
}

// Stream is the lifecycle state machine of one logical stream
//
// Transitions:
//
//	Stopped --Start--> Running
//	Running --Pause--> Paused
//	Paused  --Start--> Running
//	Running/Paused --Stop--> Stopped
//
// Transitions are serialized by mu. RequestSample holds mu shared, so a
// transition never overlaps a sample copy.
type Stream struct {
	name   string
	cfg    PipelineConfig
	source FrameSource
	alloc  Allocator
	sink   EventSink

	mu       sync.RWMutex
	state    StreamState
	format   PixelFormat
	shutdown bool

	// Sample timing
	origin   time.Time
	lastTick atomic.Int64
	requests atomic.Uint64

	throughputMu  sync.Mutex
	throughputLog *ratelog.Limiter
	lastLogCount  uint64
	lastLogTime   time.Time
}

// NewStream creates a stopped stream
//
// Returns error if:
//   - Source, Allocator or Sink is nil
//   - Pipeline fails validation
func NewStream(cfg StreamConfig) (*Stream, error) {
	if cfg.Source == nil {
		return nil, errors.New("vcam: stream requires a frame source")
	}
	if cfg.Allocator == nil {
		return nil, errors.New("vcam: stream requires an allocator")
	}
	if cfg.Sink == nil {
		return nil, errors.New("vcam: stream requires an event sink")
	}
	if err := cfg.Pipeline.Validate(); err != nil {
		return nil, err
	}

	name := cfg.Name
	if name == "" {
		name = "vcam-" + uuid.NewString()[:8]
	}

	s := &Stream{
		name:          name,
		cfg:           cfg.Pipeline,
		source:        cfg.Source,
		alloc:         cfg.Allocator,
		sink:          cfg.Sink,
		state:         StateStopped,
		format:        SupportedFormat,
		origin:        time.Now(),
		throughputLog: ratelog.New(DefaultRequestLogInterval),
	}

	slog.Info("stream: created",
		"stream", s.name,
		"resolution", s.cfg.Resolution(),
		"fps", fmt.Sprintf("%d/%d", s.cfg.FPSNumerator, s.cfg.FPSDenominator),
	)
	return s, nil
}

// Name returns the stream identifier
func (s *Stream) Name() string { return s.name }

// State returns the current lifecycle state
func (s *Stream) State() StreamState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetFormat selects the format validated on the next entry into Running.
// Only NV12 can actually run; other formats make Start fail.
func (s *Stream) SetFormat(format PixelFormat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown {
		return ErrShutdown
	}
	s.format = format
	return nil
}

// Start moves the stream to Running
func (s *Stream) Start() error { return s.SetState(StateRunning) }

// Pause moves a running stream to Paused
func (s *Stream) Pause() error { return s.SetState(StatePaused) }

// Stop moves the stream to Stopped
func (s *Stream) Stop() error { return s.SetState(StateStopped) }

// SetState requests a transition to target
//
// Requesting the current state is a no-op success. Any transition not in
// the table above fails with ErrInvalidStateTransition. A failed entry into
// Running leaves the state unchanged.
func (s *Stream) SetState(target StreamState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown {
		return ErrShutdown
	}

	from := s.state
	slog.Debug("stream: state change requested",
		"stream", s.name,
		"current", from.String(),
		"target", target.String(),
	)

	if from == target {
		return nil
	}

	switch {
	case target == StateRunning && (from == StateStopped || from == StatePaused):
		if err := s.enterRunning(); err != nil {
			slog.Error("stream: failed to start",
				"stream", s.name,
				"from", from.String(),
				"error", err,
			)
			return err
		}

	case target == StatePaused && from == StateRunning:
		s.state = StatePaused

	case target == StateStopped && (from == StateRunning || from == StatePaused):
		s.enterStopped()

	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, from, target)
	}

	slog.Info("stream: state changed",
		"stream", s.name,
		"from", from.String(),
		"to", s.state.String(),
	)
	return nil
}

// enterRunning validates the format and starts the frame source.
// Must hold s.mu.
func (s *Stream) enterRunning() error {
	if s.format != SupportedFormat {
		return fmt.Errorf("%w: %s (only %s is supported)", ErrUnsupportedFormat, s.format, SupportedFormat)
	}

	// Idempotent on the source side: resuming from Paused does not rebuild
	if err := s.source.Start(s.cfg); err != nil {
		return err
	}

	s.state = StateRunning
	s.publish(EventStarted, s.cfg.Resolution())
	return nil
}

// enterStopped stops the frame source. Must hold s.mu.
func (s *Stream) enterStopped() {
	s.source.Stop()
	s.state = StateStopped
	s.publish(EventStopped, fmt.Sprintf("requests=%d", s.requests.Load()))
}

// Shutdown stops the stream for good; every later call returns ErrShutdown
//
// Idempotent - safe to call multiple times.
func (s *Stream) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown {
		return
	}

	if s.state != StateStopped {
		s.enterStopped()
	} else {
		// The source may have been started outside the state machine
		s.source.Stop()
	}
	s.shutdown = true

	slog.Info("stream: shut down",
		"stream", s.name,
		"requests", s.requests.Load(),
	)
}

func (s *Stream) publish(kind EventKind, detail string) {
	s.sink.Publish(Event{
		Kind:   kind,
		Stream: s.name,
		Detail: detail,
		At:     time.Now(),
	})
}
