package vcam

import (
	"fmt"
	"time"
)

// PixelFormat identifies the plane layout of a decoded image
type PixelFormat int

const (
	// FormatUnknown is reported when the pipeline output could not be classified
	FormatUnknown PixelFormat = iota
	// FormatNV12 is 4:2:0 semi-planar: Y plane followed by interleaved CbCr
	FormatNV12
	// FormatI420 is 4:2:0 planar (Y, U, V)
	FormatI420
	// FormatYUY2 is packed 4:2:2
	FormatYUY2
	// FormatRGB is packed 24-bit RGB
	FormatRGB
)

// String returns the caps name of the format
func (f PixelFormat) String() string {
	switch f {
	case FormatNV12:
		return "NV12"
	case FormatI420:
		return "I420"
	case FormatYUY2:
		return "YUY2"
	case FormatRGB:
		return "RGB"
	default:
		return "unknown"
	}
}

// ParsePixelFormat maps a caps format name to a PixelFormat
func ParsePixelFormat(name string) PixelFormat {
	switch name {
	case "NV12", "nv12":
		return FormatNV12
	case "I420", "i420":
		return FormatI420
	case "YUY2", "yuy2":
		return FormatYUY2
	case "RGB", "rgb":
		return FormatRGB
	default:
		return FormatUnknown
	}
}

// SupportedFormat is the only format the bridge buffers and serves
const SupportedFormat = FormatNV12

// PipelineConfig describes the pipeline the bridge drives
type PipelineConfig struct {
	// Description is the pipeline launch text (empty = built-in test pattern)
	Description string `yaml:"pipeline"`
	// Width in pixels (even)
	Width uint32 `yaml:"width"`
	// Height in pixels (even)
	Height uint32 `yaml:"height"`
	// FPSNumerator of the frame-rate ratio
	FPSNumerator uint32 `yaml:"fps_numerator"`
	// FPSDenominator of the frame-rate ratio
	FPSDenominator uint32 `yaml:"fps_denominator"`
}

// Validate checks the numeric contract of the config
func (c PipelineConfig) Validate() error {
	if c.Width == 0 || c.Height == 0 {
		return fmt.Errorf("%w: resolution %dx%d", ErrInvalidConfig, c.Width, c.Height)
	}
	if c.FPSNumerator == 0 || c.FPSDenominator == 0 {
		return fmt.Errorf("%w: framerate %d/%d", ErrInvalidConfig, c.FPSNumerator, c.FPSDenominator)
	}
	if c.Width%2 != 0 || c.Height%2 != 0 {
		return fmt.Errorf("%w: resolution %dx%d must be even", ErrInvalidConfig, c.Width, c.Height)
	}
	return nil
}

// FrameSize returns the byte size of a tightly packed NV12 frame
func (c PipelineConfig) FrameSize() int {
	return int(c.Width) * int(c.Height) * 3 / 2
}

// FrameDuration returns the per-frame duration in 100ns ticks
func (c PipelineConfig) FrameDuration() int64 {
	if c.FPSNumerator == 0 {
		return 0
	}
	return int64(10_000_000) * int64(c.FPSDenominator) / int64(c.FPSNumerator)
}

// Interval returns the per-frame duration as a time.Duration
func (c PipelineConfig) Interval() time.Duration {
	return time.Duration(c.FrameDuration()) * 100 * time.Nanosecond
}

// Resolution returns "WxH"
func (c PipelineConfig) Resolution() string {
	return fmt.Sprintf("%dx%d", c.Width, c.Height)
}

// StreamState is the lifecycle state of a Stream
type StreamState int

const (
	// StateStopped is the initial state; the pipeline is torn down
	StateStopped StreamState = iota
	// StateRunning serves sample requests
	StateRunning
	// StatePaused keeps the pipeline alive but rejects sample requests
	StatePaused
)

// String returns a human-readable state name
func (s StreamState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Sample is one served frame with its timing metadata
type Sample struct {
	// Seq is the 1-based request sequence number
	Seq uint64
	// Image holds the written frame (unlocked)
	Image WritableImage
	// Time is the sample timestamp in 100ns ticks since the stream clock origin
	Time int64
	// Duration is the per-frame duration in 100ns ticks
	Duration int64
	// Token is the optional caller-supplied correlation token
	Token any
	// TraceID is a unique identifier for distributed tracing
	TraceID string
}

// BridgeStats is a snapshot of FrameBridge counters
type BridgeStats struct {
	// Running is true between Start and Stop
	Running bool
	// Resolution of the active (or last) config
	Resolution string
	// FramesStored is the number of frames swapped into the slot
	FramesStored uint64
	// FramesDropped is the number of pulled images rejected (format/size/short)
	FramesDropped uint64
	// PullTimeouts is the number of pulls that returned no image
	PullTimeouts uint64
	// Copies is the number of successful copy-outs of a real frame
	Copies uint64
	// PlaceholderCopies is the number of copy-outs served with the placeholder
	PlaceholderCopies uint64
	// BusErrors counts error-severity bus events by category
	BusErrors map[string]uint64
	// IngestFPS is the measured rate of stored frames over the recent window
	IngestFPS float64
	// IngestStable reports whether ingest FPS and jitter are within bounds
	IngestStable bool
	// LastFrameAge is the time since the last stored frame (0 if none)
	LastFrameAge time.Duration
}
