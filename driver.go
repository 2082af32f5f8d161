package vcam

import (
	"sync"
	"time"
)

// Driver wraps the third-party streaming pipeline library
//
// Implementations must guarantee:
//   - Init() performs process-wide initialization exactly once and returns
//     the cached result on every later call (see OnceInit)
//   - Build() returns a pipeline in its NULL/stopped state
type Driver interface {
	// Init initializes the underlying library (idempotent, failure cached)
	Init() error

	// Build constructs a pipeline from a launch description
	Build(description string) (Pipeline, error)
}

// Pipeline is one built pipeline instance, exclusively owned by a FrameBridge
type Pipeline interface {
	// OutputPort locates the named sink the bridge pulls images from
	OutputPort(name string) (Port, error)

	// SetPlaying requests the playing state (asynchronous completion)
	SetPlaying() error

	// WaitPlaying blocks until the playing state is reached or timeout elapses
	WaitPlaying(timeout time.Duration) error

	// SetStopped synchronously moves the pipeline to its stopped state
	SetStopped() error

	// DrainEvents returns all pending bus events without blocking
	DrainEvents() []BusEvent

	// Release drops every resource owned by the pipeline
	Release()
}

// PortFormat is the exact output format requested from a Port
type PortFormat struct {
	Format         PixelFormat
	Width          int
	Height         int
	FPSNumerator   int
	FPSDenominator int
}

// Port is the named output endpoint of a pipeline
type Port interface {
	// Configure requests exactly the given format (no negotiation)
	Configure(format PortFormat) error

	// PullImage waits up to timeout for the next decoded image.
	//
	// Returns pulled=false on timeout. When an image is pulled, consume is
	// invoked with plane memory that stays valid only until consume returns;
	// its error is returned to the caller.
	PullImage(timeout time.Duration, consume func(DecodedImage) error) (pulled bool, err error)
}

// DecodedImage is a view of one decoded image owned by the driver
type DecodedImage struct {
	Format  PixelFormat
	Width   int
	Height  int
	Planes  [][]byte
	Strides []int
}

// Severity of a bus event
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

// String returns the lowercase severity name
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "info"
	}
}

// BusEvent is one diagnostic message drained from the pipeline bus
type BusEvent struct {
	Severity Severity
	Source   string
	Message  string
	Debug    string
	// Category is a coarse classification (network, codec, auth, unknown)
	Category string
}

// Allocator hands out destination images for sample requests
type Allocator interface {
	Allocate() (WritableImage, error)
}

// WritableImage is a destination buffer that must be locked before writing
type WritableImage interface {
	// LockForWrite returns the writable bytes and the row stride
	LockForWrite() (buf []byte, stride int, err error)
	// Unlock releases the write lock
	Unlock()
}

// OnceInit wraps fn so that it runs at most once per process.
// The first result, success or failure, is returned to every caller.
func OnceInit(fn func() error) func() error {
	var (
		once sync.Once
		err  error
	)
	return func() error {
		once.Do(func() {
			err = fn()
		})
		return err
	}
}
