package vcam

import "errors"

var (
	// ErrInvalidConfig is returned when a PipelineConfig field is zero or odd
	ErrInvalidConfig = errors.New("vcam: invalid pipeline config")
	// ErrDriverInitFailed is returned when the one-time driver init failed.
	// The failure is cached for the lifetime of the process.
	ErrDriverInitFailed = errors.New("vcam: pipeline driver initialization failed")
	// ErrInvalidPipeline is returned when the description does not build or
	// exposes no usable output port
	ErrInvalidPipeline = errors.New("vcam: invalid pipeline")
	// ErrUnsupportedFormat is returned when the stream format is not NV12
	ErrUnsupportedFormat = errors.New("vcam: unsupported stream format")
	// ErrInvalidArgument is returned for a bad destination stride
	ErrInvalidArgument = errors.New("vcam: invalid argument")
	// ErrBufferTooSmall is returned when the destination cannot hold a frame
	ErrBufferTooSmall = errors.New("vcam: destination buffer too small")
	// ErrNotRunning is returned when a frame is requested outside Running
	ErrNotRunning = errors.New("vcam: stream not running")
	// ErrInvalidStateTransition is returned for a transition the state machine forbids
	ErrInvalidStateTransition = errors.New("vcam: invalid state transition")
	// ErrShutdown is returned by every Stream call after Shutdown
	ErrShutdown = errors.New("vcam: stream shut down")
)
