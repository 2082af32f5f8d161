// Package vcam bridges a GStreamer pipeline to a polling virtual-camera consumer.
//
// A background goroutine pulls decoded NV12 images from a named appsink,
// repacks them into a tightly packed buffer and keeps only the most recent
// one. The host polls at its own cadence and always gets a complete frame:
// the latest decoded image, or a black placeholder while none is available.
//
// # Quick Start
//
//	driver := gstdriver.New()
//	bridge := vcam.NewFrameBridge(driver)
//	heap, _ := alloc.NewHeap(1280, 960, alloc.DefaultAlignment)
//
//	stream, err := vcam.NewStream(vcam.StreamConfig{
//	    Pipeline: vcam.PipelineConfig{
//	        Width:          1280,
//	        Height:         960,
//	        FPSNumerator:   30,
//	        FPSDenominator: 1,
//	    },
//	    Source:    bridge,
//	    Allocator: heap,
//	    Sink:      bus,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer stream.Shutdown()
//
//	if err := stream.Start(); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Called by the host at its own cadence
//	sample, err := stream.RequestSample(token)
//
// # Components
//
//   - FrameBridge: drives the pipeline and owns the latest-frame slot
//   - Stream: Stopped/Running/Paused state machine forwarding Start/Stop to the bridge
//   - RequestSample: per-request path (allocate, lock, copy, unlock, stamp, publish)
//   - Driver/Pipeline/Port: capability interfaces over the pipeline library
//
// # Pipeline Description
//
// PipelineConfig.Description is an opaque gst-launch string. When empty, a
// live SMPTE test pattern at the configured geometry is used. When it names
// no appsink, " ! appsink name=vcamsink" is appended so descriptions that
// only specify the generation stage still work. The bridge pulls from the
// element named vcamsink and requests NV12 at exactly the configured size.
//
// # Frame Layout
//
// Frames are NV12: width*height luma bytes followed by width*height/2
// interleaved CbCr bytes. Destinations may use any row stride >= width; the
// chroma plane then starts at stride*height and the buffer must hold
// stride*height*3/2 bytes.
//
// The placeholder frame is luma 16, chroma 128 (BT.601 black).
//
// # Error Handling
//
//   - ErrDriverInitFailed is cached for the process lifetime and never retried
//   - Bad samples in the pull loop are dropped and logged (rate-limited), never returned
//   - A missing frame is served as the placeholder, never as an error
//   - All other errors are returned to the caller of the operation that detected them
//
// # Thread Safety
//
// Start, Stop and state transitions are serialized. CopyLatestFrameInto and
// RequestSample only take the frame lock briefly and never wait on the
// pipeline. After Stop returns the pull goroutine has exited and will not
// write the frame slot again.
package vcam
