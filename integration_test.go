package vcam_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vcam "github.com/e7canasta/orion-care-sensor/modules/virtual-camera"
	"github.com/e7canasta/orion-care-sensor/modules/virtual-camera/internal/alloc"
	"github.com/e7canasta/orion-care-sensor/modules/virtual-camera/internal/eventbus"
	"github.com/e7canasta/orion-care-sensor/modules/virtual-camera/internal/nv12"
	"github.com/e7canasta/orion-care-sensor/modules/virtual-camera/internal/synthetic"
)

func isPlaceholder(frame []byte, stride, width, height int) bool {
	want := make([]byte, len(frame))
	copy(want, frame)
	nv12.FillPlaceholder(want, stride, width, height)
	return bytes.Equal(want, frame)
}

// TestBridge_TestPatternScenario runs the default 1280x960@30 test pattern
// end to end on the synthetic driver.
func TestBridge_TestPatternScenario(t *testing.T) {
	const width, height = 1280, 960

	driver := synthetic.New(synthetic.WithPadding(64))
	bridge := vcam.NewFrameBridge(driver)
	t.Cleanup(bridge.Stop)

	cfg := vcam.PipelineConfig{Width: width, Height: height, FPSNumerator: 30, FPSDenominator: 1}
	require.NoError(t, bridge.Start(cfg))

	buf := make([]byte, width*height*3/2)

	// Placeholder or real frame, never an error
	require.NoError(t, bridge.CopyLatestFrameInto(buf, width))

	require.Eventually(t, func() bool {
		if err := bridge.CopyLatestFrameInto(buf, width); err != nil {
			return false
		}
		return !isPlaceholder(buf, width, width, height)
	}, time.Second, 10*time.Millisecond, "no real frame within 1s")

	stats := bridge.Stats()
	assert.True(t, stats.Running)
	assert.Equal(t, "1280x960", stats.Resolution)
	assert.Positive(t, stats.FramesStored)
	assert.Zero(t, stats.FramesDropped)

	bridge.Stop()
	assert.False(t, bridge.Stats().Running)
}

func TestStream_EndToEndWithSyntheticDriver(t *testing.T) {
	const width, height = 320, 240

	bridge := vcam.NewFrameBridge(synthetic.New(synthetic.WithPadding(16)))
	heap, err := alloc.NewHeap(width, height, 64)
	require.NoError(t, err)

	bus := eventbus.New()
	defer bus.Close()
	events := make(chan vcam.Event, 256)
	require.NoError(t, bus.Subscribe("test", events))

	stream, err := vcam.NewStream(vcam.StreamConfig{
		Pipeline:  vcam.PipelineConfig{Width: width, Height: height, FPSNumerator: 60, FPSDenominator: 1},
		Source:    bridge,
		Allocator: heap,
		Sink:      bus,
		Name:      "e2e",
	})
	require.NoError(t, err)
	defer stream.Shutdown()

	_, err = stream.RequestSample(nil)
	require.ErrorIs(t, err, vcam.ErrNotRunning)

	require.NoError(t, stream.Start())

	var last *vcam.Sample
	require.Eventually(t, func() bool {
		sample, err := stream.RequestSample("tok")
		if err != nil {
			return false
		}
		img := sample.Image.(*alloc.Image)
		defer img.Release()

		if last != nil && sample.Time <= last.Time {
			t.Errorf("timestamp went backwards: %d after %d", sample.Time, last.Time)
		}
		last = sample
		return !isPlaceholder(img.Bytes(), heap.Stride(), width, height)
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, int64(10_000_000/60), last.Duration)
	assert.Equal(t, "tok", last.Token)
	assert.Zero(t, heap.Outstanding())

	require.NoError(t, stream.Stop())
	_, err = stream.RequestSample(nil)
	assert.ErrorIs(t, err, vcam.ErrNotRunning)

	var kinds []vcam.EventKind
	for len(events) > 0 {
		ev := <-events
		if ev.Kind != vcam.EventSampleReady {
			kinds = append(kinds, ev.Kind)
		}
	}
	assert.Equal(t, []vcam.EventKind{vcam.EventStarted, vcam.EventStopped}, kinds)
}

func TestBridge_SyntheticSizeMismatchServesPlaceholder(t *testing.T) {
	bridge := vcam.NewFrameBridge(synthetic.New(synthetic.WithOutputSize(64, 48)),
		vcam.WithPullTimeout(20*time.Millisecond),
	)
	t.Cleanup(bridge.Stop)

	require.NoError(t, bridge.Start(vcam.PipelineConfig{Width: 32, Height: 16, FPSNumerator: 100, FPSDenominator: 1}))

	require.Eventually(t, func() bool {
		return bridge.Stats().FramesDropped >= 3
	}, time.Second, 5*time.Millisecond)

	buf := make([]byte, 32*16*3/2)
	require.NoError(t, bridge.CopyLatestFrameInto(buf, 32))
	assert.True(t, isPlaceholder(buf, 32, 32, 16))
	assert.Zero(t, bridge.Stats().FramesStored)
}

func TestStream_FailedCopyReturnsImageToHeap(t *testing.T) {
	bridge := vcam.NewFrameBridge(synthetic.New())
	// Half-height heap: every copy is too small
	heap, err := alloc.NewHeap(320, 120, 64)
	require.NoError(t, err)

	stream, err := vcam.NewStream(vcam.StreamConfig{
		Pipeline:  vcam.PipelineConfig{Width: 320, Height: 240, FPSNumerator: 30, FPSDenominator: 1},
		Source:    bridge,
		Allocator: heap,
		Sink:      vcam.EventSinkFunc(func(vcam.Event) {}),
	})
	require.NoError(t, err)
	defer stream.Shutdown()

	require.NoError(t, stream.Start())

	_, err = stream.RequestSample(nil)
	assert.ErrorIs(t, err, vcam.ErrBufferTooSmall)
	assert.Zero(t, heap.Outstanding())
}
