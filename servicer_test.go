package vcam

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestSample_NotRunning(t *testing.T) {
	f := newStreamFixture(t)

	_, err := f.stream.RequestSample(nil)
	assert.ErrorIs(t, err, ErrNotRunning)

	require.NoError(t, f.stream.Start())
	require.NoError(t, f.stream.Pause())

	_, err = f.stream.RequestSample(nil)
	assert.ErrorIs(t, err, ErrNotRunning)

	require.NoError(t, f.stream.Stop())
	_, err = f.stream.RequestSample(nil)
	assert.ErrorIs(t, err, ErrNotRunning)

	assert.Empty(t, f.alloc.images, "allocator used outside Running")
}

func TestRequestSample_FillsAndStamps(t *testing.T) {
	f := newStreamFixture(t)
	require.NoError(t, f.stream.Start())

	sample, err := f.stream.RequestSample("token-1")
	require.NoError(t, err)

	img := sample.Image.(*fakeImage)
	assert.Equal(t, bytes.Repeat([]byte{0x42}, len(img.buf)), img.buf)
	assert.Equal(t, 1, img.locks)
	assert.Equal(t, 1, img.unlocks)
	assert.False(t, img.locked)

	assert.Equal(t, uint64(1), sample.Seq)
	assert.Equal(t, int64(333_333), sample.Duration)
	assert.Equal(t, "token-1", sample.Token)
	assert.Len(t, sample.TraceID, 36)
	assert.Positive(t, sample.Time)

	kinds := f.sink.kinds()
	require.Equal(t, []EventKind{EventStarted, EventSampleReady}, kinds)
	assert.Same(t, sample, f.sink.events[1].Sample)
}

func TestRequestSample_NilToken(t *testing.T) {
	f := newStreamFixture(t)
	require.NoError(t, f.stream.Start())

	sample, err := f.stream.RequestSample(nil)
	require.NoError(t, err)
	assert.Nil(t, sample.Token)
}

func TestRequestSample_TimestampsStrictlyIncrease(t *testing.T) {
	f := newStreamFixture(t)
	require.NoError(t, f.stream.Start())

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		times = make(map[int64]bool)
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last int64
			for j := 0; j < 100; j++ {
				sample, err := f.stream.RequestSample(nil)
				if !assert.NoError(t, err) {
					return
				}
				assert.Greater(t, sample.Time, last)
				last = sample.Time

				mu.Lock()
				assert.False(t, times[sample.Time], "duplicate timestamp %d", sample.Time)
				times[sample.Time] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, times, 400)
}

func TestRequestSample_UnlocksOnEveryPath(t *testing.T) {
	t.Run("copy fails", func(t *testing.T) {
		f := newStreamFixture(t)
		require.NoError(t, f.stream.Start())
		f.source.mu.Lock()
		f.source.copyErr = ErrBufferTooSmall
		f.source.mu.Unlock()

		_, err := f.stream.RequestSample(nil)
		assert.ErrorIs(t, err, ErrBufferTooSmall)

		require.Len(t, f.alloc.images, 1)
		img := f.alloc.images[0]
		assert.Equal(t, 1, img.locks)
		assert.Equal(t, 1, img.unlocks)
		assert.False(t, img.locked)
		assert.Equal(t, []EventKind{EventStarted}, f.sink.kinds(), "sample published after failure")
	})

	t.Run("lock fails", func(t *testing.T) {
		f := newStreamFixture(t)
		require.NoError(t, f.stream.Start())
		f.alloc.lockErr = errors.New("device lost")

		_, err := f.stream.RequestSample(nil)
		assert.ErrorContains(t, err, "device lost")

		img := f.alloc.images[0]
		assert.Zero(t, img.unlocks, "unlock without a successful lock")
	})

	t.Run("allocation fails", func(t *testing.T) {
		f := newStreamFixture(t)
		require.NoError(t, f.stream.Start())
		f.alloc.allocErr = errors.New("pool exhausted")

		_, err := f.stream.RequestSample(nil)
		assert.ErrorContains(t, err, "pool exhausted")
		assert.Empty(t, f.alloc.images)
	})
}

func TestRequestSample_SequenceCountsSuccessesOnly(t *testing.T) {
	f := newStreamFixture(t)
	require.NoError(t, f.stream.Start())

	first, err := f.stream.RequestSample(nil)
	require.NoError(t, err)

	f.source.mu.Lock()
	f.source.copyErr = ErrInvalidArgument
	f.source.mu.Unlock()
	_, err = f.stream.RequestSample(nil)
	require.Error(t, err)

	f.source.mu.Lock()
	f.source.copyErr = nil
	f.source.mu.Unlock()
	second, err := f.stream.RequestSample(nil)
	require.NoError(t, err)

	assert.Equal(t, first.Seq+1, second.Seq)
}

func TestRequestSample_SinkMayPauseOnSampleReady(t *testing.T) {
	source := &fakeSource{fill: 0x42}
	var stream *Stream
	pauseErr := make(chan error, 1)
	sink := EventSinkFunc(func(ev Event) {
		if ev.Kind == EventSampleReady {
			pauseErr <- stream.Pause()
		}
	})

	var err error
	stream, err = NewStream(StreamConfig{
		Pipeline:  testConfig(),
		Source:    source,
		Allocator: &fakeAllocator{},
		Sink:      sink,
		Name:      "pausing-sink",
	})
	require.NoError(t, err)
	require.NoError(t, stream.Start())

	done := make(chan error, 1)
	go func() {
		_, err := stream.RequestSample(nil)
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("RequestSample blocked while the sink paused the stream")
	}

	require.NoError(t, <-pauseErr)
	assert.Equal(t, StatePaused, stream.State())
}
