package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vcam "github.com/e7canasta/orion-care-sensor/modules/virtual-camera"
)

func sampleEvent(seq uint64) vcam.Event {
	return vcam.Event{
		Kind:   vcam.EventSampleReady,
		Stream: "cam",
		At:     time.Now(),
		Sample: &vcam.Sample{Seq: seq},
	}
}

func TestBus_PublishSubscribe(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch := make(chan vcam.Event, 10)
	require.NoError(t, bus.Subscribe("lifecycle", ch))

	bus.Publish(vcam.Event{Kind: vcam.EventStarted, Stream: "cam"})

	select {
	case ev := <-ch:
		assert.Equal(t, vcam.EventStarted, ev.Kind)
		assert.Equal(t, "cam", ev.Stream)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestBus_NonBlockingPublish(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch := make(chan vcam.Event, 1)
	require.NoError(t, bus.Subscribe("slow", ch))

	done := make(chan struct{})
	go func() {
		bus.Publish(sampleEvent(1))
		bus.Publish(sampleEvent(2))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Publish blocked on a full subscriber")
	}

	assert.Equal(t, uint64(1), (<-ch).Sample.Seq)

	stats := bus.Stats().Subscribers["slow"]
	assert.Equal(t, uint64(1), stats.Sent)
	assert.Equal(t, uint64(1), stats.Dropped)
}

func TestBus_PreservesOrder(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch := make(chan vcam.Event, 100)
	require.NoError(t, bus.Subscribe("ordered", ch))

	for i := uint64(1); i <= 100; i++ {
		bus.Publish(sampleEvent(i))
	}

	for i := uint64(1); i <= 100; i++ {
		assert.Equal(t, i, (<-ch).Sample.Seq)
	}
}

func TestBus_StatsConservation(t *testing.T) {
	bus := New()
	defer bus.Close()

	require.NoError(t, bus.Subscribe("big", make(chan vcam.Event, 10)))
	require.NoError(t, bus.Subscribe("small", make(chan vcam.Event, 1)))

	for i := uint64(1); i <= 5; i++ {
		bus.Publish(sampleEvent(i))
	}

	stats := bus.Stats()
	assert.Equal(t, uint64(5), stats.TotalPublished)
	assert.Equal(t, stats.TotalPublished*2, stats.TotalSent+stats.TotalDropped)
	assert.Equal(t, uint64(5), stats.Subscribers["big"].Sent)
	assert.Equal(t, uint64(4), stats.Subscribers["small"].Dropped)
}

func TestBus_SubscribeErrors(t *testing.T) {
	bus := New()

	assert.ErrorIs(t, bus.Subscribe("nil", nil), ErrNilChannel)

	require.NoError(t, bus.Subscribe("dup", make(chan vcam.Event, 1)))
	assert.ErrorIs(t, bus.Subscribe("dup", make(chan vcam.Event, 1)), ErrSubscriberExists)
	_, err := bus.SubscribeLatest("dup")
	assert.ErrorIs(t, err, ErrSubscriberExists)

	assert.ErrorIs(t, bus.Unsubscribe("missing"), ErrSubscriberNotFound)
	require.NoError(t, bus.Unsubscribe("dup"))

	bus.Close()
	bus.Close()

	assert.ErrorIs(t, bus.Subscribe("late", make(chan vcam.Event, 1)), ErrBusClosed)
	assert.ErrorIs(t, bus.Unsubscribe("late"), ErrBusClosed)

	// Publish after Close is discarded, not a panic
	assert.NotPanics(t, func() { bus.Publish(sampleEvent(1)) })
}

func TestMailbox_KeepsLatest(t *testing.T) {
	bus := New()
	defer bus.Close()

	mb, err := bus.SubscribeLatest("preview")
	require.NoError(t, err)

	for i := uint64(1); i <= 5; i++ {
		bus.Publish(sampleEvent(i))
	}

	ev, ok := mb.Receive()
	require.True(t, ok)
	assert.Equal(t, uint64(5), ev.Sample.Seq)
	assert.Equal(t, uint64(4), mb.Overwritten())

	_, ok = mb.TryReceive()
	assert.False(t, ok, "event consumed twice")

	stats := bus.Stats().Subscribers["preview"]
	assert.Equal(t, DropOld, stats.Policy)
	assert.Equal(t, uint64(5), stats.Sent)
	assert.Equal(t, uint64(4), stats.Dropped)
}

func TestMailbox_ReceiveBlocksUntilPublish(t *testing.T) {
	bus := New()
	defer bus.Close()

	mb, err := bus.SubscribeLatest("saver")
	require.NoError(t, err)

	got := make(chan uint64, 1)
	go func() {
		ev, ok := mb.Receive()
		if ok {
			got <- ev.Sample.Seq
		}
	}()

	time.Sleep(10 * time.Millisecond)
	bus.Publish(sampleEvent(42))

	select {
	case seq := <-got:
		assert.Equal(t, uint64(42), seq)
	case <-time.After(time.Second):
		t.Fatal("Receive never woke up")
	}
}

func TestMailbox_UnsubscribeWakesReader(t *testing.T) {
	bus := New()
	defer bus.Close()

	mb, err := bus.SubscribeLatest("saver")
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	var ok bool
	go func() {
		defer wg.Done()
		_, ok = mb.Receive()
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, bus.Unsubscribe("saver"))
	wg.Wait()

	assert.False(t, ok)
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch := make(chan vcam.Event, 1000)
	require.NoError(t, bus.Subscribe("all", ch))

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				bus.Publish(sampleEvent(uint64(i)))
			}
		}()
	}
	wg.Wait()

	stats := bus.Stats()
	assert.Equal(t, uint64(400), stats.TotalPublished)
	assert.Equal(t, uint64(400), stats.Subscribers["all"].Sent)
	assert.Len(t, ch, 400)
}
