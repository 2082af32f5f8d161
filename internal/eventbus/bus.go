// Package eventbus fans stream events out to multiple subscribers without
// ever blocking the publisher.
//
// Two delivery policies are supported:
//
//   - DropNew: events go to a caller-owned channel; when it is full the new
//     event is dropped for that subscriber (lifecycle consumers, exporters)
//   - DropOld: a single-slot mailbox keeps only the latest event and
//     overwrites unconsumed ones (frame savers, live previews)
//
// Bus implements vcam.EventSink, so it can be handed directly to a Stream.
// Events from one producer reach every subscriber in publish order.
package eventbus

import (
	"errors"
	"sync"
	"sync/atomic"

	vcam "github.com/e7canasta/orion-care-sensor/modules/virtual-camera"
)

var (
	ErrBusClosed          = errors.New("eventbus: bus is closed")
	ErrSubscriberExists   = errors.New("eventbus: subscriber already exists")
	ErrSubscriberNotFound = errors.New("eventbus: subscriber not found")
	ErrNilChannel         = errors.New("eventbus: nil channel provided")
)

// DropPolicy defines how the bus handles events when a subscriber cannot keep up
type DropPolicy int

const (
	// DropNew drops incoming events if the subscriber's channel is full
	DropNew DropPolicy = iota
	// DropOld always accepts new events, replacing the unconsumed one
	DropOld
)

// SubscriberStats tracks event distribution metrics for one subscriber
type SubscriberStats struct {
	Policy  DropPolicy
	Sent    uint64
	Dropped uint64
}

// Stats is a snapshot of bus-wide and per-subscriber counters
type Stats struct {
	TotalPublished uint64
	TotalSent      uint64
	TotalDropped   uint64
	Subscribers    map[string]SubscriberStats
}

type subscriber struct {
	policy  DropPolicy
	ch      chan<- vcam.Event
	mailbox *Mailbox
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// Bus distributes events to subscribers. The zero value is not usable; call New.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	closed      bool

	totalPublished atomic.Uint64
	// publishMu keeps per-subscriber ordering when several goroutines publish
	publishMu sync.Mutex
}

var _ vcam.EventSink = (*Bus)(nil)

// New creates an empty bus
func New() *Bus {
	return &Bus{subscribers: make(map[string]*subscriber)}
}

// Subscribe registers a DropNew subscriber that receives events on ch
func (b *Bus) Subscribe(id string, ch chan<- vcam.Event) error {
	if ch == nil {
		return ErrNilChannel
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return ErrSubscriberExists
	}

	b.subscribers[id] = &subscriber{policy: DropNew, ch: ch}
	return nil
}

// SubscribeLatest registers a DropOld subscriber and returns its mailbox
func (b *Bus) SubscribeLatest(id string) (*Mailbox, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return nil, ErrSubscriberExists
	}

	mb := newMailbox()
	b.subscribers[id] = &subscriber{policy: DropOld, mailbox: mb}
	return mb, nil
}

// Unsubscribe removes a subscriber. Its mailbox, if any, is closed;
// channels are owned by the caller and left open.
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}

	sub, exists := b.subscribers[id]
	if !exists {
		return ErrSubscriberNotFound
	}
	if sub.mailbox != nil {
		sub.mailbox.Close()
	}
	delete(b.subscribers, id)
	return nil
}

// Publish sends ev to every subscriber without blocking.
// Events published after Close are discarded.
func (b *Bus) Publish(ev vcam.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	b.totalPublished.Add(1)

	for _, sub := range b.subscribers {
		switch sub.policy {
		case DropNew:
			select {
			case sub.ch <- ev:
				sub.sent.Add(1)
			default:
				sub.dropped.Add(1)
			}

		case DropOld:
			if sub.mailbox.put(ev) {
				sub.dropped.Add(1)
			}
			sub.sent.Add(1)
		}
	}
}

// Stats returns a snapshot of bus counters
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := Stats{
		TotalPublished: b.totalPublished.Load(),
		Subscribers:    make(map[string]SubscriberStats, len(b.subscribers)),
	}

	for id, sub := range b.subscribers {
		s := SubscriberStats{
			Policy:  sub.policy,
			Sent:    sub.sent.Load(),
			Dropped: sub.dropped.Load(),
		}
		result.TotalSent += s.Sent
		result.TotalDropped += s.Dropped
		result.Subscribers[id] = s
	}
	return result
}

// Close stops the bus and closes every mailbox
//
// Idempotent - safe to call multiple times. Subscriber channels are not closed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, sub := range b.subscribers {
		if sub.mailbox != nil {
			sub.mailbox.Close()
		}
	}
	b.subscribers = map[string]*subscriber{}
}
