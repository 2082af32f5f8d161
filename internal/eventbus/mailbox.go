package eventbus

import (
	"sync"

	vcam "github.com/e7canasta/orion-care-sensor/modules/virtual-camera"
)

// Mailbox is a single-slot, overwrite-on-write event holder
//
// Receive consumes the held event, so a slow reader always gets the most
// recent event and never a backlog.
type Mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	event  *vcam.Event
	closed bool

	// overwritten counts events replaced before being consumed
	overwritten uint64
}

func newMailbox() *Mailbox {
	m := &Mailbox{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// put stores ev and reports whether an unconsumed event was overwritten
func (m *Mailbox) put(ev vcam.Event) (overwrote bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}

	overwrote = m.event != nil
	if overwrote {
		m.overwritten++
	}
	m.event = &ev
	m.cond.Signal()
	return overwrote
}

// Receive blocks until an event is available or the mailbox is closed.
// ok is false once closed.
func (m *Mailbox) Receive() (ev vcam.Event, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for m.event == nil && !m.closed {
		m.cond.Wait()
	}
	if m.closed {
		return vcam.Event{}, false
	}

	ev = *m.event
	m.event = nil
	return ev, true
}

// TryReceive consumes the held event without blocking
func (m *Mailbox) TryReceive() (vcam.Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.event == nil || m.closed {
		return vcam.Event{}, false
	}
	ev := *m.event
	m.event = nil
	return ev, true
}

// Overwritten returns the number of events replaced before being consumed
func (m *Mailbox) Overwritten() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.overwritten
}

// Close wakes blocked readers; later Receive calls return ok=false
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.cond.Broadcast()
}
