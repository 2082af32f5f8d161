package vcam

import "time"

// EventKind names a stream notification
type EventKind string

const (
	EventStarted     EventKind = "started"
	EventStopped     EventKind = "stopped"
	EventSampleReady EventKind = "sample_ready"
)

// Event is a notification published to an EventSink
type Event struct {
	Kind   EventKind `json:"kind"`
	Stream string    `json:"stream"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
	// Sample is set for EventSampleReady
	Sample *Sample `json:"-"`
}

// EventSink receives stream notifications.
//
// Publish is fire-and-forget: it must not block the caller and must preserve
// the order of events coming from a single producer.
//
// EventStarted and EventStopped are published while the stream transition
// still holds the stream lock, so Publish must not call Start, Stop, Pause
// or RequestSample on the same stream synchronously. EventSampleReady is
// published with no lock held and may race with a concurrent EventStopped.
type EventSink interface {
	Publish(ev Event)
}

// EventSinkFunc adapts a function to EventSink
type EventSinkFunc func(ev Event)

// Publish calls f(ev)
func (f EventSinkFunc) Publish(ev Event) { f(ev) }
