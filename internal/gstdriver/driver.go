//go:build cgo

package gstdriver

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	vcam "github.com/e7canasta/orion-care-sensor/modules/virtual-camera"
)

// initGStreamer runs gst.Init once per process and caches the outcome.
// gst.Init aborts on hard failures; a missing core plugin set is detected
// by instantiating a trivial element.
var initGStreamer = vcam.OnceInit(func() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("gstdriver: gst.Init panicked: %v", r)
		}
	}()

	gst.Init(nil)

	if _, err := gst.NewElement("fakesrc"); err != nil {
		return fmt.Errorf("gstdriver: core elements unavailable: %w", err)
	}

	slog.Info("gstdriver: GStreamer initialized")
	return nil
})

// Driver builds GStreamer pipelines from gst-launch descriptions
type Driver struct{}

var _ vcam.Driver = (*Driver)(nil)

// New creates a GStreamer driver
func New() *Driver {
	return &Driver{}
}

// Init initializes GStreamer (idempotent, failure cached process-wide)
func (d *Driver) Init() error {
	return initGStreamer()
}

// Build parses description into a pipeline in the NULL state
func (d *Driver) Build(description string) (vcam.Pipeline, error) {
	pipeline, err := gst.NewPipelineFromString(description)
	if err != nil {
		return nil, fmt.Errorf("gstdriver: parse pipeline: %s", parseLaunchError(err))
	}
	if pipeline == nil {
		return nil, errors.New("gstdriver: parse pipeline returned nil")
	}

	slog.Debug("gstdriver: pipeline built", "pipeline", description)

	return &Pipeline{
		pipeline: pipeline,
		bus:      pipeline.GetPipelineBus(),
	}, nil
}

// Pipeline wraps a *gst.Pipeline and its bus
type Pipeline struct {
	mu       sync.Mutex
	pipeline *gst.Pipeline
	bus      *gst.Bus
	// stash holds messages popped while waiting for PLAYING
	stash []vcam.BusEvent
}

// OutputPort locates the appsink element called name
func (p *Pipeline) OutputPort(name string) (vcam.Port, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pipeline == nil {
		return nil, errors.New("gstdriver: pipeline released")
	}

	elem, err := p.pipeline.GetElementByName(name)
	if err != nil || elem == nil {
		return nil, fmt.Errorf("gstdriver: element %q not found: %v", name, err)
	}

	sink := app.SinkFromElement(elem)
	if sink == nil {
		return nil, fmt.Errorf("gstdriver: element %q is not an appsink", name)
	}
	return &Port{sink: sink}, nil
}

// SetPlaying requests the PLAYING state
func (p *Pipeline) SetPlaying() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pipeline == nil {
		return errors.New("gstdriver: pipeline released")
	}
	if err := p.pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("gstdriver: set PLAYING: %w", err)
	}
	return nil
}

// WaitPlaying pops bus messages until the pipeline reports PLAYING or
// timeout elapses. Popped messages are kept for DrainEvents.
// The pipeline lock is not held while blocked on the bus so SetStopped
// is never delayed by the wait.
func (p *Pipeline) WaitPlaying(timeout time.Duration) error {
	p.mu.Lock()
	if p.pipeline == nil {
		p.mu.Unlock()
		return errors.New("gstdriver: pipeline released")
	}
	bus := p.bus
	name := p.pipeline.GetName()
	p.mu.Unlock()

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("gstdriver: PLAYING not reached within %v", timeout)
		}

		msg := bus.TimedPop(remaining)
		if msg == nil {
			continue
		}

		ev := toEvent(msg, name)
		p.stashEvent(ev)

		switch msg.Type() {
		case gst.MessageStateChanged:
			if msg.Source() != name {
				continue
			}
			if _, newState := msg.ParseStateChanged(); newState == gst.StatePlaying {
				return nil
			}
		case gst.MessageError:
			return fmt.Errorf("gstdriver: error while starting: %s", ev.Message)
		}
	}
}

func (p *Pipeline) stashEvent(ev vcam.BusEvent) {
	p.mu.Lock()
	p.stash = append(p.stash, ev)
	p.mu.Unlock()
}

// SetStopped moves the pipeline to NULL synchronously
func (p *Pipeline) SetStopped() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pipeline == nil {
		return nil
	}
	if err := p.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("gstdriver: set NULL: %w", err)
	}
	return nil
}

// DrainEvents pops every pending bus message without blocking
func (p *Pipeline) DrainEvents() []vcam.BusEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	events := p.stash
	p.stash = nil

	if p.bus == nil {
		return events
	}

	name := p.pipeline.GetName()
	for {
		msg := p.bus.Pop()
		if msg == nil {
			return events
		}
		events = append(events, toEvent(msg, name))
	}
}

// Release drops the pipeline, bus and stash references
func (p *Pipeline) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pipeline = nil
	p.bus = nil
	p.stash = nil
}

// toEvent converts a bus message to a BusEvent
func toEvent(msg *gst.Message, pipelineName string) vcam.BusEvent {
	ev := vcam.BusEvent{
		Severity: vcam.SeverityInfo,
		Source:   msg.Source(),
		Message:  msg.Type().String(),
	}

	switch msg.Type() {
	case gst.MessageError:
		gerr := msg.ParseError()
		ev.Severity = vcam.SeverityError
		if gerr != nil {
			ev.Message = gerr.Error()
			ev.Debug = gerr.DebugString()
		}
		ev.Category = Classify(ev.Message, ev.Debug).String()

	case gst.MessageWarning:
		gerr := msg.ParseWarning()
		ev.Severity = vcam.SeverityWarning
		if gerr != nil {
			ev.Message = gerr.Error()
			ev.Debug = gerr.DebugString()
		}

	case gst.MessageEOS:
		ev.Severity = vcam.SeverityWarning
		ev.Message = "end of stream"

	case gst.MessageStateChanged:
		if msg.Source() == pipelineName {
			oldState, newState := msg.ParseStateChanged()
			ev.Message = fmt.Sprintf("state changed: %s -> %s", oldState, newState)
		}
	}
	return ev
}

// Port wraps the appsink the bridge pulls from
type Port struct {
	sink *app.Sink
}

// Configure locks the appsink caps and queue behaviour
func (p *Port) Configure(format vcam.PortFormat) error {
	if format.Format != vcam.FormatNV12 {
		return fmt.Errorf("gstdriver: unsupported appsink format %s", format.Format)
	}

	props := []struct {
		name  string
		value any
	}{
		{"emit-signals", false},
		{"sync", false},
		{"max-buffers", uint(2)},
		{"drop", true},
	}
	for _, prop := range props {
		if err := p.sink.SetProperty(prop.name, prop.value); err != nil {
			return fmt.Errorf("gstdriver: set appsink %s: %w", prop.name, err)
		}
	}

	caps := gst.NewCapsFromString(CapsString(format))
	if caps == nil {
		return fmt.Errorf("gstdriver: invalid caps %q", CapsString(format))
	}
	p.sink.SetCaps(caps)
	return nil
}

// PullImage waits up to timeout for a sample and exposes its planes to consume
func (p *Port) PullImage(timeout time.Duration, consume func(vcam.DecodedImage) error) (bool, error) {
	sample := p.sink.TryPullSample(timeout)
	if sample == nil {
		if p.sink.IsEOS() {
			return false, errors.New("gstdriver: appsink reached end of stream")
		}
		return false, nil
	}

	img, err := describeSample(sample)
	if err != nil {
		return true, err
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		return true, errors.New("gstdriver: sample has no buffer")
	}

	mapInfo := buffer.Map(gst.MapRead)
	defer buffer.Unmap()

	data := mapInfo.Bytes()
	if len(data) == 0 {
		return true, errors.New("gstdriver: empty buffer")
	}

	if img.Format == vcam.FormatNV12 {
		stride, offset, err := NV12Layout(img.Width, img.Height, len(data))
		if err != nil {
			return true, err
		}
		img.Planes = [][]byte{data[:offset], data[offset:]}
		img.Strides = []int{stride, stride}
	}

	// Plane memory is only valid until Unmap
	return true, consume(img)
}

// describeSample reads the format and geometry from the sample caps
func describeSample(sample *gst.Sample) (vcam.DecodedImage, error) {
	caps := sample.GetCaps()
	if caps == nil || caps.GetSize() == 0 {
		return vcam.DecodedImage{}, errors.New("gstdriver: sample has no caps")
	}
	s := caps.GetStructureAt(0)

	var img vcam.DecodedImage
	if v, err := s.GetValue("format"); err == nil {
		if name, ok := v.(string); ok {
			img.Format = vcam.ParsePixelFormat(name)
		}
	}
	if v, err := s.GetValue("width"); err == nil {
		img.Width, _ = intValue(v)
	}
	if v, err := s.GetValue("height"); err == nil {
		img.Height, _ = intValue(v)
	}
	if img.Width <= 0 || img.Height <= 0 {
		return img, fmt.Errorf("gstdriver: caps without geometry: %s", caps.String())
	}
	return img, nil
}
