// Package synthetic implements a pure-Go pipeline driver that produces a
// moving colour-bar NV12 pattern. It needs no GStreamer runtime and is used
// by tests and by the CLI on hosts without cgo.
package synthetic

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	vcam "github.com/e7canasta/orion-care-sensor/modules/virtual-camera"
)

var (
	// ErrEmptyDescription is returned by Build for a blank description
	ErrEmptyDescription = errors.New("synthetic: empty pipeline description")
	// ErrEmptyStage is returned by Build for a description with an empty stage
	ErrEmptyStage = errors.New("synthetic: empty pipeline stage")
	// ErrNoSuchElement is returned by OutputPort for an unknown sink name
	ErrNoSuchElement = errors.New("synthetic: no such element")
	// ErrNotConfigured is returned by PullImage before Configure
	ErrNotConfigured = errors.New("synthetic: port not configured")
)

// Option customizes a Driver
type Option func(*Driver)

// WithPadding adds pad bytes to every row of the produced planes
func WithPadding(pad int) Option {
	return func(d *Driver) { d.padding = pad }
}

// WithInitError makes Init fail with err (cached like a real driver)
func WithInitError(err error) Option {
	return func(d *Driver) { d.initErr = err }
}

// WithOutputSize forces the produced image size regardless of the
// configured caps, to exercise mismatch handling
func WithOutputSize(width, height int) Option {
	return func(d *Driver) { d.forceWidth, d.forceHeight = width, height }
}

// Driver builds synthetic pipelines. Safe for concurrent use.
type Driver struct {
	padding     int
	initErr     error
	forceWidth  int
	forceHeight int

	init   func() error
	builds atomic.Int64
}

var _ vcam.Driver = (*Driver)(nil)

// New creates a synthetic driver
func New(opts ...Option) *Driver {
	d := &Driver{}
	for _, opt := range opts {
		opt(d)
	}
	d.init = vcam.OnceInit(func() error {
		if d.initErr != nil {
			return d.initErr
		}
		slog.Debug("synthetic: driver initialized")
		return nil
	})
	return d
}

// Init is idempotent; the first result is cached
func (d *Driver) Init() error { return d.init() }

// Builds returns how many pipelines were built
func (d *Driver) Builds() int64 { return d.builds.Load() }

// Build accepts any gst-launch style description whose stages are non-empty.
// The output port is the element declared as "appsink name=<name>".
func (d *Driver) Build(description string) (vcam.Pipeline, error) {
	desc := strings.TrimSpace(description)
	if desc == "" {
		return nil, ErrEmptyDescription
	}

	sinkName := ""
	for i, stage := range strings.Split(desc, "!") {
		fields := strings.Fields(stage)
		if len(fields) == 0 {
			return nil, fmt.Errorf("%w at position %d", ErrEmptyStage, i)
		}
		if fields[0] != "appsink" {
			continue
		}
		for _, f := range fields[1:] {
			if name, ok := strings.CutPrefix(f, "name="); ok {
				sinkName = name
			}
		}
	}

	d.builds.Add(1)
	p := &Pipeline{
		description: desc,
		sinkName:    sinkName,
	}
	p.port = &Port{pipeline: p, padding: d.padding, forceWidth: d.forceWidth, forceHeight: d.forceHeight}
	return p, nil
}

// Pipeline is one synthetic pipeline instance
type Pipeline struct {
	description string
	sinkName    string
	port        *Port

	playing  atomic.Bool
	released atomic.Bool

	mu     sync.Mutex
	events []vcam.BusEvent
}

// OutputPort returns the appsink declared in the description
func (p *Pipeline) OutputPort(name string) (vcam.Port, error) {
	if p.sinkName == "" || p.sinkName != name {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchElement, name)
	}
	return p.port, nil
}

// SetPlaying starts frame production
func (p *Pipeline) SetPlaying() error {
	if p.released.Load() {
		return errors.New("synthetic: pipeline released")
	}
	if !p.playing.Swap(true) {
		p.port.resetClock()
		p.post(vcam.BusEvent{
			Severity: vcam.SeverityInfo,
			Source:   "pipeline",
			Message:  "state changed: NULL -> PLAYING",
		})
	}
	return nil
}

// WaitPlaying returns immediately; the transition is synchronous
func (p *Pipeline) WaitPlaying(time.Duration) error {
	if !p.playing.Load() {
		return errors.New("synthetic: pipeline not playing")
	}
	return nil
}

// SetStopped halts frame production
func (p *Pipeline) SetStopped() error {
	p.playing.Store(false)
	return nil
}

// DrainEvents returns pending bus events
func (p *Pipeline) DrainEvents() []vcam.BusEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	events := p.events
	p.events = nil
	return events
}

// Release marks the pipeline unusable
func (p *Pipeline) Release() {
	p.playing.Store(false)
	p.released.Store(true)
}

// Released reports whether Release was called
func (p *Pipeline) Released() bool { return p.released.Load() }

func (p *Pipeline) post(ev vcam.BusEvent) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

// Port produces frames at the configured rate
type Port struct {
	pipeline    *Pipeline
	padding     int
	forceWidth  int
	forceHeight int

	mu       sync.Mutex
	format   vcam.PortFormat
	ok       bool
	interval time.Duration
	next     time.Time
	seq      uint64
	luma     []byte
	chroma   []byte
}

// Configure records the requested caps
func (p *Port) Configure(format vcam.PortFormat) error {
	if format.Width <= 0 || format.Height <= 0 || format.FPSNumerator <= 0 || format.FPSDenominator <= 0 {
		return fmt.Errorf("synthetic: invalid caps %+v", format)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.format = format
	p.ok = true
	p.interval = time.Second * time.Duration(format.FPSDenominator) / time.Duration(format.FPSNumerator)
	return nil
}

func (p *Port) resetClock() {
	p.mu.Lock()
	p.next = time.Now()
	p.mu.Unlock()
}

// PullImage waits for the next frame deadline (up to timeout) and hands a
// freshly rendered frame to consume. The plane memory is reused by the next
// pull, like driver-owned buffers.
func (p *Port) PullImage(timeout time.Duration, consume func(vcam.DecodedImage) error) (bool, error) {
	if !p.pipeline.playing.Load() {
		time.Sleep(timeout)
		return false, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.ok {
		return false, ErrNotConfigured
	}

	wait := time.Until(p.next)
	if wait > timeout {
		time.Sleep(timeout)
		return false, nil
	}
	if wait > 0 {
		time.Sleep(wait)
	}
	p.next = p.next.Add(p.interval)
	// Do not try to catch up after a stall
	if behind := time.Since(p.next); behind > p.interval {
		p.next = time.Now().Add(p.interval)
	}

	width, height := p.format.Width, p.format.Height
	if p.forceWidth > 0 && p.forceHeight > 0 {
		width, height = p.forceWidth, p.forceHeight
	}
	stride := width + p.padding

	if len(p.luma) != stride*height {
		p.luma = make([]byte, stride*height)
		p.chroma = make([]byte, stride*height/2)
	}
	Render(p.luma, p.chroma, stride, width, height, p.seq)
	p.seq++

	return true, consume(vcam.DecodedImage{
		Format:  p.format.Format,
		Width:   width,
		Height:  height,
		Planes:  [][]byte{p.luma, p.chroma},
		Strides: []int{stride, stride},
	})
}

// Frames returns the number of frames produced
func (p *Port) Frames() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seq
}
