package vcam

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// fakeDriver is a scriptable in-process Driver used by the unit tests
type fakeDriver struct {
	initErr  error
	buildErr error
	portErr  error

	initCalls atomic.Int32
	init      func() error

	mu           sync.Mutex
	descriptions []string
	pipelines    []*fakePipeline
}

func newFakeDriver() *fakeDriver {
	d := &fakeDriver{}
	d.init = OnceInit(func() error {
		d.initCalls.Add(1)
		return d.initErr
	})
	return d
}

func (d *fakeDriver) Init() error { return d.init() }

func (d *fakeDriver) Build(description string) (Pipeline, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.descriptions = append(d.descriptions, description)
	if d.buildErr != nil {
		return nil, d.buildErr
	}
	p := &fakePipeline{
		portErr: d.portErr,
		port:    &fakePort{images: make(chan DecodedImage, 16)},
	}
	d.pipelines = append(d.pipelines, p)
	return p, nil
}

func (d *fakeDriver) builds() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pipelines)
}

func (d *fakeDriver) lastDescription() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.descriptions) == 0 {
		return ""
	}
	return d.descriptions[len(d.descriptions)-1]
}

func (d *fakeDriver) lastPipeline() *fakePipeline {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pipelines) == 0 {
		return nil
	}
	return d.pipelines[len(d.pipelines)-1]
}

type fakePipeline struct {
	portErr error
	port    *fakePort

	playing  atomic.Bool
	stopped  atomic.Int32
	released atomic.Bool

	mu     sync.Mutex
	events []BusEvent
}

func (p *fakePipeline) OutputPort(name string) (Port, error) {
	if p.portErr != nil {
		return nil, p.portErr
	}
	if name != OutputPortName {
		return nil, errors.New("no such element")
	}
	return p.port, nil
}

func (p *fakePipeline) SetPlaying() error {
	p.playing.Store(true)
	return nil
}

func (p *fakePipeline) WaitPlaying(time.Duration) error { return nil }

func (p *fakePipeline) SetStopped() error {
	p.playing.Store(false)
	p.stopped.Add(1)
	return nil
}

func (p *fakePipeline) DrainEvents() []BusEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	events := p.events
	p.events = nil
	return events
}

func (p *fakePipeline) Release() { p.released.Store(true) }

func (p *fakePipeline) post(ev BusEvent) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

type fakePort struct {
	mu     sync.Mutex
	format PortFormat
	images chan DecodedImage
}

func (p *fakePort) Configure(format PortFormat) error {
	p.mu.Lock()
	p.format = format
	p.mu.Unlock()
	return nil
}

func (p *fakePort) configured() PortFormat {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.format
}

func (p *fakePort) PullImage(timeout time.Duration, consume func(DecodedImage) error) (bool, error) {
	select {
	case img := <-p.images:
		return true, consume(img)
	case <-time.After(timeout):
		return false, nil
	}
}

// stridedImage builds an NV12 image whose rows carry stride-width bytes of
// 0xEE padding. Pixel values are derived from seed so frames are distinguishable.
func stridedImage(width, height, stride int, seed byte) (DecodedImage, []byte, []byte) {
	luma := make([]byte, stride*height)
	chroma := make([]byte, stride*height/2)
	for i := range luma {
		luma[i] = 0xEE
	}
	for i := range chroma {
		chroma[i] = 0xEE
	}

	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			luma[row*stride+col] = byte(row*7+col*3) + seed
		}
	}
	for row := 0; row < height/2; row++ {
		for col := 0; col < width; col++ {
			chroma[row*stride+col] = byte(row*5+col*11) ^ seed
		}
	}

	return DecodedImage{
		Format:  FormatNV12,
		Width:   width,
		Height:  height,
		Planes:  [][]byte{luma, chroma},
		Strides: []int{stride, stride},
	}, luma, chroma
}
