// Package alloc provides heap-backed destination images for sample requests.
package alloc

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	vcam "github.com/e7canasta/orion-care-sensor/modules/virtual-camera"
	"github.com/e7canasta/orion-care-sensor/modules/virtual-camera/internal/nv12"
)

var (
	// ErrAlreadyLocked is returned by LockForWrite on a locked image
	ErrAlreadyLocked = errors.New("alloc: image already locked")
	// ErrReleased is returned when a released image is used
	ErrReleased = errors.New("alloc: image released")
)

// DefaultAlignment is the row alignment used when none is given
const DefaultAlignment = 64

// Heap allocates NV12 images whose row stride is width rounded up to a
// multiple of the alignment. Released buffers are recycled.
type Heap struct {
	width  int
	height int
	stride int
	size   int

	pool sync.Pool

	allocated atomic.Uint64
	released  atomic.Uint64
}

var _ vcam.Allocator = (*Heap)(nil)

// NewHeap creates an allocator for width x height frames.
// align <= 0 selects DefaultAlignment.
func NewHeap(width, height, align int) (*Heap, error) {
	if width <= 0 || height <= 0 || width%2 != 0 || height%2 != 0 {
		return nil, fmt.Errorf("alloc: invalid geometry %dx%d", width, height)
	}
	if align <= 0 {
		align = DefaultAlignment
	}

	stride := (width + align - 1) / align * align
	h := &Heap{
		width:  width,
		height: height,
		stride: stride,
		size:   nv12.StridedSize(stride, height),
	}
	h.pool.New = func() any {
		buf := make([]byte, h.size)
		return &buf
	}
	return h, nil
}

// Stride returns the row stride of every image
func (h *Heap) Stride() int { return h.stride }

// Allocate returns an unlocked image
func (h *Heap) Allocate() (vcam.WritableImage, error) {
	h.allocated.Add(1)
	buf := h.pool.Get().(*[]byte)
	return &Image{heap: h, buf: buf}, nil
}

// Outstanding returns the number of images allocated and not yet released
func (h *Heap) Outstanding() uint64 {
	return h.allocated.Load() - h.released.Load()
}

// Image is one heap-backed NV12 destination
type Image struct {
	heap *Heap

	mu       sync.Mutex
	buf      *[]byte
	locked   bool
	released bool
}

// LockForWrite returns the writable bytes and the row stride
func (i *Image) LockForWrite() ([]byte, int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.released {
		return nil, 0, ErrReleased
	}
	if i.locked {
		return nil, 0, ErrAlreadyLocked
	}
	i.locked = true
	return *i.buf, i.heap.stride, nil
}

// Unlock releases the write lock; unlocking an unlocked image is a no-op
func (i *Image) Unlock() {
	i.mu.Lock()
	i.locked = false
	i.mu.Unlock()
}

// Locked reports whether the image is currently locked for writing
func (i *Image) Locked() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.locked
}

// Geometry returns width, height and stride
func (i *Image) Geometry() (width, height, stride int) {
	return i.heap.width, i.heap.height, i.heap.stride
}

// Bytes returns the image contents. The slice is only valid until Release.
func (i *Image) Bytes() []byte {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.released {
		return nil
	}
	return *i.buf
}

// Release returns the buffer to the heap. Idempotent.
func (i *Image) Release() {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.released {
		return
	}
	i.released = true
	i.locked = false
	i.heap.pool.Put(i.buf)
	i.buf = nil
	i.heap.released.Add(1)
}
