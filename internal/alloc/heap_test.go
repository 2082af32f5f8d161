package alloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHeap_Geometry(t *testing.T) {
	tests := []struct {
		name       string
		width      int
		height     int
		align      int
		wantStride int
	}{
		{"already aligned", 1280, 960, 64, 1280},
		{"rounded up", 1270, 720, 64, 1280},
		{"default alignment", 100, 50 * 2, 0, 128},
		{"byte aligned", 18, 10, 1, 18},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := NewHeap(tt.width, tt.height, tt.align)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStride, h.Stride())

			img, err := h.Allocate()
			require.NoError(t, err)
			buf, stride, err := img.LockForWrite()
			require.NoError(t, err)
			assert.Equal(t, tt.wantStride, stride)
			assert.Len(t, buf, tt.wantStride*tt.height*3/2)
			img.Unlock()
		})
	}
}

func TestNewHeap_RejectsBadGeometry(t *testing.T) {
	for _, dims := range [][2]int{{0, 8}, {8, 0}, {7, 8}, {8, 7}, {-2, 8}} {
		_, err := NewHeap(dims[0], dims[1], 16)
		assert.Error(t, err, "%dx%d", dims[0], dims[1])
	}
}

func TestImage_LockBookkeeping(t *testing.T) {
	h, err := NewHeap(16, 8, 16)
	require.NoError(t, err)

	wi, err := h.Allocate()
	require.NoError(t, err)
	img := wi.(*Image)

	_, _, err = img.LockForWrite()
	require.NoError(t, err)
	assert.True(t, img.Locked())

	_, _, err = img.LockForWrite()
	assert.ErrorIs(t, err, ErrAlreadyLocked)

	img.Unlock()
	img.Unlock()
	assert.False(t, img.Locked())

	w, hh, stride := img.Geometry()
	assert.Equal(t, [3]int{16, 8, 16}, [3]int{w, hh, stride})
}

func TestImage_Release(t *testing.T) {
	h, err := NewHeap(16, 8, 16)
	require.NoError(t, err)

	a, _ := h.Allocate()
	b, _ := h.Allocate()
	assert.Equal(t, uint64(2), h.Outstanding())

	img := a.(*Image)
	img.Release()
	img.Release()
	assert.Equal(t, uint64(1), h.Outstanding())

	_, _, err = img.LockForWrite()
	assert.ErrorIs(t, err, ErrReleased)
	assert.Nil(t, img.Bytes())

	b.(*Image).Release()
	assert.Zero(t, h.Outstanding())
}
