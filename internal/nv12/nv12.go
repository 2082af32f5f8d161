// Package nv12 packs, copies and synthesizes NV12 frames.
//
// A packed frame is width*height luma bytes immediately followed by
// width*height/2 interleaved CbCr bytes, with no per-row padding.
package nv12

import (
	"errors"
	"fmt"
	"image"
)

const (
	// BlackLuma is the BT.601 limited-range luma value for black
	BlackLuma = 16
	// NeutralChroma is the chroma value with no colour
	NeutralChroma = 128
)

var (
	// ErrGeometry is returned for zero or odd dimensions
	ErrGeometry = errors.New("nv12: invalid geometry")
	// ErrShortPlane is returned when a plane cannot hold the requested rows
	ErrShortPlane = errors.New("nv12: plane too short")
)

// FrameSize returns the packed size of a width x height frame
func FrameSize(width, height int) int {
	return width * height * 3 / 2
}

// StridedSize returns the size of a frame whose rows are stride bytes apart
func StridedSize(stride, height int) int {
	return stride * height * 3 / 2
}

// Fits reports whether length bytes hold a frame of height rows spaced
// stride apart. Unlike comparing against StridedSize it cannot overflow.
func Fits(length, stride, height int) bool {
	rows := height * 3 / 2
	if stride <= 0 || rows <= 0 || length < 0 {
		return false
	}
	return stride <= length/rows
}

// planeRequired is the minimum plane length for rows of width bytes spaced stride apart
func planeRequired(width, stride, rows int) int {
	if rows == 0 {
		return 0
	}
	return stride*(rows-1) + width
}

// Pack copies a strided two-plane image into a fresh tightly packed buffer.
//
// luma/chroma are the source planes; their strides may exceed width.
func Pack(width, height int, luma []byte, lumaStride int, chroma []byte, chromaStride int) ([]byte, error) {
	if width <= 0 || height <= 0 || width%2 != 0 || height%2 != 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrGeometry, width, height)
	}
	if lumaStride < width || chromaStride < width {
		return nil, fmt.Errorf("%w: stride y=%d uv=%d below width %d", ErrGeometry, lumaStride, chromaStride, width)
	}
	if len(luma) < planeRequired(width, lumaStride, height) {
		return nil, fmt.Errorf("%w: luma %d bytes", ErrShortPlane, len(luma))
	}
	if len(chroma) < planeRequired(width, chromaStride, height/2) {
		return nil, fmt.Errorf("%w: chroma %d bytes", ErrShortPlane, len(chroma))
	}

	packed := make([]byte, FrameSize(width, height))
	yDst := packed[:width*height]
	uvDst := packed[width*height:]

	for row := 0; row < height; row++ {
		copy(yDst[row*width:(row+1)*width], luma[row*lumaStride:row*lumaStride+width])
	}
	for row := 0; row < height/2; row++ {
		copy(uvDst[row*width:(row+1)*width], chroma[row*chromaStride:row*chromaStride+width])
	}
	return packed, nil
}

// CopyOut writes a packed frame into dst whose rows are stride bytes apart.
// The chroma plane starts at stride*height. Caller validates sizes.
func CopyOut(dst []byte, stride int, packed []byte, width, height int) {
	ySrc := packed[:width*height]
	uvSrc := packed[width*height:]
	uvDst := dst[stride*height:]

	for row := 0; row < height; row++ {
		copy(dst[row*stride:row*stride+width], ySrc[row*width:(row+1)*width])
	}
	for row := 0; row < height/2; row++ {
		copy(uvDst[row*stride:row*stride+width], uvSrc[row*width:(row+1)*width])
	}
}

// FillPlaceholder writes a black, colourless frame into dst honoring stride.
// Padding bytes between rows are left untouched.
func FillPlaceholder(dst []byte, stride, width, height int) {
	for row := 0; row < height; row++ {
		fill(dst[row*stride:row*stride+width], BlackLuma)
	}
	uv := dst[stride*height:]
	for row := 0; row < height/2; row++ {
		fill(uv[row*stride:row*stride+width], NeutralChroma)
	}
}

func fill(b []byte, v byte) {
	if len(b) == 0 {
		return
	}
	b[0] = v
	for filled := 1; filled < len(b); filled *= 2 {
		copy(b[filled:], b[:filled])
	}
}

// ToYCbCr de-interleaves a strided NV12 frame into an image.YCbCr (4:2:0)
// so it can be handed to image encoders.
func ToYCbCr(src []byte, stride, width, height int) (*image.YCbCr, error) {
	if width <= 0 || height <= 0 || width%2 != 0 || height%2 != 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrGeometry, width, height)
	}
	if stride < width || !Fits(len(src), stride, height) {
		return nil, fmt.Errorf("%w: %d bytes for stride %d", ErrShortPlane, len(src), stride)
	}

	img := image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio420)
	for row := 0; row < height; row++ {
		copy(img.Y[row*img.YStride:row*img.YStride+width], src[row*stride:row*stride+width])
	}

	uv := src[stride*height:]
	for row := 0; row < height/2; row++ {
		line := uv[row*stride : row*stride+width]
		for col := 0; col < width/2; col++ {
			img.Cb[row*img.CStride+col] = line[2*col]
			img.Cr[row*img.CStride+col] = line[2*col+1]
		}
	}
	return img, nil
}
