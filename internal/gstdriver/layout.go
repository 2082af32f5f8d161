package gstdriver

import (
	"fmt"
	"strconv"
	"strings"

	vcam "github.com/e7canasta/orion-care-sensor/modules/virtual-camera"
)

// CapsString builds the exact appsink caps for f (no alternatives)
func CapsString(f vcam.PortFormat) string {
	return fmt.Sprintf("video/x-raw,format=%s,width=%d,height=%d,framerate=%d/%d",
		f.Format, f.Width, f.Height, f.FPSNumerator, f.FPSDenominator)
}

func roundUp(v, n int) int {
	return (v + n - 1) / n * n
}

// wideStrideAlign is the smallest row alignment accepted for a buffer that
// is larger than the default layout
const wideStrideAlign = 16

// NV12Layout returns the plane strides and the chroma plane offset of an
// NV12 buffer of size bytes.
//
// GStreamer's default layout uses a 4-byte aligned stride for both planes
// and places chroma after roundUp2(height) luma rows. A larger buffer is
// read as one uniform wider stride only when it divides evenly into rows of
// a 16-byte aligned stride; anything else, including less than one row of
// excess, is the default layout followed by trailing bytes.
func NV12Layout(width, height, size int) (stride, chromaOffset int, err error) {
	if width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("gstdriver: invalid geometry %dx%d", width, height)
	}

	stride = roundUp(width, 4)
	chromaOffset = stride * roundUp(height, 2)
	defaultSize := chromaOffset + stride*roundUp(height, 2)/2

	if size < defaultSize {
		return 0, 0, fmt.Errorf("gstdriver: NV12 buffer of %d bytes too small for %dx%d (need %d)",
			size, width, height, defaultSize)
	}
	if size-defaultSize < stride {
		return stride, chromaOffset, nil
	}

	rows := height * 3 / 2
	if size%rows == 0 {
		if wide := size / rows; wide%wideStrideAlign == 0 {
			return wide, wide * height, nil
		}
	}

	// Trailing bytes after a default layout
	return stride, chromaOffset, nil
}

// parseLaunchError strips the "gst_parse_launch:" noise some GStreamer
// versions prefix to parse errors
func parseLaunchError(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, ": "); i >= 0 && strings.HasPrefix(msg, "gst_parse") {
		return msg[i+2:]
	}
	return msg
}

// intValue converts a caps structure value to int
func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case uint32:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	default:
		return 0, false
	}
}
