package synthetic

// yuv is one BT.601 limited-range colour
type yuv struct{ y, u, v byte }

// bars are the SMPTE-style colour bars, left to right
var bars = [...]yuv{
	{235, 128, 128}, // white
	{210, 16, 146},  // yellow
	{170, 166, 16},  // cyan
	{145, 54, 34},   // green
	{106, 202, 222}, // magenta
	{81, 90, 240},   // red
	{41, 240, 110},  // blue
	{16, 128, 128},  // black
}

// Render draws colour bars shifted right by seq*4 pixels into strided NV12
// planes. Row padding is filled with 0 so leaks are easy to spot.
func Render(luma, chroma []byte, stride, width, height int, seq uint64) {
	shift := int(seq*4) % width
	barWidth := (width + len(bars) - 1) / len(bars)

	barAt := func(col int) yuv {
		idx := ((col + width - shift) % width) / barWidth
		if idx >= len(bars) {
			idx = len(bars) - 1
		}
		return bars[idx]
	}

	for row := 0; row < height; row++ {
		line := luma[row*stride : (row+1)*stride]
		for col := 0; col < width; col++ {
			line[col] = barAt(col).y
		}
		clear(line[width:])
	}

	for row := 0; row < height/2; row++ {
		line := chroma[row*stride : (row+1)*stride]
		for col := 0; col < width; col += 2 {
			c := barAt(col)
			line[col] = c.u
			line[col+1] = c.v
		}
		clear(line[width:])
	}
}
