package synthetic

import "github.com/denisgrzechnik/LayerMapper-NDI/video"

// SMPTE-style bar colors, left to right (R, G, B).
var bars = [8][3]float64{
	{235, 235, 235}, // white
	{235, 235, 16},  // yellow
	{16, 235, 235},  // cyan
	{16, 235, 16},   // green
	{235, 16, 235},  // magenta
	{235, 16, 16},   // red
	{16, 16, 235},   // blue
	{16, 16, 16},    // black
}

type yuv struct{ y, u, v byte }

// barYUV holds the BT.709 video-range encoding of each bar.
var barYUV = func() [8]yuv {
	var out [8]yuv
	for i, c := range bars {
		r, g, b := (c[0]-16)/219, (c[1]-16)/219, (c[2]-16)/219
		y := 0.2126*r + 0.7152*g + 0.0722*b
		u := (b - y) / 1.8556
		v := (r - y) / 1.5748
		out[i] = yuv{
			y: byte(16 + 219*y + 0.5),
			u: byte(128 + 224*u + 0.5),
			v: byte(128 + 224*v + 0.5),
		}
	}
	return out
}()

// barAt returns the bar index for column x of a frame of width w, scrolled by
// shift pixels.
func barAt(x, w, shift int) int {
	return ((x + shift) % w) * len(bars) / w
}

// Render draws frame number n of the scrolling bar pattern into dst.
//
// dst must hold at least stride*(h-1) + enc.MinStride(w) bytes. The pattern
// scrolls by 4 pixels per frame. Unknown encodings leave dst untouched.
func Render(dst []byte, stride, w, h int, enc video.Encoding, n uint64) {
	shift := int(n*4) % w
	switch enc {
	case video.EncodingUYVY:
		row := make([]byte, enc.MinStride(w))
		for x := 0; x < w; x += 2 {
			c0 := barYUV[barAt(x, w, shift)]
			c1 := c0
			if x+1 < w {
				c1 = barYUV[barAt(x+1, w, shift)]
			}
			m := row[x*2 : x*2+4]
			m[0] = byte((int(c0.u) + int(c1.u)) / 2)
			m[1] = c0.y
			m[2] = byte((int(c0.v) + int(c1.v)) / 2)
			m[3] = c1.y
		}
		for y := 0; y < h; y++ {
			copy(dst[y*stride:], row)
		}
	case video.EncodingBGRA, video.EncodingBGRX, video.EncodingRGBA:
		row := make([]byte, w*4)
		for x := 0; x < w; x++ {
			c := bars[barAt(x, w, shift)]
			p := row[x*4 : x*4+4]
			if enc == video.EncodingRGBA {
				p[0], p[1], p[2] = byte(c[0]), byte(c[1]), byte(c[2])
			} else {
				p[0], p[1], p[2] = byte(c[2]), byte(c[1]), byte(c[0])
			}
			p[3] = 0xFF
		}
		for y := 0; y < h; y++ {
			copy(dst[y*stride:], row)
		}
	}
}
