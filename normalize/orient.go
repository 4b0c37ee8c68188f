package normalize

import "github.com/denisgrzechnik/LayerMapper-NDI/video"

// orient writes the upright version of a tight w×h BGRA buffer into dst.
//
// The hint describes how the content sits in the buffer, so the correction is
// the inverse rotation:
//
//	Left  -> rotate clockwise         dst(x,y) = src(y, h-1-x)
//	Right -> rotate counter-clockwise dst(x,y) = src(w-1-y, x)
//	Down  -> rotate 180°              dst(x,y) = src(w-1-x, h-1-y)
//
// Mirrored hints apply the same rotation, then flip the result horizontally.
func orient(dst []byte, dstStride int, src []byte, w, h int, o video.Orientation) {
	outW, outH := w, h
	if o.SwapsAxes() {
		outW, outH = h, w
	}
	srcStride := w * video.BytesPerPixel

	var at func(x, y int) (sx, sy int)
	switch o {
	case video.OrientationLeft, video.OrientationLeftMirrored:
		at = func(x, y int) (int, int) { return y, h - 1 - x }
	case video.OrientationRight, video.OrientationRightMirrored:
		at = func(x, y int) (int, int) { return w - 1 - y, x }
	case video.OrientationDown, video.OrientationDownMirrored:
		at = func(x, y int) (int, int) { return w - 1 - x, h - 1 - y }
	default:
		at = func(x, y int) (int, int) { return x, y }
	}
	mirror := o.Mirrored()

	for y := 0; y < outH; y++ {
		d := dst[y*dstStride:]
		for x := 0; x < outW; x++ {
			lx := x
			if mirror {
				lx = outW - 1 - x
			}
			sx, sy := at(lx, y)
			off := sy*srcStride + sx*4
			copy(d[x*4:x*4+4], src[off:off+4])
		}
	}
}
