package normalize

import "math"

// BT.709 video-range YCbCr -> RGB:
//
//	R = 1.164(Y-16)                + 1.793(V-128)
//	G = 1.164(Y-16) - 0.213(U-128) - 0.533(V-128)
//	B = 1.164(Y-16) + 2.112(U-128)
//
// Evaluated in 16.16 fixed point from lookup tables, rounded to nearest and
// clamped to [0,255].
const fixShift = 16

var (
	lutY  [256]int32
	lutRV [256]int32
	lutGU [256]int32
	lutGV [256]int32
	lutBU [256]int32
)

func init() {
	fix := func(f float64) int32 { return int32(math.Round(f * (1 << fixShift))) }
	for i := 0; i < 256; i++ {
		lutY[i] = fix(1.164 * float64(i-16))
		lutRV[i] = fix(1.793 * float64(i-128))
		lutGU[i] = fix(-0.213 * float64(i-128))
		lutGV[i] = fix(-0.533 * float64(i-128))
		lutBU[i] = fix(2.112 * float64(i-128))
	}
}

func clampFix(v int32) byte {
	v = (v + 1<<(fixShift-1)) >> fixShift
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

// yuvToBGRA writes one opaque BGRA pixel.
func yuvToBGRA(d []byte, y, u, v byte) {
	yy := lutY[y]
	d[0] = clampFix(yy + lutBU[u])
	d[1] = clampFix(yy + lutGU[u] + lutGV[v])
	d[2] = clampFix(yy + lutRV[v])
	d[3] = 0xFF
}

// decodeUYVY converts packed U,Y0,V,Y1 macropixels. Both pixels of a
// macropixel share its chroma; for an odd width the last pixel uses Y0 of the
// final macropixel.
func decodeUYVY(dst []byte, dstStride int, src []byte, srcStride, w, h int) {
	for row := 0; row < h; row++ {
		s := src[row*srcStride:]
		d := dst[row*dstStride:]
		for x := 0; x < w; x += 2 {
			m := s[x*2 : x*2+4 : x*2+4]
			u, y0, v, y1 := m[0], m[1], m[2], m[3]
			yuvToBGRA(d[x*4:x*4+4], y0, u, v)
			if x+1 < w {
				yuvToBGRA(d[x*4+4:x*4+8], y1, u, v)
			}
		}
	}
}
