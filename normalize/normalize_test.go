package normalize

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/denisgrzechnik/LayerMapper-NDI/video"
)

// bgraFrame builds a raw BGRA frame whose pixel (x,y) is (x, y, x+y, 0xA0),
// with pad extra bytes per row.
func bgraFrame(w, h, pad int) video.RawFrame {
	stride := w*4 + pad
	data := make([]byte, stride*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p := data[y*stride+x*4:]
			p[0], p[1], p[2], p[3] = byte(x), byte(y), byte(x+y), 0xA0
		}
	}
	return video.RawFrame{
		Width:    int32(w),
		Height:   int32(h),
		Stride:   int32(stride),
		Encoding: video.EncodingBGRA,
		Data:     data,
	}
}

func uyvyFrame(w, h int, u, y0, v, y1 byte) video.RawFrame {
	stride := video.EncodingUYVY.MinStride(w)
	data := make([]byte, stride*h)
	for i := 0; i < len(data); i += 4 {
		data[i], data[i+1], data[i+2], data[i+3] = u, y0, v, y1
	}
	return video.RawFrame{
		Width:    int32(w),
		Height:   int32(h),
		Stride:   int32(stride),
		Encoding: video.EncodingUYVY,
		Data:     data,
	}
}

func TestNormalize_BGRARoundTrip(t *testing.T) {
	n := New(Options{})
	raw := bgraFrame(7, 5, 12)

	f, err := n.Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, 7, f.Width())
	assert.Equal(t, 5, f.Height())
	assert.Equal(t, 28, f.Stride(), "tight rows without alignment")

	for y := 0; y < 5; y++ {
		want := raw.Data[y*int(raw.Stride) : y*int(raw.Stride)+28]
		assert.Equal(t, want, f.Row(y), "row %d", y)
	}
	assert.Equal(t, video.DefaultColorTags(), f.Color())
	t.Logf("✅ BGRA rows copied byte for byte across differing strides")
}

func TestNormalize_DoesNotAliasSource(t *testing.T) {
	n := New(Options{})
	raw := bgraFrame(2, 2, 0)
	f, err := n.Normalize(raw)
	require.NoError(t, err)

	for i := range raw.Data {
		raw.Data[i] = 0xEE
	}
	b, g, r, a := f.At(1, 1)
	assert.Equal(t, []uint8{1, 1, 2, 0xA0}, []uint8{b, g, r, a})
}

func TestNormalize_RowAlignment(t *testing.T) {
	n := New(Options{RowAlignment: 64})
	f, err := n.Normalize(bgraFrame(10, 3, 0))
	require.NoError(t, err)
	assert.Equal(t, 64, f.Stride())
	assert.Len(t, f.Pixels(), 64*3)
	assert.Len(t, f.Row(2), 40)
}

func TestNormalize_BGRXAndRGBA(t *testing.T) {
	n := New(Options{})

	bgrx := video.RawFrame{Width: 1, Height: 1, Stride: 4, Encoding: video.EncodingBGRX, Data: []byte{1, 2, 3, 0}}
	f, err := n.Normalize(bgrx)
	require.NoError(t, err)
	b, g, r, a := f.At(0, 0)
	assert.Equal(t, []uint8{1, 2, 3, 255}, []uint8{b, g, r, a})

	rgba := video.RawFrame{Width: 1, Height: 1, Stride: 4, Encoding: video.EncodingRGBA, Data: []byte{10, 20, 30, 40}}
	f, err = n.Normalize(rgba)
	require.NoError(t, err)
	b, g, r, a = f.At(0, 0)
	assert.Equal(t, []uint8{30, 20, 10, 40}, []uint8{b, g, r, a})
}

func TestNormalize_UYVYWhiteAndBlack(t *testing.T) {
	n := New(Options{})
	tests := []struct {
		name string
		y    byte
		want byte
	}{
		{"white", 235, 255},
		{"black", 16, 0},
		{"below black clamps", 0, 0},
		{"above white clamps", 255, 255},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := n.Normalize(uyvyFrame(4, 2, 128, tt.y, 128, tt.y))
			require.NoError(t, err)
			for y := 0; y < 2; y++ {
				for x := 0; x < 4; x++ {
					b, g, r, a := f.At(x, y)
					require.Equal(t, []uint8{tt.want, tt.want, tt.want, 255}, []uint8{b, g, r, a})
				}
			}
		})
	}
}

// TestNormalize_UYVYMatchesFormula checks the fixed-point tables against the
// floating point BT.709 equations for random samples.
func TestNormalize_UYVYMatchesFormula(t *testing.T) {
	n := New(Options{})
	rng := rand.New(rand.NewSource(7))
	clamp := func(v float64) byte {
		v = math.Round(v)
		if v < 0 {
			return 0
		}
		if v > 255 {
			return 255
		}
		return byte(v)
	}
	for i := 0; i < 500; i++ {
		u, y0, v, y1 := byte(rng.Intn(256)), byte(rng.Intn(256)), byte(rng.Intn(256)), byte(rng.Intn(256))
		f, err := n.Normalize(uyvyFrame(2, 1, u, y0, v, y1))
		require.NoError(t, err)

		for x, yv := range []byte{y0, y1} {
			yf := 1.164 * (float64(yv) - 16)
			uf, vf := float64(u)-128, float64(v)-128
			wantR := clamp(yf + 1.793*vf)
			wantG := clamp(yf - 0.213*uf - 0.533*vf)
			wantB := clamp(yf + 2.112*uf)

			b, g, r, _ := f.At(x, 0)
			assert.InDelta(t, wantR, r, 1, "R u=%d y=%d v=%d", u, yv, v)
			assert.InDelta(t, wantG, g, 1, "G u=%d y=%d v=%d", u, yv, v)
			assert.InDelta(t, wantB, b, 1, "B u=%d y=%d v=%d", u, yv, v)
		}
	}
}

func TestNormalize_UYVYOddWidth(t *testing.T) {
	n := New(Options{})
	// width 3: two macropixels, last one provides Y0 only.
	raw := video.RawFrame{
		Width: 3, Height: 1, Stride: 8, Encoding: video.EncodingUYVY,
		Data: []byte{128, 16, 128, 16, 128, 235, 128, 16},
	}
	f, err := n.Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, 3, f.Width())
	_, _, r, _ := f.At(2, 0)
	assert.Equal(t, uint8(255), r, "last pixel uses Y0 of the final macropixel")
}

func TestNormalize_Errors(t *testing.T) {
	n := New(Options{})
	tests := []struct {
		name string
		raw  video.RawFrame
		want error
	}{
		{"zero width", video.RawFrame{Width: 0, Height: 2, Stride: 4, Data: make([]byte, 8)}, ErrInvalidDimensions},
		{"negative height", video.RawFrame{Width: 1, Height: -2, Stride: 4, Data: make([]byte, 8)}, ErrInvalidDimensions},
		{"nil data", video.RawFrame{Width: 2, Height: 2, Stride: 8}, ErrShortBuffer},
		{"short data", video.RawFrame{Width: 2, Height: 2, Stride: 8, Data: make([]byte, 15)}, ErrShortBuffer},
		{"stride too small", video.RawFrame{Width: 2, Height: 2, Stride: 7, Data: make([]byte, 64)}, ErrShortBuffer},
		{"uyvy short", video.RawFrame{Width: 4, Height: 2, Stride: 8, Encoding: video.EncodingUYVY, Data: make([]byte, 15)}, ErrShortBuffer},
		{"unknown encoding", video.RawFrame{Width: 2, Height: 2, Stride: 8, Encoding: video.Encoding(42), Data: make([]byte, 16)}, ErrUnsupportedEncoding},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := n.Normalize(tt.raw)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.True(t, f.IsZero())
		})
	}

	s := n.Stats()
	assert.Equal(t, uint64(2), s.InvalidDimensions)
	assert.Equal(t, uint64(4), s.ShortBuffer)
	assert.Equal(t, uint64(1), s.UnsupportedEncoding)
	assert.Equal(t, uint64(7), s.Failed())
	assert.Equal(t, uint64(0), s.Normalized)

	// The normalizer is still usable after failures.
	_, err := n.Normalize(bgraFrame(1, 1, 0))
	assert.NoError(t, err)
}

func TestReason(t *testing.T) {
	assert.Equal(t, ReasonShortBuffer, Reason(ErrShortBuffer))
	assert.Equal(t, ReasonInvalidDimensions, Reason(ErrInvalidDimensions))
	assert.Equal(t, ReasonUnsupportedEncoding, Reason(ErrUnsupportedEncoding))
	assert.Equal(t, ReasonOther, Reason(errors.New("boom")))
}

func TestNormalize_PortraitLeftBecomesLandscape(t *testing.T) {
	n := New(Options{})
	raw := bgraFrame(1080, 1920, 0)
	raw.Orientation = video.OrientationLeft

	f, err := n.Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, 1920, f.Width())
	assert.Equal(t, 1080, f.Height())
	t.Logf("✅ 1080x1920 left-oriented frame normalized to %dx%d", f.Width(), f.Height())
}

// TestNormalize_Orientation checks where the source corners land for each hint
// on a 3x2 frame. Source pixel (x,y) is identified by its B (x) and G (y) bytes.
func TestNormalize_Orientation(t *testing.T) {
	type px struct{ x, y byte }
	tests := []struct {
		o          video.Orientation
		w, h       int
		topLeft    px // source coordinates of output (0,0)
		bottomLeft px // source coordinates of output (0,h-1)
	}{
		{video.OrientationUp, 3, 2, px{0, 0}, px{0, 1}},
		{video.OrientationUpMirrored, 3, 2, px{2, 0}, px{2, 1}},
		{video.OrientationDown, 3, 2, px{2, 1}, px{2, 0}},
		{video.OrientationDownMirrored, 3, 2, px{0, 1}, px{0, 0}},
		{video.OrientationLeft, 2, 3, px{0, 1}, px{2, 1}},
		{video.OrientationRight, 2, 3, px{2, 0}, px{0, 0}},
		{video.OrientationLeftMirrored, 2, 3, px{0, 0}, px{2, 0}},
		{video.OrientationRightMirrored, 2, 3, px{2, 1}, px{0, 1}},
	}
	n := New(Options{})
	for _, tt := range tests {
		t.Run(tt.o.String(), func(t *testing.T) {
			raw := bgraFrame(3, 2, 4)
			raw.Orientation = tt.o
			f, err := n.Normalize(raw)
			require.NoError(t, err)
			require.Equal(t, tt.w, f.Width())
			require.Equal(t, tt.h, f.Height())

			b, g, _, _ := f.At(0, 0)
			assert.Equal(t, tt.topLeft, px{b, g}, "top-left")
			b, g, _, _ = f.At(0, tt.h-1)
			assert.Equal(t, tt.bottomLeft, px{b, g}, "bottom-left")
		})
	}
}
