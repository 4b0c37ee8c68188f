package video

import (
	"errors"
	"fmt"
)

// BytesPerPixel is the size of one BGRA8888 pixel.
const BytesPerPixel = 4

// ErrInvalidFrame is returned by NewPixelFrame when a frame invariant is violated.
var ErrInvalidFrame = errors.New("video: invalid pixel frame")

// ColorSpace is the display color space a PixelFrame is tagged with.
type ColorSpace string

// YCbCrMatrix identifies the matrix used to decode luma/chroma input.
type YCbCrMatrix string

// Color tag values carried by normalized frames.
const (
	ColorSpaceSRGB ColorSpace  = "sRGB"
	MatrixBT709    YCbCrMatrix = "ITU_R_709_2"
	PrimariesBT709             = "ITU_R_709_2"
	TransferBT709              = "ITU_R_709_2"
)

// ColorTags describes how a frame's pixels should be interpreted downstream.
//
// Frames are displayed as sRGB. The YCbCr tags record the decode that
// produced the pixels and are informational for BGRA input.
type ColorTags struct {
	Space     ColorSpace  `json:"space" msgpack:"space"`
	Matrix    YCbCrMatrix `json:"matrix" msgpack:"matrix"`
	Primaries string      `json:"primaries" msgpack:"primaries"`
	Transfer  string      `json:"transfer" msgpack:"transfer"`
	FullRange bool        `json:"full_range" msgpack:"full_range"`
}

// DefaultColorTags returns the tags attached by the normalizer: sRGB display
// space with BT.709 video-range decode metadata.
func DefaultColorTags() ColorTags {
	return ColorTags{
		Space:     ColorSpaceSRGB,
		Matrix:    MatrixBT709,
		Primaries: PrimariesBT709,
		Transfer:  TransferBT709,
		FullRange: false,
	}
}

// PixelFrame is one decoded video frame in BGRA8888.
//
// Invariants (enforced by NewPixelFrame):
//   - Width() > 0 and Height() > 0
//   - Stride() >= Width()*4
//   - len(Pixels()) == Stride()*Height()
//
// IMMUTABILITY CONTRACT:
//   - The pixel buffer is owned by the frame and never written after
//     construction.
//   - Pixels() returns the backing slice without copying. Callers MUST treat
//     it as read-only. Code that needs to modify pixels must copy first.
//
// A PixelFrame is a small value; copying it shares the (immutable) buffer.
type PixelFrame struct {
	width     int
	height    int
	stride    int
	pixels    []byte
	timestamp int64 // microseconds
	color     ColorTags

	seq     uint64
	traceID string
}

// NewPixelFrame validates the frame invariants and takes ownership of pixels.
// The caller must not retain or modify pixels after the call.
func NewPixelFrame(width, height, stride int, pixels []byte, timestamp int64, color ColorTags) (PixelFrame, error) {
	if width <= 0 || height <= 0 {
		return PixelFrame{}, fmt.Errorf("%w: dimensions %dx%d", ErrInvalidFrame, width, height)
	}
	if stride < width*BytesPerPixel {
		return PixelFrame{}, fmt.Errorf("%w: stride %d < %d", ErrInvalidFrame, stride, width*BytesPerPixel)
	}
	if len(pixels) != stride*height {
		return PixelFrame{}, fmt.Errorf("%w: buffer %d bytes, want %d", ErrInvalidFrame, len(pixels), stride*height)
	}
	return PixelFrame{
		width:     width,
		height:    height,
		stride:    stride,
		pixels:    pixels,
		timestamp: timestamp,
		color:     color,
	}, nil
}

// Width in pixels.
func (f PixelFrame) Width() int { return f.width }

// Height in pixels.
func (f PixelFrame) Height() int { return f.height }

// Stride is the number of bytes per row, padding included.
func (f PixelFrame) Stride() int { return f.stride }

// Pixels returns the BGRA buffer. Read-only, see the immutability contract.
func (f PixelFrame) Pixels() []byte { return f.pixels }

// Timestamp is the presentation time in microseconds.
func (f PixelFrame) Timestamp() int64 { return f.timestamp }

// Color returns the frame's color tags.
func (f PixelFrame) Color() ColorTags { return f.color }

// Seq is the receive sequence number, 0 if never sequenced.
func (f PixelFrame) Seq() uint64 { return f.seq }

// TraceID is the per-frame diagnostic identifier, empty if never sequenced.
func (f PixelFrame) TraceID() string { return f.traceID }

// IsZero reports whether f is the zero PixelFrame (no pixels).
func (f PixelFrame) IsZero() bool { return f.pixels == nil }

// WithSequence returns a copy of f stamped with a sequence number and trace id.
// The pixel buffer is shared, not copied.
func (f PixelFrame) WithSequence(seq uint64, traceID string) PixelFrame {
	f.seq = seq
	f.traceID = traceID
	return f
}

// Row returns the visible bytes of row y (Width()*4 bytes, padding excluded).
// Panics if y is out of range.
func (f PixelFrame) Row(y int) []byte {
	if y < 0 || y >= f.height {
		panic(fmt.Sprintf("video: row %d out of range [0,%d)", y, f.height))
	}
	off := y * f.stride
	return f.pixels[off : off+f.width*BytesPerPixel : off+f.width*BytesPerPixel]
}

// At returns the B, G, R, A components of the pixel at (x, y).
// Panics if the coordinates are out of range.
func (f PixelFrame) At(x, y int) (b, g, r, a uint8) {
	if x < 0 || x >= f.width || y < 0 || y >= f.height {
		panic(fmt.Sprintf("video: pixel (%d,%d) out of range %dx%d", x, y, f.width, f.height))
	}
	off := y*f.stride + x*BytesPerPixel
	p := f.pixels[off : off+4 : off+4]
	return p[0], p[1], p[2], p[3]
}
