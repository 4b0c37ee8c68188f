// Package normalize converts borrowed raw frames from a frame source into
// owned, upright, BGRA8888 video.PixelFrame values.
//
// Supported input encodings:
//   - BGRA: row copy honoring both strides
//   - BGRX: row copy, alpha forced to 255
//   - RGBA: row copy with R and B swapped
//   - UYVY 4:2:2: BT.709 video-range decode (see yuv.go)
//
// After decoding, the orientation hint is undone so the output is always
// upright. Every output frame is tagged sRGB with BT.709 decode metadata.
//
// The raw frame's Data is only read during Normalize; the returned PixelFrame
// never aliases it, so the caller may release the raw frame immediately.
package normalize

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/denisgrzechnik/LayerMapper-NDI/video"
)

var (
	ErrInvalidDimensions   = errors.New("normalize: invalid dimensions")
	ErrShortBuffer         = errors.New("normalize: frame data shorter than declared geometry")
	ErrUnsupportedEncoding = errors.New("normalize: unsupported encoding")
)

// Failure reasons as reported in Stats and logs.
const (
	ReasonInvalidDimensions   = "invalid_dimensions"
	ReasonShortBuffer         = "short_buffer"
	ReasonUnsupportedEncoding = "unsupported_encoding"
	ReasonOther               = "other"
)

// Options configures output buffer layout.
type Options struct {
	// RowAlignment rounds the destination stride up to a multiple of this many
	// bytes (e.g. 64 for GPU texture upload). 0 or 1 means tight rows.
	RowAlignment int
}

// Stats is a snapshot of normalizer counters.
type Stats struct {
	Normalized          uint64 `json:"normalized" msgpack:"normalized"`
	InvalidDimensions   uint64 `json:"invalid_dimensions" msgpack:"invalid_dimensions"`
	ShortBuffer         uint64 `json:"short_buffer" msgpack:"short_buffer"`
	UnsupportedEncoding uint64 `json:"unsupported_encoding" msgpack:"unsupported_encoding"`
}

// Failed is the total number of rejected frames.
func (s Stats) Failed() uint64 {
	return s.InvalidDimensions + s.ShortBuffer + s.UnsupportedEncoding
}

// Normalizer is stateless apart from its counters and safe for concurrent use.
type Normalizer struct {
	opts Options

	normalized  atomic.Uint64
	invalidDims atomic.Uint64
	shortBuf    atomic.Uint64
	unsupported atomic.Uint64
}

// New creates a Normalizer. Negative alignments are treated as 0.
func New(opts Options) *Normalizer {
	if opts.RowAlignment < 0 {
		opts.RowAlignment = 0
	}
	return &Normalizer{opts: opts}
}

// Normalize decodes raw into a new, owned, upright BGRA frame.
//
// Errors are per-frame and never leave the normalizer in a bad state:
//   - ErrInvalidDimensions: width or height <= 0
//   - ErrShortBuffer: nil/short data or a stride smaller than one packed row
//   - ErrUnsupportedEncoding: encoding not in the supported set
func (n *Normalizer) Normalize(raw video.RawFrame) (video.PixelFrame, error) {
	frame, err := n.normalize(raw)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidDimensions):
			n.invalidDims.Add(1)
		case errors.Is(err, ErrShortBuffer):
			n.shortBuf.Add(1)
		case errors.Is(err, ErrUnsupportedEncoding):
			n.unsupported.Add(1)
		}
		return video.PixelFrame{}, err
	}
	n.normalized.Add(1)
	return frame, nil
}

func (n *Normalizer) normalize(raw video.RawFrame) (video.PixelFrame, error) {
	w, h, stride := int(raw.Width), int(raw.Height), int(raw.Stride)
	if w <= 0 || h <= 0 {
		return video.PixelFrame{}, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, w, h)
	}

	var decode func(dst []byte, dstStride int, src []byte, srcStride, w, h int)
	switch raw.Encoding {
	case video.EncodingBGRA:
		decode = copyBGRA
	case video.EncodingBGRX:
		decode = copyBGRX
	case video.EncodingRGBA:
		decode = swapRGBA
	case video.EncodingUYVY:
		decode = decodeUYVY
	default:
		return video.PixelFrame{}, fmt.Errorf("%w: %s", ErrUnsupportedEncoding, raw.Encoding)
	}

	minRow := raw.Encoding.MinStride(w)
	if stride < minRow {
		return video.PixelFrame{}, fmt.Errorf("%w: stride %d < %d for %s width %d",
			ErrShortBuffer, stride, minRow, raw.Encoding, w)
	}
	if need := stride*(h-1) + minRow; len(raw.Data) < need {
		return video.PixelFrame{}, fmt.Errorf("%w: %d bytes, need %d", ErrShortBuffer, len(raw.Data), need)
	}

	outW, outH := w, h
	if raw.Orientation.SwapsAxes() {
		outW, outH = h, w
	}
	outStride := n.alignedStride(outW)

	var pixels []byte
	if raw.Orientation == video.OrientationUp {
		pixels = make([]byte, outStride*outH)
		decode(pixels, outStride, raw.Data, stride, w, h)
	} else {
		upright := make([]byte, w*video.BytesPerPixel*h)
		decode(upright, w*video.BytesPerPixel, raw.Data, stride, w, h)
		pixels = make([]byte, outStride*outH)
		orient(pixels, outStride, upright, w, h, raw.Orientation)
	}

	return video.NewPixelFrame(outW, outH, outStride, pixels, raw.PresentationTime, video.DefaultColorTags())
}

// Stats returns a counter snapshot.
func (n *Normalizer) Stats() Stats {
	return Stats{
		Normalized:          n.normalized.Load(),
		InvalidDimensions:   n.invalidDims.Load(),
		ShortBuffer:         n.shortBuf.Load(),
		UnsupportedEncoding: n.unsupported.Load(),
	}
}

func (n *Normalizer) alignedStride(width int) int {
	s := width * video.BytesPerPixel
	a := n.opts.RowAlignment
	if a <= 1 {
		return s
	}
	return (s + a - 1) / a * a
}

// Reason maps a Normalize error to its stats label.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidDimensions):
		return ReasonInvalidDimensions
	case errors.Is(err, ErrShortBuffer):
		return ReasonShortBuffer
	case errors.Is(err, ErrUnsupportedEncoding):
		return ReasonUnsupportedEncoding
	default:
		return ReasonOther
	}
}

func copyBGRA(dst []byte, dstStride int, src []byte, srcStride, w, h int) {
	row := w * video.BytesPerPixel
	for y := 0; y < h; y++ {
		copy(dst[y*dstStride:y*dstStride+row], src[y*srcStride:y*srcStride+row])
	}
}

func copyBGRX(dst []byte, dstStride int, src []byte, srcStride, w, h int) {
	copyBGRA(dst, dstStride, src, srcStride, w, h)
	for y := 0; y < h; y++ {
		d := dst[y*dstStride:]
		for x := 0; x < w; x++ {
			d[x*4+3] = 0xFF
		}
	}
}

func swapRGBA(dst []byte, dstStride int, src []byte, srcStride, w, h int) {
	for y := 0; y < h; y++ {
		s := src[y*srcStride : y*srcStride+w*4]
		d := dst[y*dstStride : y*dstStride+w*4]
		for i := 0; i < len(s); i += 4 {
			d[i], d[i+1], d[i+2], d[i+3] = s[i+2], s[i+1], s[i], s[i+3]
		}
	}
}
