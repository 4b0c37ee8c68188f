package video

import "fmt"

// Encoding is the pixel layout of a RawFrame as delivered by a source.
type Encoding int

const (
	// EncodingBGRA is packed 32-bit B,G,R,A.
	EncodingBGRA Encoding = iota
	// EncodingBGRX is packed 32-bit B,G,R with an undefined fourth byte.
	EncodingBGRX
	// EncodingRGBA is packed 32-bit R,G,B,A.
	EncodingRGBA
	// EncodingUYVY is packed YUV 4:2:2, one macropixel (U,Y0,V,Y1) per two pixels.
	EncodingUYVY
)

// String returns the FourCC-style name of the encoding
func (e Encoding) String() string {
	switch e {
	case EncodingBGRA:
		return "BGRA"
	case EncodingBGRX:
		return "BGRX"
	case EncodingRGBA:
		return "RGBA"
	case EncodingUYVY:
		return "UYVY"
	default:
		return fmt.Sprintf("Encoding(%d)", int(e))
	}
}

// ParseEncoding parses the names produced by Encoding.String (case-sensitive,
// plus the common lowercase spellings used in config files).
func ParseEncoding(s string) (Encoding, error) {
	switch s {
	case "BGRA", "bgra":
		return EncodingBGRA, nil
	case "BGRX", "bgrx":
		return EncodingBGRX, nil
	case "RGBA", "rgba":
		return EncodingRGBA, nil
	case "UYVY", "uyvy", "uyvy422":
		return EncodingUYVY, nil
	default:
		return 0, fmt.Errorf("video: unknown encoding %q", s)
	}
}

// MinStride returns the smallest valid row stride in bytes for a frame of the
// given width in this encoding. It returns 0 for unknown encodings.
func (e Encoding) MinStride(width int) int {
	switch e {
	case EncodingBGRA, EncodingBGRX, EncodingRGBA:
		return width * BytesPerPixel
	case EncodingUYVY:
		// One 4-byte macropixel covers two pixels; an odd trailing pixel
		// still occupies a whole macropixel.
		return ((width + 1) / 2) * 4
	default:
		return 0
	}
}

// Orientation is the rotation/mirror hint attached to a raw frame. It
// describes how the content is oriented in the buffer, not the correction.
type Orientation int

const (
	// OrientationUp is upright content, no correction needed.
	OrientationUp Orientation = iota
	// OrientationDown is content rotated 180°.
	OrientationDown
	// OrientationLeft is content rotated 90° counter-clockwise.
	OrientationLeft
	// OrientationRight is content rotated 90° clockwise.
	OrientationRight
	// OrientationUpMirrored is upright content flipped horizontally.
	OrientationUpMirrored
	// OrientationDownMirrored is 180° rotated content flipped horizontally.
	OrientationDownMirrored
	// OrientationLeftMirrored is counter-clockwise rotated content flipped horizontally.
	OrientationLeftMirrored
	// OrientationRightMirrored is clockwise rotated content flipped horizontally.
	OrientationRightMirrored
)

// String returns a human-readable name of the orientation
func (o Orientation) String() string {
	switch o {
	case OrientationUp:
		return "up"
	case OrientationDown:
		return "down"
	case OrientationLeft:
		return "left"
	case OrientationRight:
		return "right"
	case OrientationUpMirrored:
		return "up-mirrored"
	case OrientationDownMirrored:
		return "down-mirrored"
	case OrientationLeftMirrored:
		return "left-mirrored"
	case OrientationRightMirrored:
		return "right-mirrored"
	default:
		return fmt.Sprintf("Orientation(%d)", int(o))
	}
}

// ParseOrientation parses the names produced by Orientation.String.
// The empty string is accepted as "up".
func ParseOrientation(s string) (Orientation, error) {
	for o := OrientationUp; o <= OrientationRightMirrored; o++ {
		if o.String() == s {
			return o, nil
		}
	}
	if s == "" {
		return OrientationUp, nil
	}
	return 0, fmt.Errorf("video: unknown orientation %q", s)
}

// Mirrored reports whether the orientation includes a horizontal flip.
func (o Orientation) Mirrored() bool {
	return o >= OrientationUpMirrored && o <= OrientationRightMirrored
}

// SwapsAxes reports whether correcting this orientation exchanges width and height.
func (o Orientation) SwapsAxes() bool {
	switch o {
	case OrientationLeft, OrientationRight, OrientationLeftMirrored, OrientationRightMirrored:
		return true
	default:
		return false
	}
}

// RawFrame is a borrowed view of one frame as delivered by a frame source.
//
// BORROWING CONTRACT:
//   - Data aliases memory owned by the source and is valid only until the
//     frame is released or the next PollFrame call, whichever comes first.
//   - Consumers MUST copy every byte they need before releasing the frame
//     and MUST NOT retain Data afterwards.
type RawFrame struct {
	Width       int32
	Height      int32
	Stride      int32 // bytes per row in Data
	Encoding    Encoding
	Orientation Orientation

	// PresentationTime is the source timestamp in microseconds.
	PresentationTime int64

	Data []byte

	// token lets a source recognise its own frame on release (pool slot,
	// mapped buffer, ...). Opaque to consumers.
	token any
}

// WithToken returns a copy of the frame carrying a source-private token.
func (f RawFrame) WithToken(token any) RawFrame {
	f.token = token
	return f
}

// Token returns the source-private token attached with WithToken.
func (f RawFrame) Token() any {
	return f.token
}
