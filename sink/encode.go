package sink

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"

	"github.com/denisgrzechnik/LayerMapper-NDI/video"
)

// Image formats accepted by Encode and NewSaver.
const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"

	DefaultJPEGQuality = 85
)

var ErrUnsupportedFormat = errors.New("sink: unsupported image format")

// ToRGBA converts a BGRA frame to an image.RGBA (swap B and R, keep alpha).
func ToRGBA(frame video.PixelFrame) (*image.RGBA, error) {
	if frame.IsZero() {
		return nil, fmt.Errorf("%w: empty frame", video.ErrInvalidFrame)
	}
	w, h := frame.Width(), frame.Height()
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	for y := 0; y < h; y++ {
		src := frame.Row(y)
		dst := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for i := 0; i < len(dst); i += 4 {
			dst[i+0] = src[i+2] // R
			dst[i+1] = src[i+1] // G
			dst[i+2] = src[i+0] // B
			dst[i+3] = src[i+3] // A
		}
	}
	return img, nil
}

// Encode writes frame to w as PNG or JPEG. quality is only used for JPEG;
// values outside 1..100 take DefaultJPEGQuality.
func Encode(w io.Writer, frame video.PixelFrame, format string, quality int) error {
	img, err := ToRGBA(frame)
	if err != nil {
		return err
	}

	switch format {
	case FormatPNG:
		if err := png.Encode(w, img); err != nil {
			return fmt.Errorf("sink: png encode: %w", err)
		}
	case FormatJPEG:
		if quality < 1 || quality > 100 {
			quality = DefaultJPEGQuality
		}
		if err := jpeg.Encode(w, img, &jpeg.Options{Quality: quality}); err != nil {
			return fmt.Errorf("sink: jpeg encode: %w", err)
		}
	default:
		return fmt.Errorf("%w: %q (must be png or jpeg)", ErrUnsupportedFormat, format)
	}
	return nil
}
