// Package imageio turns raw image bytes, decoded images or image locations
// into the grayscale luminance buffers consumed by the feature extractor.
package imageio

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"math"

	_ "golang.org/x/image/bmp"  // register BMP decoder
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff" // register TIFF decoder
	_ "golang.org/x/image/webp" // register WebP decoder
)

const (
	// DefaultMaxPixels is the pixel budget above which images are downscaled.
	DefaultMaxPixels = 512 * 384
	// DefaultMaxSourcePixels is the largest source image Decode accepts.
	DefaultMaxSourcePixels = 8192 * 8192
)

// ErrDecode is returned when image data cannot be decoded.
var ErrDecode = errors.New("imageio: decode failed")

// Image is a grayscale luminance buffer with values in [0, 1], row-major.
type Image struct {
	Width  int
	Height int
	Pix    []float32
}

// At returns the luminance at (x, y).
func (im *Image) At(x, y int) float32 {
	return im.Pix[y*im.Width+x]
}

// Options controls conversion of decoded images.
type Options struct {
	// MaxPixels downscales images with more pixels, preserving aspect ratio.
	// Zero means DefaultMaxPixels, negative disables scaling.
	MaxPixels int
	// MaxSourcePixels rejects encoded images with more pixels before they
	// are decoded. Zero means DefaultMaxSourcePixels, negative disables the
	// check.
	MaxSourcePixels int
}

// Decode decodes JPEG, PNG, GIF, BMP, TIFF or WebP data.
func Decode(data []byte, opts Options) (*Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty input", ErrDecode)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrDecode, err)
	}
	limit := opts.MaxSourcePixels
	if limit == 0 {
		limit = DefaultMaxSourcePixels
	}
	if limit > 0 && int64(cfg.Width)*int64(cfg.Height) > int64(limit) {
		return nil, "", fmt.Errorf("%w: %dx%d image exceeds %d pixels", ErrDecode, cfg.Width, cfg.Height, limit)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return FromImage(img, opts), format, nil
}

// FromImage converts a decoded image to luminance, downscaling it to the
// pixel budget first.
func FromImage(src image.Image, opts Options) *Image {
	maxPixels := opts.MaxPixels
	if maxPixels == 0 {
		maxPixels = DefaultMaxPixels
	}

	sb := src.Bounds()
	w, h := sb.Dx(), sb.Dy()
	if maxPixels > 0 && w*h > maxPixels {
		scale := math.Sqrt(float64(maxPixels) / float64(w*h))
		w = max(1, int(float64(w)*scale))
		h = max(1, int(float64(h)*scale))
	}

	gray := image.NewGray(image.Rect(0, 0, w, h))
	if w == sb.Dx() && h == sb.Dy() {
		draw.Draw(gray, gray.Bounds(), src, sb.Min, draw.Src)
	} else {
		draw.ApproxBiLinear.Scale(gray, gray.Bounds(), src, sb, draw.Src, nil)
	}

	out := &Image{Width: w, Height: h, Pix: make([]float32, w*h)}
	for y := 0; y < h; y++ {
		row := gray.Pix[y*gray.Stride : y*gray.Stride+w]
		for x, v := range row {
			out.Pix[y*w+x] = float32(v) / 255
		}
	}
	return out
}
