package image

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
)

// PixelBuffer is a row-major RGBA buffer with its origin at the top-left,
// laid out like a canvas ImageData: 4 bytes per pixel, no row padding.
type PixelBuffer struct {
	Width, Height int
	Pix           []uint8
}

// NewPixelBuffer allocates a zeroed (transparent black) w×h buffer.
func NewPixelBuffer(w, h int) *PixelBuffer {
	if w < 0 || h < 0 {
		return &PixelBuffer{Width: w, Height: h}
	}
	return &PixelBuffer{Width: w, Height: h, Pix: make([]uint8, w*h*4)}
}

// Validate reports ErrInvalidDimensions when len(Pix) != Width*Height*4.
func (b *PixelBuffer) Validate() error {
	if b == nil {
		return fmt.Errorf("%w: nil buffer", ErrInvalidDimensions)
	}
	if b.Width < 0 || b.Height < 0 || len(b.Pix) != b.Width*b.Height*4 {
		return fmt.Errorf("%w: %dx%d with %d bytes", ErrInvalidDimensions, b.Width, b.Height, len(b.Pix))
	}
	return nil
}

// Clone returns a deep copy.
func (b *PixelBuffer) Clone() *PixelBuffer {
	pix := make([]uint8, len(b.Pix))
	copy(pix, b.Pix)
	return &PixelBuffer{Width: b.Width, Height: b.Height, Pix: pix}
}

// NRGBA returns an image view sharing Pix with b.
func (b *PixelBuffer) NRGBA() *image.NRGBA {
	return &image.NRGBA{
		Pix:    b.Pix,
		Stride: b.Width * 4,
		Rect:   image.Rect(0, 0, b.Width, b.Height),
	}
}

// FromImage copies img into a new buffer as non-premultiplied RGBA.
func FromImage(img image.Image) *PixelBuffer {
	bounds := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Src)
	return &PixelBuffer{Width: bounds.Dx(), Height: bounds.Dy(), Pix: dst.Pix}
}

// FlattenOnWhite composites img over an opaque white background, so that
// transparent areas come out as blank paper instead of black.
func FlattenOnWhite(img image.Image) *image.NRGBA {
	bounds := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Over)
	return dst
}
