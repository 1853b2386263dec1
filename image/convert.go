package image

import (
	"fmt"
	"image"

	"github.com/nfnt/resize"

	logInternal "github.com/AlexStarov/m02-raster/log"
)

// Converter turns arbitrary images into printer-width binary buffers and
// raster frames. Zero fields take the defaults noted on each field.
type Converter struct {
	// Width is the printed width in dots, PrinterWidth when zero. Images are
	// scaled to it with their aspect ratio preserved.
	Width int

	// Algorithm defaults to Floyd-Steinberg.
	Algorithm Algorithm

	// Threshold is the cut for the threshold and bayer algorithms, used as
	// given: 0 prints nothing. DefaultConverter sets 128.
	Threshold int

	// MaxLines is the frame height limit, MaxFrameLines when zero.
	MaxLines int

	Polarity Polarity

	// Interpolation is the resampling filter. Its zero value is
	// resize.NearestNeighbor; DefaultConverter uses Lanczos3.
	Interpolation resize.InterpolationFunction
}

// DefaultConverter returns a Converter for the 576-dot head with
// Floyd-Steinberg dithering and Lanczos3 resampling.
func DefaultConverter() *Converter {
	return &Converter{
		Width:         PrinterWidth,
		Algorithm:     AlgorithmFloydSteinberg,
		Threshold:     128,
		MaxLines:      MaxFrameLines,
		Interpolation: resize.Lanczos3,
	}
}

func (c *Converter) width() int {
	if c.Width == 0 {
		return PrinterWidth
	}
	return c.Width
}

func (c *Converter) algorithm() Algorithm {
	if c.Algorithm == "" {
		return AlgorithmFloydSteinberg
	}
	return c.Algorithm
}

// Dither flattens img onto white, scales it to the printer width and
// applies the configured algorithm.
func (c *Converter) Dither(img image.Image) (*PixelBuffer, error) {
	width := c.width()
	if width <= 0 || width%8 != 0 {
		return nil, fmt.Errorf("%w: got %d", ErrUnsupportedWidth, width)
	}

	sz := img.Bounds().Size()
	if sz.X == 0 || sz.Y == 0 {
		return nil, fmt.Errorf("%w: empty source image %v", ErrInvalidDimensions, sz)
	}

	flat := FlattenOnWhite(img)
	var scaled image.Image = flat
	if sz.X != width {
		scaled = resize.Resize(uint(width), 0, flat, c.Interpolation)
		// very wide sources round down to no lines at all; keep one
		if scaled.Bounds().Dy() == 0 {
			scaled = resize.Resize(uint(width), 1, flat, c.Interpolation)
		}
	}

	buf := FromImage(scaled)
	log := logInternal.Component("converter")
	log.Debug().
		Int("src_w", sz.X).Int("src_h", sz.Y).
		Int("w", buf.Width).Int("h", buf.Height).
		Str("algorithm", string(c.algorithm())).
		Msg("dither")

	return Apply(buf, c.algorithm(), c.Threshold)
}

// Frames dithers img and slices it into raster frames.
func (c *Converter) Frames(img image.Image) ([]RasterFrame, error) {
	buf, err := c.Dither(img)
	if err != nil {
		return nil, err
	}
	f, err := NewFramer(buf, FramerOptions{MaxLines: c.MaxLines, Polarity: c.Polarity})
	if err != nil {
		return nil, err
	}
	return f.Frames(), nil
}

// Print dithers img and streams its frames to target, stopping at the first
// error.
func (c *Converter) Print(img image.Image, target Target) error {
	buf, err := c.Dither(img)
	if err != nil {
		return err
	}
	f, err := NewFramer(buf, FramerOptions{MaxLines: c.MaxLines, Polarity: c.Polarity})
	if err != nil {
		return err
	}

	log := logInternal.Component("converter")
	for n := 0; ; n++ {
		frame, ok := f.Next()
		if !ok {
			log.Debug().Int("frames", n).Msg("image sent")
			return nil
		}
		if err := target.Raster(frame); err != nil {
			return fmt.Errorf("frame %d: %w", n, err)
		}
	}
}
