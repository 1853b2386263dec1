package image

import (
	"encoding"
	"fmt"
	"image"
	"io"

	"github.com/AlexStarov/m02-raster/util"
)

const (
	// MaxFrameLines is the tallest slice sent in one GS v 0 command.
	MaxFrameLines = 255

	// PrinterWidth is the M02 head width in dots (72 bytes per line).
	PrinterWidth = 576

	// darkThreshold classifies a sample as printed when it is below 128.
	darkThreshold = 128
)

// GS v 0 m, normal density.
var rasterCommand = []byte{0x1d, 0x76, 0x30, 0x00}

// Polarity maps dark pixels to bit values in the packed payload.
type Polarity int

const (
	// DarkIsOne sets a bit for every printed dot; GS v 0 expects this.
	DarkIsOne Polarity = iota
	// DarkIsZero is the bit-inverted payload, kept for printers that
	// interpret 1 as paper.
	DarkIsZero
)

func (p Polarity) String() string {
	switch p {
	case DarkIsOne:
		return "dark-is-one"
	case DarkIsZero:
		return "dark-is-zero"
	}
	return fmt.Sprintf("Polarity(%d)", int(p))
}

// ParsePolarity accepts "dark-is-one" (or "", "normal") and "dark-is-zero"
// (or "inverted").
func ParsePolarity(raw string) (Polarity, error) {
	switch raw {
	case "", "dark-is-one", "normal":
		return DarkIsOne, nil
	case "dark-is-zero", "inverted":
		return DarkIsZero, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownPolarity, raw)
}

// RasterFrame is one vertical slice of a packed 1-bit image.
type RasterFrame struct {
	WidthBytes int
	Lines      int
	Data       []byte
}

var _ encoding.BinaryMarshaler = RasterFrame{}

// MarshalBinary encodes the frame as GS v 0 0 xL xH yL yH followed by the
// payload.
func (f RasterFrame) MarshalBinary() ([]byte, error) {
	if len(f.Data) != f.WidthBytes*f.Lines {
		return nil, fmt.Errorf("%w: frame %dx%d with %d bytes", ErrInvalidDimensions, f.WidthBytes, f.Lines, len(f.Data))
	}
	w, err := util.IntLowHigh(f.WidthBytes, 2)
	if err != nil {
		return nil, fmt.Errorf("frame width: %w", err)
	}
	h, err := util.IntLowHigh(f.Lines, 2)
	if err != nil {
		return nil, fmt.Errorf("frame height: %w", err)
	}

	out := make([]byte, 0, len(rasterCommand)+4+len(f.Data))
	out = append(out, rasterCommand...)
	out = append(out, w...)
	out = append(out, h...)
	return append(out, f.Data...), nil
}

// WriteTo writes the encoded frame to w.
func (f RasterFrame) WriteTo(w io.Writer) (int64, error) {
	b, err := f.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(b)
	return int64(n), err
}

// FramerOptions configures a Framer. The zero value frames 255 lines at a
// time with DarkIsOne polarity.
type FramerOptions struct {
	MaxLines int
	Polarity Polarity
}

// Framer slices a binary image into raster frames. Each call to Next
// consumes one frame; a drained Framer cannot be rewound.
//
// After each frame the cursor skips one extra line, leaving a one-line gap
// between consecutive frames.
type Framer struct {
	width, height int
	sample        func(x, y int) uint8
	maxLines      int
	polarity      Polarity
	startY        int
}

// NewFramer frames b using the red channel of each pixel.
func NewFramer(b *PixelBuffer, opts FramerOptions) (*Framer, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return newFramer(b.Width, b.Height, func(x, y int) uint8 {
		return b.Pix[(y*b.Width+x)*4]
	}, opts)
}

// NewGrayFramer frames a single-channel image.
func NewGrayFramer(g *image.Gray, opts FramerOptions) (*Framer, error) {
	r := g.Bounds()
	if len(g.Pix) < g.Stride*(r.Dy()-1)+r.Dx() {
		return nil, fmt.Errorf("%w: gray %v with %d bytes", ErrInvalidDimensions, r, len(g.Pix))
	}
	return newFramer(r.Dx(), r.Dy(), func(x, y int) uint8 {
		return g.GrayAt(r.Min.X+x, r.Min.Y+y).Y
	}, opts)
}

func newFramer(w, h int, sample func(x, y int) uint8, opts FramerOptions) (*Framer, error) {
	if w <= 0 || w%8 != 0 {
		return nil, fmt.Errorf("%w: got %d", ErrUnsupportedWidth, w)
	}
	maxLines := opts.MaxLines
	if maxLines == 0 {
		maxLines = MaxFrameLines
	}
	if maxLines < 1 || maxLines > MaxFrameLines {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidMaxLines, opts.MaxLines)
	}
	if opts.Polarity != DarkIsOne && opts.Polarity != DarkIsZero {
		return nil, fmt.Errorf("%w: %v", ErrUnknownPolarity, opts.Polarity)
	}
	return &Framer{
		width:    w,
		height:   h,
		sample:   sample,
		maxLines: maxLines,
		polarity: opts.Polarity,
	}, nil
}

// Next returns the next frame, or false once the cursor is past the image.
func (f *Framer) Next() (RasterFrame, bool) {
	if f.startY >= f.height {
		return RasterFrame{}, false
	}
	lines := f.maxLines
	if rest := f.height - f.startY; rest < lines {
		lines = rest
	}

	widthBytes := f.width / 8
	data := make([]byte, widthBytes*lines)
	for y := 0; y < lines; y++ {
		row := data[y*widthBytes : (y+1)*widthBytes]
		for bx := range row {
			row[bx] = f.packByte(bx*8, f.startY+y)
		}
	}

	f.startY += lines + 1
	return RasterFrame{WidthBytes: widthBytes, Lines: lines, Data: data}, true
}

// packByte packs the 8 pixels starting at x, leftmost pixel in bit 7.
func (f *Framer) packByte(x, y int) byte {
	var b byte
	for i := 0; i < 8; i++ {
		if f.sample(x+i, y) < darkThreshold {
			b |= 0x80 >> uint(i)
		}
	}
	if f.polarity == DarkIsZero {
		b = ^b
	}
	return b
}

// Frames drains the remaining frames.
func (f *Framer) Frames() []RasterFrame {
	var frames []RasterFrame
	for {
		fr, ok := f.Next()
		if !ok {
			return frames
		}
		frames = append(frames, fr)
	}
}

// Frame validates b and returns all of its frames with DarkIsOne polarity.
func Frame(b *PixelBuffer, maxLines int) ([]RasterFrame, error) {
	f, err := NewFramer(b, FramerOptions{MaxLines: maxLines})
	if err != nil {
		return nil, err
	}
	return f.Frames(), nil
}
