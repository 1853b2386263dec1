package printer

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	imgInternal "github.com/AlexStarov/m02-raster/image"
	logInternal "github.com/AlexStarov/m02-raster/log"
)

// Control characters
const (
	ESC = 0x1b
	GS  = 0x1d
	US  = 0x1f
)

var (
	ErrPortNotFound   = errors.New("printer: port not found")
	ErrShortReply     = errors.New("printer: short reply")
	ErrNoCompletion   = errors.New("printer: link closed before print completion was reported")
	ErrInvalidDensity = errors.New("printer: invalid density")
	ErrInvalidAlign   = errors.New("printer: invalid alignment")
)

// Align is the horizontal justification of printed bitmaps.
type Align byte

const (
	AlignLeft   Align = 0x00
	AlignCenter Align = 0x01
	AlignRight  Align = 0x02
)

// ParseAlign accepts "left", "center" (or "centre") and "right".
func ParseAlign(raw string) (Align, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "left":
		return AlignLeft, nil
	case "center", "centre":
		return AlignCenter, nil
	case "right":
		return AlignRight, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidAlign, raw)
}

// Density is the print head heat level.
type Density byte

const (
	DensityLight  Density = 0x01
	DensityNormal Density = 0x03
	DensityDark   Density = 0x04
)

// ParseDensity accepts "light", "normal", "dark" or the raw levels 1, 3, 4.
func ParseDensity(raw string) (Density, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "light", "1":
		return DensityLight, nil
	case "normal", "3":
		return DensityNormal, nil
	case "dark", "4":
		return DensityDark, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidDensity, raw)
}

func (d Density) valid() bool {
	return d == DensityLight || d == DensityNormal || d == DensityDark
}

// Command byte sequences.
var (
	cmdInit                     = []byte{ESC, 0x40}            // ESC @
	cmdReset                    = []byte{ESC, 0x40, 0x02}      // сброс в исходное состояние
	cmdConcentrationCoefficient = []byte{US, 0x11, 0x37, 0x96} // перед плотностью
	cmdQueryDeviceTimer         = []byte{US, 0x11, 0x0e}       // ответ: 3 байта, таймер в последнем
)

func alignCommand(a Align) []byte     { return []byte{ESC, 0x61, byte(a)} }
func densityCommand(d Density) []byte { return []byte{US, 0x11, 0x02, byte(d)} }
func feedLinesCommand(n byte) []byte  { return []byte{ESC, 0x64, n} }

// Printer sends M02 raster commands over a Transport. Methods are safe for
// concurrent use; a print job holds the lock for its whole duration.
type Printer struct {
	t   Transport
	log zerolog.Logger
	mu  sync.Mutex
}

var _ imgInternal.Target = (*Printer)(nil)

// NewPrinter wraps w. Writers without a Close method get a no-op one.
func NewPrinter(w io.ReadWriter) (*Printer, error) {
	if w == nil {
		return nil, fmt.Errorf("printer: nil transport")
	}
	var transport Transport
	if rc, ok := w.(io.ReadWriteCloser); ok {
		// Если w реализует ReadWriteCloser, используем его напрямую.
		transport = &RawTransport{conn: rc}
	} else {
		// Для остальных случаев оборачиваем в nopCloser.
		transport = &RawTransport{conn: nopCloser{w}}
	}
	return &Printer{
		t:   transport,
		log: logInternal.Component("printer"),
	}, nil
}

// CloseConnection closes the underlying transport.
func (p *Printer) CloseConnection() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.t.Close()
}

// Write sends raw bytes.
func (p *Printer) Write(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.write(buf); err != nil {
		return 0, err
	}
	return len(buf), nil
}

func (p *Printer) write(buf []byte) error {
	p.log.Trace().Hex("bytes", head(buf, 16)).Int("len", len(buf)).Msg("write")
	return writeAll(p.t, buf)
}

func (p *Printer) send(name string, buf []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.write(buf); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// Init writes the initialize code.
func (p *Printer) Init() error {
	return p.send("init", cmdInit)
}

// Reset writes ESC @ 0x02, returning the printer to its power-on state.
func (p *Printer) Reset() error {
	return p.send("reset", cmdReset)
}

// SetAlign writes ESC a n.
func (p *Printer) SetAlign(a Align) error {
	if a > AlignRight {
		return fmt.Errorf("%w: %d", ErrInvalidAlign, a)
	}
	return p.send("align", alignCommand(a))
}

// SetConcentrationCoefficient writes the fixed US 0x11 0x37 0x96 sequence
// that precedes a density setting.
func (p *Printer) SetConcentrationCoefficient() error {
	return p.send("concentration coefficient", cmdConcentrationCoefficient)
}

// SetDensity writes US 0x11 0x02 n.
func (p *Printer) SetDensity(d Density) error {
	if !d.valid() {
		return fmt.Errorf("%w: %d", ErrInvalidDensity, d)
	}
	return p.send("density", densityCommand(d))
}

// FeedLines feeds n lines.
func (p *Printer) FeedLines(n byte) error {
	return p.send("feed", feedLinesCommand(n))
}

// Raster writes one GS v 0 frame. It implements image.Target.
func (p *Printer) Raster(frame imgInternal.RasterFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.raster(frame)
}

func (p *Printer) raster(frame imgInternal.RasterFrame) error {
	b, err := frame.MarshalBinary()
	if err != nil {
		return err
	}
	if err := p.write(b); err != nil {
		return fmt.Errorf("raster: %w", err)
	}
	return nil
}

func head(b []byte, n int) []byte {
	if len(b) < n {
		return b
	}
	return b[:n]
}
