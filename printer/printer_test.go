package printer

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	imgInternal "github.com/AlexStarov/m02-raster/image"
)

// fakeLink records writes and serves scripted replies. With no replies left
// it returns (0, nil), or io.EOF once eof is set.
type fakeLink struct {
	mu       sync.Mutex
	written  bytes.Buffer
	replies  [][]byte
	eof      bool
	writeErr error
	readErr  error
	closed   bool
}

func (f *fakeLink) Write(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	return f.written.Write(b)
}

func (f *fakeLink) Read(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return 0, f.readErr
	}
	if len(f.replies) > 0 {
		n := copy(b, f.replies[0])
		f.replies[0] = f.replies[0][n:]
		if len(f.replies[0]) == 0 {
			f.replies = f.replies[1:]
		}
		return n, nil
	}
	if f.eof {
		return 0, io.EOF
	}
	return 0, nil
}

func (f *fakeLink) Close() error {
	f.closed = true
	return nil
}

func (f *fakeLink) bytes() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.written.Bytes()...)
}

func newTestPrinter(t *testing.T, link *fakeLink) *Printer {
	t.Helper()
	p, err := NewPrinter(link)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func cat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func black(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0
		if i%4 == 3 {
			img.Pix[i] = 255
		}
	}
	return img
}

func thresholdConverter() *imgInternal.Converter {
	return &imgInternal.Converter{Width: 8, Algorithm: imgInternal.AlgorithmThreshold, Threshold: 128}
}

var (
	jobPreamble = []byte{0x1b, 0x40, 0x02, 0x1b, 0x40, 0x1b, 0x61, 0x01, 0x1f, 0x11, 0x37, 0x96, 0x1f, 0x11, 0x02, 0x01}
	blackFrame  = []byte{0x1d, 0x76, 0x30, 0x00, 0x01, 0x00, 0x03, 0x00, 0xff, 0xff, 0xff}
	jobFeed     = []byte{0x1b, 0x64, 0x03}
	jobReset    = []byte{0x1b, 0x40, 0x02}
)

func TestNewPrinterNil(t *testing.T) {
	if _, err := NewPrinter(nil); err == nil {
		t.Fatal("expected error for nil transport")
	}
}

func TestCommands(t *testing.T) {
	tests := []struct {
		name string
		call func(p *Printer) error
		want []byte
	}{
		{"init", (*Printer).Init, []byte{0x1b, 0x40}},
		{"reset", (*Printer).Reset, []byte{0x1b, 0x40, 0x02}},
		{"align right", func(p *Printer) error { return p.SetAlign(AlignRight) }, []byte{0x1b, 0x61, 0x02}},
		{"concentration", (*Printer).SetConcentrationCoefficient, []byte{0x1f, 0x11, 0x37, 0x96}},
		{"density dark", func(p *Printer) error { return p.SetDensity(DensityDark) }, []byte{0x1f, 0x11, 0x02, 0x04}},
		{"feed", func(p *Printer) error { return p.FeedLines(5) }, []byte{0x1b, 0x64, 0x05}},
		{"raster", func(p *Printer) error {
			return p.Raster(imgInternal.RasterFrame{WidthBytes: 1, Lines: 3, Data: []byte{0xff, 0xff, 0xff}})
		}, blackFrame},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link := &fakeLink{}
			p := newTestPrinter(t, link)
			if err := tt.call(p); err != nil {
				t.Fatal(err)
			}
			if got := link.bytes(); !bytes.Equal(got, tt.want) {
				t.Errorf("wrote % x, want % x", got, tt.want)
			}
		})
	}
}

func TestCommandValidation(t *testing.T) {
	link := &fakeLink{}
	p := newTestPrinter(t, link)

	if err := p.SetDensity(2); !errors.Is(err, ErrInvalidDensity) {
		t.Errorf("SetDensity(2) = %v, want ErrInvalidDensity", err)
	}
	if err := p.SetAlign(3); !errors.Is(err, ErrInvalidAlign) {
		t.Errorf("SetAlign(3) = %v, want ErrInvalidAlign", err)
	}
	if err := p.Raster(imgInternal.RasterFrame{WidthBytes: 2, Lines: 1, Data: []byte{0}}); !errors.Is(err, imgInternal.ErrInvalidDimensions) {
		t.Errorf("Raster(short frame) = %v, want ErrInvalidDimensions", err)
	}
	if n := len(link.bytes()); n != 0 {
		t.Errorf("invalid commands wrote %d bytes", n)
	}
}

func TestParseDensity(t *testing.T) {
	tests := []struct {
		in      string
		want    Density
		wantErr bool
	}{
		{"light", DensityLight, false},
		{" Normal ", DensityNormal, false},
		{"DARK", DensityDark, false},
		{"1", DensityLight, false},
		{"3", DensityNormal, false},
		{"4", DensityDark, false},
		{"2", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseDensity(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidDensity) {
				t.Errorf("ParseDensity(%q) err = %v, want ErrInvalidDensity", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseDensity(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
}

func TestParseAlign(t *testing.T) {
	tests := []struct {
		in   string
		want Align
	}{
		{"left", AlignLeft},
		{"Center", AlignCenter},
		{"centre", AlignCenter},
		{"right", AlignRight},
	}
	for _, tt := range tests {
		got, err := ParseAlign(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseAlign(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
	if _, err := ParseAlign("middle"); !errors.Is(err, ErrInvalidAlign) {
		t.Errorf("ParseAlign(middle) = %v, want ErrInvalidAlign", err)
	}
}

func TestParseUSBID(t *testing.T) {
	vid, pid, err := ParseUSBID("0483:5740")
	if err != nil {
		t.Fatal(err)
	}
	if vid != 0x0483 || pid != 0x5740 {
		t.Errorf("got %04x:%04x", uint16(vid), uint16(pid))
	}

	vid, pid, err = ParseUSBID("0x28e9:0x0289")
	if err != nil || vid != 0x28e9 || pid != 0x0289 {
		t.Errorf("ParseUSBID with 0x prefix = %v:%v, %v", vid, pid, err)
	}

	for _, bad := range []string{"", "0483", "zz:5740", "0483:12345"} {
		if _, _, err := ParseUSBID(bad); err == nil {
			t.Errorf("ParseUSBID(%q) succeeded", bad)
		}
	}
}

func TestQueryDeviceTimer(t *testing.T) {
	link := &fakeLink{replies: [][]byte{{0xaa, 0x11, 0x07}}}
	p := newTestPrinter(t, link)

	v, err := p.QueryDeviceTimer(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if v != 0x07 {
		t.Errorf("timer = %d, want 7", v)
	}
	if got := link.bytes(); !bytes.Equal(got, []byte{0x1f, 0x11, 0x0e}) {
		t.Errorf("wrote % x", got)
	}
}

func TestWaitIdle(t *testing.T) {
	query := []byte{0x1f, 0x11, 0x0e}

	t.Run("counts down", func(t *testing.T) {
		link := &fakeLink{replies: [][]byte{{0, 0, 2}, {0, 0, 1}, {0, 0, 0}}}
		p := newTestPrinter(t, link)
		if err := p.WaitIdle(context.Background(), time.Millisecond); err != nil {
			t.Fatal(err)
		}
		if got := link.bytes(); !bytes.Equal(got, cat(query, query, query)) {
			t.Errorf("wrote % x, want three queries", got)
		}
	})

	t.Run("split reply", func(t *testing.T) {
		link := &fakeLink{replies: [][]byte{{0}, {0}, {0}}}
		p := newTestPrinter(t, link)
		if err := p.WaitIdle(context.Background(), time.Millisecond); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("silent link", func(t *testing.T) {
		p := newTestPrinter(t, &fakeLink{})
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		if err := p.WaitIdle(ctx, time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("err = %v, want DeadlineExceeded", err)
		}
	})

	t.Run("eof mid reply", func(t *testing.T) {
		p := newTestPrinter(t, &fakeLink{replies: [][]byte{{0}}, eof: true})
		err := p.WaitIdle(context.Background(), time.Millisecond)
		if !errors.Is(err, ErrNoCompletion) || !errors.Is(err, ErrShortReply) {
			t.Fatalf("err = %v, want ErrNoCompletion and ErrShortReply", err)
		}
	})

	t.Run("eof while busy", func(t *testing.T) {
		p := newTestPrinter(t, &fakeLink{replies: [][]byte{{0, 0, 5}}, eof: true})
		if err := p.WaitIdle(context.Background(), time.Millisecond); !errors.Is(err, ErrNoCompletion) {
			t.Fatalf("err = %v, want ErrNoCompletion", err)
		}
	})
}

func TestPrintImage(t *testing.T) {
	link := &fakeLink{}
	p := newTestPrinter(t, link)

	job := DefaultJobOptions()
	job.Wait = false
	if err := p.PrintImage(context.Background(), black(8, 3), thresholdConverter(), job); err != nil {
		t.Fatal(err)
	}

	want := cat(jobPreamble, blackFrame, jobFeed, jobReset)
	if got := link.bytes(); !bytes.Equal(got, want) {
		t.Errorf("wrote\n% x\nwant\n% x", got, want)
	}
}

func TestPrintImageWaits(t *testing.T) {
	query := []byte{0x1f, 0x11, 0x0e}

	t.Run("completion", func(t *testing.T) {
		link := &fakeLink{replies: [][]byte{{0, 0, 1}, {0, 0, 0}}}
		p := newTestPrinter(t, link)
		job := DefaultJobOptions()
		job.PollInterval = time.Millisecond
		if err := p.PrintImage(context.Background(), black(8, 3), thresholdConverter(), job); err != nil {
			t.Fatal(err)
		}
		want := cat(jobPreamble, blackFrame, jobFeed, query, query, jobReset)
		if got := link.bytes(); !bytes.Equal(got, want) {
			t.Errorf("wrote\n% x\nwant\n% x", got, want)
		}
	})

	t.Run("link closed", func(t *testing.T) {
		link := &fakeLink{eof: true}
		p := newTestPrinter(t, link)
		job := DefaultJobOptions()
		job.PollInterval = time.Millisecond
		if err := p.PrintImage(context.Background(), black(8, 3), thresholdConverter(), job); err != nil {
			t.Fatalf("unconfirmed completion should only warn, got %v", err)
		}
		if got := link.bytes(); !bytes.HasSuffix(got, jobReset) {
			t.Errorf("reset not sent after unconfirmed completion: % x", got)
		}
	})

	unconfirmed := []struct {
		name string
		link *fakeLink
	}{
		{"write-only link", &fakeLink{readErr: errors.New("USB read not supported")}},
		{"silent link", &fakeLink{}},
	}
	for _, tt := range unconfirmed {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPrinter(t, tt.link)
			job := DefaultJobOptions()
			job.PollInterval = time.Millisecond
			job.WaitTimeout = 20 * time.Millisecond
			if err := p.PrintImage(context.Background(), black(8, 3), thresholdConverter(), job); err != nil {
				t.Fatalf("unconfirmed completion should only warn, got %v", err)
			}
			if got := tt.link.bytes(); !bytes.HasSuffix(got, cat(jobFeed, query, jobReset)) {
				t.Errorf("job does not end with query and reset: % x", got)
			}
		})
	}

	t.Run("caller cancels", func(t *testing.T) {
		link := &fakeLink{}
		p := newTestPrinter(t, link)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		job := DefaultJobOptions()
		job.PollInterval = time.Millisecond
		err := p.PrintImage(ctx, black(8, 3), thresholdConverter(), job)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("err = %v, want DeadlineExceeded", err)
		}
		if got := link.bytes(); bytes.HasSuffix(got, jobReset) {
			t.Errorf("reset sent after caller cancelled: % x", got)
		}
	})
}

func TestPrintImageFailsBeforeWriting(t *testing.T) {
	tests := []struct {
		name string
		conv *imgInternal.Converter
		job  func(*JobOptions)
		want error
	}{
		{"odd width", &imgInternal.Converter{Width: 7}, nil, imgInternal.ErrUnsupportedWidth},
		{"bad density", thresholdConverter(), func(j *JobOptions) { j.Density = 9 }, ErrInvalidDensity},
		{"bad align", thresholdConverter(), func(j *JobOptions) { j.Align = 7 }, ErrInvalidAlign},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link := &fakeLink{}
			p := newTestPrinter(t, link)
			job := DefaultJobOptions()
			job.Wait = false
			if tt.job != nil {
				tt.job(&job)
			}
			err := p.PrintImage(context.Background(), black(8, 3), tt.conv, job)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if n := len(link.bytes()); n != 0 {
				t.Errorf("wrote %d bytes before failing", n)
			}
		})
	}
}

func TestPrintImageWriteError(t *testing.T) {
	boom := errors.New("cable unplugged")
	p := newTestPrinter(t, &fakeLink{writeErr: boom})
	job := DefaultJobOptions()
	job.Wait = false
	if err := p.PrintImage(context.Background(), black(8, 3), thresholdConverter(), job); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestPrintImageCancelled(t *testing.T) {
	link := &fakeLink{}
	p := newTestPrinter(t, link)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job := DefaultJobOptions()
	job.Wait = false
	if err := p.PrintImage(ctx, black(8, 3), thresholdConverter(), job); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want Canceled", err)
	}
	if got := link.bytes(); !bytes.Equal(got, jobPreamble) {
		t.Errorf("wrote % x, want only the preamble", got)
	}
}

func TestPrintImageFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "black.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, image.NewGray(image.Rect(0, 0, 8, 3))); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	link := &fakeLink{}
	p := newTestPrinter(t, link)
	job := DefaultJobOptions()
	job.Wait = false
	if err := p.PrintImageFile(context.Background(), path, thresholdConverter(), job); err != nil {
		t.Fatal(err)
	}
	want := cat(jobPreamble, blackFrame, jobFeed, jobReset)
	if got := link.bytes(); !bytes.Equal(got, want) {
		t.Errorf("wrote\n% x\nwant\n% x", got, want)
	}

	err = p.PrintImageFile(context.Background(), filepath.Join(t.TempDir(), "missing.png"), nil, job)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("missing file err = %v, want ErrNotExist", err)
	}
}

func TestLoadImageRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := LoadImage(path); !errors.Is(err, image.ErrFormat) {
		t.Errorf("err = %v, want image.ErrFormat", err)
	}
}

func TestConverterPrintsThroughPrinter(t *testing.T) {
	link := &fakeLink{}
	p := newTestPrinter(t, link)
	if err := thresholdConverter().Print(black(8, 3), p); err != nil {
		t.Fatal(err)
	}
	if got := link.bytes(); !bytes.Equal(got, blackFrame) {
		t.Errorf("wrote % x, want % x", got, blackFrame)
	}
}

type stalledWriter struct{}

func (stalledWriter) Write([]byte) (int, error) { return 0, nil }

func TestWriteAllShortWrite(t *testing.T) {
	if err := writeAll(stalledWriter{}, []byte{1}); !errors.Is(err, io.ErrShortWrite) {
		t.Fatalf("err = %v, want ErrShortWrite", err)
	}
	if err := writeAll(stalledWriter{}, nil); err != nil {
		t.Fatalf("empty write: %v", err)
	}
}

func TestCloseConnection(t *testing.T) {
	link := &fakeLink{}
	p := newTestPrinter(t, link)
	if err := p.CloseConnection(); err != nil {
		t.Fatal(err)
	}
	if !link.closed {
		t.Error("transport not closed")
	}
}

func TestNetworkPrinter(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("no loopback listener: %v", err)
	}
	defer ln.Close()

	received := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			received <- nil
			return
		}
		defer conn.Close()

		buf := make([]byte, 3)
		if _, err := io.ReadFull(conn, buf); err != nil {
			received <- nil
			return
		}
		conn.Write([]byte{0, 0, 0})
		received <- buf
	}()

	p, err := NewNetworkPrinter(ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer p.CloseConnection()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := p.QueryDeviceTimer(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0 {
		t.Errorf("timer = %d", v)
	}
	if got := <-received; !bytes.Equal(got, []byte{0x1f, 0x11, 0x0e}) {
		t.Errorf("server got % x", got)
	}
}

func TestPollConnTimeoutIsEmptyRead(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	c := &pollConn{Conn: a, interval: 5 * time.Millisecond}
	n, err := c.Read(make([]byte, 4))
	if n != 0 || err != nil {
		t.Fatalf("Read = %d, %v; want 0, nil", n, err)
	}
}
