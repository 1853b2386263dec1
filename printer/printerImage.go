package printer

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	imgInternal "github.com/AlexStarov/m02-raster/image"
)

// JobOptions controls the commands wrapped around the raster frames of a
// print job.
type JobOptions struct {
	Align   Align
	Density Density

	// FeedLines is the paper advance after the image.
	FeedLines byte

	// Wait polls the device timer until the printer reports completion.
	Wait         bool
	WaitTimeout  time.Duration
	PollInterval time.Duration
}

// DefaultJobOptions centers the image at light density, feeds 3 lines and
// waits up to 30s for completion.
func DefaultJobOptions() JobOptions {
	return JobOptions{
		Align:        AlignCenter,
		Density:      DensityLight,
		FeedLines:    3,
		Wait:         true,
		WaitTimeout:  30 * time.Second,
		PollInterval: DefaultPollInterval,
	}
}

// LoadImage decodes a PNG, JPEG, GIF, BMP or WebP file.
func LoadImage(path string) (image.Image, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, "", fmt.Errorf("decode %s: %w", path, err)
	}
	return img, format, nil
}

// PrintImageFile loads the image at path and prints it with PrintImage.
func (p *Printer) PrintImageFile(ctx context.Context, path string, conv *imgInternal.Converter, job JobOptions) error {
	img, format, err := LoadImage(path)
	if err != nil {
		return err
	}
	p.log.Info().Str("path", path).Str("format", format).Msg("loaded image")
	return p.PrintImage(ctx, img, conv, job)
}

// PrintImage converts img and runs a complete job: reset, init, alignment,
// density, the raster frames, paper feed, optional completion wait and a
// final reset. Conversion happens before anything is written, so a bad
// image leaves the printer untouched.
func (p *Printer) PrintImage(ctx context.Context, img image.Image, conv *imgInternal.Converter, job JobOptions) error {
	if conv == nil {
		conv = imgInternal.DefaultConverter()
	}
	if !job.Density.valid() {
		return fmt.Errorf("%w: %d", ErrInvalidDensity, job.Density)
	}
	if job.Align > AlignRight {
		return fmt.Errorf("%w: %d", ErrInvalidAlign, job.Align)
	}

	frames, err := conv.Frames(img)
	if err != nil {
		return fmt.Errorf("convert image: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	setup := []struct {
		name string
		cmd  []byte
	}{
		{"reset", cmdReset},
		{"init", cmdInit},
		{"align", alignCommand(job.Align)},
		{"concentration coefficient", cmdConcentrationCoefficient},
		{"density", densityCommand(job.Density)},
	}
	for _, s := range setup {
		if err := p.write(s.cmd); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}

	for i, frame := range frames {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.raster(frame); err != nil {
			return fmt.Errorf("frame %d of %d: %w", i+1, len(frames), err)
		}
		p.log.Debug().Int("frame", i+1).Int("lines", frame.Lines).Msg("frame sent")
	}

	if job.FeedLines > 0 {
		if err := p.write(feedLinesCommand(job.FeedLines)); err != nil {
			return fmt.Errorf("feed: %w", err)
		}
	}

	if job.Wait {
		if err := p.waitJob(ctx, job); err != nil {
			return err
		}
	}

	if err := p.write(cmdReset); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	p.log.Info().Int("frames", len(frames)).Msg("print job sent")
	return nil
}

// waitJob only fails on the caller's cancellation. A link that cannot be
// read, closes early or stays silent past WaitTimeout leaves completion
// unconfirmed, and the job still ends with a reset.
func (p *Printer) waitJob(ctx context.Context, job JobOptions) error {
	waitCtx := ctx
	if job.WaitTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, job.WaitTimeout)
		defer cancel()
	}
	err := p.waitIdle(waitCtx, job.PollInterval)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("wait for completion: %w", ctx.Err())
	}
	p.log.Warn().Err(err).Msg("print completion not confirmed")
	return nil
}
