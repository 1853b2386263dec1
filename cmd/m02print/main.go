// Command m02print dithers an image and prints it on an M02 thermal printer.
//
//	m02print -port /dev/ttyUSB0 photo.jpg
//	m02print -usb 0483:5740 -algorithm atkinson -density dark label.png
//	m02print -dry-run job.bin -preview preview.png photo.jpg
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"os/signal"

	"github.com/AlexStarov/m02-raster/config"
	imgInternal "github.com/AlexStarov/m02-raster/image"
	logInternal "github.com/AlexStarov/m02-raster/log"
	"github.com/AlexStarov/m02-raster/printer"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		logInternal.PrintIfErr("m02print failed", &err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	dryRun     string
	preview    string
	listPorts  bool
	image      string
}

// run parses args, resolves the configuration and performs the requested
// outputs: preview PNG, dry-run byte stream and the print itself.
func run(args []string, stdout io.Writer) error {
	cfg, opts, err := parseArgs(args)
	if err != nil {
		return err
	}
	logInternal.Configure(cfg.Log(logInternal.ConfigFromEnv()))
	log := logInternal.Component("m02print")

	if opts.listPorts {
		ports, err := printer.ListPorts()
		if err != nil {
			return err
		}
		for _, p := range ports {
			fmt.Fprintln(stdout, p)
		}
		return nil
	}

	if opts.image == "" {
		return fmt.Errorf("usage: m02print [flags] image")
	}
	linked := cfg.Port != "" || cfg.USB != "" || cfg.Network != ""
	if !linked && opts.dryRun == "" && opts.preview == "" {
		return fmt.Errorf("no printer selected: set -port, -usb or -net, or use -dry-run / -preview")
	}

	conv, err := cfg.Converter()
	if err != nil {
		return err
	}
	job, err := cfg.Job()
	if err != nil {
		return err
	}

	img, format, err := printer.LoadImage(opts.image)
	if err != nil {
		return err
	}
	log.Info().Str("image", opts.image).Str("format", format).Str("algorithm", string(conv.Algorithm)).Msg("loaded image")

	if opts.preview != "" {
		buf, err := conv.Dither(img)
		if err != nil {
			return err
		}
		if err := writePreview(opts.preview, buf.NRGBA()); err != nil {
			return err
		}
		log.Info().Str("path", opts.preview).Int("w", buf.Width).Int("h", buf.Height).Msg("preview written")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if opts.dryRun != "" {
		if err := dryRun(ctx, opts.dryRun, img, conv, job); err != nil {
			return err
		}
		log.Info().Str("path", opts.dryRun).Msg("dry run written")
	}

	if !linked {
		return nil
	}

	p, err := openPrinter(cfg)
	if err != nil {
		return err
	}
	defer func() {
		err := p.CloseConnection()
		logInternal.PrintIfErr("close printer", &err)
	}()

	if err := p.PrintImage(ctx, img, conv, job); err != nil {
		return fmt.Errorf("print %s: %w", opts.image, err)
	}
	fmt.Fprintf(stdout, "printed %s\n", opts.image)
	return nil
}

// parseArgs loads -config when given and applies the flags that were set
// explicitly on top of it.
func parseArgs(args []string) (config.Config, options, error) {
	var opts options
	fs := flag.NewFlagSet("m02print", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "TOML configuration file")
	fs.StringVar(&opts.dryRun, "dry-run", "", "write the printer byte stream to this file")
	fs.StringVar(&opts.preview, "preview", "", "write the dithered image as PNG to this file")
	fs.BoolVar(&opts.listPorts, "list-ports", false, "list serial ports and exit")

	def := config.Default()
	port := fs.String("port", "", "serial port, e.g. /dev/ttyUSB0 or COM3")
	baud := fs.Int("baud", def.Baud, "serial baud rate")
	usb := fs.String("usb", "", "USB printer as VID:PID, e.g. 0483:5740")
	network := fs.String("net", "", "raw TCP printer as host:port")
	algorithm := fs.String("algorithm", def.Algorithm, "grayscale, threshold, bayer, floydsteinberg or atkinson")
	threshold := fs.Int("threshold", def.Threshold, "cut for threshold and bayer")
	width := fs.Int("width", def.Width, "printed width in dots, a multiple of 8")
	density := fs.String("density", def.Density, "light, normal or dark")
	align := fs.String("align", def.Align, "left, center or right")
	polarity := fs.String("polarity", def.Polarity, "dark-is-one or dark-is-zero")
	wait := fs.Bool("wait", def.Wait, "wait for the printer to report completion")
	logLevel := fs.String("log-level", "", "trace, debug, info, warn or error")

	if err := fs.Parse(args); err != nil {
		return config.Config{}, opts, err
	}
	if fs.NArg() > 1 {
		return config.Config{}, opts, fmt.Errorf("expected one image, got %d arguments", fs.NArg())
	}
	opts.image = fs.Arg(0)

	cfg := def
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return config.Config{}, opts, err
		}
		cfg = loaded
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "baud":
			cfg.Baud = *baud
		case "usb":
			cfg.USB = *usb
		case "net":
			cfg.Network = *network
		case "algorithm":
			cfg.Algorithm = *algorithm
		case "threshold":
			cfg.Threshold = *threshold
		case "width":
			cfg.Width = *width
		case "density":
			cfg.Density = *density
		case "align":
			cfg.Align = *align
		case "polarity":
			cfg.Polarity = *polarity
		case "wait":
			cfg.Wait = *wait
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})

	if err := cfg.Validate(); err != nil {
		return config.Config{}, opts, err
	}
	return cfg, opts, nil
}

func openPrinter(cfg config.Config) (*printer.Printer, error) {
	switch {
	case cfg.Port != "":
		return printer.NewSerialPrinter(cfg.Port, cfg.Baud)
	case cfg.USB != "":
		vid, pid, err := printer.ParseUSBID(cfg.USB)
		if err != nil {
			return nil, err
		}
		return printer.NewUSBPrinter(vid, pid)
	case cfg.Network != "":
		return printer.NewNetworkPrinter(cfg.Network, cfg.DialTimeout)
	}
	return nil, printer.ErrPortNotFound
}

func writePreview(path string, img image.Image) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create preview: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close preview: %w", cerr)
		}
	}()
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("encode preview: %w", err)
	}
	return nil
}

// dryRun runs the whole print job against a file instead of a printer, so
// the output is byte-for-byte what the device would receive.
func dryRun(ctx context.Context, path string, img image.Image, conv *imgInternal.Converter, job printer.JobOptions) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create dry run output: %w", err)
	}
	p, err := printer.NewPrinter(f)
	if err != nil {
		f.Close()
		return err
	}
	defer func() {
		if cerr := p.CloseConnection(); err == nil && cerr != nil {
			err = fmt.Errorf("close dry run output: %w", cerr)
		}
	}()

	job.Wait = false
	if err := p.PrintImage(ctx, img, conv, job); err != nil {
		return fmt.Errorf("dry run: %w", err)
	}
	return nil
}
