// Package config loads m02print settings from TOML. Keys missing from the
// file keep their Default values.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/nfnt/resize"

	imgInternal "github.com/AlexStarov/m02-raster/image"
	logInternal "github.com/AlexStarov/m02-raster/log"
	"github.com/AlexStarov/m02-raster/printer"
)

var ErrInvalidConfig = errors.New("config: invalid")

// Config is the resolved CLI configuration. At most one of Port, USB and
// Network selects the link; none is allowed for dry runs.
type Config struct {
	Port        string
	Baud        int
	USB         string
	Network     string
	DialTimeout time.Duration

	Width     int
	Algorithm string
	Threshold int
	MaxLines  int
	Polarity  string

	Align       string
	Density     string
	FeedLines   int
	Wait        bool
	WaitTimeout time.Duration

	LogLevel string
	LogDir   string
}

// fileConfig maps config.toml keys.
type fileConfig struct {
	Port        string `toml:"port"`
	Baud        int    `toml:"baud"`
	USB         string `toml:"usb"`
	Network     string `toml:"network"`
	DialTimeout string `toml:"dial_timeout"`

	Width     int    `toml:"width"`
	Algorithm string `toml:"algorithm"`
	Threshold int    `toml:"threshold"`
	MaxLines  int    `toml:"max_lines"`
	Polarity  string `toml:"polarity"`

	Align       string `toml:"align"`
	Density     string `toml:"density"`
	FeedLines   int    `toml:"feed_lines"`
	Wait        bool   `toml:"wait"`
	WaitTimeout string `toml:"wait_timeout"`

	LogLevel string `toml:"log_level"`
	LogDir   string `toml:"log_dir"`
}

// Default matches the stock M02: 576 dots, Floyd-Steinberg, light density.
func Default() Config {
	return Config{
		Baud:        printer.DefaultBaudRate,
		DialTimeout: 5 * time.Second,
		Width:       imgInternal.PrinterWidth,
		Algorithm:   string(imgInternal.AlgorithmFloydSteinberg),
		Threshold:   128,
		MaxLines:    imgInternal.MaxFrameLines,
		Polarity:    imgInternal.DarkIsOne.String(),
		Align:       "center",
		Density:     "light",
		FeedLines:   3,
		Wait:        true,
		WaitTimeout: 30 * time.Second,
	}
}

// Load overlays the keys defined in path onto Default and validates the
// result.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		log := logInternal.Component("config")
		for _, key := range undecoded {
			log.Warn().Str("key", key.String()).Str("path", path).Msg("unknown config key")
		}
	}

	if meta.IsDefined("port") {
		cfg.Port = strings.TrimSpace(raw.Port)
	}
	if meta.IsDefined("baud") {
		cfg.Baud = raw.Baud
	}
	if meta.IsDefined("usb") {
		cfg.USB = strings.TrimSpace(raw.USB)
	}
	if meta.IsDefined("network") {
		cfg.Network = strings.TrimSpace(raw.Network)
	}
	if meta.IsDefined("dial_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.DialTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("load config: dial_timeout: %w", err)
		}
		cfg.DialTimeout = d
	}
	if meta.IsDefined("width") {
		cfg.Width = raw.Width
	}
	if meta.IsDefined("algorithm") {
		cfg.Algorithm = strings.TrimSpace(raw.Algorithm)
	}
	if meta.IsDefined("threshold") {
		cfg.Threshold = raw.Threshold
	}
	if meta.IsDefined("max_lines") {
		cfg.MaxLines = raw.MaxLines
	}
	if meta.IsDefined("polarity") {
		cfg.Polarity = strings.TrimSpace(raw.Polarity)
	}
	if meta.IsDefined("align") {
		cfg.Align = strings.TrimSpace(raw.Align)
	}
	if meta.IsDefined("density") {
		cfg.Density = strings.TrimSpace(raw.Density)
	}
	if meta.IsDefined("feed_lines") {
		cfg.FeedLines = raw.FeedLines
	}
	if meta.IsDefined("wait") {
		cfg.Wait = raw.Wait
	}
	if meta.IsDefined("wait_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.WaitTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("load config: wait_timeout: %w", err)
		}
		cfg.WaitTimeout = d
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("log_dir") {
		cfg.LogDir = strings.TrimSpace(raw.LogDir)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every field that the converter and print job depend on.
func (c Config) Validate() error {
	links := 0
	for _, v := range []string{c.Port, c.USB, c.Network} {
		if v != "" {
			links++
		}
	}
	if links > 1 {
		return fmt.Errorf("%w: port, usb and network are mutually exclusive", ErrInvalidConfig)
	}
	if c.USB != "" {
		if _, _, err := printer.ParseUSBID(c.USB); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	if c.Baud < 0 {
		return fmt.Errorf("%w: baud %d", ErrInvalidConfig, c.Baud)
	}
	if c.Width <= 0 || c.Width%8 != 0 {
		return fmt.Errorf("%w: %w: width %d", ErrInvalidConfig, imgInternal.ErrUnsupportedWidth, c.Width)
	}
	if c.MaxLines < 1 || c.MaxLines > imgInternal.MaxFrameLines {
		return fmt.Errorf("%w: %w: max_lines %d", ErrInvalidConfig, imgInternal.ErrInvalidMaxLines, c.MaxLines)
	}
	if c.FeedLines < 0 || c.FeedLines > 255 {
		return fmt.Errorf("%w: feed_lines %d", ErrInvalidConfig, c.FeedLines)
	}
	if c.WaitTimeout < 0 || c.DialTimeout < 0 {
		return fmt.Errorf("%w: negative timeout", ErrInvalidConfig)
	}
	if _, err := imgInternal.ParseAlgorithm(c.Algorithm); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := imgInternal.ParsePolarity(c.Polarity); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := printer.ParseAlign(c.Align); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := printer.ParseDensity(c.Density); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, ok := logInternal.ParseLevel(c.LogLevel); !ok && c.LogLevel != "" {
		return fmt.Errorf("%w: log_level %q", ErrInvalidConfig, c.LogLevel)
	}
	return nil
}

// Converter builds the image converter. c must be valid.
func (c Config) Converter() (*imgInternal.Converter, error) {
	alg, err := imgInternal.ParseAlgorithm(c.Algorithm)
	if err != nil {
		return nil, err
	}
	pol, err := imgInternal.ParsePolarity(c.Polarity)
	if err != nil {
		return nil, err
	}
	return &imgInternal.Converter{
		Width:         c.Width,
		Algorithm:     alg,
		Threshold:     c.Threshold,
		MaxLines:      c.MaxLines,
		Polarity:      pol,
		Interpolation: resize.Lanczos3,
	}, nil
}

// Job builds the print job options.
func (c Config) Job() (printer.JobOptions, error) {
	job := printer.DefaultJobOptions()
	align, err := printer.ParseAlign(c.Align)
	if err != nil {
		return job, err
	}
	density, err := printer.ParseDensity(c.Density)
	if err != nil {
		return job, err
	}
	job.Align = align
	job.Density = density
	job.FeedLines = byte(c.FeedLines)
	job.Wait = c.Wait
	job.WaitTimeout = c.WaitTimeout
	return job, nil
}

// Log applies log_level and log_dir on top of base, which usually comes
// from the M02_LOG_* environment.
func (c Config) Log(base logInternal.Config) logInternal.Config {
	if lvl, ok := logInternal.ParseLevel(c.LogLevel); ok {
		base.Level = lvl
	}
	if c.LogDir != "" {
		base.Dir = c.LogDir
	}
	return base
}
