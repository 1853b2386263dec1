// Package log configures the process-wide zerolog logger and keeps plain-text
// log files bucketed by day of month ("<type>-0.log" for days 1-9,
// "<type>-1.log" for 10-19, "<type>-2.log" for 20-31). Entering a bucket
// removes the file of the bucket that follows it, so at most two months of
// partial history stay on disk.
package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Levels accepted by LogMessage.
const (
	DEBUG = "DEBUG"
	INFO  = "INFO"
	WARN  = "WARN"
	ERROR = "ERROR"
)

const (
	EnvLogLevel   = "M02_LOG_LEVEL"
	EnvLogNoColor = "M02_LOG_NOCOLOR"
	EnvLogDir     = "M02_LOG_DIR"
)

// Config selects the level, console styling and optional file directory.
type Config struct {
	Level   zerolog.Level
	NoColor bool
	// Dir enables the rotating "stdlog" and "errors" files when non-empty.
	Dir string
	// Out is the console destination, stderr when nil.
	Out io.Writer
}

var (
	mu      sync.RWMutex
	logger  = newLogger(DefaultConfig())
	errFile *rotatingFile
)

// DefaultConfig logs info and above to stderr only.
func DefaultConfig() Config {
	return Config{Level: zerolog.InfoLevel, Out: os.Stderr}
}

// ConfigFromEnv returns DefaultConfig with the M02_LOG_* overrides applied.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	if lvl, ok := ParseLevel(os.Getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	if v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(EnvLogNoColor))); err == nil {
		cfg.NoColor = v
	}
	if dir := strings.TrimSpace(os.Getenv(EnvLogDir)); dir != "" {
		cfg.Dir = dir
	}
	return cfg
}

// Configure replaces the process-wide logger.
func Configure(cfg Config) {
	l := newLogger(cfg)
	mu.Lock()
	defer mu.Unlock()
	logger = l
	errFile = nil
	if cfg.Dir != "" {
		errFile = newRotatingFile(cfg.Dir, "errors")
	}
}

func newLogger(cfg Config) zerolog.Logger {
	out := cfg.Out
	if out == nil {
		out = os.Stderr
	}
	var w io.Writer = zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
		NoColor:    cfg.NoColor,
	}
	if cfg.Dir != "" {
		w = zerolog.MultiLevelWriter(w, newRotatingFile(cfg.Dir, "stdlog"))
	}
	return zerolog.New(w).Level(cfg.Level).With().Timestamp().Logger()
}

// Logger returns the current process-wide logger.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Component returns the process-wide logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return Logger().With().Str("component", name).Logger()
}

// ParseLevel maps a level name to a zerolog level. The second result is false
// for empty or unknown input.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

// LogMessage writes message at one of the DEBUG/INFO/WARN/ERROR levels.
// ERROR messages are also appended to the errors file.
func LogMessage(level, message string) {
	lvl, ok := ParseLevel(level)
	if !ok {
		lvl = zerolog.InfoLevel
	}
	l := Logger()
	l.WithLevel(lvl).Msg(message)
	if lvl == zerolog.ErrorLevel {
		writeErrorFile("", message)
	}
}

// PrintIfErr logs *err with msg as context when it is non-nil.
func PrintIfErr(msg string, err *error) {
	if err == nil || *err == nil {
		return
	}
	l := Logger()
	l.Error().Err(*err).Msg(msg)
	writeErrorFile(msg, (*err).Error())
}

func writeErrorFile(msg, detail string) {
	mu.RLock()
	f := errFile
	mu.RUnlock()
	if f == nil {
		return
	}
	line := detail
	if msg != "" {
		line = msg + ": " + detail
	}
	if _, err := fmt.Fprintf(f, "%s [ERROR] %s\n", f.now().Format(time.RFC3339), line); err != nil {
		fmt.Fprintf(os.Stderr, "log: write errors file: %v\n", err)
	}
}

// rotatingFile appends to the bucket file of the current day, opening it
// per write so a long-running process follows the bucket changes.
type rotatingFile struct {
	dir, typeLog string
	now          func() time.Time
	mu           sync.Mutex
}

func newRotatingFile(dir, typeLog string) *rotatingFile {
	return &rotatingFile{dir: dir, typeLog: typeLog, now: time.Now}
}

func (r *rotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	path, suffix := getLogFilePath(r.dir, r.typeLog, r.now())
	rotateLogs(r.dir, r.typeLog, suffix)

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return 0, err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return f.Write(p)
}

// getLogFilePath returns the bucket file for now and its suffix.
func getLogFilePath(dir, typeLog string, now time.Time) (string, int) {
	var suffix int
	switch day := now.Day(); {
	case day <= 9:
		suffix = 0
	case day <= 19:
		suffix = 1
	default:
		suffix = 2
	}
	return filepath.Join(dir, fmt.Sprintf("%s-%d.log", typeLog, suffix)), suffix
}

// rotateLogs removes the file of the bucket after currentSuffix.
func rotateLogs(dir, typeLog string, currentSuffix int) {
	if currentSuffix < 0 || currentSuffix > 2 {
		return
	}
	stale := filepath.Join(dir, fmt.Sprintf("%s-%d.log", typeLog, (currentSuffix+1)%3))
	if _, err := os.Stat(stale); err != nil {
		return
	}
	if err := os.Remove(stale); err != nil {
		fmt.Fprintf(os.Stderr, "log: remove %s: %v\n", stale, err)
	}
}
