package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
)

// FileName is the log file created inside the logs directory.
const FileName = "mythos.log"

// Logger appends structured lines to .mythos/logs/mythos.log so users can
// inspect what the engine did after the command has exited.
type Logger struct {
	*log.Logger
	file *os.File
}

// Option customises the logger.
type Option func(*options)

type options struct {
	level  log.Level
	mirror io.Writer
	prefix string
}

// WithLevel sets the minimum level written.
func WithLevel(level log.Level) Option {
	return func(o *options) { o.level = level }
}

// WithMirror additionally writes every line to w (typically os.Stderr).
func WithMirror(w io.Writer) Option {
	return func(o *options) { o.mirror = w }
}

// WithPrefix sets the logger prefix.
func WithPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// New creates (or reuses) the log file under logDir.
func New(logDir string, opts ...Option) (*Logger, error) {
	cfg := options{level: log.InfoLevel, prefix: "mythos"}
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	path := filepath.Join(logDir, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	var w io.Writer = f
	if cfg.mirror != nil {
		w = io.MultiWriter(f, cfg.mirror)
	}
	logger := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Level:           cfg.level,
		Prefix:          cfg.prefix,
	})
	return &Logger{Logger: logger, file: f}, nil
}

// Discard returns a logger that drops everything; used when no project
// directory exists yet and in tests.
func Discard() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.FatalLevel})
}

// Close releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// ParseLevel maps a user supplied level name, defaulting to info.
func ParseLevel(name string) log.Level {
	level, err := log.ParseLevel(name)
	if err != nil {
		return log.InfoLevel
	}
	return level
}
