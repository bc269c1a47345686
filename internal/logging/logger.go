// Package logging provides structured logging for picatest campaigns.
// It wraps Go's log/slog package to emit JSON-formatted logs with persistent
// context (platform, batch, phase) for post-hoc analysis of long runs.
//
// Every component of the engine accepts a *Logger. Constructors substitute
// [NopLogger] for nil via [OrNop].
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Log levels supported by the logger
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// LogFileName is the name of the log file created inside the log directory.
const LogFileName = "debug.log"

// Logger provides structured logging with context propagation.
// It is safe for concurrent use.
type Logger struct {
	logger *slog.Logger
	closer *closer
	attrs  []slog.Attr
}

// closer is shared by a logger and all of its children.
type closer struct {
	mu sync.Mutex
	w  io.Closer
}

func (c *closer) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.w == nil {
		return nil
	}
	err := c.w.Close()
	c.w = nil
	return err
}

// Options configures NewLogger.
type Options struct {
	// Level is one of DEBUG, INFO, WARN, ERROR. Unknown values mean INFO.
	Level string
	// Rotation controls size-based rotation of the log file.
	Rotation RotationConfig
}

// NewLogger creates a Logger that writes JSON lines to {dir}/debug.log,
// rotating the file according to opts.Rotation. If dir is empty, logs go to
// stderr.
func NewLogger(dir string, opts Options) (*Logger, error) {
	var (
		writer io.Writer = os.Stderr
		c      *closer
	)

	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		rw, err := NewRotatingWriter(filepath.Join(dir, LogFileName), opts.Rotation)
		if err != nil {
			return nil, err
		}
		writer = rw
		c = &closer{w: rw}
	}

	l := NewWithWriter(writer, opts.Level)
	l.closer = c
	return l, nil
}

// NewWithWriter creates a Logger writing JSON lines to w. The caller owns w.
func NewWithWriter(w io.Writer, level string) *Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(level)})
	return &Logger{logger: slog.New(handler)}
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithPlatform returns a child Logger tagging every entry with the platform.
func (l *Logger) WithPlatform(platform string) *Logger {
	return l.withAttr(slog.String("platform", platform))
}

// WithBatch returns a child Logger tagging every entry with the batch number.
func (l *Logger) WithBatch(batch int) *Logger {
	return l.withAttr(slog.Int("batch", batch))
}

// WithPhase returns a child Logger tagging every entry with the phase name.
// Phases include "graph", "schedule", "execute" and "persist".
func (l *Logger) WithPhase(phase string) *Logger {
	return l.withAttr(slog.String("phase", phase))
}

// With returns a child Logger with arbitrary key-value attributes.
func (l *Logger) With(args ...any) *Logger {
	if len(args) == 0 {
		return l
	}

	attrs := make([]slog.Attr, 0, len(l.attrs)+len(args)/2)
	attrs = append(attrs, l.attrs...)
	for i := 0; i < len(args)-1; i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		attrs = append(attrs, slog.Any(key, args[i+1]))
	}
	return &Logger{logger: l.logger, closer: l.closer, attrs: attrs}
}

func (l *Logger) withAttr(attr slog.Attr) *Logger {
	attrs := make([]slog.Attr, len(l.attrs)+1)
	copy(attrs, l.attrs)
	attrs[len(l.attrs)] = attr
	return &Logger{logger: l.logger, closer: l.closer, attrs: attrs}
}

// Debug logs a message at DEBUG level with optional key-value pairs.
func (l *Logger) Debug(msg string, args ...any) {
	l.log(slog.LevelDebug, msg, args...)
}

// Info logs a message at INFO level with optional key-value pairs.
func (l *Logger) Info(msg string, args ...any) {
	l.log(slog.LevelInfo, msg, args...)
}

// Warn logs a message at WARN level with optional key-value pairs.
func (l *Logger) Warn(msg string, args ...any) {
	l.log(slog.LevelWarn, msg, args...)
}

// Error logs a message at ERROR level with optional key-value pairs.
func (l *Logger) Error(msg string, args ...any) {
	l.log(slog.LevelError, msg, args...)
}

func (l *Logger) log(level slog.Level, msg string, args ...any) {
	if l == nil || l.logger == nil {
		return
	}
	all := make([]any, 0, len(l.attrs)*2+len(args))
	for _, attr := range l.attrs {
		all = append(all, attr.Key, attr.Value.Any())
	}
	all = append(all, args...)
	l.logger.Log(context.Background(), level, msg, all...)
}

// Close flushes and closes the log file. Closing any child closes the shared
// file; stderr loggers are a no-op.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	return l.closer.Close()
}

// NopLogger returns a Logger that discards all log output.
func NopLogger() *Logger {
	return &Logger{logger: slog.New(slog.NewJSONHandler(io.Discard, nil))}
}

// OrNop returns l, or a NopLogger when l is nil.
func OrNop(l *Logger) *Logger {
	if l == nil {
		return NopLogger()
	}
	return l
}

// ParseLevel normalizes a level string, returning LevelInfo when unknown.
func ParseLevel(level string) string {
	switch strings.ToUpper(level) {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return strings.ToUpper(level)
	default:
		return LevelInfo
	}
}

// ValidLevels returns the list of valid log level strings.
func ValidLevels() []string {
	return []string{LevelDebug, LevelInfo, LevelWarn, LevelError}
}
