// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for AleutianGuard components.
//
// The guard CLI reserves stdout for answers and machine-readable results,
// so all diagnostics go to stderr by default, with optional file logging
// and an export hook for enterprise sinks:
//
//   - Default: stderr output (text for humans, JSON with Config.JSON)
//   - Optional: daily log files under Config.LogDir
//   - Extension: LogExporter for shipping entries to external systems
//
// The gate server does not use this package; it serves answers over HTTP
// and writes slog JSON straight to stdout for its container runtime.
//
// # Basic Usage
//
//	logger := logging.New(logging.Config{
//	    Level:   logging.ParseLevel(cfg.Logging.Level),
//	    LogDir:  cfg.Logging.Dir,
//	    Service: "guard",
//	})
//	defer logger.Close()
//	slog.SetDefault(logger.Slog())
//
// File logs are named "{service}_{date}.log" and are always JSON.
//
// # Levels
//
// Four levels matching slog conventions: Debug for troubleshooting, Info
// for normal operation, Warn for recoverable trouble, Error for failed
// operations.
//
// # Security
//
// This package does not redact anything. The gate masks PII before
// logging; callers elsewhere must not log tokens or raw secrets:
//
//	// BAD: logs sensitive data
//	logger.Info("auth", "token", authToken)
//
//	// GOOD: log metadata only
//	logger.Info("auth", "token_present", authToken != "")
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
	"time"
)

// =============================================================================
// Log Levels
// =============================================================================

// Level is log severity, ordered Debug < Info < Warn < Error. Setting a
// minimum level discards everything below it.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns "DEBUG", "INFO", "WARN", "ERROR", or "UNKNOWN".
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a config string to a Level, case-insensitively.
// "warning" is accepted as an alias for "warn". Anything unrecognized,
// including the empty string, parses as LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "info", "":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) toSlogLevel() slog.Level {
	switch l {
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

// =============================================================================
// Configuration
// =============================================================================

// Config configures the Logger. The zero value writes Info+ text to
// stderr and nothing else.
type Config struct {
	// Level sets the minimum log level. Default: LevelInfo.
	Level Level

	// LogDir enables file logging to the given directory. When set,
	// entries go to both stderr and a daily JSON file named
	// "{Service}_{YYYY-MM-DD}.log". Supports ~ expansion, so
	// "~/.aleutianguard/logs" works. Default: "" (no file logging).
	LogDir string

	// Service tags every entry with a "service" attribute and names the
	// log file. The CLI passes "guard", which is also the filename
	// fallback when Service is empty.
	Service string

	// JSON switches stderr output to JSON objects. File logs are always
	// JSON regardless. Default: false (text).
	JSON bool

	// Quiet disables stderr output, leaving only the file and the
	// exporter. Useful for daemons where stderr is not monitored.
	Quiet bool

	// Exporter optionally receives every entry at or above Level,
	// asynchronously. Export failures never disrupt local logging.
	// This is the enterprise extension point. Default: nil.
	Exporter LogExporter
}

// =============================================================================
// Export Extension
// =============================================================================

// LogExporter ships log entries to an external system: object storage,
// a log aggregator, or an OpenTelemetry collector.
//
// Implementations must not block in Export; buffer internally and batch.
// Flush is called during shutdown and should block until pending entries
// are delivered. Close runs after Flush and releases resources.
type LogExporter interface {
	// Export sends one entry. Called asynchronously with a short
	// timeout on ctx; errors are dropped, not propagated.
	Export(ctx context.Context, entry LogEntry) error

	// Flush delivers all buffered entries before returning.
	Flush(ctx context.Context) error

	// Close releases connections and files after the final Flush.
	Close() error
}

// LogEntry is the exporter-facing representation of one log record.
type LogEntry struct {
	Timestamp time.Time
	Level     Level
	Message   string
	Service   string
	Attrs     map[string]any
}

// =============================================================================
// Logger
// =============================================================================

// Logger wraps slog.Logger with multi-destination output (stderr, file,
// exporter) and cleanup via Close. Safe for concurrent use.
//
// Use With to derive a logger that stamps extra attributes:
//
//	reqLogger := logger.With("tenant", tenant, "surface", "cli")
//	reqLogger.Info("gate run complete")
type Logger struct {
	slog     *slog.Logger
	config   Config
	file     *os.File
	exporter LogExporter
	mu       sync.Mutex
}

// New builds a Logger from config: a stderr handler unless Quiet, a
// daily JSON file handler when LogDir is set, and the exporter when
// given. Call Close when done so the file is synced and the exporter
// flushed.
func New(config Config) *Logger {
	opts := &slog.HandlerOptions{Level: config.Level.toSlogLevel()}

	l := &Logger{config: config, exporter: config.Exporter}

	handlers := make([]slog.Handler, 0, 2)
	if !config.Quiet {
		handlers = append(handlers, consoleHandler(config.JSON, opts))
	}
	if config.LogDir != "" {
		if fh := l.openLogFile(config, opts); fh != nil {
			handlers = append(handlers, fh)
		}
	}

	root := combine(handlers, opts)
	if config.Service != "" {
		root = root.WithAttrs([]slog.Attr{slog.String("service", config.Service)})
	}
	l.slog = slog.New(root)
	return l
}

// consoleHandler returns the stderr handler in the configured format.
func consoleHandler(asJSON bool, opts *slog.HandlerOptions) slog.Handler {
	if asJSON {
		return slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.NewTextHandler(os.Stderr, opts)
}

// openLogFile opens today's log file under LogDir and returns its JSON
// handler, keeping the handle for Close. Any failure disables file
// logging rather than failing the caller: a CLI run must not die because
// a log directory is read-only.
func (l *Logger) openLogFile(config Config, opts *slog.HandlerOptions) slog.Handler {
	dir := expandPath(config.LogDir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil
	}

	service := config.Service
	if service == "" {
		service = "guard"
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))

	file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil
	}
	l.file = file
	// File logs are for machines; always JSON.
	return slog.NewJSONHandler(file, opts)
}

// combine collapses the configured handlers into one. With nothing
// configured the logger still needs somewhere to put errors, so the
// fallback is stderr text.
func combine(handlers []slog.Handler, opts *slog.HandlerOptions) slog.Handler {
	switch len(handlers) {
	case 0:
		return slog.NewTextHandler(os.Stderr, opts)
	case 1:
		return handlers[0]
	default:
		return &multiHandler{handlers: handlers}
	}
}

// Default returns an Info-level stderr logger tagged "guard".
func Default() *Logger {
	return New(Config{
		Level:   LevelInfo,
		Service: "guard",
	})
}

// Debug logs at Debug level with slog-style key-value args.
func (l *Logger) Debug(msg string, args ...any) {
	l.log(LevelDebug, msg, args...)
}

// Info logs at Info level.
func (l *Logger) Info(msg string, args ...any) {
	l.log(LevelInfo, msg, args...)
}

// Warn logs at Warn level.
func (l *Logger) Warn(msg string, args ...any) {
	l.log(LevelWarn, msg, args...)
}

// Error logs at Error level.
func (l *Logger) Error(msg string, args ...any) {
	l.log(LevelError, msg, args...)
}

// With returns a child Logger carrying the extra attributes. The file
// handle and exporter are shared with the parent; close only one of
// them.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		slog:     l.slog.With(args...),
		config:   l.config,
		file:     l.file,
		exporter: l.exporter,
	}
}

// Slog exposes the underlying slog.Logger, typically for
// slog.SetDefault so package-level slog calls flow through this logger.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Close flushes the exporter, closes it, then syncs and closes the log
// file. Returns the first error; later ones are discarded.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var first error
	record := func(what string, err error) {
		if err != nil && first == nil {
			first = fmt.Errorf("%s: %w", what, err)
		}
	}

	if l.exporter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		record("flush exporter", l.exporter.Flush(ctx))
		record("close exporter", l.exporter.Close())
	}

	if l.file != nil {
		record("sync log file", l.file.Sync())
		record("close log file", l.file.Close())
	}

	return first
}

func (l *Logger) log(level Level, msg string, args ...any) {
	switch level {
	case LevelDebug:
		l.slog.Debug(msg, args...)
	case LevelInfo:
		l.slog.Info(msg, args...)
	case LevelWarn:
		l.slog.Warn(msg, args...)
	case LevelError:
		l.slog.Error(msg, args...)
	}

	if l.exporter == nil || level < l.config.Level {
		return
	}
	entry := LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   msg,
		Service:   l.config.Service,
		Attrs:     argsToMap(args),
	}
	// Async so a slow sink never stalls a log call.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = l.exporter.Export(ctx, entry)
	}()
}

// =============================================================================
// Multi-Handler (Internal)
// =============================================================================

// multiHandler fans one record out to several slog handlers, letting
// stderr stay text while the file stays JSON.
type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: next}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: next}
}

// =============================================================================
// Helpers
// =============================================================================

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// argsToMap converts slog-style key-value args into a map for
// LogEntry.Attrs. Non-string keys and a trailing odd value are dropped.
func argsToMap(args []any) map[string]any {
	result := make(map[string]any)
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		result[key] = args[i+1]
	}
	return result
}

// =============================================================================
// Built-in Exporters
// =============================================================================

// NopExporter discards every entry. Useful when export is disabled.
type NopExporter struct{}

func (e *NopExporter) Export(ctx context.Context, entry LogEntry) error { return nil }
func (e *NopExporter) Flush(ctx context.Context) error                  { return nil }
func (e *NopExporter) Close() error                                     { return nil }

var _ LogExporter = (*NopExporter)(nil)

// BufferedExporter collects entries in memory, mainly for tests:
//
//	exporter := logging.NewBufferedExporter()
//	logger := logging.New(logging.Config{Exporter: exporter})
//	logger.Info("gate refused", "tenant", "U2")
//	entries := exporter.Entries()
type BufferedExporter struct {
	mu      sync.Mutex
	entries []LogEntry
}

func NewBufferedExporter() *BufferedExporter {
	return &BufferedExporter{}
}

func (e *BufferedExporter) Export(ctx context.Context, entry LogEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = append(e.entries, entry)
	return nil
}

func (e *BufferedExporter) Flush(ctx context.Context) error { return nil }

func (e *BufferedExporter) Close() error { return nil }

// Entries returns a copy of everything collected so far.
func (e *BufferedExporter) Entries() []LogEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]LogEntry, len(e.entries))
	copy(out, e.entries)
	return out
}

// WriterExporter writes one formatted line per entry to an io.Writer it
// does not own.
type WriterExporter struct {
	w  io.Writer
	mu sync.Mutex
}

func NewWriterExporter(w io.Writer) *WriterExporter {
	return &WriterExporter{w: w}
}

func (e *WriterExporter) Export(ctx context.Context, entry LogEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := fmt.Fprintf(e.w, "[%s] %s: %s %v\n",
		entry.Timestamp.Format(time.RFC3339),
		entry.Level,
		entry.Message,
		entry.Attrs,
	)
	return err
}

func (e *WriterExporter) Flush(ctx context.Context) error { return nil }

func (e *WriterExporter) Close() error { return nil }
