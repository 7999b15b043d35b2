package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

const defaultHistorySize = 1000

// Logger is satisfied by *slog.Logger. Packages that only emit logs accept
// this instead of the concrete type.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config represents logging configuration.
type Config struct {
	Level   string            `toml:"level"`
	Format  string            `toml:"format"`
	Modules map[string]string `toml:"modules"`
	File    FileConfig        `toml:"file"`
}

type registry struct {
	mu       sync.RWMutex
	cfg      Config
	ready    bool
	loggers  map[string]*slog.Logger
	levels   map[string]*slog.LevelVar
	root     *slog.LevelVar
	history  *RingBuffer
	callback LogCallback
	file     io.WriteCloser
}

var std = newRegistry()

func newRegistry() *registry {
	return &registry{
		loggers: make(map[string]*slog.Logger),
		levels:  make(map[string]*slog.LevelVar),
		root:    &slog.LevelVar{},
		history: NewRingBuffer(defaultHistorySize),
	}
}

// Initialize applies cfg to every module logger, including ones created
// before this call, and installs the default slog logger.
func Initialize(cfg Config) {
	std.mu.Lock()
	defer std.mu.Unlock()

	std.cfg = cfg
	std.ready = true

	if std.file != nil {
		_ = std.file.Close()
		std.file = nil
	}
	if cfg.File.Path != "" {
		std.file = cfg.File.writer()
	}

	std.root.Set(levelOr(cfg.Level, slog.LevelInfo))

	for module, lv := range std.levels {
		lv.Set(std.moduleLevel(module))
		std.loggers[module] = slog.New(std.handler(lv)).With("module", module)
	}

	slog.SetDefault(slog.New(std.handler(std.root)))
}

// Close releases the log file sink, if any.
func Close() error {
	std.mu.Lock()
	defer std.mu.Unlock()
	if std.file == nil {
		return nil
	}
	err := std.file.Close()
	std.file = nil
	return err
}

// GetLogger returns the logger for module, creating it on first use.
func GetLogger(module string) *slog.Logger {
	std.mu.RLock()
	l, ok := std.loggers[module]
	std.mu.RUnlock()
	if ok {
		return l
	}

	std.mu.Lock()
	defer std.mu.Unlock()
	if l, ok := std.loggers[module]; ok {
		return l
	}

	lv := &slog.LevelVar{}
	lv.Set(std.moduleLevel(module))
	l = slog.New(std.handler(lv)).With("module", module)
	std.loggers[module] = l
	std.levels[module] = lv
	return l
}

// SetModuleLevel changes a module's level at runtime.
func SetModuleLevel(module, level string) bool {
	parsed, ok := parseLevel(level)
	if !ok {
		return false
	}
	GetLogger(module)
	std.mu.RLock()
	defer std.mu.RUnlock()
	std.levels[module].Set(parsed)
	return true
}

// GetBuffer returns the in-memory log history.
func GetBuffer() *RingBuffer {
	std.mu.RLock()
	defer std.mu.RUnlock()
	return std.history
}

// SetLogCallback registers fn to be called for every log entry. Used to
// forward logs onto the event bus without an import cycle.
func SetLogCallback(fn LogCallback) {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.callback = fn
}

func (r *registry) entrySink() (*RingBuffer, LogCallback) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.history, r.callback
}

// moduleLevel must be called with r.mu held.
func (r *registry) moduleLevel(module string) slog.Level {
	if !r.ready {
		return slog.LevelInfo
	}
	level := levelOr(r.cfg.Level, slog.LevelInfo)
	if override, ok := r.cfg.Modules[module]; ok {
		level = levelOr(override, level)
	}
	return level
}

// handler builds the output chain: stdout, journald, rotating file and the
// history buffer, whichever are available. Must be called with r.mu held.
func (r *registry) handler(level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	format := "text"
	if r.ready {
		format = r.cfg.Format
	}

	var handlers []slog.Handler
	if stdoutAttached() {
		handlers = append(handlers, formatHandler(format, os.Stdout, opts))
	}
	if IsJournalAvailable() {
		handlers = append(handlers, NewJournalHandler(level))
	}
	if r.file != nil {
		handlers = append(handlers, formatHandler(format, r.file, opts))
	}
	handlers = append(handlers, NewBufferHandler(level, r.entrySink))

	if len(handlers) == 1 {
		return handlers[0]
	}
	return NewFanoutHandler(handlers...)
}

func formatHandler(format string, w io.Writer, opts *slog.HandlerOptions) slog.Handler {
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// stdoutAttached reports whether stdout goes somewhere useful: a terminal,
// pipe, socket or regular file. /dev/null is a device and is skipped.
func stdoutAttached() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	mode := fi.Mode()
	return mode&os.ModeCharDevice != 0 ||
		mode&os.ModeNamedPipe != 0 ||
		mode&os.ModeSocket != 0 ||
		mode.IsRegular()
}

func levelOr(s string, fallback slog.Level) slog.Level {
	if l, ok := parseLevel(s); ok {
		return l
	}
	return fallback
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error", "fatal":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}
