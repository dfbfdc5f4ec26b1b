package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Output formats.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Logger emits structured events through zerolog. Values are immutable;
// the With methods return derived loggers.
type Logger struct {
	zl zerolog.Logger
}

// New builds a logger from cfg. An unparseable level logs at info.
func New(cfg Config) *Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zc := zerolog.New(writerFor(cfg)).Level(level).With().Timestamp()
	if cfg.Caller {
		// Skip Logger.emit and the level method.
		zc = zc.CallerWithSkipFrameCount(zerolog.CallerSkipFrameCount + 2)
	}
	if cfg.ServiceName != "" {
		zc = zc.Str(FieldService, cfg.ServiceName)
	}
	return &Logger{zl: zc.Logger()}
}

func writerFor(cfg Config) io.Writer {
	var out io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}
	if cfg.Format != FormatConsole {
		return out
	}
	return zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000", NoColor: cfg.NoColor}
}

// NewNop discards everything.
func NewNop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// NewWriter writes JSON lines to w at debug level.
func NewWriter(w io.Writer, service string) *Logger {
	return &Logger{zl: zerolog.New(w).With().Timestamp().Str(FieldService, service).Logger()}
}

// WithComponent tags every event with component=name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{zl: l.zl.With().Str(FieldComponent, name).Logger()}
}

// WithFields adds fields to every event.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{zl: l.zl.With().Fields(fields).Logger()}
}

// DebugEnabled reports whether Debug events are written.
func (l *Logger) DebugEnabled() bool {
	return l.zl.GetLevel() <= zerolog.DebugLevel
}

func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.emit(l.zl.Debug(), msg, fields)
}

func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.emit(l.zl.Info(), msg, fields)
}

func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.emit(l.zl.Warn(), msg, fields)
}

func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.emit(l.zl.Error(), msg, fields)
}

// emit is a no-op for a nil event, which zerolog returns below the level.
func (l *Logger) emit(e *zerolog.Event, msg string, fields []map[string]interface{}) {
	if e == nil {
		return
	}
	for _, f := range fields {
		e.Fields(f)
	}
	e.Msg(msg)
}

var (
	globalMu sync.RWMutex
	global   *Logger
)

// SetGlobalLogger replaces the process logger used by components built
// without one.
func SetGlobalLogger(l *Logger) {
	globalMu.Lock()
	global = l
	globalMu.Unlock()
}

// GetGlobalLogger returns the process logger, an info-level console logger
// until SetGlobalLogger is called.
func GetGlobalLogger() *Logger {
	globalMu.RLock()
	l := global
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = New(Config{Format: FormatConsole, ServiceName: "stepflow"})
	}
	return global
}
