package gemlive

import (
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the severity level of a log message
type LogLevel int

const (
	// LogLevelDebug logs everything including detailed debugging information
	LogLevelDebug LogLevel = iota
	// LogLevelInfo logs informational messages and above
	LogLevelInfo
	// LogLevelWarn logs warnings and above
	LogLevelWarn
	// LogLevelError logs only errors
	LogLevelError
	// LogLevelOff disables all logging
	LogLevelOff
)

// String returns the string representation of a LogLevel
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	case LogLevelOff:
		return "OFF"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel converts a string to LogLevel
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return LogLevelDebug
	case "INFO":
		return LogLevelInfo
	case "WARN", "WARNING":
		return LogLevelWarn
	case "ERROR":
		return LogLevelError
	case "OFF":
		return LogLevelOff
	default:
		return LogLevelInfo
	}
}

// Logger provides leveled, structured logging on top of zap. Every entry is an
// event name plus a field map, the shape used throughout this package.
//
// A nil *Logger is valid and discards everything.
type Logger struct {
	level LogLevel
	z     *zap.Logger
}

// NewLogger creates a logger writing JSON lines to stderr.
func NewLogger(level LogLevel) *Logger {
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.Lock(os.Stderr),
		zapcore.DebugLevel,
	)
	return NewLoggerFromZap(zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2)), level)
}

// NewLoggerFromEnv creates a logger with level from GEMLIVE_LOG_LEVEL env var
func NewLoggerFromEnv() *Logger {
	return NewLogger(ParseLogLevel(os.Getenv("GEMLIVE_LOG_LEVEL")))
}

// NewFileLogger creates a logger writing JSON lines to a size-rotated file.
func NewFileLogger(level LogLevel, filename string, maxSizeMB, maxBackups, maxAgeDays int, compress bool) *Logger {
	hook := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   compress,
	}
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(hook),
		zapcore.DebugLevel,
	)
	return NewLoggerFromZap(zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2)), level)
}

// NewLoggerFromZap wraps an existing zap logger.
func NewLoggerFromZap(z *zap.Logger, level LogLevel) *Logger {
	if z == nil {
		z = zap.NewNop()
	}
	return &Logger{level: level, z: z}
}

// SetLevel updates the logger's minimum level
func (l *Logger) SetLevel(level LogLevel) {
	if l == nil {
		return
	}
	l.level = level
}

// Level returns the logger's minimum level.
func (l *Logger) Level() LogLevel {
	if l == nil {
		return LogLevelOff
	}
	return l.level
}

// Debug logs debug-level messages
func (l *Logger) Debug(event string, fields map[string]any) {
	l.log(LogLevelDebug, event, fields)
}

// Info logs info-level messages
func (l *Logger) Info(event string, fields map[string]any) {
	l.log(LogLevelInfo, event, fields)
}

// Warn logs warning-level messages
func (l *Logger) Warn(event string, fields map[string]any) {
	l.log(LogLevelWarn, event, fields)
}

// Error logs error-level messages
func (l *Logger) Error(event string, fields map[string]any) {
	l.log(LogLevelError, event, fields)
}

// With returns a logger that includes the given fields in every entry.
func (l *Logger) With(fields map[string]any) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{level: l.level, z: l.z.With(zapFields(fields)...)}
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	if l == nil {
		return nil
	}
	return l.z.Sync()
}

func (l *Logger) log(level LogLevel, event string, fields map[string]any) {
	if l == nil || level < l.level || l.level == LogLevelOff {
		return
	}
	zf := zapFields(fields)
	switch level {
	case LogLevelDebug:
		l.z.Debug(event, zf...)
	case LogLevelInfo:
		l.z.Info(event, zf...)
	case LogLevelWarn:
		l.z.Warn(event, zf...)
	default:
		l.z.Error(event, zf...)
	}
}

// zapFields converts a field map into zap fields in key order so entries are stable.
func zapFields(fields map[string]any) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, zap.Any(k, fields[k]))
	}
	return out
}
