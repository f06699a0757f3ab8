package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel defines the severity of the log
type LogLevel int

const (
	LogLevelSilent LogLevel = iota
	LogLevelError
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

// LogFormat defines the output format of the log
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// Logger is the interface for logging SQL and internal messages.
// SQL statements are logged at debug level and never include parameter values.
type Logger interface {
	SetLevel(level LogLevel)
	SetFormat(format LogFormat)
	SetOutput(w io.Writer)
	WithFields(fields map[string]any) Logger
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
	SQL(sql string, duration time.Duration, args ...any)
}

// ParseLevel converts a config string to a LogLevel. Unknown values map to info.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "silent", "off", "none":
		return LogLevelSilent
	case "error":
		return LogLevelError
	case "warn", "warning":
		return LogLevelWarn
	case "debug":
		return LogLevelDebug
	default:
		return LogLevelInfo
	}
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case LogLevelSilent:
		return zapcore.FatalLevel + 1
	case LogLevelError:
		return zapcore.ErrorLevel
	case LogLevelWarn:
		return zapcore.WarnLevel
	case LogLevelDebug:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}

// baseLogger holds the settings shared by a logger and the children created with WithFields.
type baseLogger struct {
	mu     sync.RWMutex
	level  zap.AtomicLevel
	format LogFormat
	writer io.Writer
	// adopted is set when the logger wraps a host *zap.Logger; its core is reused as-is.
	adopted *zap.Logger
	root    *zap.Logger
}

func (b *baseLogger) rebuild() {
	if b.adopted != nil {
		b.root = b.adopted.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return &levelCore{Core: c, level: b.level}
		}))
		return
	}
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "time"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if b.format == LogFormatJSON {
		enc = zapcore.NewJSONEncoder(cfg)
	} else {
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(cfg)
	}
	b.root = zap.New(zapcore.NewCore(enc, zapcore.AddSync(b.writer), b.level))
}

// levelCore lets SetLevel filter an adopted core without touching the host's own level.
type levelCore struct {
	zapcore.Core
	level zap.AtomicLevel
}

func (c *levelCore) Enabled(l zapcore.Level) bool {
	return c.level.Enabled(l) && c.Core.Enabled(l)
}

func (c *levelCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelCore{Core: c.Core.With(fields), level: c.level}
}

func (c *levelCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.level.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

// zapLogger is the default implementation of Logger
type zapLogger struct {
	base   *baseLogger
	fields []zap.Field
}

// New creates a zap-backed logger writing to w.
func New(level LogLevel, format LogFormat, w io.Writer) Logger {
	if w == nil {
		w = os.Stdout
	}
	if format == "" {
		format = LogFormatText
	}
	b := &baseLogger{
		level:  zap.NewAtomicLevelAt(level.zapLevel()),
		format: format,
		writer: w,
	}
	b.rebuild()
	return &zapLogger{base: b}
}

// NewStdLogger creates a text logger at info level on standard output.
func NewStdLogger() Logger {
	return New(LogLevelInfo, LogFormatText, os.Stdout)
}

// NewZap adopts a host *zap.Logger. Its encoder and output are kept; SetLevel
// can only narrow what the host core already enables.
func NewZap(z *zap.Logger) Logger {
	if z == nil {
		z = zap.NewNop()
	}
	b := &baseLogger{
		level:   zap.NewAtomicLevelAt(zapcore.DebugLevel),
		format:  LogFormatJSON,
		adopted: z,
	}
	b.rebuild()
	return &zapLogger{base: b}
}

// NewNop returns a logger that discards everything.
func NewNop() Logger {
	return NewZap(zap.NewNop())
}

func (l *zapLogger) SetLevel(level LogLevel) {
	l.base.level.SetLevel(level.zapLevel())
}

func (l *zapLogger) SetFormat(format LogFormat) {
	l.base.mu.Lock()
	defer l.base.mu.Unlock()
	l.base.format = format
	l.base.rebuild()
}

func (l *zapLogger) SetOutput(w io.Writer) {
	l.base.mu.Lock()
	defer l.base.mu.Unlock()
	if l.base.adopted != nil {
		// host loggers own their sinks
		return
	}
	l.base.writer = w
	l.base.rebuild()
}

func (l *zapLogger) WithFields(fields map[string]any) Logger {
	nf := make([]zap.Field, 0, len(l.fields)+len(fields))
	nf = append(nf, l.fields...)
	for k, v := range fields {
		nf = append(nf, zap.Any(k, v))
	}
	return &zapLogger{base: l.base, fields: nf}
}

func (l *zapLogger) z() *zap.Logger {
	l.base.mu.RLock()
	defer l.base.mu.RUnlock()
	return l.base.root
}

func (l *zapLogger) Debug(format string, args ...any) {
	l.z().Debug(sprintf(format, args), l.fields...)
}

func (l *zapLogger) Info(format string, args ...any) {
	l.z().Info(sprintf(format, args), l.fields...)
}

func (l *zapLogger) Warn(format string, args ...any) {
	l.z().Warn(sprintf(format, args), l.fields...)
}

func (l *zapLogger) Error(format string, args ...any) {
	l.z().Error(sprintf(format, args), l.fields...)
}

func (l *zapLogger) SQL(sql string, duration time.Duration, args ...any) {
	z := l.z()
	if ce := z.Check(zapcore.DebugLevel, "sql"); ce != nil {
		fields := make([]zap.Field, 0, len(l.fields)+4)
		fields = append(fields, l.fields...)
		fields = append(fields,
			zap.String("op", sqlVerb(sql)),
			zap.String("sql", sql),
			zap.Duration("duration", duration),
			zap.Int("args", len(args)),
		)
		ce.Write(fields...)
	}
}

func sprintf(format string, args []any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}

func sqlVerb(sqlStr string) string {
	s := strings.TrimSpace(strings.ToUpper(sqlStr))
	switch {
	case strings.HasPrefix(s, "SELECT"), strings.HasPrefix(s, "WITH"):
		return "select"
	case strings.HasPrefix(s, "INSERT"):
		return "insert"
	case strings.HasPrefix(s, "UPDATE"):
		return "update"
	case strings.HasPrefix(s, "DELETE"):
		return "delete"
	default:
		return "other"
	}
}
