package log

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var _ Log = (*Logger)(nil)

var (
	defaultLogger *Logger
	defaultOnce   sync.Once
)

// Logger adapts zap to the Log interface.
type Logger struct {
	zl    *zap.Logger
	level zap.AtomicLevel
}

// New builds a production JSON logger writing to stderr. The first logger
// built becomes the process default returned by Provide.
func New(level Level) *Logger {
	atomic := zap.NewAtomicLevelAt(toZapLevel(level))
	cfg := zap.Config{
		Level:            atomic,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
		DisableCaller:    true,
	}
	zl, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	l := &Logger{zl: zl, level: atomic}
	defaultOnce.Do(func() { defaultLogger = l })
	return l
}

// Provide returns the process default logger, or a fresh Info-level one when
// none has been built yet.
func Provide() *Logger {
	if defaultLogger == nil {
		return New(LevelInfo)
	}
	return defaultLogger
}

func (l *Logger) Debug(msg string, fields ...Field) { l.zl.Debug(msg, toZap(fields)...) }
func (l *Logger) Info(msg string, fields ...Field)  { l.zl.Info(msg, toZap(fields)...) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.zl.Warn(msg, toZap(fields)...) }
func (l *Logger) Error(msg string, fields ...Field) { l.zl.Error(msg, toZap(fields)...) }

func (l *Logger) With(fields ...Field) Log {
	return &Logger{zl: l.zl.With(toZap(fields)...), level: l.level}
}

func (l *Logger) SetLevel(level Level) { l.level.SetLevel(toZapLevel(level)) }

func (l *Logger) GetLevel() Level {
	switch l.level.Level() {
	case zap.DebugLevel:
		return LevelDebug
	case zap.WarnLevel:
		return LevelWarn
	case zap.ErrorLevel:
		return LevelError
	default:
		return LevelInfo
	}
}

func toZapLevel(level Level) zapcore.Level {
	switch level {
	case LevelDebug:
		return zap.DebugLevel
	case LevelWarn:
		return zap.WarnLevel
	case LevelError:
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

func toZap(fields []Field) []zap.Field {
	out := make([]zap.Field, len(fields))
	for i, f := range fields {
		switch f.Type {
		case BoolType:
			out[i] = zap.Bool(f.Key, f.Value.(bool))
		case DurationType:
			out[i] = zap.Duration(f.Key, f.Value.(time.Duration))
		case Float64Type:
			out[i] = zap.Float64(f.Key, f.Value.(float64))
		case IntType:
			out[i] = zap.Int(f.Key, f.Value.(int))
		case Int64Type:
			out[i] = zap.Int64(f.Key, f.Value.(int64))
		case StringType:
			out[i] = zap.String(f.Key, f.Value.(string))
		case TimeType:
			out[i] = zap.Time(f.Key, f.Value.(time.Time))
		case Uint64Type:
			out[i] = zap.Uint64(f.Key, f.Value.(uint64))
		case ErrorType:
			out[i] = zap.NamedError(f.Key, f.Value.(error))
		default:
			out[i] = zap.Any(f.Key, f.Value)
		}
	}
	return out
}
