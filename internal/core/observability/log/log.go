package log

import (
	"time"
)

// Log is the logging surface handed to communication components. The concrete
// implementation is zap-backed; tests may substitute a no-op.
type Log interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	With(fields ...Field) Log

	SetLevel(level Level)
	GetLevel() Level
}

type Level uint8

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Field is a typed key/value pair carried to the backend without allocation
// surprises from interface juggling at the call site.
type Field struct {
	Key   string
	Type  FieldType
	Value any
}

type FieldType uint8

const (
	AnyType FieldType = iota
	BoolType
	DurationType
	Float64Type
	IntType
	Int64Type
	StringType
	TimeType
	Uint64Type
	ErrorType
)

func Any(key string, val any) Field     { return Field{Key: key, Type: AnyType, Value: val} }
func Bool(key string, val bool) Field   { return Field{Key: key, Type: BoolType, Value: val} }
func Int(key string, val int) Field     { return Field{Key: key, Type: IntType, Value: val} }
func Int64(key string, val int64) Field { return Field{Key: key, Type: Int64Type, Value: val} }
func String(key, val string) Field      { return Field{Key: key, Type: StringType, Value: val} }
func Float64(key string, val float64) Field {
	return Field{Key: key, Type: Float64Type, Value: val}
}
func Uint64(key string, val uint64) Field {
	return Field{Key: key, Type: Uint64Type, Value: val}
}
func Duration(key string, val time.Duration) Field {
	return Field{Key: key, Type: DurationType, Value: val}
}
func Time(key string, val time.Time) Field { return Field{Key: key, Type: TimeType, Value: val} }
func Error(val error) Field                { return Field{Key: "error", Type: ErrorType, Value: val} }

// Nop returns a logger that discards everything; handy for tests.
func Nop() Log { return nopLog{} }

type nopLog struct{}

func (nopLog) Debug(string, ...Field) {}
func (nopLog) Info(string, ...Field)  {}
func (nopLog) Warn(string, ...Field)  {}
func (nopLog) Error(string, ...Field) {}
func (n nopLog) With(...Field) Log    { return n }
func (nopLog) SetLevel(Level)         {}
func (nopLog) GetLevel() Level        { return LevelError }
