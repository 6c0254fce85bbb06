package log

import (
	"fmt"
	"runtime"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	ALL = iota + 0
	DEBUG
	INFO
	WARN
	ERROR
)

const (
	_callerInfo = "NoCallerFile"
)

// DefaultDebugLevel is the lowest level that is written.
var DefaultDebugLevel = INFO

const CallHierarchy int = 2

var _log = zap.NewNop()

func JSON(v interface{}) string {
	return fmt.Sprintf("%+v", v)
}

func SetLevel(level int) {
	DefaultDebugLevel = level
}

func ParseLevel(s string) int {
	switch s {
	case "all":
		return ALL
	case "debug":
		return DEBUG
	case "warn":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

func withCaller(f []zapcore.Field) []zapcore.Field {
	_, file, line, ok := runtime.Caller(CallHierarchy)
	callerInfo := _callerInfo

	if ok {
		callerInfo = fmt.Sprintf("%s:%d", file, line)
	}

	t := []zapcore.Field{zap.String("caller", callerInfo)}

	return append(t, f...)
}

func Debug(p string, f ...zapcore.Field) {
	if DefaultDebugLevel > DEBUG {
		return
	}

	_log.Debug(p, withCaller(f)...)
}

func Info(p string, f ...zapcore.Field) {
	if DefaultDebugLevel > INFO {
		return
	}

	_log.Info(p, withCaller(f)...)
}

func Warn(p string, f ...zapcore.Field) {
	if DefaultDebugLevel > WARN {
		return
	}

	_log.Warn(p, withCaller(f)...)
}

func Error(p string, f ...zapcore.Field) {
	if DefaultDebugLevel > ERROR {
		return
	}

	_log.Error(p, withCaller(f)...)
}

// Sync flushes buffered entries, call before exit.
func Sync() {
	_ = _log.Sync()
}

func Init(servername string) {
	encoderConfig := zapcore.EncoderConfig{
		MessageKey:     "msg",
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.FullCallerEncoder,
	}
	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(zap.DebugLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    encoderConfig,
		InitialFields:    map[string]interface{}{"servername": servername},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	l, e := config.Build()
	if e != nil {
		panic(fmt.Sprintf("failed to init log: %v", e))
	}

	_log = l
}
