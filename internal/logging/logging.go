// Package logging builds the zap loggers used across CamGo.
package logging

import (
	"io"
	"os"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// Debug levels, as written in the config file.
const (
	LevelOff     = 0 // No output
	LevelWarn    = 1 // Warnings and failures
	LevelInfo    = 2 // Bind, capture and recording events
	LevelVerbose = 3 // Pipeline resolution, fallbacks, executor tasks
	LevelTrace   = 4 // Same as verbose plus caller and GPIO writes
)

// ZapLevel maps a debug level (0-4) to the zap level it enables.
func ZapLevel(debugLevel int) zapcore.Level {
	switch {
	case debugLevel <= LevelOff:
		return zapcore.FatalLevel
	case debugLevel == LevelWarn:
		return zapcore.WarnLevel
	case debugLevel == LevelInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// NewEncoderConfig returns the console encoder settings shared by every logger.
func NewEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// New returns a named logger writing to stdout, and to every extra writer
// (the web status stream, for instance), at the given debug level. Extra
// writers receive one JSON object per entry.
func New(name string, debugLevel int, extra ...io.Writer) *zap.SugaredLogger {
	level := zap.NewAtomicLevelAt(ZapLevel(debugLevel))
	console := zapcore.NewConsoleEncoder(NewEncoderConfig())

	cores := []zapcore.Core{zapcore.NewCore(console, zapcore.Lock(os.Stdout), level)}
	for _, w := range extra {
		jsonEnc := zapcore.NewJSONEncoder(NewEncoderConfig())
		cores = append(cores, zapcore.NewCore(jsonEnc, zapcore.AddSync(w), level))
	}

	var opts []zap.Option
	if debugLevel >= LevelTrace {
		opts = append(opts, zap.AddCaller())
	}
	return zap.New(zapcore.NewTee(cores...), opts...).Named(name).Sugar()
}

// NewNop returns a logger that drops everything.
func NewNop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// NewTestLogger returns a debug logger that writes through tb.Log.
func NewTestLogger(tb testing.TB) *zap.SugaredLogger {
	return zaptest.NewLogger(tb, zaptest.Level(zapcore.DebugLevel)).Sugar()
}

// NewObservedTestLogger is like NewTestLogger but also keeps every entry in memory.
func NewObservedTestLogger(tb testing.TB) (*zap.SugaredLogger, *observer.ObservedLogs) {
	observerCore, observedLogs := observer.New(zapcore.DebugLevel)
	testCore := zaptest.NewLogger(tb, zaptest.Level(zapcore.DebugLevel)).Core()
	return zap.New(zapcore.NewTee(testCore, observerCore)).Sugar(), observedLogs
}
