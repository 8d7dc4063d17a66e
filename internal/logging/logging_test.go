package logging

import (
	"bytes"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
	"go.viam.com/test"
)

func TestZapLevel(t *testing.T) {
	cases := []struct {
		name  string
		level int
		want  zapcore.Level
	}{
		{"off", LevelOff, zapcore.FatalLevel},
		{"negative", -3, zapcore.FatalLevel},
		{"warn", LevelWarn, zapcore.WarnLevel},
		{"info", LevelInfo, zapcore.InfoLevel},
		{"verbose", LevelVerbose, zapcore.DebugLevel},
		{"trace", LevelTrace, zapcore.DebugLevel},
		{"above_trace", 9, zapcore.DebugLevel},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			test.That(t, ZapLevel(tc.level), test.ShouldEqual, tc.want)
		})
	}
}

func TestNew_TeesToExtraWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := New("camgo", LevelInfo, &buf)

	logger.Infow("bound", "facing", "back")
	logger.Debug("hidden at info level")

	out := buf.String()
	test.That(t, out, test.ShouldContainSubstring, "bound")
	test.That(t, out, test.ShouldContainSubstring, "facing")
	test.That(t, strings.Contains(out, "hidden at info level"), test.ShouldBeFalse)
}

func TestNew_OffDropsErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := New("camgo", LevelOff, &buf)
	logger.Error("not shown")
	test.That(t, buf.Len(), test.ShouldEqual, 0)
}

func TestNewObservedTestLogger(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)
	logger.Errorw("capture failed", "cause", "disk full")

	entries := logs.FilterMessage("capture failed").All()
	test.That(t, len(entries), test.ShouldEqual, 1)
	test.That(t, entries[0].Level, test.ShouldEqual, zapcore.ErrorLevel)
	test.That(t, entries[0].ContextMap()["cause"], test.ShouldEqual, "disk full")
}
