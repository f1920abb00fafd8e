package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestTestLogger_Assertions(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithRunID(context.Background(), "run_1")

	tl.Info(ctx, "staged change", zap.String("path", "main.go"), zap.Int("bytes", 12))

	tl.AssertLogged(t, zapcore.InfoLevel, "staged")
	tl.AssertNotLogged(t, zapcore.ErrorLevel, "staged")
	tl.AssertField(t, "staged change", "path", "main.go")
	tl.AssertField(t, "staged change", "bytes", int64(12))
	tl.AssertRunCorrelation(t, "staged change", "run_1")
	tl.AssertNoSecrets(t)
}

func TestTestLogger_Reset(t *testing.T) {
	tl := NewTestLogger()
	tl.Debug(context.Background(), "one")
	assert.Len(t, tl.All(), 1)

	tl.Reset()
	assert.Empty(t, tl.All())
}

func TestTestLogger_AssertNoSecrets_DetectsSecrets(t *testing.T) {
	tests := []struct {
		name  string
		log   func(*TestLogger)
		fails bool
	}{
		{"plain field", func(tl *TestLogger) { tl.Info(context.Background(), "ok", zap.String("user", "alice")) }, false},
		{"raw token field", func(tl *TestLogger) { tl.Info(context.Background(), "x", zap.String("token", "abc")) }, true},
		{"key in message", func(tl *TestLogger) { tl.Info(context.Background(), "using sk-ant-api03-AAAAAAAAAAAA") }, true},
		{"key in value", func(tl *TestLogger) {
			tl.Info(context.Background(), "x", zap.String("output", "ghp_ABCDEFGHIJKLMNOPQRSTUVWXYZ"))
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tl := NewTestLogger()
			tt.log(tl)

			probe := &recordingTB{TB: t}
			tl.AssertNoSecrets(probe)
			assert.Equal(t, tt.fails, probe.failed)
		})
	}
}

// recordingTB captures Errorf instead of failing the enclosing test.
type recordingTB struct {
	testing.TB
	failed bool
}

func (r *recordingTB) Helper() {}

func (r *recordingTB) Errorf(string, ...any) { r.failed = true }
