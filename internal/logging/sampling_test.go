package logging

import (
	"context"
	"testing"
	"time"

	"github.com/keyur7523/koda/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func sampledLogger(level zapcore.Level, cfg SamplingConfig) (*Logger, *observer.ObservedLogs) {
	core, observed := observer.New(level)
	return &Logger{zap: zap.New(newSampledCore(core, cfg)), config: NewDefaultConfig()}, observed
}

func TestNewSampledCore_Disabled(t *testing.T) {
	core, _ := observer.New(zapcore.InfoLevel)

	assert.Equal(t, core, newSampledCore(core, SamplingConfig{Enabled: false}))
}

func TestNewSampledCore_PerLevelRates(t *testing.T) {
	logger, observed := sampledLogger(TraceLevel, SamplingConfig{
		Enabled: true,
		Tick:    config.Duration(time.Minute),
		Levels: map[zapcore.Level]LevelSamplingConfig{
			zapcore.DebugLevel: {Initial: 2, Thereafter: 0},
			zapcore.InfoLevel:  {Initial: 5, Thereafter: 0},
		},
	})
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		logger.Debug(ctx, "tool result")
		logger.Info(ctx, "tool result")
		logger.Warn(ctx, "tool result")
	}

	assert.Equal(t, 2, observed.FilterLevelExact(zapcore.DebugLevel).Len())
	assert.Equal(t, 5, observed.FilterLevelExact(zapcore.InfoLevel).Len())
	assert.Equal(t, 20, observed.FilterLevelExact(zapcore.WarnLevel).Len(), "levels without a rate pass through")
}

func TestNewSampledCore_Thereafter(t *testing.T) {
	logger, observed := sampledLogger(zapcore.InfoLevel, SamplingConfig{
		Enabled: true,
		Tick:    config.Duration(time.Minute),
		Levels: map[zapcore.Level]LevelSamplingConfig{
			zapcore.InfoLevel: {Initial: 5, Thereafter: 10},
		},
	})

	for i := 0; i < 100; i++ {
		logger.Info(context.Background(), "repeated message")
	}

	// 5 initial, then every 10th of the remaining 95.
	assert.Equal(t, 14, observed.FilterMessage("repeated message").Len())
}

func TestNewSampledCore_ErrorsNeverSampled(t *testing.T) {
	logger, observed := sampledLogger(zapcore.InfoLevel, SamplingConfig{
		Enabled: true,
		Tick:    config.Duration(time.Minute),
		Levels: map[zapcore.Level]LevelSamplingConfig{
			zapcore.InfoLevel:  {Initial: 1, Thereafter: 0},
			zapcore.ErrorLevel: {Initial: 1, Thereafter: 0},
		},
	})

	for i := 0; i < 100; i++ {
		logger.Error(context.Background(), "apply failed")
	}

	assert.Equal(t, 100, observed.FilterMessage("apply failed").Len())
}

func TestNewSampledCore_RespectsBaseLevel(t *testing.T) {
	logger, observed := sampledLogger(zapcore.InfoLevel, SamplingConfig{
		Enabled: true,
		Tick:    config.Duration(time.Minute),
		Levels:  DefaultLevelSamplingConfig(),
	})

	logger.Debug(context.Background(), "hidden")
	logger.Trace(context.Background(), "hidden")

	assert.Zero(t, observed.Len())
	assert.False(t, logger.Enabled(zapcore.DebugLevel))
}

func TestLevelFilterCore_With(t *testing.T) {
	core, observed := observer.New(TraceLevel)
	filtered := &levelFilterCore{
		Core:  core,
		allow: func(l zapcore.Level) bool { return l >= zapcore.ErrorLevel },
	}
	logger := &Logger{zap: zap.New(filtered), config: NewDefaultConfig()}
	ctx := context.Background()

	child := logger.With(zap.String("component", "ledger"))
	child.Info(ctx, "info message")
	child.Warn(ctx, "warn message")
	child.Error(ctx, "error message")

	logs := observed.All()
	require.Len(t, logs, 1)
	assert.Equal(t, "error message", logs[0].Message)
	assert.Equal(t, "ledger", logs[0].ContextMap()["component"])
}
