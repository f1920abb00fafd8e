package logging

import (
	"go.uber.org/zap/zapcore"
)

// newSampledCore applies the configured rate to each level separately.
// Levels without a rate and everything at Error or above pass through.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled || len(cfg.Levels) == 0 {
		return core
	}

	sampled := make(map[zapcore.Level]bool, len(cfg.Levels))
	cores := make([]zapcore.Core, 0, len(cfg.Levels)+1)
	for lvl, rate := range cfg.Levels {
		if lvl >= zapcore.ErrorLevel {
			continue
		}
		sampled[lvl] = true
		only := lvl
		exact := &levelFilterCore{Core: core, allow: func(l zapcore.Level) bool { return l == only }}
		cores = append(cores, zapcore.NewSamplerWithOptions(exact, cfg.Tick.Duration(), rate.Initial, rate.Thereafter))
	}

	cores = append(cores, &levelFilterCore{
		Core:  core,
		allow: func(l zapcore.Level) bool { return !sampled[l] },
	})
	return zapcore.NewTee(cores...)
}

// levelFilterCore only admits entries whose level passes allow.
type levelFilterCore struct {
	zapcore.Core
	allow func(zapcore.Level) bool
}

func (c *levelFilterCore) Enabled(lvl zapcore.Level) bool {
	return c.allow(lvl) && c.Core.Enabled(lvl)
}

func (c *levelFilterCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c *levelFilterCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelFilterCore{
		Core:  c.Core.With(fields),
		allow: c.allow,
	}
}
