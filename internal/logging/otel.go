package logging

import (
	"fmt"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// outputCore is the assembled core plus a function releasing any files
// it opened.
type outputCore struct {
	core  zapcore.Core
	close func()
}

// newOutputCore tees the enabled outputs and wraps them with sampling.
// The OTEL output is skipped when no provider is given.
func newOutputCore(cfg *Config, otelProvider log.LoggerProvider) (*outputCore, error) {
	cores := make([]zapcore.Core, 0, 3)
	closeFn := func() {}

	if cfg.Output.Stderr || cfg.Output.File != "" {
		encoder, err := NewRedactingEncoder(newEncoder(cfg.Format), cfg.Redaction)
		if err != nil {
			return nil, fmt.Errorf("failed to create redacting encoder: %w", err)
		}
		if cfg.Output.Stderr {
			cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), cfg.Level))
		}
		if cfg.Output.File != "" {
			sink, closeSink, err := zap.Open(cfg.Output.File)
			if err != nil {
				return nil, fmt.Errorf("opening log file %q: %w", cfg.Output.File, err)
			}
			closeFn = closeSink
			cores = append(cores, zapcore.NewCore(encoder.Clone(), sink, cfg.Level))
		}
	}

	if cfg.Output.OTEL && otelProvider != nil {
		cores = append(cores, otelzap.NewCore("github.com/keyur7523/koda",
			otelzap.WithLoggerProvider(otelProvider),
		))
	}

	if len(cores) == 0 {
		closeFn()
		return nil, fmt.Errorf("at least one output must be enabled and available")
	}

	core := cores[0]
	if len(cores) > 1 {
		core = zapcore.NewTee(cores...)
	}

	return &outputCore{
		core:  newSampledCore(core, cfg.Sampling),
		close: closeFn,
	}, nil
}
