// Package logging provides structured logging for koda on top of zap.
//
// # Overview
//
// The package adds a Trace level below Debug, writes to stderr, a file
// or an OpenTelemetry log provider, and injects correlation fields from
// the context on every call:
//
//	trace_id, span_id    from the active span
//	run.id, run.owner    set by the run manager
//	request.id           set by the HTTP middleware
//
// Stdout is never used. `koda mcp` speaks the protocol over stdout and a
// stray log line would corrupt the stream.
//
// # Usage
//
//	cfg, err := logging.FromSettings(appCfg.Logging)
//	if err != nil {
//	    return err
//	}
//	logger, err := logging.NewLogger(cfg, otelProvider)
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	ctx = logging.WithRunID(ctx, run.ID)
//	logger.Info(ctx, "phase change", zap.String("to", "planning"))
//
// # Redaction
//
// Keys such as token, api_key and authorization are always written as
// [REDACTED]. String values and error messages are scanned for provider
// keys (sk-ant-, sk-), GitHub tokens (ghp_, github_pat_) and bearer
// headers, and each match is replaced in place. Configuration secrets
// should be logged with Secret, which only reveals the length.
//
// # Sampling
//
// Each level below Error has its own initial/thereafter rate per tick.
// Error and above are never sampled.
//
// # Testing
//
// NewTestLogger records every entry and offers assertions:
//
//	tl := logging.NewTestLogger()
//	svc := NewService(tl.Logger)
//	svc.Do(ctx)
//	tl.AssertLogged(t, zapcore.InfoLevel, "done")
//	tl.AssertRunCorrelation(t, "done", "run-1")
//	tl.AssertNoSecrets(t)
package logging
