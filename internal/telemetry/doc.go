// Package telemetry wires OpenTelemetry tracing and metrics for koda.
//
// New installs global tracer and meter providers exporting over OTLP
// (gRPC by default, HTTP with protocol "http/protobuf"). Instrumented
// packages use otel.Tracer and otel.Meter directly, so the span tree of a
// run looks like:
//
//	orchestrator.run
//	  orchestrator.phase.understanding
//	    provider.messages
//	    tool.list_directory
//	  orchestrator.phase.planning
//	  orchestrator.phase.executing
//	    tool.write_file
//
// Export is off by default:
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  sample_rate: 0.25
//
// A failing exporter marks the instance degraded; Health lists the
// reasons and koda keeps running with no-op providers.
//
// TestTelemetry records spans and metrics in memory:
//
//	tt := telemetry.NewTestTelemetry()
//	_, span := tt.Tracer("test").Start(ctx, "tool.read_file")
//	span.End()
//	tt.AssertSpanExists(t, "tool.read_file")
package telemetry
