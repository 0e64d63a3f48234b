// Package telemetry provides observability for synthesis passes.
//
// It integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus) and pass event publishing.
//
// # Usage
//
// Initialize telemetry at startup and put it on the context:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// A pass is bracketed by WithPassContext and EndPassContext, which open the
// root span, tag the logger with the pass id, count the pass and publish its
// lifecycle events:
//
//	ctx = telemetry.WithPassContext(ctx, passID)
//	defer func() { telemetry.EndPassContext(ctx, passID, len(records), nodes, err) }()
//
// # Logging
//
// Logs go to stderr by default so they never mix with rendered templates on
// stdout. The core packages take a plain zerolog.Logger; hand them
// Logger.Zerolog() or leave them silent.
//
//	logger := tel.Logger.NewComponentLogger("synth").WithPassID(passID)
//	logger.WithLookup("zones", "availability-zones").Debug("resolving")
//
// # Metrics
//
// Metrics record passes, mutations by role and rule, context lookups by kind,
// outcome and cache hit, and policy violations. A nil or disabled Metrics is
// safe to call. Watch mode serves them over HTTP with StartMetricsServer.
//
// # Tracing
//
// Spans are named synth.pass, synth.visitor, synth.lookup and synth.policy.
// The stdout exporter writes to stderr; the otlp exporter speaks gRPC.
package telemetry
