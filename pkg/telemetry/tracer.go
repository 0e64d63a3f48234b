package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/openfroyo/synth/pkg/engine"
)

// Span attribute keys.
var (
	AttrPassID        = attribute.Key("pass.id")
	AttrVisitor       = attribute.Key("visitor.name")
	AttrVisitorTarget = attribute.Key("visitor.target")
	AttrNodePath      = attribute.Key("node.path")
	AttrLookupKind    = attribute.Key("lookup.kind")
	AttrLookupQuery   = attribute.Key("lookup.query")
	AttrLookupOutcome = attribute.Key("lookup.outcome")
	AttrErrorClass    = attribute.Key("error.class")
	AttrErrorCode     = attribute.Key("error.code")
)

// Tracer starts the spans of a synthesis pass.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracer builds the tracer provider. A disabled config yields a tracer
// whose spans are never exported.
func NewTracer(cfg TracingConfig, serviceName, serviceVersion, environment string) (*Tracer, error) {
	if !cfg.Enabled {
		provider := sdktrace.NewTracerProvider()
		return &Tracer{provider: provider, tracer: provider.Tracer(serviceName)}, nil
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(serviceVersion),
			attribute.String("environment", environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("trace resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case "otlp":
		exporter, err = otlpExporter(cfg)
	case "stdout":
		// stderr, so spans never interleave with a template on stdout
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
	case "", "none":
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %s", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("trace exporter: %w", err)
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter,
			sdktrace.WithMaxExportBatchSize(cfg.MaxExportBatchSize),
			sdktrace.WithExportTimeout(cfg.ExportTimeout),
		))
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Tracer{provider: provider, tracer: provider.Tracer(serviceName)}, nil
}

func otlpExporter(cfg TracingConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}
	return otlptracegrpc.New(context.Background(), opts...)
}

// StartPassSpan starts the root span of a pass.
func (t *Tracer) StartPassSpan(ctx context.Context, passID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "synth.pass", trace.WithAttributes(AttrPassID.String(passID)))
}

func (t *Tracer) StartVisitorSpan(ctx context.Context, visitor, target string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "synth.visitor", trace.WithAttributes(
		AttrVisitor.String(visitor),
		AttrVisitorTarget.String(target),
	))
}

// StartLookupSpan starts a client span for one uncached lookup.
func (t *Tracer) StartLookupSpan(ctx context.Context, kind, query string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "synth.lookup",
		trace.WithAttributes(AttrLookupKind.String(kind), AttrLookupQuery.String(query)),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

func (t *Tracer) StartPolicySpan(ctx context.Context, policies int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "synth.policy", trace.WithAttributes(attribute.Int("policy.count", policies)))
}

// RecordError marks the span failed. Classified errors also carry their
// class and code.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	var ee *engine.EngineError
	if errors.As(err, &ee) {
		span.SetAttributes(AttrErrorClass.String(string(ee.Class)), AttrErrorCode.String(ee.Code))
	}
}

func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddMutationEvent records an applied mutation on the visitor span.
func AddMutationEvent(span trace.Span, path, key string) {
	span.AddEvent("mutation", trace.WithAttributes(
		AttrNodePath.String(path),
		attribute.String("mutation.key", key),
	))
}

// Shutdown flushes pending spans.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
