package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles logging, tracing, metrics and pass events.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// Nop returns telemetry that discards everything. Useful in tests.
func Nop() *Telemetry {
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = false
	cfg.Events.Enabled = false
	tracer, _ := NewTracer(TracingConfig{}, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	return &Telemetry{
		Logger:  FromContext(context.Background()),
		Tracer:  tracer,
		Metrics: &Metrics{config: cfg.Metrics},
		Events:  &EventPublisher{config: cfg.Events},
		Config:  cfg,
	}
}

// WithContext adds the telemetry instance to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	ctx = t.Logger.WithContext(ctx)
	return ctx
}

// FromTelemetryContext retrieves the telemetry instance from the context.
// If no telemetry is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown flushes pending events and spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.Events.Shutdown(ctx),
		t.Tracer.Shutdown(ctx),
	)
}

type passSpanKey struct{}

type passTimerKey struct{}

// WithPassContext starts the telemetry of a synthesis pass: root span, pass
// logger, started metric and event.
func WithPassContext(ctx context.Context, passID string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	spanCtx, span := tel.Tracer.StartPassSpan(ctx, passID)
	spanCtx = tel.Logger.WithPassID(passID).WithContext(spanCtx)

	tel.Metrics.RecordPassStarted()
	_ = tel.Events.PublishPassStarted(passID)

	spanCtx = context.WithValue(spanCtx, passSpanKey{}, span)
	spanCtx = context.WithValue(spanCtx, passTimerKey{}, NewTimer())
	return spanCtx
}

// EndPassContext completes the pass telemetry started by WithPassContext.
func EndPassContext(ctx context.Context, passID string, mutations, nodes int, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	if span, ok := ctx.Value(passSpanKey{}).(trace.Span); ok {
		span.SetAttributes(attribute.Int("pass.mutations", mutations))
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}

	var timer *Timer
	if t, ok := ctx.Value(passTimerKey{}).(*Timer); ok {
		timer = t
	} else {
		timer = NewTimer()
	}
	duration := timer.Duration()

	if err != nil {
		tel.Metrics.RecordPassCompleted("failed", duration, nodes)
		_ = tel.Events.PublishPassFailed(passID, err.Error())
		return
	}
	tel.Metrics.RecordPassCompleted("succeeded", duration, nodes)
	_ = tel.Events.PublishPassCompleted(passID, mutations, duration)
}
