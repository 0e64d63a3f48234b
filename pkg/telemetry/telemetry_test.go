package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/openfroyo/synth/pkg/engine"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"otlp without endpoint", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "otlp"
		}, true},
		{"bad sampling", func(c *Config) { c.Tracing.SamplingRate = 2 }, true},
		{"missing service", func(c *Config) { c.ServiceName = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if err := CIConfig().Validate(); err != nil {
		t.Errorf("CI config invalid: %v", err)
	}
	if err := DevelopmentConfig().Validate(); err != nil {
		t.Errorf("development config invalid: %v", err)
	}
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, LoggingConfig{Level: "debug", Format: "json"})

	logger.NewComponentLogger("synth").
		WithPassID("p-1").
		WithLookup("zones", "availability-zones").
		Debug("resolving")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid json log line %q: %v", buf.String(), err)
	}
	for key, want := range map[string]string{
		"component":   "synth",
		"pass_id":     "p-1",
		"lookup":      "zones",
		"lookup_kind": "availability-zones",
		"message":     "resolving",
	} {
		if entry[key] != want {
			t.Errorf("expected %s=%q, got %v", key, want, entry[key])
		}
	}
}

func TestLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, LoggingConfig{Level: "warn", Format: "json"})
	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("expected info to be filtered, got %q", buf.String())
	}
	logger.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("expected warn to be written, got %q", buf.String())
	}
}

func TestMetricsRecording(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "test", Path: "/metrics"})
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	m.RecordLookup("ssm", "not_found", false, 10*time.Millisecond)
	m.RecordLookup("ssm", "not_found", true, 0)
	m.RecordMutation("ManagedRuleSet", "stale-Runtime")
	m.RecordPassStarted()
	m.RecordPassCompleted("succeeded", time.Second, 6)

	if got := testutil.ToFloat64(m.lookups.WithLabelValues("ssm", "not_found", "true")); got != 1 {
		t.Errorf("expected 1 cached lookup, got %v", got)
	}
	if got := testutil.ToFloat64(m.mutations.WithLabelValues("ManagedRuleSet", "stale-Runtime")); got != 1 {
		t.Errorf("expected 1 mutation, got %v", got)
	}
	if got := testutil.ToFloat64(m.passesCompleted.WithLabelValues("succeeded")); got != 1 {
		t.Errorf("expected 1 completed pass, got %v", got)
	}
	if n := testutil.CollectAndCount(m.lookupDuration); n != 1 {
		t.Errorf("expected only the uncached lookup to be timed, got %d series", n)
	}
}

func TestDisabledMetricsAreSafe(t *testing.T) {
	var nilMetrics *Metrics
	nilMetrics.RecordLookup("ssm", "success", false, time.Millisecond)
	nilMetrics.RecordPassStarted()

	m, _ := NewMetrics(MetricsConfig{Enabled: false})
	m.RecordMutation("r", "x")
	m.RecordPolicyViolation("p", "error")
	if m.Registry() != nil {
		t.Error("disabled metrics must not own a registry")
	}
}

func TestEventPublisherSync(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true})
	if err != nil {
		t.Fatalf("NewEventPublisher: %v", err)
	}

	var got []Event
	ep.Subscribe(func(e Event) { got = append(got, e) }, FilterByType(EventTypeMutation))

	_ = ep.PublishPassStarted("p-1")
	_ = ep.PublishMutation("p-1", "App/Fn", "Runtime", "legacy-8", "current-20")

	if len(got) != 1 {
		t.Fatalf("expected 1 filtered event, got %d", len(got))
	}
	if got[0].NodePath != "App/Fn" || got[0].ID == "" || got[0].Level != EventLevelInfo {
		t.Errorf("unexpected event %+v", got[0])
	}
}

func TestEventPublisherAsyncDrainsOnShutdown(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, EnableAsync: true, BufferSize: 16})
	if err != nil {
		t.Fatalf("NewEventPublisher: %v", err)
	}

	var mu sync.Mutex
	var passes []string
	ep.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		passes = append(passes, e.PassID)
	}, FilterByLevel(EventLevelWarning))

	_ = ep.PublishPassStarted("a")
	_ = ep.PublishLookupFailed("b", "ami", "not_found", "missing")
	_ = ep.PublishPassFailed("c", "boom")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ep.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if strings.Join(passes, ",") != "b,c" {
		t.Errorf("expected warning and error events in order, got %v", passes)
	}
}

func TestPassContext(t *testing.T) {
	tel := Nop()
	ctx := tel.WithContext(context.Background())

	if FromTelemetryContext(ctx) != tel {
		t.Fatal("expected telemetry on context")
	}

	passCtx := WithPassContext(ctx, "p-1")
	EndPassContext(passCtx, "p-1", 3, 10, nil)

	// without telemetry both are no-ops
	bare := WithPassContext(context.Background(), "p-2")
	EndPassContext(bare, "p-2", 0, 0, nil)
}

func TestFromContextDefaultsToSilent(t *testing.T) {
	if lvl := FromContext(context.Background()).Zerolog().GetLevel(); lvl != zerolog.Disabled {
		t.Errorf("expected a disabled logger without telemetry, got level %s", lvl)
	}
}

func TestRecordErrorTagsClass(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	_, span := provider.Tracer("test").Start(context.Background(), "synth.lookup")
	RecordError(span, fmt.Errorf("lookup zones: %w",
		engine.NewTransientError("rate exceeded", nil).WithCode(engine.ErrCodeThrottled)))
	span.End()

	ended := rec.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected 1 ended span, got %d", len(ended))
	}
	if ended[0].Status().Code != codes.Error {
		t.Errorf("expected error status, got %v", ended[0].Status())
	}

	attrs := make(map[string]string)
	for _, kv := range ended[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs["error.class"] != "transient" || attrs["error.code"] != engine.ErrCodeThrottled {
		t.Errorf("unexpected error attributes %v", attrs)
	}
}
