package contextprovider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/synth/pkg/engine"
	"github.com/openfroyo/synth/pkg/telemetry"
)

// DefaultTimeout bounds a single plugin call.
const DefaultTimeout = 30 * time.Second

// Resolver validates queries, dispatches them to plugins by kind and memoizes
// the results in a pass-scoped Cache. It is the only entry point callers
// should use to resolve context values.
type Resolver struct {
	registry *Registry
	cache    *Cache
	validate *validator.Validate
	timeout  time.Duration
	logger   zerolog.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTimeout sets the per-call timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.timeout = d }
}

// WithCache shares an existing cache.
func WithCache(c *Cache) Option {
	return func(r *Resolver) { r.cache = c }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

// WithMetrics records lookup metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// WithTracer wraps lookups in spans.
func WithTracer(t *telemetry.Tracer) Option {
	return func(r *Resolver) { r.tracer = t }
}

// NewResolver creates a resolver over registry.
func NewResolver(registry *Registry, opts ...Option) *Resolver {
	r := &Resolver{
		registry: registry,
		validate: validator.New(),
		timeout:  DefaultTimeout,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cache == nil {
		r.cache = NewCache()
	}
	return r
}

// Cache returns the resolver's cache.
func (r *Resolver) Cache() *Cache {
	return r.cache
}

// Reset clears the cache. Call it at the start of every pass.
func (r *Resolver) Reset() {
	r.cache.Reset()
}

// Resolve returns the result for q. Malformed queries fail with a
// configuration error before any plugin is invoked and are not cached.
func (r *Resolver) Resolve(ctx context.Context, q Query) Result {
	start := time.Now()

	plugin, res, ok := r.check(q)
	if !ok {
		r.observe(q, res, false, time.Since(start))
		return res
	}

	lookup := r.withTimeout(plugin)
	if r.tracer != nil {
		inner := lookup
		lookup = func(ctx context.Context, q Query) Result {
			ctx, span := r.tracer.StartLookupSpan(ctx, q.Kind, q.String())
			defer span.End()
			res := inner(ctx, q)
			span.SetAttributes(telemetry.AttrLookupOutcome.String(string(res.Outcome)))
			if err := res.Err(); err != nil {
				telemetry.RecordError(span, err)
			}
			return res
		}
	}

	res, cached := r.cache.getOrResolve(ctx, q, lookup)
	r.observe(q, res, cached, time.Since(start))
	return res
}

// ResolveAll resolves queries concurrently with at most parallel calls in
// flight. Results are returned in query order. Identical queries still cost one
// remote call.
func (r *Resolver) ResolveAll(ctx context.Context, queries []Query, parallel int) []Result {
	results := make([]Result, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for i, q := range queries {
		g.Go(func() error {
			results[i] = r.Resolve(gctx, q)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// check validates q and finds its plugin.
func (r *Resolver) check(q Query) (Plugin, Result, bool) {
	if err := r.validate.Struct(q); err != nil {
		return nil, ConfigurationError(fmt.Sprintf("invalid context query %s: %s", q, describeValidation(err))).
			withCode(engine.ErrCodeValidation), false
	}

	plugin, ok := r.registry.Get(q.Kind)
	if !ok {
		return nil, ConfigurationError(fmt.Sprintf("no context provider for kind %q (known: %s)",
			q.Kind, strings.Join(r.registry.Kinds(), ", "))).
			withCode(engine.ErrCodeUnknownProvider), false
	}

	var missing []string
	for _, name := range plugin.RequiredParams() {
		if _, ok := q.Param(name); !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, ConfigurationError(fmt.Sprintf("%s must be provided for the %s context provider",
			strings.Join(missing, ", "), q.Kind)).
			withCode(engine.ErrCodeMissingParameter), false
	}

	return plugin, Result{}, true
}

// withTimeout bounds plugin.Lookup. The plugin runs on its own goroutine so
// that a plugin ignoring ctx cannot block the caller past the deadline.
func (r *Resolver) withTimeout(plugin Plugin) func(context.Context, Query) Result {
	if r.timeout <= 0 {
		return plugin.Lookup
	}
	timeout := r.timeout
	return func(ctx context.Context, q Query) Result {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		done := make(chan Result, 1)
		go func() {
			done <- plugin.Lookup(ctx, q)
		}()

		select {
		case res := <-done:
			return res
		case <-ctx.Done():
			if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return TransientFailure(fmt.Sprintf("context lookup %s cancelled", q), ctx.Err()).
					withCode(engine.ErrCodeCanceled)
			}
			return TransientFailure(fmt.Sprintf("context lookup %s timed out after %v", q, timeout), ctx.Err()).
				withCode(engine.ErrCodeTimeout)
		}
	}
}

func (r *Resolver) observe(q Query, res Result, cached bool, d time.Duration) {
	r.metrics.RecordLookup(q.Kind, string(res.Outcome), cached, d)

	ev := r.logger.Debug()
	if !res.OK() {
		ev = r.logger.Warn().Str("diagnostic", res.Diagnostic)
	}
	ev.Str("kind", q.Kind).
		Str("query", q.String()).
		Str("outcome", string(res.Outcome)).
		Bool("cached", cached).
		Dur("duration", d).
		Msg("Context lookup")
}

func describeValidation(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, strings.ToLower(fe.Field())+" is "+fe.Tag())
	}
	return strings.Join(fields, ", ")
}
