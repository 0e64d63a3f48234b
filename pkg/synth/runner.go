package synth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/synth/pkg/aspects"
	"github.com/openfroyo/synth/pkg/config"
	"github.com/openfroyo/synth/pkg/construct"
	"github.com/openfroyo/synth/pkg/contextprovider"
	"github.com/openfroyo/synth/pkg/engine"
	"github.com/openfroyo/synth/pkg/policy"
	"github.com/openfroyo/synth/pkg/stores"
	"github.com/openfroyo/synth/pkg/telemetry"
)

// Runner executes synthesis passes for one project. A Runner is not safe for
// concurrent passes; the resolver cache is reset at the start of each.
type Runner struct {
	project    *config.Project
	loader     *config.TreeLoader
	resolver   *contextprovider.Resolver
	classifier *aspects.Classifier
	policies   *policy.Engine
	store      stores.Store
	tel        *telemetry.Telemetry
	out        io.Writer
}

// Option configures a Runner.
type Option func(*Runner)

// WithStore persists every pass.
func WithStore(s stores.Store) Option {
	return func(r *Runner) { r.store = s }
}

// WithPolicyEngine checks the mutated tree before it is rendered.
func WithPolicyEngine(e *policy.Engine) Option {
	return func(r *Runner) { r.policies = e }
}

// WithTelemetry sets the telemetry the passes report to.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(r *Runner) { r.tel = t }
}

// WithClassifier replaces the default classifier.
func WithClassifier(c *aspects.Classifier) Option {
	return func(r *Runner) { r.classifier = c }
}

// WithOutput sets where the rendered tree goes when the project has no output
// path. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(r *Runner) { r.out = w }
}

// NewRunner creates a runner.
func NewRunner(project *config.Project, resolver *contextprovider.Resolver, opts ...Option) *Runner {
	r := &Runner{
		project:  project,
		loader:   config.NewTreeLoader(),
		resolver: resolver,
		out:      os.Stdout,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.classifier == nil {
		r.classifier = aspects.DefaultClassifier()
	}
	if r.tel == nil {
		r.tel = telemetry.Nop()
	}
	return r
}

// Report describes a finished pass.
type Report struct {
	PassID     string
	Tree       *construct.Node
	Nodes      int
	Lookups    []LookupOutcome
	Mutations  []aspects.MutationRecord
	Violations []policy.Violation
	Output     []byte
	Digest     string
	Duration   time.Duration
}

// Run executes one pass: load the tree, resolve lookups, apply aspects, check
// policies, render and persist. The report is returned even when the pass
// fails, holding whatever was produced before the failure.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{PassID: uuid.NewString()}

	ctx = r.tel.WithContext(ctx)
	ctx = telemetry.WithPassContext(ctx, report.PassID)
	logger := telemetry.FromContext(ctx)

	recorded := r.beginPass(ctx, report, start)

	err := r.run(ctx, report)
	report.Duration = time.Since(start)

	if recorded {
		if perr := r.persist(ctx, report, err); perr != nil {
			logger.WithError(perr).Error("Failed to persist pass")
			if err == nil {
				err = perr
			}
		}
	}

	if err != nil {
		r.tel.Metrics.RecordError(string(engine.ClassOf(err)), errorCode(err))
		logger.WithError(err).Error("Synthesis pass failed")
	} else {
		logger.WithFields(map[string]interface{}{
			"nodes":      report.Nodes,
			"mutations":  len(report.Mutations),
			"violations": len(report.Violations),
			"duration":   report.Duration.String(),
		}).Info("Synthesis pass completed")
	}

	telemetry.EndPassContext(ctx, report.PassID, len(report.Mutations), report.Nodes, err)
	return report, err
}

func (r *Runner) run(ctx context.Context, report *Report) error {
	tree, err := r.loader.Load(r.project.TreeSources()...)
	if err != nil {
		return err
	}
	report.Tree = tree
	report.Nodes = construct.Count(tree)

	r.resolver.Reset()
	report.Lookups = ResolveLookups(ctx, r.resolver, r.project.Lookups, r.project.Environment, r.project.Settings.MaxParallelLookups)
	if err := r.checkLookups(ctx, report); err != nil {
		return err
	}

	set, err := r.BuildAspects(ContextValues(report.Lookups))
	if err != nil {
		return err
	}
	if err := r.applyAspects(ctx, set, report); err != nil {
		return err
	}

	if err := r.checkPolicies(ctx, report); err != nil {
		return err
	}

	return r.render(report)
}

func (r *Runner) checkLookups(ctx context.Context, report *Report) error {
	logger := telemetry.FromContext(ctx)

	var errs []error
	for _, o := range report.Lookups {
		if o.Result.OK() {
			continue
		}
		l := logger.WithLookup(o.Lookup.Name, o.Lookup.Kind)
		_ = r.tel.Events.PublishLookupFailed(report.PassID, o.Lookup.Name, string(o.Result.Outcome), o.Result.Diagnostic)

		if o.Tolerated() {
			l.Warnf("Optional lookup not found: %s", o.Result.Diagnostic)
			continue
		}
		l.WithError(o.Result.Err()).Error("Lookup failed")
		errs = append(errs, fmt.Errorf("lookup %s: %w", o.Lookup.Name, o.Result.Err()))
	}

	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		// the first failure keeps its class; the rest are listed
		return fmt.Errorf("%w (and %d more failed lookups: %v)", errs[0], len(errs)-1, errors.Join(errs[1:]...))
	}
}

// BuildAspects turns the project aspects into visitors. values are the
// resolved lookups by name.
func (r *Runner) BuildAspects(values map[string]any) (*aspects.Set, error) {
	set := aspects.NewSet()
	known := make(map[aspects.Role]bool)
	for _, role := range r.classifier.Roles() {
		known[role] = true
	}

	for _, a := range r.project.Aspects {
		target, err := aspectTarget(a, values)
		if err != nil {
			return nil, err
		}
		opts := []aspects.VisitorOption{
			aspects.WithClassifier(r.classifier),
			aspects.WithContextValues(values),
		}

		switch a.Type {
		case config.AspectRuntime:
			set.Add(aspects.NewRuntimeAspect(target, a.Stale, opts...))

		case config.AspectScript:
			src, err := r.project.ScriptSource(a)
			if err != nil {
				return nil, err
			}
			rule, err := aspects.NewScriptRule(a.Name, a.Key, src, a.Timeout)
			if err != nil {
				return nil, err
			}
			rule.WithStale(a.Stale...)
			v := aspects.NewVisitor(a.Name, target, opts...)
			for _, name := range a.Roles {
				role := aspects.Role(name)
				if !known[role] {
					return nil, engine.NewConfigurationError(fmt.Sprintf("aspect %s: unknown role %q", a.Name, name), nil).
						WithCode(engine.ErrCodeValidation)
				}
				v.AddRule(role, rule)
			}
			set.Add(v)

		default:
			return nil, engine.NewConfigurationError(fmt.Sprintf("aspect %s: unknown type %q", a.Name, a.Type), nil)
		}
	}
	return set, nil
}

func aspectTarget(a config.Aspect, values map[string]any) (string, error) {
	if a.TargetLookup == "" {
		return a.Target, nil
	}
	v, ok := values[a.TargetLookup]
	if !ok {
		return "", engine.NewPreconditionError(
			fmt.Sprintf("aspect %s: lookup %s has no value", a.Name, a.TargetLookup), nil).
			WithCode(engine.ErrCodeLookupFailed)
	}
	s, ok := v.(string)
	if !ok {
		return "", engine.NewConfigurationError(
			fmt.Sprintf("aspect %s: lookup %s resolved to %T, want a string", a.Name, a.TargetLookup, v), nil).
			WithCode(engine.ErrCodeValidation)
	}
	return s, nil
}

func (r *Runner) applyAspects(ctx context.Context, set *aspects.Set, report *Report) error {
	for _, v := range set.Visitors() {
		_, span := r.tel.Tracer.StartVisitorSpan(ctx, v.Name(), v.Target())
		logger := telemetry.FromContext(ctx).WithVisitor(v.Name())

		records, err := v.Visit(report.Tree)
		for _, rec := range records {
			telemetry.AddMutationEvent(span, rec.Path, rec.Key)
			r.tel.Metrics.RecordMutation(string(rec.Role), rec.Rule)
			_ = r.tel.Events.PublishMutation(report.PassID, rec.Path, rec.Key, rec.Old, rec.New)
			logger.WithNodePath(rec.Path).Debugf("%s: %v -> %v", rec.Key, rec.Old, rec.New)
		}
		report.Mutations = append(report.Mutations, records...)

		if err != nil {
			r.tel.Metrics.RecordVisitorError(v.Name(), string(engine.ClassOf(err)))
			telemetry.RecordError(span, err)
			span.End()
			return err
		}
		telemetry.RecordSuccess(span)
		span.End()
	}
	return nil
}

func (r *Runner) checkPolicies(ctx context.Context, report *Report) error {
	if r.policies == nil {
		return nil
	}

	pctx, span := r.tel.Tracer.StartPolicySpan(ctx, len(r.policies.ListPolicies()))
	defer span.End()

	result, err := r.policies.Evaluate(pctx, report.Tree)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	report.Violations = result.Violations

	for _, v := range result.Violations {
		r.tel.Metrics.RecordPolicyViolation(v.Policy, string(v.Severity))
		_ = r.tel.Events.PublishPolicyViolation(report.PassID, v.Path, v.Policy, v.Message, string(v.Severity))
	}

	failing := result.Failing(policy.Severity(r.project.Policies.FailOn))
	if len(failing) == 0 {
		telemetry.RecordSuccess(span)
		return nil
	}

	err = engine.NewPreconditionError(
		fmt.Sprintf("%d policy violations at or above %s: %s: %s", len(failing), r.project.Policies.FailOn, failing[0].Path, failing[0].Message), nil).
		WithCode(engine.ErrCodePolicyViolation).
		WithOperation("policy").
		WithDetail("policy", failing[0].Policy)
	telemetry.RecordError(span, err)
	return err
}

func (r *Runner) render(report *Report) error {
	out, err := construct.Render(report.Tree, r.project.Output.Format)
	if err != nil {
		return engine.NewConfigurationError("failed to render tree", err)
	}
	sum := sha256.Sum256(out)
	report.Output = out
	report.Digest = hex.EncodeToString(sum[:])

	if r.project.Output.Path == "" {
		if _, err := r.out.Write(out); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
		return nil
	}

	path := r.project.Resolve(r.project.Output.Path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

// beginPass reports whether a pass row exists to persist the outcome into.
func (r *Runner) beginPass(ctx context.Context, report *Report, start time.Time) bool {
	if r.store == nil {
		return false
	}
	err := r.store.CreatePass(ctx, &stores.Pass{
		ID:        report.PassID,
		Project:   r.project.Name,
		Status:    stores.PassStatusRunning,
		StartedAt: start,
	})
	if err != nil {
		telemetry.FromContext(ctx).WithError(err).Warn("Failed to record pass start, pass will not be persisted")
		return false
	}
	return true
}

func (r *Runner) persist(ctx context.Context, report *Report, passErr error) error {
	if r.store == nil {
		return nil
	}

	mutations := make([]stores.Mutation, 0, len(report.Mutations))
	for _, m := range report.Mutations {
		mutations = append(mutations, stores.Mutation{
			Visitor:  m.Visitor,
			NodePath: m.Path,
			Role:     string(m.Role),
			Rule:     m.Rule,
			Property: m.Key,
			OldValue: encodeValue(m.Old),
			NewValue: encodeValue(m.New),
		})
	}
	if err := r.store.RecordMutations(ctx, report.PassID, mutations); err != nil {
		return err
	}

	lookups := make([]stores.Lookup, 0, len(report.Lookups))
	for _, o := range report.Lookups {
		rec := stores.Lookup{
			Name:       o.Lookup.Name,
			Kind:       o.Lookup.Kind,
			QueryKey:   o.Query.Key(),
			Outcome:    string(o.Result.Outcome),
			Diagnostic: o.Result.Diagnostic,
			Cached:     o.Cached,
			DurationMS: o.Duration.Milliseconds(),
		}
		if o.Result.OK() {
			v := encodeValue(o.Result.Value)
			rec.Value = &v
		}
		lookups = append(lookups, rec)
	}
	if err := r.store.RecordLookups(ctx, report.PassID, lookups); err != nil {
		return err
	}

	summary := stores.PassSummary{
		Status:       stores.PassStatusCompleted,
		Nodes:        report.Nodes,
		Mutations:    len(report.Mutations),
		Violations:   len(report.Violations),
		OutputDigest: report.Digest,
	}
	if passErr != nil {
		msg := passErr.Error()
		summary.Status = stores.PassStatusFailed
		summary.Error = &msg
	}
	return r.store.CompletePass(ctx, report.PassID, summary)
}

func encodeValue(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%q", fmt.Sprint(v))
	}
	return string(data)
}

func errorCode(err error) string {
	var ee *engine.EngineError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}
