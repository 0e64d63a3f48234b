package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/storage"
	"github.com/open-policy-agent/opa/v1/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/openfroyo/synth/pkg/construct"
	"github.com/openfroyo/synth/pkg/engine"
)

// Engine checks synthesized trees against Rego policies.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	store    storage.Store
	logger   zerolog.Logger
}

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	builtin    bool
	deprecated []string
}

// WithoutBuiltins skips the built-in policies.
func WithoutBuiltins() Option {
	return func(o *engineOptions) { o.builtin = false }
}

// WithDeprecatedRuntimes replaces the runtimes the built-in runtime policy
// rejects.
func WithDeprecatedRuntimes(runtimes []string) Option {
	return func(o *engineOptions) {
		if len(runtimes) > 0 {
			o.deprecated = runtimes
		}
	}
}

// NewEngine creates a new policy engine.
func NewEngine(ctx context.Context, logger zerolog.Logger, opts ...Option) (*Engine, error) {
	o := engineOptions{builtin: true, deprecated: DefaultDeprecatedRuntimes}
	for _, opt := range opts {
		opt(&o)
	}

	deprecated := make([]any, len(o.deprecated))
	for i, r := range o.deprecated {
		deprecated[i] = r
	}

	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		store: inmem.NewFromObject(map[string]any{
			"synth": map[string]any{"deprecated_runtimes": deprecated},
		}),
		logger: logger.With().Str("component", "policy-engine").Logger(),
	}

	if o.builtin {
		builtins := BuiltinPolicies()
		for i := range builtins {
			if err := e.compileAndStorePolicy(ctx, &builtins[i]); err != nil {
				return nil, fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
			}
		}
		e.logger.Debug().Int("count", len(builtins)).Msg("Built-in policies loaded")
	}

	return e, nil
}

// Evaluate checks the tree under root against every enabled policy.
func (e *Engine) Evaluate(ctx context.Context, root *construct.Node) (*Result, error) {
	startTime := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	input := BuildInput(root)
	result := &Result{EvaluatedPolicies: make([]string, 0, len(e.policies))}

	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, name)

		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).Str("policy", name).Msg("Policy evaluation failed")
			return nil, engine.NewPreconditionError(fmt.Sprintf("policy %s could not be evaluated", name), err).
				WithOperation("policy")
		}
		result.Violations = append(result.Violations, violations...)
	}

	sort.SliceStable(result.Violations, func(i, j int) bool {
		if result.Violations[i].Path != result.Violations[j].Path {
			return result.Violations[i].Path < result.Violations[j].Path
		}
		return result.Violations[i].Policy < result.Violations[j].Policy
	})

	result.Duration = time.Since(startTime)
	e.logger.Debug().
		Int("violations", len(result.Violations)).
		Dur("duration", result.Duration).
		Msg("Tree policy evaluation completed")

	return result, nil
}

// BuildInput flattens a tree into the policy input document.
func BuildInput(root *construct.Node) Input {
	var input Input
	_ = construct.Walk(root, func(n *construct.Node) error {
		ni := NodeInput{
			Path:       n.Path(),
			ID:         n.ID(),
			Type:       n.Type(),
			Properties: n.Properties(),
		}
		if p := n.Parent(); p != nil {
			ni.ParentType = p.Type()
		}
		input.Nodes = append(input.Nodes, ni)
		return nil
	})
	return input
}

// LoadPolicies loads and compiles policy files.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return engine.NewConfigurationError("failed to load policies", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range policies {
		if err := e.compileAndStorePolicy(ctx, &policies[i]); err != nil {
			e.logger.Error().Err(err).
				Str("policy", policies[i].Name).
				Msg("Failed to compile policy")
			return engine.NewConfigurationError(fmt.Sprintf("failed to compile policy %s", policies[i].Name), err).
				WithResource(policies[i].Source)
		}
	}

	e.logger.Debug().
		Int("count", len(policies)).
		Msg("Policies loaded successfully")

	return nil
}

// evaluatePolicy evaluates a single compiled policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input Input) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, createViolation(cp.policy, d))
		}
	}
	return violations, nil
}

// createViolation creates a Violation from a deny entry. Entries are either a
// message string or an object with message, path and an optional severity.
func createViolation(policy *Policy, result interface{}) Violation {
	violation := Violation{
		Policy:   policy.Name,
		Severity: policy.Severity,
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = Severity(sev)
		}
		if path, ok := v["path"].(string); ok {
			violation.Path = path
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// compileAndStorePolicy compiles a policy and stores it. The caller holds the
// write lock or owns the engine exclusively.
func (e *Engine) compileAndStorePolicy(ctx context.Context, policy *Policy) error {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	r := rego.New(
		rego.ParsedModule(module),
		rego.Store(e.store),
		rego.Query(module.Package.Path.String()+".deny"),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	if policy.Severity == "" {
		policy.Severity = SeverityWarning
	}
	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		query:    query,
		compiled: time.Now(),
	}

	e.logger.Debug().
		Str("policy", policy.Name).
		Msg("Policy compiled successfully")

	return nil
}

func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, engine.NewNotFoundError(fmt.Sprintf("policy not found: %s", name), nil)
	}

	return cp.policy, nil
}

// ListPolicies returns all loaded policies ordered by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		policies = append(policies, *e.policies[name].policy)
	}

	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return engine.NewNotFoundError(fmt.Sprintf("policy not found: %s", name), nil)
	}

	cp.policy.Enabled = enabled
	e.logger.Debug().Str("policy", name).Bool("enabled", enabled).Msg("Policy state changed")

	return nil
}
