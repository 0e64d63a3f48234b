package aspects

import (
	"github.com/openfroyo/synth/pkg/construct"
)

// MutationRecord describes one property change applied by a visitor.
type MutationRecord struct {
	Path    string `json:"path"`
	Key     string `json:"key"`
	Old     any    `json:"old"`
	New     any    `json:"new"`
	Role    Role   `json:"role"`
	Rule    string `json:"rule"`
	Visitor string `json:"visitor,omitempty"`
}

// Env is what a rule sees besides the node it patches.
type Env struct {
	// Role is the role the owning node matched.
	Role Role
	// Target is the visitor's configured target value.
	Target string
	// Context holds previously resolved context values by lookup name.
	Context map[string]any
}

// Rule decides whether a node must change and applies the change.
//
// Apply must be idempotent: once a node holds the target value, applying the
// rule again returns a nil record.
type Rule interface {
	Name() string
	Apply(target *construct.Node, env Env) (*MutationRecord, error)
}

// RuntimeRule overrides a string property when its current value is one of a
// known set of stale values. Values outside that set are left alone so that
// intentionally customized nodes are never clobbered.
type RuntimeRule struct {
	key   string
	stale map[string]struct{}
}

// NewRuntimeRule creates a rule patching the Runtime property.
func NewRuntimeRule(stale ...string) *RuntimeRule {
	return NewPropertyRule(construct.PropRuntime, stale...)
}

// NewPropertyRule creates a stale-value rule for an arbitrary property key.
func NewPropertyRule(key string, stale ...string) *RuntimeRule {
	r := &RuntimeRule{
		key:   key,
		stale: make(map[string]struct{}, len(stale)),
	}
	for _, s := range stale {
		r.stale[s] = struct{}{}
	}
	return r
}

// Name implements Rule.
func (r *RuntimeRule) Name() string {
	return "stale-" + r.key
}

// IsStale reports whether value is one of the rule's stale values.
func (r *RuntimeRule) IsStale(value string) bool {
	_, ok := r.stale[value]
	return ok
}

// Apply implements Rule.
func (r *RuntimeRule) Apply(target *construct.Node, env Env) (*MutationRecord, error) {
	current, ok := target.StringProperty(r.key)
	if !ok || current == env.Target || !r.IsStale(current) {
		return nil, nil
	}

	target.SetProperty(r.key, env.Target)
	return &MutationRecord{
		Path: target.Path(),
		Key:  r.key,
		Old:  current,
		New:  env.Target,
		Role: env.Role,
		Rule: r.Name(),
	}, nil
}
