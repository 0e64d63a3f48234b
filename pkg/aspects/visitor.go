package aspects

import (
	"errors"
	"fmt"

	"github.com/openfroyo/synth/pkg/construct"
	"github.com/openfroyo/synth/pkg/engine"
)

// Visitor walks a tree once and applies the rules registered for every role
// a node matches.
type Visitor struct {
	name       string
	target     string
	classifier *Classifier
	rules      map[Role][]Rule
	context    map[string]any
}

// VisitorOption configures a Visitor.
type VisitorOption func(*Visitor)

// WithClassifier replaces the default classifier.
func WithClassifier(c *Classifier) VisitorOption {
	return func(v *Visitor) {
		v.classifier = c
	}
}

// WithContextValues exposes resolved context values to the visitor's rules.
func WithContextValues(values map[string]any) VisitorOption {
	return func(v *Visitor) {
		v.context = values
	}
}

// NewVisitor creates a visitor that applies its rules with the given target value.
func NewVisitor(name, target string, opts ...VisitorOption) *Visitor {
	v := &Visitor{
		name:   name,
		target: target,
		rules:  make(map[Role][]Rule),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.classifier == nil {
		v.classifier = DefaultClassifier()
	}
	return v
}

// NewRuntimeAspect returns a visitor that moves every managed function whose
// runtime is one of stale to target.
func NewRuntimeAspect(target string, stale []string, opts ...VisitorOption) *Visitor {
	v := NewVisitor("runtime:"+target, target, opts...)
	rule := NewRuntimeRule(stale...)
	for _, role := range []Role{RoleResourceProvider, RoleRuleOrchestrator, RoleManagedRuleSet} {
		v.AddRule(role, rule)
	}
	return v
}

// Name returns the visitor name used in mutation records.
func (v *Visitor) Name() string {
	return v.name
}

// Target returns the value the visitor's rules move nodes to.
func (v *Visitor) Target() string {
	return v.target
}

// AddRule registers rule for role.
func (v *Visitor) AddRule(role Role, rule Rule) *Visitor {
	v.rules[role] = append(v.rules[role], rule)
	return v
}

// Roles returns the roles that have at least one rule.
func (v *Visitor) Roles() []Role {
	var roles []Role
	for _, r := range v.classifier.Roles() {
		if len(v.rules[r]) > 0 {
			roles = append(roles, r)
		}
	}
	return roles
}

// Visit traverses the tree rooted at root, mutating matched nodes in place, and
// returns the applied mutations.
//
// A precondition failure halts the traversal immediately. Mutations applied
// before the failure are kept and returned alongside the error.
func (v *Visitor) Visit(root *construct.Node) ([]MutationRecord, error) {
	var records []MutationRecord

	err := construct.Walk(root, func(n *construct.Node) error {
		for _, role := range v.classifier.Classify(n) {
			rules := v.rules[role]
			if len(rules) == 0 {
				continue
			}

			targets, err := v.classifier.Targets(n, role)
			if err != nil {
				return err
			}

			env := Env{Role: role, Target: v.target, Context: v.context}
			for _, t := range targets {
				for _, rule := range rules {
					rec, err := rule.Apply(t, env)
					if err != nil {
						return fmt.Errorf("rule %s on %s: %w", rule.Name(), t.Path(), err)
					}
					if rec != nil {
						rec.Visitor = v.name
						records = append(records, *rec)
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		var ee *engine.EngineError
		if errors.As(err, &ee) && ee.Operation == "" {
			ee.WithOperation("visit:" + v.name)
		}
		return records, err
	}

	return records, nil
}

// Set is the explicit list of visitors registered against one tree root.
type Set struct {
	visitors []*Visitor
}

// NewSet creates a set with the given visitors.
func NewSet(visitors ...*Visitor) *Set {
	return &Set{visitors: visitors}
}

// Add appends visitors to the set.
func (s *Set) Add(visitors ...*Visitor) {
	s.visitors = append(s.visitors, visitors...)
}

// Visitors returns the registered visitors.
func (s *Set) Visitors() []*Visitor {
	out := make([]*Visitor, len(s.visitors))
	copy(out, s.visitors)
	return out
}

// Len returns the number of registered visitors.
func (s *Set) Len() int {
	return len(s.visitors)
}

// Apply runs every visitor against root in registration order. It stops at the
// first failing visitor and returns the records collected so far.
func (s *Set) Apply(root *construct.Node) ([]MutationRecord, error) {
	var all []MutationRecord
	for _, v := range s.visitors {
		records, err := v.Visit(root)
		all = append(all, records...)
		if err != nil {
			return all, err
		}
	}
	return all, nil
}
