package aspects

import (
	"fmt"

	"github.com/openfroyo/synth/pkg/construct"
	"github.com/openfroyo/synth/pkg/engine"
)

// Role is the semantic role a node plays for the aspect engine.
// The set of roles is open; register new ones with Classifier.Register.
type Role string

const (
	// RoleResourceProvider is a custom resource provider backed by a single function.
	RoleResourceProvider Role = "ResourceProvider"

	// RoleRuleOrchestrator is a provider framework owning several invocation handlers.
	RoleRuleOrchestrator Role = "RuleOrchestrator"

	// RoleManagedRuleSet is a receipt rule set with a managed spam-filter function.
	RoleManagedRuleSet Role = "ManagedRuleSet"
)

// RoleSet is the ordered set of roles a node matched.
type RoleSet []Role

// Has reports whether the set contains role.
func (s RoleSet) Has(role Role) bool {
	for _, r := range s {
		if r == role {
			return true
		}
	}
	return false
}

// Matcher reports whether a node plays a role. It must not mutate the node.
type Matcher func(n *construct.Node) bool

// Shape resolves the nested nodes a role's rules operate on. A node that matched
// the role but does not have the expected shape yields a precondition error.
type Shape func(n *construct.Node) ([]*construct.Node, error)

// RoleSpec binds a role to the structural test that recognizes it and to the
// shape contract its rules rely on.
type RoleSpec struct {
	Role    Role
	Match   Matcher
	Targets Shape
}

// Classifier maps nodes to roles.
type Classifier struct {
	specs  []RoleSpec
	byRole map[Role]int
}

// NewClassifier creates a classifier with the given role specs.
func NewClassifier(specs ...RoleSpec) (*Classifier, error) {
	c := &Classifier{byRole: make(map[Role]int)}
	for _, spec := range specs {
		if err := c.Register(spec); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// DefaultClassifier returns a classifier that knows the built-in roles.
func DefaultClassifier() *Classifier {
	c, err := NewClassifier(BuiltinRoleSpecs()...)
	if err != nil {
		// built-in specs are unique
		panic(err)
	}
	return c
}

// Register adds a role spec. Roles must be unique.
func (c *Classifier) Register(spec RoleSpec) error {
	if spec.Role == "" {
		return fmt.Errorf("role name is required")
	}
	if spec.Match == nil || spec.Targets == nil {
		return fmt.Errorf("role %s: matcher and shape are required", spec.Role)
	}
	if _, exists := c.byRole[spec.Role]; exists {
		return fmt.Errorf("role %s already registered", spec.Role)
	}
	c.byRole[spec.Role] = len(c.specs)
	c.specs = append(c.specs, spec)
	return nil
}

// Roles returns the registered roles in registration order.
func (c *Classifier) Roles() []Role {
	roles := make([]Role, len(c.specs))
	for i, s := range c.specs {
		roles[i] = s.Role
	}
	return roles
}

// Classify returns every role n matches. It never fails; unmatched nodes
// yield an empty set.
func (c *Classifier) Classify(n *construct.Node) RoleSet {
	var roles RoleSet
	for _, s := range c.specs {
		if s.Match(n) {
			roles = append(roles, s.Role)
		}
	}
	return roles
}

// Targets resolves the shape contract of role against n.
func (c *Classifier) Targets(n *construct.Node, role Role) ([]*construct.Node, error) {
	i, ok := c.byRole[role]
	if !ok {
		return nil, engine.NewConfigurationError(fmt.Sprintf("unknown role %s", role), nil).
			WithResource(n.Path())
	}
	return c.specs[i].Targets(n)
}

// BuiltinRoleSpecs returns the role specs for the node kinds that carry a
// managed function runtime.
func BuiltinRoleSpecs() []RoleSpec {
	return []RoleSpec{
		{
			Role:    RoleResourceProvider,
			Match:   typeIs(construct.TypeCustomResourceProvider),
			Targets: resourceProviderTargets,
		},
		{
			Role:    RoleRuleOrchestrator,
			Match:   typeIs(construct.TypeProvider),
			Targets: orchestratorTargets,
		},
		{
			Role: RoleManagedRuleSet,
			Match: func(n *construct.Node) bool {
				if n.Type() != construct.TypeReceiptRuleSet {
					return false
				}
				_, ok := n.FindChild(dropSpamID)
				return ok
			},
			Targets: managedRuleSetTargets,
		},
	}
}

const (
	dropSpamID         = "DropSpam"
	dropSpamFunctionID = "Function"

	// HandlerOnEvent is the framework handler every orchestrator owns.
	HandlerOnEvent = "framework-onEvent"
	// HandlerIsComplete is present when the orchestrator polls for completion.
	HandlerIsComplete = "framework-isComplete"
	// HandlerOnTimeout is present together with HandlerIsComplete.
	HandlerOnTimeout = "framework-onTimeout"
)

func typeIs(typ string) Matcher {
	return func(n *construct.Node) bool {
		return n.Type() == typ
	}
}

// cfnFunctionOf returns the first child of n that is a function template resource.
func cfnFunctionOf(n *construct.Node) (*construct.Node, bool) {
	for _, c := range n.Children() {
		if c.IsCfnResource() && c.Type() == construct.TypeCfnFunction {
			return c, true
		}
	}
	return nil, false
}

func isFunction(n *construct.Node) bool {
	return n.Type() == construct.TypeFunction || n.Type() == construct.TypeSingletonFunction
}

func shapeError(n *construct.Node, role Role, format string, args ...any) error {
	return engine.NewPreconditionError(fmt.Sprintf(format, args...), nil).
		WithResource(n.Path()).
		WithDetail("role", string(role))
}

func resourceProviderTargets(n *construct.Node) ([]*construct.Node, error) {
	fn, ok := cfnFunctionOf(n)
	if !ok {
		return nil, shapeError(n, RoleResourceProvider,
			"resource provider has no %s child", construct.TypeCfnFunction)
	}
	return []*construct.Node{fn}, nil
}

func orchestratorTargets(n *construct.Node) ([]*construct.Node, error) {
	ev, ok := n.FindChild(HandlerOnEvent)
	if !ok {
		return nil, shapeError(n, RoleRuleOrchestrator, "orchestrator has no %s handler", HandlerOnEvent)
	}
	if !isFunction(ev) {
		return nil, shapeError(n, RoleRuleOrchestrator, "%s handler is %s, expected a function",
			HandlerOnEvent, ev.Type())
	}

	var targets []*construct.Node
	for _, c := range n.Children() {
		if !isFunction(c) {
			continue
		}
		fn, ok := cfnFunctionOf(c)
		if !ok {
			return nil, shapeError(n, RoleRuleOrchestrator,
				"handler %s has no %s child", c.ID(), construct.TypeCfnFunction)
		}
		targets = append(targets, fn)
	}
	return targets, nil
}

func managedRuleSetTargets(n *construct.Node) ([]*construct.Node, error) {
	drop, ok := n.FindChild(dropSpamID)
	if !ok {
		return nil, shapeError(n, RoleManagedRuleSet, "rule set has no %s rule", dropSpamID)
	}
	fn, ok := drop.FindChild(dropSpamFunctionID)
	if !ok {
		return nil, shapeError(n, RoleManagedRuleSet, "%s rule has no %s child", dropSpamID, dropSpamFunctionID)
	}
	if fn.Type() != construct.TypeCfnFunction {
		return nil, shapeError(n, RoleManagedRuleSet, "%s/%s is %s, expected %s",
			dropSpamID, dropSpamFunctionID, fn.Type(), construct.TypeCfnFunction)
	}
	return []*construct.Node{fn}, nil
}
