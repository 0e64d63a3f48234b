package aspects

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/openfroyo/synth/pkg/construct"
	"github.com/openfroyo/synth/pkg/engine"
)

// fakeRule records every node it is applied to.
type fakeRule struct {
	name  string
	calls []string
	roles []Role
	err   error
}

func (f *fakeRule) Name() string { return f.name }

func (f *fakeRule) Apply(target *construct.Node, env Env) (*MutationRecord, error) {
	f.calls = append(f.calls, target.Path())
	f.roles = append(f.roles, env.Role)
	return nil, f.err
}

func newRuleSetTree(runtime string) *construct.Node {
	root := construct.NewRoot("App", construct.TypeApp)
	stack := construct.MustNew(root, "Stack", construct.TypeStack)
	rs := construct.MustNew(stack, "RuleSet", construct.TypeReceiptRuleSet)
	drop := construct.MustNew(rs, "DropSpam", construct.TypeReceiptRule)
	fn := construct.MustNew(drop, "Function", construct.TypeCfnFunction)
	fn.SetProperty(construct.PropRuntime, runtime)
	return root
}

func addFunction(parent *construct.Node, id, runtime string) *construct.Node {
	fn := construct.MustNew(parent, id, construct.TypeFunction)
	res := construct.MustNew(fn, "Resource", construct.TypeCfnFunction)
	res.SetProperty(construct.PropRuntime, runtime)
	return res
}

func newMixedTree() *construct.Node {
	root := construct.NewRoot("App", construct.TypeApp)
	stack := construct.MustNew(root, "Stack", construct.TypeStack)

	crp := construct.MustNew(stack, "CustomProvider", construct.TypeCustomResourceProvider)
	handler := construct.MustNew(crp, "Handler", construct.TypeCfnFunction)
	handler.SetProperty(construct.PropRuntime, "nodejs16.x")
	construct.MustNew(crp, "Role", "AWS::IAM::Role")

	provider := construct.MustNew(stack, "Provider", construct.TypeProvider)
	addFunction(provider, HandlerOnEvent, "nodejs16.x")
	addFunction(provider, HandlerIsComplete, "nodejs16.x")
	addFunction(provider, HandlerOnTimeout, "python3.12")

	rs := construct.MustNew(stack, "RuleSet", construct.TypeReceiptRuleSet)
	drop := construct.MustNew(rs, "DropSpam", construct.TypeReceiptRule)
	fn := construct.MustNew(drop, "Function", construct.TypeCfnFunction)
	fn.SetProperty(construct.PropRuntime, "nodejs18.x")

	// A user function outside any managed role keeps its runtime.
	addFunction(stack, "UserFunction", "nodejs16.x")
	return root
}

func TestManagedRuleSetScenario(t *testing.T) {
	root := newRuleSetTree("legacy-8")
	v := NewRuntimeAspect("current-20", []string{"legacy-8"})

	records, err := v.Visit(root)
	if err != nil {
		t.Fatalf("visit failed: %v", err)
	}

	want := []MutationRecord{{
		Path:    "App/Stack/RuleSet/DropSpam/Function",
		Key:     construct.PropRuntime,
		Old:     "legacy-8",
		New:     "current-20",
		Role:    RoleManagedRuleSet,
		Rule:    "stale-Runtime",
		Visitor: "runtime:current-20",
	}}
	if diff := cmp.Diff(want, records); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}

	fn, _ := root.FindPath("Stack/RuleSet/DropSpam/Function")
	if got, _ := fn.StringProperty(construct.PropRuntime); got != "current-20" {
		t.Errorf("expected runtime current-20, got %s", got)
	}

	again, err := v.Visit(root)
	if err != nil {
		t.Fatalf("second visit failed: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("expected no records on second visit, got %v", again)
	}
}

func TestRuntimeAspectMixedTree(t *testing.T) {
	root := newMixedTree()
	v := NewRuntimeAspect("nodejs20.x", []string{"nodejs16.x", "nodejs18.x"})

	records, err := v.Visit(root)
	if err != nil {
		t.Fatalf("visit failed: %v", err)
	}

	var paths []string
	for _, r := range records {
		paths = append(paths, r.Path)
	}
	want := []string{
		"App/Stack/CustomProvider/Handler",
		"App/Stack/Provider/framework-onEvent/Resource",
		"App/Stack/Provider/framework-isComplete/Resource",
		"App/Stack/RuleSet/DropSpam/Function",
	}
	if diff := cmp.Diff(want, paths); diff != "" {
		t.Errorf("patched paths mismatch (-want +got):\n%s", diff)
	}

	timeout, _ := root.FindPath("Stack/Provider/framework-onTimeout/Resource")
	if got, _ := timeout.StringProperty(construct.PropRuntime); got != "python3.12" {
		t.Errorf("customized runtime was clobbered: %s", got)
	}
	user, _ := root.FindPath("Stack/UserFunction/Resource")
	if got, _ := user.StringProperty(construct.PropRuntime); got != "nodejs16.x" {
		t.Errorf("unmanaged function was patched: %s", got)
	}
}

func TestVisitIdempotentAcrossVisitors(t *testing.T) {
	root := newMixedTree()
	set := NewSet(
		NewRuntimeAspect("nodejs20.x", []string{"nodejs16.x"}),
		NewRuntimeAspect("nodejs22.x", []string{"nodejs18.x"}),
	)

	first, err := set.Apply(root)
	if err != nil {
		t.Fatalf("first apply failed: %v", err)
	}
	if len(first) != 4 {
		t.Fatalf("expected 4 records, got %d: %v", len(first), first)
	}
	before := construct.Snap(root)

	second, err := set.Apply(root)
	if err != nil {
		t.Fatalf("second apply failed: %v", err)
	}
	if len(second) != 0 {
		t.Errorf("expected empty second pass, got %v", second)
	}
	if diff := cmp.Diff(before, construct.Snap(root)); diff != "" {
		t.Errorf("second pass changed tree (-first +second):\n%s", diff)
	}
}

func TestRoleExclusivity(t *testing.T) {
	root := newMixedTree()
	provider := &fakeRule{name: "provider"}
	ruleSet := &fakeRule{name: "rule-set"}

	v := NewVisitor("probe", "x").
		AddRule(RoleResourceProvider, provider).
		AddRule(RoleManagedRuleSet, ruleSet)

	if _, err := v.Visit(root); err != nil {
		t.Fatalf("visit failed: %v", err)
	}

	if diff := cmp.Diff([]string{"App/Stack/CustomProvider/Handler"}, provider.calls); diff != "" {
		t.Errorf("provider rule calls (-want +got):\n%s", diff)
	}
	for _, r := range provider.roles {
		if r != RoleResourceProvider {
			t.Errorf("provider rule invoked for role %s", r)
		}
	}
	if diff := cmp.Diff([]string{"App/Stack/RuleSet/DropSpam/Function"}, ruleSet.calls); diff != "" {
		t.Errorf("rule-set rule calls (-want +got):\n%s", diff)
	}
	for _, r := range ruleSet.roles {
		if r != RoleManagedRuleSet {
			t.Errorf("rule-set rule invoked for role %s", r)
		}
	}
}

func TestShapeDriftHaltsVisitor(t *testing.T) {
	root := construct.NewRoot("App", construct.TypeApp)
	stack := construct.MustNew(root, "Stack", construct.TypeStack)

	first := construct.MustNew(stack, "First", construct.TypeCustomResourceProvider)
	h := construct.MustNew(first, "Handler", construct.TypeCfnFunction)
	h.SetProperty(construct.PropRuntime, "nodejs16.x")

	provider := construct.MustNew(stack, "Provider", construct.TypeProvider)
	addFunction(provider, HandlerOnEvent, "nodejs16.x")
	// handler without its template resource
	construct.MustNew(provider, HandlerIsComplete, construct.TypeFunction)

	last := construct.MustNew(stack, "Last", construct.TypeCustomResourceProvider)
	lh := construct.MustNew(last, "Handler", construct.TypeCfnFunction)
	lh.SetProperty(construct.PropRuntime, "nodejs16.x")

	v := NewRuntimeAspect("nodejs20.x", []string{"nodejs16.x"})
	records, err := v.Visit(root)
	if err == nil {
		t.Fatal("expected precondition error")
	}
	if !engine.IsPreconditionUnmet(err) {
		t.Fatalf("expected precondition error, got %v", err)
	}

	var ee *engine.EngineError
	if !errors.As(err, &ee) || ee.Resource != "App/Stack/Provider" {
		t.Errorf("expected error to name the orchestrator, got %v", err)
	}

	// the provider visited before the failure stays patched
	if len(records) != 1 || records[0].Path != "App/Stack/First/Handler" {
		t.Errorf("expected the earlier mutation to be returned, got %v", records)
	}
	// traversal halted before the last provider
	if got, _ := lh.StringProperty(construct.PropRuntime); got != "nodejs16.x" {
		t.Errorf("expected traversal to halt, but Last was patched to %s", got)
	}
}

func TestShapeContracts(t *testing.T) {
	tests := []struct {
		name  string
		build func() *construct.Node
	}{
		{
			name: "resource provider without function",
			build: func() *construct.Node {
				root := construct.NewRoot("App", construct.TypeApp)
				crp := construct.MustNew(root, "P", construct.TypeCustomResourceProvider)
				construct.MustNew(crp, "Role", "AWS::IAM::Role")
				return root
			},
		},
		{
			name: "orchestrator without onEvent handler",
			build: func() *construct.Node {
				root := construct.NewRoot("App", construct.TypeApp)
				p := construct.MustNew(root, "P", construct.TypeProvider)
				addFunction(p, HandlerIsComplete, "nodejs16.x")
				return root
			},
		},
		{
			name: "onEvent handler of the wrong type",
			build: func() *construct.Node {
				root := construct.NewRoot("App", construct.TypeApp)
				p := construct.MustNew(root, "P", construct.TypeProvider)
				ev := construct.MustNew(p, HandlerOnEvent, "core.Resource")
				fn := construct.MustNew(ev, "Resource", construct.TypeCfnFunction)
				fn.SetProperty(construct.PropRuntime, "nodejs16.x")
				return root
			},
		},
		{
			name: "drop spam rule without function",
			build: func() *construct.Node {
				root := construct.NewRoot("App", construct.TypeApp)
				rs := construct.MustNew(root, "RS", construct.TypeReceiptRuleSet)
				construct.MustNew(rs, "DropSpam", construct.TypeReceiptRule)
				return root
			},
		},
		{
			name: "drop spam function of the wrong type",
			build: func() *construct.Node {
				root := construct.NewRoot("App", construct.TypeApp)
				rs := construct.MustNew(root, "RS", construct.TypeReceiptRuleSet)
				drop := construct.MustNew(rs, "DropSpam", construct.TypeReceiptRule)
				construct.MustNew(drop, "Function", construct.TypeSingletonFunction)
				return root
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewRuntimeAspect("nodejs20.x", []string{"nodejs16.x"})
			_, err := v.Visit(tt.build())
			if !engine.IsPreconditionUnmet(err) {
				t.Errorf("expected precondition error, got %v", err)
			}
		})
	}
}

func TestRuleSetWithoutDropSpamIsNotClassified(t *testing.T) {
	root := construct.NewRoot("App", construct.TypeApp)
	rs := construct.MustNew(root, "RS", construct.TypeReceiptRuleSet)
	construct.MustNew(rs, "Rule0", construct.TypeReceiptRule)

	c := DefaultClassifier()
	if roles := c.Classify(rs); len(roles) != 0 {
		t.Errorf("expected no roles, got %v", roles)
	}
	if roles := c.Classify(root); len(roles) != 0 {
		t.Errorf("expected no roles for app, got %v", roles)
	}

	records, err := NewRuntimeAspect("nodejs20.x", []string{"nodejs16.x"}).Visit(root)
	if err != nil || len(records) != 0 {
		t.Errorf("expected clean no-op visit, got %v, %v", records, err)
	}
}

func TestClassifierExtension(t *testing.T) {
	c := DefaultClassifier()
	err := c.Register(RoleSpec{
		Role:  "Function",
		Match: typeIs(construct.TypeFunction),
		Targets: func(n *construct.Node) ([]*construct.Node, error) {
			fn, ok := cfnFunctionOf(n)
			if !ok {
				return nil, nil
			}
			return []*construct.Node{fn}, nil
		},
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := c.Register(RoleSpec{Role: "Function", Match: typeIs("x"), Targets: resourceProviderTargets}); err == nil {
		t.Error("expected duplicate role registration to fail")
	}
	if err := c.Register(RoleSpec{Role: "Incomplete"}); err == nil {
		t.Error("expected incomplete spec to fail")
	}

	root := newMixedTree()
	v := NewVisitor("functions", "nodejs20.x", WithClassifier(c)).
		AddRule("Function", NewRuntimeRule("nodejs16.x"))

	records, err := v.Visit(root)
	if err != nil {
		t.Fatalf("visit failed: %v", err)
	}
	// onEvent, isComplete and UserFunction; onTimeout is not stale
	if len(records) != 3 {
		t.Errorf("expected 3 records, got %d: %v", len(records), records)
	}
	if diff := cmp.Diff([]Role{"Function"}, v.Roles()); diff != "" {
		t.Errorf("roles mismatch (-want +got):\n%s", diff)
	}
}

func TestRuntimeRuleLeavesNonStaleValues(t *testing.T) {
	rule := NewRuntimeRule("nodejs16.x")
	n := construct.NewRoot("Fn", construct.TypeCfnFunction)

	tests := []struct {
		name    string
		current any
		target  string
		want    bool
	}{
		{"stale", "nodejs16.x", "nodejs20.x", true},
		{"already target", "nodejs20.x", "nodejs20.x", false},
		{"customized", "python3.12", "nodejs20.x", false},
		{"non-string", 42, "nodejs20.x", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n.SetProperty(construct.PropRuntime, tt.current)
			rec, err := rule.Apply(n, Env{Target: tt.target})
			if err != nil {
				t.Fatalf("apply failed: %v", err)
			}
			if (rec != nil) != tt.want {
				t.Errorf("expected mutation=%v, got %v", tt.want, rec)
			}
		})
	}

	fresh := construct.NewRoot("NoRuntime", construct.TypeCfnFunction)
	if rec, _ := rule.Apply(fresh, Env{Target: "nodejs20.x"}); rec != nil {
		t.Errorf("expected no mutation for node without runtime, got %v", rec)
	}
}

func TestRuleErrorPropagates(t *testing.T) {
	root := newMixedTree()
	boom := errors.New("boom")
	v := NewVisitor("failing", "x").AddRule(RoleResourceProvider, &fakeRule{name: "fail", err: boom})

	_, err := v.Visit(root)
	if !errors.Is(err, boom) {
		t.Errorf("expected rule error to propagate, got %v", err)
	}
}
