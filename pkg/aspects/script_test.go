package aspects

import (
	"strings"
	"testing"
	"time"

	"github.com/openfroyo/synth/pkg/construct"
	"github.com/openfroyo/synth/pkg/engine"
)

const bumpScript = `
def mutate(props, target, context):
    current = props.get("Runtime")
    if current == None or not current.startswith("legacy"):
        return None
    return target
`

func TestScriptRuleMutates(t *testing.T) {
	rule, err := NewScriptRule("bump", construct.PropRuntime, bumpScript, 0)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if rule.Name() != "script:bump" {
		t.Errorf("unexpected name %s", rule.Name())
	}

	root := newRuleSetTree("legacy-8")
	v := NewVisitor("scripted", "current-20").AddRule(RoleManagedRuleSet, rule)

	records, err := v.Visit(root)
	if err != nil {
		t.Fatalf("visit failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %v", records)
	}
	if records[0].New != "current-20" || records[0].Old != "legacy-8" {
		t.Errorf("unexpected record %+v", records[0])
	}

	again, err := v.Visit(root)
	if err != nil {
		t.Fatalf("second visit failed: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("expected idempotent second visit, got %v", again)
	}
}

func TestScriptRuleUsesContext(t *testing.T) {
	src := `
def mutate(props, target, context):
    return context["zones"][0]
`
	rule, err := NewScriptRule("zone", "AvailabilityZone", src, 0)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}

	n := construct.NewRoot("Subnet", "AWS::EC2::Subnet")
	env := Env{Target: "", Context: map[string]any{"zones": []string{"us-east-1a", "us-east-1b"}}}
	rec, err := rule.Apply(n, env)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if rec == nil || rec.New != "us-east-1a" || rec.Old != nil {
		t.Errorf("unexpected record %+v", rec)
	}
	if got, _ := n.StringProperty("AvailabilityZone"); got != "us-east-1a" {
		t.Errorf("expected property to be set, got %q", got)
	}
}

func TestScriptRuleCompileErrors(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		source string
	}{
		{"syntax error", "Runtime", "def mutate(:"},
		{"missing entry point", "Runtime", "def other(props, target, context):\n    return None\n"},
		{"missing key", "", bumpScript},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewScriptRule("bad", tt.key, tt.source, 0)
			if !engine.IsConfiguration(err) {
				t.Errorf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestScriptRuleStaleGate(t *testing.T) {
	src := `
def mutate(props, target, context):
    return target
`
	tests := []struct {
		name    string
		current string
		stale   []string
		want    string
		mutated bool
	}{
		{"customized value kept", "python3.12", []string{"nodejs16.x"}, "python3.12", false},
		{"stale value replaced", "nodejs16.x", []string{"nodejs16.x"}, "nodejs20.x", true},
		{"no gate lets script decide", "python3.12", nil, "nodejs20.x", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, err := NewScriptRule("force", construct.PropRuntime, src, 0)
			if err != nil {
				t.Fatalf("compile failed: %v", err)
			}
			rule.WithStale(tt.stale...)

			n := construct.NewRoot("Fn", construct.TypeCfnFunction)
			n.SetProperty(construct.PropRuntime, tt.current)

			rec, err := rule.Apply(n, Env{Target: "nodejs20.x"})
			if err != nil {
				t.Fatalf("apply failed: %v", err)
			}
			if (rec != nil) != tt.mutated {
				t.Errorf("mutated = %v, want %v (record %+v)", rec != nil, tt.mutated, rec)
			}
			if got, _ := n.StringProperty(construct.PropRuntime); got != tt.want {
				t.Errorf("runtime = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestScriptRuleTimeout(t *testing.T) {
	src := `
def mutate(props, target, context):
    n = 0
    for i in range(1000000000):
        n += i
    return str(n)
`
	rule, err := NewScriptRule("spin", "Runtime", src, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}

	n := construct.NewRoot("Fn", construct.TypeCfnFunction)
	n.SetProperty(construct.PropRuntime, "legacy-8")

	_, err = rule.Apply(n, Env{Target: "current-20"})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(err.Error(), "timeout") {
		t.Errorf("expected timeout in error, got %v", err)
	}
	if got, _ := n.StringProperty(construct.PropRuntime); got != "legacy-8" {
		t.Errorf("timed out rule must not mutate, got %s", got)
	}
}
