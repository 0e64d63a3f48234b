package aspects

import (
	"fmt"
	"reflect"
	"sort"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openfroyo/synth/pkg/construct"
	"github.com/openfroyo/synth/pkg/engine"
)

// ScriptEntryPoint is the function a rule script must define:
//
//	def mutate(props, target, context):
//	    return new_value or None
const ScriptEntryPoint = "mutate"

// ScriptRule is a mutation rule written in Starlark. The script decides the new
// value of one property; returning None or the current value is a no-op.
// Without a stale set the script alone decides which values it may replace.
type ScriptRule struct {
	name    string
	key     string
	timeout time.Duration
	mutate  *starlark.Function
	stale   map[string]struct{}
}

// NewScriptRule compiles source and checks that it defines the entry point.
func NewScriptRule(name, key, source string, timeout time.Duration) (*ScriptRule, error) {
	if key == "" {
		return nil, engine.NewConfigurationError(fmt.Sprintf("script rule %s: property key is required", name), nil)
	}
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	thread := &starlark.Thread{
		Name: "rule:" + name,
		Print: func(_ *starlark.Thread, msg string) {
			// scripts have no side channel
		},
	}
	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
	}

	globals, err := starlark.ExecFile(thread, name+".star", source, predeclared)
	if err != nil {
		return nil, engine.NewConfigurationError(fmt.Sprintf("script rule %s failed to load", name), err).
			WithCode(engine.ErrCodeRuleFailed)
	}
	globals.Freeze()

	fn, ok := globals[ScriptEntryPoint].(*starlark.Function)
	if !ok {
		return nil, engine.NewConfigurationError(
			fmt.Sprintf("script rule %s must define %s(props, target, context)", name, ScriptEntryPoint), nil).
			WithCode(engine.ErrCodeRuleFailed)
	}

	return &ScriptRule{
		name:    name,
		key:     key,
		timeout: timeout,
		mutate:  fn,
	}, nil
}

// WithStale restricts the rule to targets whose current value is one of values.
// Other targets never reach the script.
func (r *ScriptRule) WithStale(values ...string) *ScriptRule {
	if len(values) == 0 {
		r.stale = nil
		return r
	}
	r.stale = make(map[string]struct{}, len(values))
	for _, v := range values {
		r.stale[v] = struct{}{}
	}
	return r
}

// Name implements Rule.
func (r *ScriptRule) Name() string {
	return "script:" + r.name
}

// Apply implements Rule.
func (r *ScriptRule) Apply(target *construct.Node, env Env) (*MutationRecord, error) {
	if r.stale != nil {
		current, _ := target.StringProperty(r.key)
		if _, ok := r.stale[current]; !ok {
			return nil, nil
		}
	}

	props, err := toStarlarkValue(target.Properties())
	if err != nil {
		return nil, r.fail(target, err)
	}
	context, err := toStarlarkValue(env.Context)
	if err != nil {
		return nil, r.fail(target, err)
	}

	thread := &starlark.Thread{
		Name:  "rule:" + r.name,
		Print: func(_ *starlark.Thread, msg string) {},
	}
	timer := time.AfterFunc(r.timeout, func() {
		thread.Cancel(fmt.Sprintf("execution timeout after %v", r.timeout))
	})
	defer timer.Stop()

	args := starlark.Tuple{props, starlark.String(env.Target), context}
	out, err := starlark.Call(thread, r.mutate, args, nil)
	if err != nil {
		return nil, r.fail(target, err)
	}

	next, err := fromStarlarkValue(out)
	if err != nil {
		return nil, r.fail(target, err)
	}
	if next == nil {
		return nil, nil
	}

	current, _ := target.Property(r.key)
	if reflect.DeepEqual(normalize(current), next) {
		return nil, nil
	}

	target.SetProperty(r.key, next)
	return &MutationRecord{
		Path: target.Path(),
		Key:  r.key,
		Old:  current,
		New:  next,
		Role: env.Role,
		Rule: r.Name(),
	}, nil
}

func (r *ScriptRule) fail(target *construct.Node, err error) error {
	return engine.NewConfigurationError(fmt.Sprintf("script rule %s failed", r.name), err).
		WithCode(engine.ErrCodeRuleFailed).
		WithResource(target.Path())
}

// normalize maps Go values onto the shapes fromStarlarkValue produces so that
// an unchanged property compares equal.
func normalize(v any) any {
	sv, err := toStarlarkValue(v)
	if err != nil {
		return v
	}
	out, err := fromStarlarkValue(sv)
	if err != nil {
		return v
	}
	return out
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v any) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []string:
		list := make([]starlark.Value, len(val))
		for i, s := range val {
			list[i] = starlark.String(s)
		}
		return starlark.NewList(list), nil
	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		dict := starlark.NewDict(len(val))
		for _, k := range keys {
			sv, err := toStarlarkValue(val[k])
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case map[string]string:
		dict := starlark.NewDict(len(val))
		for k, s := range val {
			if err := dict.SetKey(starlark.String(k), starlark.String(s)); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]any)
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]any)
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
