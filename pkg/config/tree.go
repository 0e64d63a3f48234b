package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"

	"github.com/openfroyo/synth/pkg/construct"
	"github.com/openfroyo/synth/pkg/engine"
)

// TreeLoader builds construct trees from CUE definitions:
//
//	app: {
//		id:   "App"
//		type: "core.App"
//		children: [{
//			id:   "Stack"
//			type: "core.Stack"
//			children: [...]
//		}]
//	}
//
// Children are lists so that sibling order is part of the definition.
type TreeLoader struct {
	ctx    *cue.Context
	schema cue.Value
}

type nodeSpec struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Props    map[string]any `json:"props"`
	Children []nodeSpec     `json:"children"`
}

// NewTreeLoader creates a tree loader.
func NewTreeLoader() *TreeLoader {
	ctx := cuecontext.New()
	schema := ctx.CompileString(treeSchema, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		// the schema is a constant
		panic(err)
	}
	return &TreeLoader{
		ctx:    ctx,
		schema: schema.LookupPath(cue.ParsePath("#Node")),
	}
}

// Load reads the CUE files or package directories in sources, unifies them and
// builds the tree under RootField.
func (l *TreeLoader) Load(sources ...string) (*construct.Node, error) {
	if len(sources) == 0 {
		return nil, engine.NewConfigurationError("no tree sources provided", nil)
	}

	var val cue.Value
	var errs ValidationErrors

	for _, source := range sources {
		info, err := os.Stat(source)
		if err != nil {
			return nil, engine.NewConfigurationError(fmt.Sprintf("failed to stat tree source %s", source), err)
		}

		var v cue.Value
		if info.IsDir() {
			v, err = l.loadDirectory(source)
		} else {
			v, err = l.loadFile(source)
		}
		if err != nil {
			errs = append(errs, convertCUEErrors(err)...)
			continue
		}

		if val.Exists() {
			val = val.Unify(v)
		} else {
			val = v
		}
	}

	if len(errs) > 0 {
		return nil, invalidTree(errs)
	}
	return l.build(val)
}

// LoadInline builds a tree from CUE source text.
func (l *TreeLoader) LoadInline(content string) (*construct.Node, error) {
	val := l.ctx.CompileString(content, cue.Filename("inline.cue"))
	if err := val.Err(); err != nil {
		return nil, invalidTree(convertCUEErrors(err))
	}
	return l.build(val)
}

func (l *TreeLoader) loadDirectory(dir string) (cue.Value, error) {
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return cue.Value{}, fmt.Errorf("no CUE files found in %s", dir)
	}

	inst := instances[0]
	if inst.Err != nil {
		return cue.Value{}, inst.Err
	}

	val := l.ctx.BuildInstance(inst)
	if err := val.Err(); err != nil {
		return cue.Value{}, err
	}
	return val, nil
}

func (l *TreeLoader) loadFile(path string) (cue.Value, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, err
	}

	val := l.ctx.CompileBytes(content, cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, err
	}
	return val, nil
}

func (l *TreeLoader) build(val cue.Value) (*construct.Node, error) {
	if err := val.Err(); err != nil {
		return nil, invalidTree(convertCUEErrors(err))
	}

	root := val.LookupPath(cue.ParsePath(RootField))
	if !root.Exists() {
		return nil, invalidTree(ValidationErrors{{
			Path:    RootField,
			Message: "tree root is not defined",
		}})
	}

	root = root.Unify(l.schema)
	if err := root.Validate(cue.Concrete(true)); err != nil {
		return nil, invalidTree(convertCUEErrors(err))
	}

	// JSON is the lowest common denominator: numbers arrive as float64,
	// which rules and renderers handle uniformly.
	data, err := root.MarshalJSON()
	if err != nil {
		return nil, invalidTree(convertCUEErrors(err))
	}
	var spec nodeSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, engine.NewConfigurationError("failed to decode tree", err)
	}

	tree := construct.NewRoot(spec.ID, spec.Type)
	setProps(tree, spec.Props)
	if err := addChildren(tree, spec.Children); err != nil {
		return nil, err
	}
	return tree, nil
}

func addChildren(parent *construct.Node, specs []nodeSpec) error {
	for _, s := range specs {
		n, err := construct.New(parent, s.ID, s.Type)
		if err != nil {
			return invalidTree(ValidationErrors{{
				Path:    parent.Path(),
				Message: err.Error(),
			}})
		}
		setProps(n, s.Props)
		if err := addChildren(n, s.Children); err != nil {
			return err
		}
	}
	return nil
}

func setProps(n *construct.Node, props map[string]any) {
	for k, v := range props {
		n.SetProperty(k, v)
	}
}

func invalidTree(errs ValidationErrors) error {
	return engine.NewConfigurationError("tree definition is invalid", errs).
		WithDetail("errors", len(errs))
}

// convertCUEErrors flattens a CUE error into located validation errors.
func convertCUEErrors(err error) ValidationErrors {
	var out ValidationErrors
	for _, e := range cueerrors.Errors(err) {
		ve := ValidationError{Message: cueerrors.Details(e, nil)}
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		if path := e.Path(); len(path) > 0 {
			ve.Path = strings.Join(path, ".")
		}
		out = append(out, ve)
	}
	if len(out) == 0 {
		out = append(out, ValidationError{Message: err.Error()})
	}
	return out
}
