package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/synth/pkg/engine"
	"github.com/openfroyo/synth/pkg/telemetry"
)

// DefaultProjectFile is the project file name looked up in the working directory.
const DefaultProjectFile = "synth.yaml"

// Aspect types.
const (
	AspectRuntime = "runtime"
	AspectScript  = "script"
)

// Project is the content of synth.yaml.
type Project struct {
	Name        string            `yaml:"name" validate:"required"`
	Tree        []string          `yaml:"tree" validate:"required,min=1,dive,required"`
	Environment Environment       `yaml:"environment"`
	Settings    Settings          `yaml:"settings"`
	Lookups     []Lookup          `yaml:"lookups" validate:"dive"`
	Aspects     []Aspect          `yaml:"aspects" validate:"dive"`
	Policies    PolicyConfig      `yaml:"policies"`
	Store       StoreConfig       `yaml:"store"`
	Output      OutputConfig      `yaml:"output"`
	Telemetry   *telemetry.Config `yaml:"telemetry" validate:"-"`

	// Dir is the directory of the project file. Relative paths are resolved
	// against it.
	Dir string `yaml:"-"`
}

// Environment is the default account and region lookups resolve against.
type Environment struct {
	Account       string `yaml:"account" validate:"required"`
	Region        string `yaml:"region" validate:"required"`
	LookupRoleARN string `yaml:"lookup_role_arn" validate:"omitempty,startswith=arn:"`
	Profile       string `yaml:"profile"`
}

// Settings tune the resolution pass.
type Settings struct {
	LookupTimeout      time.Duration `yaml:"lookup_timeout" validate:"gte=0"`
	MaxParallelLookups int           `yaml:"max_parallel_lookups" validate:"gte=1,lte=64"`
}

// Lookup is a named context query. Empty account, region or role fall back to
// the project environment.
type Lookup struct {
	Name          string            `yaml:"name" validate:"required"`
	Kind          string            `yaml:"kind" validate:"required"`
	Params        map[string]string `yaml:"params"`
	Account       string            `yaml:"account"`
	Region        string            `yaml:"region"`
	LookupRoleARN string            `yaml:"lookup_role_arn" validate:"omitempty,startswith=arn:"`

	// Optional lookups do not fail the pass when the value is absent.
	Optional bool `yaml:"optional"`
}

// Aspect declares one visitor.
//
// A runtime aspect patches the Runtime of managed functions whose current value
// is in Stale. A script aspect runs a Starlark mutate function against the
// nested targets of Roles; when Stale is set, only targets whose Key value is
// in it reach the script.
type Aspect struct {
	Name string `yaml:"name" validate:"required"`
	Type string `yaml:"type" validate:"required,oneof=runtime script"`

	// Target is the value rules move nodes to. TargetLookup takes it from a
	// resolved lookup instead.
	Target       string `yaml:"target"`
	TargetLookup string `yaml:"target_lookup"`

	Stale []string `yaml:"stale"`
	Roles []string `yaml:"roles"`

	Key        string        `yaml:"key"`
	Script     string        `yaml:"script"`
	ScriptFile string        `yaml:"script_file"`
	Timeout    time.Duration `yaml:"timeout" validate:"gte=0"`
}

// PolicyConfig selects the policies checked after the aspects ran.
type PolicyConfig struct {
	Builtin bool     `yaml:"builtin"`
	Paths   []string `yaml:"paths"`
	// FailOn is the lowest severity that fails the pass.
	FailOn string `yaml:"fail_on" validate:"oneof=error warning none"`
	// DeprecatedRuntimes feeds the built-in runtime policy.
	DeprecatedRuntimes []string `yaml:"deprecated_runtimes"`
}

// StoreConfig locates the pass history database.
type StoreConfig struct {
	Path     string `yaml:"path"`
	Disabled bool   `yaml:"disabled"`
}

// OutputConfig controls rendering of the mutated tree.
type OutputConfig struct {
	Format string `yaml:"format" validate:"oneof=yaml json"`
	// Path is the output file; empty writes to stdout.
	Path string `yaml:"path"`
}

// DefaultProject returns a project with every default applied.
func DefaultProject() *Project {
	return &Project{
		Settings: Settings{
			LookupTimeout:      30 * time.Second,
			MaxParallelLookups: 8,
		},
		Policies: PolicyConfig{
			Builtin: true,
			FailOn:  "error",
		},
		Store: StoreConfig{
			Path: filepath.Join(".synth", "history.db"),
		},
		Output: OutputConfig{
			Format: "yaml",
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// LoadProject reads and validates a project file.
func LoadProject(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewConfigurationError(fmt.Sprintf("failed to read project file %s", path), err)
	}

	p, err := ParseProject(data)
	if err != nil {
		var ee *engine.EngineError
		if errors.As(err, &ee) {
			ee.WithResource(path)
		}
		return nil, err
	}

	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project directory: %w", err)
	}
	p.Dir = dir
	return p, nil
}

// ParseProject decodes and validates project YAML. Relative paths are left
// unresolved.
func ParseProject(data []byte) (*Project, error) {
	p := DefaultProject()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, engine.NewConfigurationError("failed to parse project file", err)
	}
	if p.Telemetry == nil {
		p.Telemetry = telemetry.DefaultConfig()
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks struct constraints and the references between sections.
func (p *Project) Validate() error {
	var errs ValidationErrors

	if err := validator.New().Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return engine.NewConfigurationError("project validation failed", err)
		}
		for _, fe := range verrs {
			errs = append(errs, ValidationError{
				Path:    fe.Namespace(),
				Message: fmt.Sprintf("failed on %s", describeTag(fe)),
			})
		}
	}

	lookups := make(map[string]bool, len(p.Lookups))
	for i, l := range p.Lookups {
		if lookups[l.Name] {
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("lookups[%d].name", i),
				Message: fmt.Sprintf("duplicate lookup %q", l.Name),
			})
		}
		lookups[l.Name] = true
	}

	aspects := make(map[string]bool, len(p.Aspects))
	for i, a := range p.Aspects {
		path := fmt.Sprintf("aspects[%d]", i)
		if aspects[a.Name] {
			errs = append(errs, ValidationError{Path: path + ".name", Message: fmt.Sprintf("duplicate aspect %q", a.Name)})
		}
		aspects[a.Name] = true

		if (a.Target == "") == (a.TargetLookup == "") {
			errs = append(errs, ValidationError{Path: path, Message: "exactly one of target and target_lookup is required"})
		}
		if a.TargetLookup != "" && !lookups[a.TargetLookup] {
			errs = append(errs, ValidationError{
				Path:    path + ".target_lookup",
				Message: fmt.Sprintf("unknown lookup %q", a.TargetLookup),
			})
		}

		switch a.Type {
		case AspectRuntime:
			if len(a.Stale) == 0 {
				errs = append(errs, ValidationError{Path: path + ".stale", Message: "runtime aspects need at least one stale value"})
			}
		case AspectScript:
			if a.Key == "" {
				errs = append(errs, ValidationError{Path: path + ".key", Message: "script aspects need a property key"})
			}
			if (a.Script == "") == (a.ScriptFile == "") {
				errs = append(errs, ValidationError{Path: path, Message: "exactly one of script and script_file is required"})
			}
			if len(a.Roles) == 0 {
				errs = append(errs, ValidationError{Path: path + ".roles", Message: "script aspects need at least one role"})
			}
		}
	}

	if p.Telemetry != nil {
		if err := p.Telemetry.Validate(); err != nil {
			errs = append(errs, ValidationError{Path: "telemetry", Message: err.Error()})
		}
	}

	if len(errs) > 0 {
		return engine.NewConfigurationError("project file is invalid", errs).
			WithDetail("errors", len(errs))
	}
	return nil
}

// Resolve returns path relative to the project directory.
func (p *Project) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || p.Dir == "" {
		return path
	}
	return filepath.Join(p.Dir, path)
}

// TreeSources returns the resolved tree sources.
func (p *Project) TreeSources() []string {
	out := make([]string, len(p.Tree))
	for i, t := range p.Tree {
		out[i] = p.Resolve(t)
	}
	return out
}

// ScriptSource returns the Starlark source of a script aspect.
func (p *Project) ScriptSource(a Aspect) (string, error) {
	if a.Script != "" {
		return a.Script, nil
	}
	data, err := os.ReadFile(p.Resolve(a.ScriptFile))
	if err != nil {
		return "", engine.NewConfigurationError(fmt.Sprintf("failed to read script for aspect %s", a.Name), err)
	}
	return string(data), nil
}

func describeTag(fe validator.FieldError) string {
	if fe.Param() != "" {
		return fe.Tag() + "=" + fe.Param()
	}
	return fe.Tag()
}
