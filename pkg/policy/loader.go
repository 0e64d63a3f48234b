package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/rs/zerolog"
)

// Loader reads project policies from .rego and .json files.
type Loader struct {
	logger zerolog.Logger
}

// NewLoader creates a loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{logger: logger.With().Str("component", "policy-loader").Logger()}
}

// LoadFromPaths loads every policy under paths. Directories are walked in
// lexical order; files other than .rego and .json are ignored. Any unreadable
// policy file or duplicate policy name fails the whole load.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var all []Policy
	seen := make(map[string]string)

	for _, path := range paths {
		policies, err := l.loadFromPath(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		for _, p := range policies {
			if prev, ok := seen[p.Name]; ok {
				return nil, fmt.Errorf("policy %q defined in both %s and %s", p.Name, prev, p.Source)
			}
			seen[p.Name] = p.Source
		}
		all = append(all, policies...)
	}

	l.logger.Debug().Int("policies", len(all)).Int("paths", len(paths)).Msg("Policies loaded")
	return all, nil
}

func (l *Loader) loadFromPath(ctx context.Context, path string) ([]Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		p, err := l.loadFromFile(ctx, path)
		if err != nil {
			return nil, err
		}
		return []Policy{*p}, nil
	}

	var policies []Policy
	err = filepath.WalkDir(path, func(file string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isPolicyFile(file) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		p, err := l.loadFromFile(ctx, file)
		if err != nil {
			return err
		}
		policies = append(policies, *p)
		return nil
	})
	return policies, err
}

func isPolicyFile(path string) bool {
	switch filepath.Ext(path) {
	case ".rego", ".json":
		return true
	}
	return false
}

func (l *Loader) loadFromFile(_ context.Context, path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var p *Policy
	switch filepath.Ext(path) {
	case ".rego":
		p, err = parseRego(path, string(data))
	case ".json":
		p, err = parseJSON(path, data)
	default:
		return nil, fmt.Errorf("%s: unsupported policy file type", path)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	l.logger.Debug().Str("path", path).Str("policy", p.Name).Str("severity", string(p.Severity)).Msg("Policy file read")
	return p, nil
}

// parseRego names the policy after its file. Title, description and severity
// come from a package METADATA block when present, else from the leading
// comment block.
func parseRego(path, src string) (*Policy, error) {
	module, err := ast.ParseModuleWithOpts(path, src, ast.ParserOptions{
		ProcessAnnotation: true,
		RegoVersion:       ast.RegoV1,
	})
	if err != nil {
		return nil, err
	}

	p := &Policy{
		Name:        strings.TrimSuffix(filepath.Base(path), ".rego"),
		Description: extractDescription(src),
		Rego:        src,
		Severity:    severityFromComments(src),
		Enabled:     true,
		Source:      path,
	}

	for _, a := range module.Annotations {
		if a.Scope != "package" {
			continue
		}
		if a.Description != "" {
			p.Description = a.Description
		} else if a.Title != "" {
			p.Description = a.Title
		}
		if sev, ok := a.Custom["severity"].(string); ok {
			if s, valid := parseSeverity(sev); valid {
				p.Severity = s
			}
		}
	}
	return p, nil
}

func parseJSON(path string, data []byte) (*Policy, error) {
	var p Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse JSON policy: %w", err)
	}
	if p.Severity == "" {
		p.Severity = SeverityWarning
	}
	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), ".json")
	}
	p.Source = path
	return &p, nil
}

const severityMarker = "severity:"

func parseSeverity(s string) (Severity, bool) {
	switch sev := Severity(strings.ToLower(strings.TrimSpace(s))); sev {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return sev, true
	}
	return "", false
}

// severityFromComments reads a "# severity: error" line. Files without a
// valid one report warnings.
func severityFromComments(src string) Severity {
	for _, line := range strings.Split(src, "\n") {
		comment, ok := strings.CutPrefix(strings.TrimSpace(line), "#")
		if !ok {
			continue
		}
		if sev, ok := strings.CutPrefix(strings.TrimSpace(comment), severityMarker); ok {
			if s, valid := parseSeverity(sev); valid {
				return s
			}
		}
	}
	return SeverityWarning
}

// extractDescription joins the first block of plain comments. A METADATA
// block is left to the annotation parser.
func extractDescription(src string) string {
	var parts []string
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		comment, ok := strings.CutPrefix(trimmed, "#")
		if !ok {
			if trimmed != "" && len(parts) > 0 {
				break
			}
			continue
		}
		comment = strings.TrimSpace(comment)
		if comment == "METADATA" {
			break
		}
		if comment == "" || strings.HasPrefix(comment, severityMarker) || strings.HasPrefix(comment, "package") {
			continue
		}
		parts = append(parts, comment)
	}
	return strings.Join(parts, " ")
}
