package policy

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoadFromFileRego(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	policyFile := filepath.Join(t.TempDir(), "test-policy.rego")
	regoContent := `package test.policy

# Rejects the invalid function

deny contains "invalid" if {
	some node in input.nodes
	node.id == "invalid"
}`
	writePolicy(t, policyFile, regoContent)

	policy, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if policy.Name != "test-policy" {
		t.Errorf("Expected name 'test-policy', got '%s'", policy.Name)
	}
	if policy.Rego != regoContent {
		t.Error("Rego content doesn't match")
	}
	if policy.Severity != SeverityWarning {
		t.Errorf("Expected default severity warning, got %s", policy.Severity)
	}
	if policy.Source != policyFile {
		t.Errorf("Unexpected source: %s", policy.Source)
	}
}

func TestLoadFromFileJSON(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	policyFile := filepath.Join(t.TempDir(), "json-policy.json")
	writePolicy(t, policyFile, `{"description": "from json", "rego": "package p\n", "severity": "error", "enabled": true}`)

	policy, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if policy.Name != "json-policy" {
		t.Errorf("Expected name from file, got '%s'", policy.Name)
	}
	if policy.Severity != SeverityError {
		t.Errorf("Expected severity error, got %s", policy.Severity)
	}
}

func TestLoadFromDirectorySkipsOtherFiles(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	dir := t.TempDir()

	writePolicy(t, filepath.Join(dir, "a.rego"), "package a\n")
	writePolicy(t, filepath.Join(dir, "README.md"), "# policies\n")

	policies, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths failed: %v", err)
	}
	if len(policies) != 1 || policies[0].Name != "a" {
		t.Errorf("Expected only policy a, got %+v", policies)
	}
}

func TestLoadFromDirectoryRejectsBrokenFile(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	dir := t.TempDir()

	writePolicy(t, filepath.Join(dir, "a.rego"), "package a\n")
	writePolicy(t, filepath.Join(dir, "broken.json"), "{")

	if _, err := loader.LoadFromPaths(context.Background(), []string{dir}); err == nil {
		t.Error("Expected error for broken policy file")
	}
}

func TestLoadRejectsDuplicateNames(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	dir := t.TempDir()

	writePolicy(t, filepath.Join(dir, "one", "runtime.rego"), "package one\n")
	writePolicy(t, filepath.Join(dir, "two", "runtime.rego"), "package two\n")

	_, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err == nil || !strings.Contains(err.Error(), `policy "runtime" defined in both`) {
		t.Errorf("Expected duplicate name error, got %v", err)
	}
}

func TestLoadMetadataAnnotations(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	policyFile := filepath.Join(t.TempDir(), "tags.rego")
	writePolicy(t, policyFile, `# METADATA
# title: Tagged functions
# description: Every function carries an owner tag
# custom:
#   severity: critical
package synth.tags

deny contains "untagged" if {
	some node in input.nodes
	node.type == "AWS::Lambda::Function"
	not node.properties.Tags
}`)

	policy, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if policy.Description != "Every function carries an owner tag" {
		t.Errorf("Unexpected description %q", policy.Description)
	}
	if policy.Severity != SeverityCritical {
		t.Errorf("Expected severity critical, got %s", policy.Severity)
	}
}

func TestLoadFromMissingPath(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	if _, err := loader.LoadFromPaths(context.Background(), []string{filepath.Join(t.TempDir(), "missing")}); err == nil {
		t.Error("Expected error for missing path")
	}
}

func TestSeverityFromComments(t *testing.T) {
	tests := map[string]Severity{
		"# severity: error\npackage x\n":   SeverityError,
		"# severity: extreme\npackage x\n": SeverityWarning,
		"package x\n":                      SeverityWarning,
	}
	for content, want := range tests {
		if got := severityFromComments(content); got != want {
			t.Errorf("severityFromComments(%q) = %s, want %s", content, got, want)
		}
	}
}
