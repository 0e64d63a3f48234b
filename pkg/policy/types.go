package policy

import (
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for findings that fail a pass.
	SeverityError Severity = "error"

	// SeverityCritical is for findings that must be addressed immediately.
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityInfo:     1,
	SeverityWarning:  2,
	SeverityError:    3,
	SeverityCritical: 4,
}

// AtLeast reports whether s is as severe as threshold. The threshold "none"
// (or any unknown value) is never reached.
func (s Severity) AtLeast(threshold Severity) bool {
	t, ok := severityRank[threshold]
	if !ok {
		return false
	}
	return severityRank[s] >= t
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. Violations are read from the deny
	// set of its package.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks policies shipped with synth.
	Builtin bool `json:"builtin,omitempty"`

	// Source is the file the policy was loaded from.
	Source string `json:"source,omitempty"`
}

// Violation is a single finding against the synthesized tree.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Path is the node the finding is about.
	Path string `json:"path,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Result is the outcome of checking one tree.
type Result struct {
	Violations        []Violation   `json:"violations,omitempty"`
	EvaluatedPolicies []string      `json:"evaluated_policies"`
	Duration          time.Duration `json:"duration"`
}

// Failing returns the violations at or above threshold.
func (r *Result) Failing(threshold Severity) []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity.AtLeast(threshold) {
			out = append(out, v)
		}
	}
	return out
}

// Input is the document policies evaluate.
type Input struct {
	Nodes []NodeInput `json:"nodes"`
}

// NodeInput describes one node of the tree.
type NodeInput struct {
	Path       string         `json:"path"`
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	ParentType string         `json:"parent_type,omitempty"`
	Properties map[string]any `json:"properties"`
}
