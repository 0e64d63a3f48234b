package commands

import (
	"errors"
	"fmt"
	"testing"

	"github.com/openfroyo/synth/pkg/engine"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"configuration", engine.NewConfigurationError("bad project", nil), 2},
		{"wrapped not found", fmt.Errorf("lookup rule-set: %w", engine.NewNotFoundError("missing", nil)), 3},
		{"transient", engine.NewTransientError("throttled", nil), 3},
		{"policy", engine.NewPreconditionError("violations", nil).WithCode(engine.ErrCodePolicyViolation), 4},
		{"unclassified", errors.New("boom"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCommandTree(t *testing.T) {
	root := newRootCommand("test", "none", "now")

	for _, path := range [][]string{
		{"run"},
		{"watch"},
		{"validate"},
		{"context", "get"},
		{"context", "resolve"},
		{"context", "kinds"},
		{"history", "list"},
		{"history", "show"},
		{"history", "delete"},
		{"policies", "list"},
		{"policies", "check"},
	} {
		cmd, rest, err := root.Find(path)
		if err != nil || len(rest) != 0 || cmd.Name() != path[len(path)-1] {
			t.Errorf("command %v not found (got %v, rest %v, err %v)", path, cmd.Name(), rest, err)
		}
	}
}
