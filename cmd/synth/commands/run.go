package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/synth/pkg/aspects"
	"github.com/openfroyo/synth/pkg/policy"
	"github.com/openfroyo/synth/pkg/synth"
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one synthesis pass",
		Long: `Run one synthesis pass for the project.

A pass:
  - loads the construct tree from CUE
  - resolves the project lookups (cached for the pass)
  - applies the aspects in declaration order
  - checks policies against the mutated tree
  - renders the template to stdout or the configured output path
  - records the pass in the history database`,
		Example: `  # Synthesize the project in the current directory
  synth run

  # Use another project file
  synth run -p envs/prod/synth.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, true, true)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			report, err := a.runner().Run(ctx)
			if report != nil {
				if jsonOutput {
					if perr := printJSON(os.Stderr, reportView(report, err)); perr != nil {
						return perr
					}
				} else {
					printSummary(report)
				}
			}
			return err
		},
	}

	return cmd
}

type lookupView struct {
	Name       string  `json:"name"`
	Kind       string  `json:"kind"`
	Outcome    string  `json:"outcome"`
	Value      any     `json:"value,omitempty"`
	Diagnostic string  `json:"diagnostic,omitempty"`
	Cached     bool    `json:"cached"`
	Seconds    float64 `json:"seconds"`
}

type passView struct {
	PassID     string                   `json:"pass_id"`
	Nodes      int                      `json:"nodes"`
	Digest     string                   `json:"digest,omitempty"`
	Seconds    float64                  `json:"seconds"`
	Error      string                   `json:"error,omitempty"`
	Lookups    []lookupView             `json:"lookups"`
	Mutations  []aspects.MutationRecord `json:"mutations"`
	Violations []policy.Violation       `json:"violations"`
}

func reportView(report *synth.Report, err error) passView {
	v := passView{
		PassID:     report.PassID,
		Nodes:      report.Nodes,
		Digest:     report.Digest,
		Seconds:    report.Duration.Seconds(),
		Mutations:  report.Mutations,
		Violations: report.Violations,
	}
	if err != nil {
		v.Error = err.Error()
	}
	for _, o := range report.Lookups {
		v.Lookups = append(v.Lookups, lookupView{
			Name:       o.Lookup.Name,
			Kind:       o.Lookup.Kind,
			Outcome:    string(o.Result.Outcome),
			Value:      o.Result.Value,
			Diagnostic: o.Result.Diagnostic,
			Cached:     o.Cached,
			Seconds:    o.Duration.Seconds(),
		})
	}
	return v
}

// printSummary reports a pass on stderr; stdout carries the template.
func printSummary(report *synth.Report) {
	fmt.Fprintf(os.Stderr, "pass %s: %d nodes, %d lookups, %d mutations, %d violations in %s\n",
		report.PassID, report.Nodes, len(report.Lookups), len(report.Mutations),
		len(report.Violations), report.Duration.Round(time.Millisecond))
	for _, m := range report.Mutations {
		fmt.Fprintf(os.Stderr, "  ~ %s %s: %v -> %v (%s)\n", m.Path, m.Key, m.Old, m.New, m.Visitor)
	}
	for _, v := range report.Violations {
		fmt.Fprintf(os.Stderr, "  ! [%s] %s %s: %s\n", v.Severity, v.Policy, v.Path, v.Message)
	}
}
