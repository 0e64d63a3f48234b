package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openfroyo/synth/pkg/config"
	"github.com/openfroyo/synth/pkg/engine"
	"github.com/openfroyo/synth/pkg/policy"
)

func newPoliciesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policies",
		Short: "List and check Rego policies",
	}

	cmd.AddCommand(newPoliciesListCommand())
	cmd.AddCommand(newPoliciesCheckCommand())

	return cmd
}

func newPoliciesListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the built-in and project policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			project, err := loadProject()
			if err != nil {
				return err
			}
			tel, err := newTelemetry(project)
			if err != nil {
				return err
			}
			defer tel.Shutdown(ctx)

			eng, err := newPolicyEngine(ctx, project, tel)
			if err != nil {
				return err
			}

			list := eng.ListPolicies()
			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, list)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSEVERITY\tSOURCE\tDESCRIPTION")
			for _, p := range list {
				source := p.Source
				if p.Builtin {
					source = "builtin"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Name, p.Severity, source, p.Description)
			}
			return tw.Flush()
		},
	}
}

func newPoliciesCheckCommand() *cobra.Command {
	var failOn string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check policies against the construct tree as loaded",
		Long: `Evaluate every enabled policy against the construct tree without
resolving lookups or applying aspects.

Use 'synth run' to check the tree after aspects have been applied.`,
		Example: `  # Fail on warnings as well as errors
  synth policies check --fail-on warning`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			project, err := loadProject()
			if err != nil {
				return err
			}
			tel, err := newTelemetry(project)
			if err != nil {
				return err
			}
			defer tel.Shutdown(ctx)

			eng, err := newPolicyEngine(ctx, project, tel)
			if err != nil {
				return err
			}
			root, err := config.NewTreeLoader().Load(project.TreeSources()...)
			if err != nil {
				return err
			}

			result, err := eng.Evaluate(ctx, root)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				if err := printJSON(out, result.Violations); err != nil {
					return err
				}
			} else {
				for _, v := range result.Violations {
					fmt.Fprintf(out, "[%s] %s %s: %s\n", v.Severity, v.Policy, v.Path, v.Message)
				}
				fmt.Fprintf(out, "%d policies evaluated, %d violations\n", result.EvaluatedPolicies, len(result.Violations))
			}

			if failOn == "" {
				failOn = project.Policies.FailOn
			}
			if failing := result.Failing(policy.Severity(failOn)); len(failing) > 0 {
				return engine.NewPreconditionError(
					fmt.Sprintf("%d policy violations at or above %s", len(failing), failOn), nil).
					WithCode(engine.ErrCodePolicyViolation)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&failOn, "fail-on", "", "lowest failing severity: error, warning or none (defaults to the project setting)")

	return cmd
}
