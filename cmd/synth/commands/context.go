package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openfroyo/synth/pkg/contextprovider"
	"github.com/openfroyo/synth/pkg/synth"
)

func newContextCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Resolve context lookups",
		Long:  `Resolve context lookups against AWS without running a pass.`,
	}

	cmd.AddCommand(newContextGetCommand())
	cmd.AddCommand(newContextResolveCommand())
	cmd.AddCommand(newContextKindsCommand())

	return cmd
}

func newContextGetCommand() *cobra.Command {
	var (
		account string
		region  string
		role    string
		params  []string
	)

	cmd := &cobra.Command{
		Use:   "get <kind>",
		Short: "Resolve a single lookup",
		Example: `  # Read an SSM parameter in the project environment
  synth context get ssm --param parameterName=/mail/rule-set

  # Look up availability zones in another account through a lookup role
  synth context get availability-zones --account 123456789012 --region eu-west-1 \
    --role arn:aws:iam::123456789012:role/lookup`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, false, false)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			values := make(map[string]string, len(params))
			for _, p := range params {
				k, v, ok := strings.Cut(p, "=")
				if !ok || k == "" {
					return fmt.Errorf("invalid --param %q, expected name=value", p)
				}
				values[k] = v
			}

			env := a.project.Environment
			q := contextprovider.NewQuery(args[0], firstSet(account, env.Account), firstSet(region, env.Region), values).
				WithLookupRole(firstSet(role, env.LookupRoleARN))

			res := a.resolver.Resolve(ctx, q)
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			return res.Err()
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "target account (defaults to the project environment)")
	cmd.Flags().StringVar(&region, "region", "", "target region (defaults to the project environment)")
	cmd.Flags().StringVar(&role, "role", "", "lookup role ARN to assume")
	cmd.Flags().StringArrayVar(&params, "param", nil, "lookup parameter as name=value (repeatable)")

	return cmd
}

func newContextResolveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve every lookup the project declares",
		Example: `  # Show what the next pass would see
  synth context resolve --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, false, false)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			outcomes := synth.ResolveLookups(ctx, a.resolver, a.project.Lookups,
				a.project.Environment, a.project.Settings.MaxParallelLookups)

			out := cmd.OutOrStdout()
			failed := 0
			views := make([]lookupView, 0, len(outcomes))
			for _, o := range outcomes {
				if !o.Tolerated() {
					failed++
				}
				views = append(views, lookupView{
					Name:       o.Lookup.Name,
					Kind:       o.Lookup.Kind,
					Outcome:    string(o.Result.Outcome),
					Value:      o.Result.Value,
					Diagnostic: o.Result.Diagnostic,
					Cached:     o.Cached,
					Seconds:    o.Duration.Seconds(),
				})
			}

			if jsonOutput {
				if err := printJSON(out, views); err != nil {
					return err
				}
			} else {
				for _, v := range views {
					if v.Diagnostic != "" {
						fmt.Fprintf(out, "%-24s %-18s %s\n", v.Name, v.Outcome, v.Diagnostic)
						continue
					}
					fmt.Fprintf(out, "%-24s %-18s %v\n", v.Name, v.Outcome, v.Value)
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d lookups failed", failed, len(outcomes))
			}
			return nil
		},
	}

	return cmd
}

func newContextKindsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List the lookup kinds and their required parameters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := contextprovider.DefaultRegistry(nil, zerolog.Nop())
			out := cmd.OutOrStdout()
			for _, kind := range registry.Kinds() {
				p, _ := registry.Get(kind)
				required := append([]string(nil), p.RequiredParams()...)
				sort.Strings(required)
				if len(required) == 0 {
					fmt.Fprintln(out, kind)
					continue
				}
				fmt.Fprintf(out, "%s (%s)\n", kind, strings.Join(required, ", "))
			}
			return nil
		},
	}
}

func firstSet(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
