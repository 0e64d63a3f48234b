package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/synth/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded synthesis passes",
		Long: `Inspect the passes recorded in the project's history database, with the
mutations each pass applied and the lookups it resolved.`,
	}

	cmd.AddCommand(newHistoryListCommand())
	cmd.AddCommand(newHistoryShowCommand())
	cmd.AddCommand(newHistoryDeleteCommand())

	return cmd
}

func newHistoryListCommand() *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List passes, newest first",
		Example: `  # Show the last five passes
  synth history list --limit 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			passes, err := store.ListPasses(ctx, limit, offset)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, passes)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PASS\tSTATUS\tSTARTED\tNODES\tMUTATIONS\tVIOLATIONS")
			for _, p := range passes {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\n",
					p.ID, p.Status, p.StartedAt.Local().Format(time.DateTime), p.Nodes, p.Mutations, p.Violations)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of passes")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of passes to skip")

	return cmd
}

type passDetail struct {
	*stores.Pass
	Mutations []*stores.Mutation `json:"mutation_records"`
	Lookups   []*stores.Lookup   `json:"lookups"`
}

func newHistoryShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <pass-id>",
		Short: "Show one pass with its mutations and lookups",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			pass, err := store.GetPass(ctx, args[0])
			if err != nil {
				return err
			}
			mutations, err := store.ListMutations(ctx, pass.ID)
			if err != nil {
				return err
			}
			lookups, err := store.ListLookups(ctx, pass.ID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, passDetail{Pass: pass, Mutations: mutations, Lookups: lookups})
			}

			fmt.Fprintf(out, "pass %s (%s)\n", pass.ID, pass.Status)
			fmt.Fprintf(out, "  project:  %s\n", pass.Project)
			fmt.Fprintf(out, "  started:  %s\n", pass.StartedAt.Local().Format(time.DateTime))
			if pass.CompletedAt != nil {
				fmt.Fprintf(out, "  took:     %s\n", pass.CompletedAt.Sub(pass.StartedAt).Round(time.Millisecond))
			}
			if pass.OutputDigest != "" {
				fmt.Fprintf(out, "  digest:   %s\n", pass.OutputDigest)
			}
			if pass.Error != nil {
				fmt.Fprintf(out, "  error:    %s\n", *pass.Error)
			}

			fmt.Fprintf(out, "\nlookups (%d)\n", len(lookups))
			for _, l := range lookups {
				cached := ""
				if l.Cached {
					cached = " cached"
				}
				fmt.Fprintf(out, "  %s [%s] %s%s\n", l.Name, l.Kind, l.Outcome, cached)
			}

			fmt.Fprintf(out, "\nmutations (%d)\n", len(mutations))
			for _, m := range mutations {
				fmt.Fprintf(out, "  %3d %s %s: %s -> %s (%s)\n", m.Seq, m.NodePath, m.Property, m.OldValue, m.NewValue, m.Visitor)
			}
			return nil
		},
	}
}

func newHistoryDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <pass-id>",
		Short: "Delete a pass and its records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.DeletePass(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted pass %s\n", args[0])
			return nil
		},
	}
}
