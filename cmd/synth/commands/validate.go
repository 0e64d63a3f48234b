package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/synth/pkg/config"
	"github.com/openfroyo/synth/pkg/construct"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the project file and construct tree",
		Long: `Validate the project file and load the construct tree without resolving
lookups or touching AWS.

Validation checks:
  - project file syntax and required fields
  - lookup and aspect references
  - CUE tree syntax, schema and node ids`,
		Example: `  # Validate the project in the current directory
  synth validate

  # Validate another project
  synth validate -p envs/prod/synth.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := loadProject()
			if err != nil {
				return err
			}

			root, err := config.NewTreeLoader().Load(project.TreeSources()...)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, map[string]any{
					"project": project.Name,
					"nodes":   construct.Count(root),
					"lookups": len(project.Lookups),
					"aspects": len(project.Aspects),
				})
			}
			fmt.Fprintf(out, "%s is valid: %d nodes, %d lookups, %d aspects\n",
				project.Name, construct.Count(root), len(project.Lookups), len(project.Aspects))
			return nil
		},
	}

	return cmd
}
