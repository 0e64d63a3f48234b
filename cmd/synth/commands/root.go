package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/synth/pkg/config"
	"github.com/openfroyo/synth/pkg/engine"
)

var (
	// Global flags
	projectPath string
	verbose     bool
	jsonOutput  bool
	events      bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

// ExitCode maps an error to the process exit code: 2 for configuration
// problems, 3 for failed lookups, 4 for unmet preconditions such as policy
// violations, 1 otherwise.
func ExitCode(err error) int {
	switch engine.ClassOf(err) {
	case engine.ErrorClassConfiguration:
		return 2
	case engine.ErrorClassNotFound, engine.ErrorClassTransient:
		return 3
	case engine.ErrorClassPreconditionUnmet:
		return 4
	default:
		return 1
	}
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "synth",
		Short: "synth - construct tree synthesis with aspects and context lookups",
		Long: `synth loads a construct tree, resolves context values from the cloud
control plane, applies aspect visitors that patch managed function
runtimes and renders the resulting template.

Features:
  - Construct trees defined in CUE
  - Cached, concurrent context lookups (SSM, EC2)
  - Runtime and Starlark script aspects
  - Rego policy checks on the synthesized tree
  - Pass history in SQLite`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&projectPath, "project", "p", config.DefaultProjectFile, "project file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&events, "events", false, "stream pass events to stderr as JSON lines")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newContextCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newPoliciesCommand())

	return rootCmd
}
