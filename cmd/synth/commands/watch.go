package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/synth/pkg/synth"
)

// metricsAddr overrides the project metrics listen address while watching.
var metricsAddr string

func newWatchCommand() *cobra.Command {
	var debounce time.Duration


	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-run synthesis whenever an input changes",
		Long: `Run a synthesis pass, then run it again whenever the project file, the
tree sources, a script or a policy file changes.

While watching, Prometheus metrics are served on the configured address.`,
		Example: `  # Watch the project in the current directory
  synth watch

  # Serve metrics on another port
  synth watch --metrics-addr :9100`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, true, true)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			serverErr := a.tel.Metrics.StartMetricsServer(ctx)

			paths := []string{projectPath}
			paths = append(paths, a.project.TreeSources()...)
			for _, p := range a.project.Policies.Paths {
				paths = append(paths, a.project.Resolve(p))
			}
			for _, asp := range a.project.Aspects {
				if asp.ScriptFile != "" {
					paths = append(paths, a.project.Resolve(asp.ScriptFile))
				}
			}

			opts := []synth.WatcherOption{synth.WithWatchLogger(a.tel.Logger.Zerolog())}
			if debounce > 0 {
				opts = append(opts, synth.WithDebounce(debounce))
			}
			if out := a.project.Output.Path; out != "" {
				opts = append(opts, synth.WithIgnore(a.project.Resolve(out)))
			}

			run := func(ctx context.Context) error {
				if err := a.reload(ctx); err != nil {
					return err
				}
				report, err := a.runner().Run(ctx)
				if report != nil {
					printSummary(report)
				}
				return err
			}

			w, err := synth.NewWatcher(paths, run, opts...)
			if err != nil {
				return err
			}

			watchErr := make(chan error, 1)
			go func() { watchErr <- w.Watch(ctx) }()

			select {
			case err := <-watchErr:
				return err
			case err, ok := <-serverErr:
				if ok && err != nil {
					return err
				}
				return <-watchErr
			}
		},
	}

	cmd.Flags().DurationVar(&debounce, "debounce", synth.DefaultDebounce, "settle delay before a pass")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "metrics listen address (overrides project telemetry)")

	return cmd
}
