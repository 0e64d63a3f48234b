package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/openfroyo/synth/pkg/awsauth"
	"github.com/openfroyo/synth/pkg/config"
	"github.com/openfroyo/synth/pkg/contextprovider"
	"github.com/openfroyo/synth/pkg/policy"
	"github.com/openfroyo/synth/pkg/stores"
	"github.com/openfroyo/synth/pkg/synth"
	"github.com/openfroyo/synth/pkg/telemetry"
)

// app holds everything a command needs for one project.
type app struct {
	project  *config.Project
	tel      *telemetry.Telemetry
	resolver *contextprovider.Resolver
	store    *stores.SQLiteStore
	policies *policy.Engine
}

func loadProject() (*config.Project, error) {
	return config.LoadProject(projectPath)
}

func newTelemetry(project *config.Project) (*telemetry.Telemetry, error) {
	cfg := *project.Telemetry
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.ListenAddress = metricsAddr
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "synth"
	}
	return telemetry.NewTelemetry(&cfg)
}

// newApp wires the project's telemetry, AWS sessions, resolver, store and
// policies. Call close when done.
func newApp(ctx context.Context, withStore, withPolicies bool) (*app, error) {
	project, err := loadProject()
	if err != nil {
		return nil, err
	}

	tel, err := newTelemetry(project)
	if err != nil {
		return nil, err
	}
	a := &app{project: project, tel: tel}
	logger := tel.Logger.Zerolog()

	if events {
		enc := json.NewEncoder(os.Stderr)
		tel.Events.Subscribe(func(e telemetry.Event) {
			_ = enc.Encode(e)
		}, nil)
	}

	sessions, err := awsauth.New(ctx,
		awsauth.WithProfile(project.Environment.Profile),
		awsauth.WithLogger(logger),
	)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	a.resolver = contextprovider.NewResolver(
		contextprovider.DefaultRegistry(sessions, logger.With().Str("component", "contextprovider").Logger()),
		contextprovider.WithTimeout(project.Settings.LookupTimeout),
		contextprovider.WithLogger(logger),
		contextprovider.WithMetrics(tel.Metrics),
		contextprovider.WithTracer(tel.Tracer),
	)

	if withStore && !project.Store.Disabled {
		a.store, err = stores.Open(ctx, project.Resolve(project.Store.Path))
		if err != nil {
			a.close(ctx)
			return nil, err
		}
	}

	if withPolicies {
		a.policies, err = newPolicyEngine(ctx, project, tel)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
	}

	return a, nil
}

func newPolicyEngine(ctx context.Context, project *config.Project, tel *telemetry.Telemetry) (*policy.Engine, error) {
	opts := []policy.Option{policy.WithDeprecatedRuntimes(project.Policies.DeprecatedRuntimes)}
	if !project.Policies.Builtin {
		opts = append(opts, policy.WithoutBuiltins())
	}
	eng, err := policy.NewEngine(ctx, tel.Logger.Zerolog(), opts...)
	if err != nil {
		return nil, err
	}
	if len(project.Policies.Paths) > 0 {
		paths := make([]string, len(project.Policies.Paths))
		for i, p := range project.Policies.Paths {
			paths[i] = project.Resolve(p)
		}
		if err := eng.LoadPolicies(ctx, paths); err != nil {
			return nil, err
		}
	}
	return eng, nil
}

// reload re-reads the project file and its policies. Telemetry, the
// resolver and the store stay as opened.
func (a *app) reload(ctx context.Context) error {
	project, err := loadProject()
	if err != nil {
		return err
	}
	if a.policies != nil {
		eng, err := newPolicyEngine(ctx, project, a.tel)
		if err != nil {
			return err
		}
		a.policies = eng
	}
	a.project = project
	return nil
}

func (a *app) runner() *synth.Runner {
	opts := []synth.Option{synth.WithTelemetry(a.tel)}
	if a.store != nil {
		opts = append(opts, synth.WithStore(a.store))
	}
	if a.policies != nil {
		opts = append(opts, synth.WithPolicyEngine(a.policies))
	}
	return synth.NewRunner(a.project, a.resolver, opts...)
}

func (a *app) close(ctx context.Context) {
	if a.store != nil {
		_ = a.store.Close()
	}
	if err := a.tel.Shutdown(ctx); err != nil {
		a.tel.Logger.WithError(err).Warn("Failed to flush telemetry")
	}
}

// openStore opens the history database without the rest of the app.
func openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	project, err := loadProject()
	if err != nil {
		return nil, err
	}
	if project.Store.Disabled {
		return nil, fmt.Errorf("pass history is disabled in %s", projectPath)
	}
	return stores.Open(ctx, project.Resolve(project.Store.Path))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
