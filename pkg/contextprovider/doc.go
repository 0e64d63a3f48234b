// Package contextprovider resolves environment-dependent values (availability
// zones, parameter values) from the remote control plane during synthesis.
//
// A Query names a provider kind, the target account and region, the
// provider-specific parameters and an optional lookup role. The Resolver
// validates it, dispatches it to the Plugin registered for its kind and stores
// the Result in a pass-scoped Cache:
//
//	registry := contextprovider.DefaultRegistry(sessions, logger)
//	resolver := contextprovider.NewResolver(registry, contextprovider.WithTimeout(10*time.Second))
//
//	res := resolver.Resolve(ctx, contextprovider.NewQuery(
//	    contextprovider.KindSSMParameter, "111111111111", "us-east-1",
//	    map[string]string{contextprovider.ParamParameterName: "/app/ami"},
//	))
//	switch res.Outcome {
//	case contextprovider.OutcomeSuccess:
//	case contextprovider.OutcomeNotFound:
//	case contextprovider.OutcomeTransientFailure:
//	case contextprovider.OutcomeConfigurationError:
//	}
//
// Absence is classified per provider. The availability zone providers resolve
// an empty list to an empty success; the SSM provider reports NotFound.
//
// Remote SDK errors are mapped into the engine error taxonomy in one place
// (translate.go) so plugins never match on error strings.
package contextprovider
