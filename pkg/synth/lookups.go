package synth

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/synth/pkg/config"
	"github.com/openfroyo/synth/pkg/contextprovider"
)

// LookupOutcome is the resolution of one named lookup.
type LookupOutcome struct {
	Lookup   config.Lookup
	Query    contextprovider.Query
	Result   contextprovider.Result
	Cached   bool
	Duration time.Duration
}

// Tolerated reports whether the outcome lets the pass continue.
func (o LookupOutcome) Tolerated() bool {
	if o.Result.OK() {
		return true
	}
	return o.Lookup.Optional && o.Result.Outcome == contextprovider.OutcomeNotFound
}

// QueryFor builds the query of a lookup. Empty account, region and role fall
// back to the environment.
func QueryFor(l config.Lookup, env config.Environment) contextprovider.Query {
	q := contextprovider.NewQuery(l.Kind, firstNonEmpty(l.Account, env.Account), firstNonEmpty(l.Region, env.Region), l.Params)
	if role := firstNonEmpty(l.LookupRoleARN, env.LookupRoleARN); role != "" {
		q = q.WithLookupRole(role)
	}
	return q
}

// ResolveLookups resolves every lookup with at most parallel calls in flight
// and returns the outcomes in declaration order. A lookup whose query repeats
// an earlier one in the list is reported as cached.
func ResolveLookups(ctx context.Context, resolver *contextprovider.Resolver, lookups []config.Lookup, env config.Environment, parallel int) []LookupOutcome {
	outcomes := make([]LookupOutcome, len(lookups))
	seen := make(map[string]bool, len(lookups))
	for i, l := range lookups {
		q := QueryFor(l, env)
		key := q.Key()
		outcomes[i] = LookupOutcome{Lookup: l, Query: q, Cached: seen[key]}
		seen[key] = true
	}

	var g errgroup.Group
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for i := range outcomes {
		g.Go(func() error {
			start := time.Now()
			outcomes[i].Result = resolver.Resolve(ctx, outcomes[i].Query)
			outcomes[i].Duration = time.Since(start)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// ContextValues maps lookup names to resolved values. Failed lookups are left
// out.
func ContextValues(outcomes []LookupOutcome) map[string]any {
	values := make(map[string]any, len(outcomes))
	for _, o := range outcomes {
		if o.Result.OK() {
			values[o.Lookup.Name] = o.Result.Value
		}
	}
	return values
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
