// Package synth runs synthesis passes.
//
// A pass loads the construct tree, resets the lookup cache, resolves the
// project lookups concurrently, applies the aspects in declaration order,
// checks policies against the mutated tree, renders it and records the pass in
// the history store. Lookup outcomes are resolved before any visitor runs, so
// rules only ever read previously resolved context values.
package synth
