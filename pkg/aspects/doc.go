// Package aspects implements the aspect application engine: cross-cutting,
// idempotent mutations applied to an infrastructure-definition tree.
//
// # Roles
//
// A Classifier maps every node to the set of Roles it plays using structural
// tests only (type tag and, where needed, a named child). Each role carries a
// shape contract that resolves the nested nodes its rules patch; a node whose
// shape has drifted yields a precondition error instead of a silent skip.
//
// # Rules
//
// A Rule reads the current property of a target and changes it only when the
// value is known to be stale. RuntimeRule is the built-in stale-value rule;
// ScriptRule lets projects write rules in Starlark.
//
// # Visitors
//
// A Visitor walks the tree once and applies the rules registered for each
// matched role with its configured target value:
//
//	v := aspects.NewRuntimeAspect("nodejs20.x", []string{"nodejs16.x", "nodejs18.x"})
//	records, err := v.Visit(root)
//
// Visitors are registered explicitly in a Set owned by the caller. Visiting
// twice with the same inputs yields no records the second time.
//
// # Thread Safety
//
// Traversal is single-threaded. No other component may mutate the tree while
// a visitor runs.
package aspects
