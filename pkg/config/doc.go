// Package config loads the two inputs of a synthesis pass.
//
// Construct trees are written in CUE. Every source is unified into one value
// whose top-level "app" field is the root node; each node is checked against
// the #Node schema before the tree is built, so that a malformed definition is
// reported with file and line instead of failing halfway through a pass.
//
// The project file (synth.yaml) names the tree sources, the environment lookups
// resolve against, the lookups themselves, the aspects to apply and the output
// settings:
//
//	name: mail
//	tree: [tree.cue]
//	environment:
//	  account: "123456789012"
//	  region: us-east-1
//	lookups:
//	  - name: runtime
//	    kind: ssm
//	    params: {parameterName: /platform/lambda/runtime}
//	aspects:
//	  - name: ses-runtime
//	    type: runtime
//	    target_lookup: runtime
//	    stale: [nodejs14.x, nodejs16.x]
package config
