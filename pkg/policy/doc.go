// Package policy checks synthesized construct trees against Rego policies.
//
// The tree is flattened into an input document with one entry per node:
//
//	{"nodes": [{"path": "App/Stack/Fn", "id": "Fn", "type": "AWS::Lambda::Function",
//	            "parent_type": "aws-ses.ReceiptRule", "properties": {"Runtime": "nodejs20.x"}}]}
//
// Each policy contributes the entries of the deny set in its package. An entry
// is a message string or an object with "message", "path" and optionally
// "severity"; without a severity the policy default applies.
//
// Two policies are built in: deprecated-runtime rejects functions still on a
// runtime listed in data.synth.deprecated_runtimes, and missing-runtime warns
// about zip-packaged functions without a runtime. Project policies are loaded
// from .rego files, whose severity is taken from a "# severity: <level>" comment,
// or from .json policy definitions.
package policy
