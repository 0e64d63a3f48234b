package policy

// DefaultDeprecatedRuntimes are Lambda runtimes past their deprecation date.
var DefaultDeprecatedRuntimes = []string{
	"nodejs10.x",
	"nodejs12.x",
	"nodejs14.x",
	"nodejs16.x",
	"python2.7",
	"python3.6",
	"python3.7",
	"go1.x",
	"ruby2.7",
	"dotnetcore3.1",
}

// BuiltinPolicies returns the policies shipped with synth.
func BuiltinPolicies() []Policy {
	return []Policy{
		deprecatedRuntimePolicy(),
		missingRuntimePolicy(),
	}
}

// deprecatedRuntimePolicy flags functions still on a deprecated runtime after
// every aspect ran. The runtime list lives in data.synth.deprecated_runtimes.
func deprecatedRuntimePolicy() Policy {
	return Policy{
		Name:        "deprecated-runtime",
		Description: "Lambda functions must not use a deprecated runtime",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Rego: `package synth.policies.runtime

import rego.v1

deny contains violation if {
	some node in input.nodes
	node.type == "AWS::Lambda::Function"
	runtime := node.properties.Runtime
	runtime in data.synth.deprecated_runtimes
	violation := {
		"path": node.path,
		"message": sprintf("function uses deprecated runtime %s", [runtime]),
	}
}
`,
	}
}

// missingRuntimePolicy flags zip-packaged functions without a runtime. Image
// functions carry their runtime in the image.
func missingRuntimePolicy() Policy {
	return Policy{
		Name:        "missing-runtime",
		Description: "Zip-packaged Lambda functions must declare a runtime",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Rego: `package synth.policies.packaging

import rego.v1

deny contains violation if {
	some node in input.nodes
	node.type == "AWS::Lambda::Function"
	not node.properties.Runtime
	not node.properties.PackageType == "Image"
	violation := {
		"path": node.path,
		"message": "function has no runtime",
	}
}
`,
	}
}
