package construct

// Type tags of the node kinds the built-in aspects know about.
const (
	TypeApp   = "core.App"
	TypeStack = "core.Stack"

	TypeCustomResourceProvider = "core.CustomResourceProvider"
	TypeProvider               = "custom-resources.Provider"
	TypeReceiptRuleSet         = "aws-ses.ReceiptRuleSet"
	TypeReceiptRule            = "aws-ses.ReceiptRule"
	TypeFunction               = "aws-lambda.Function"
	TypeSingletonFunction      = "aws-lambda.SingletonFunction"

	TypeCfnFunction = "AWS::Lambda::Function"
)

// Well-known property keys.
const (
	PropRuntime  = "Runtime"
	PropHandler  = "Handler"
	PropImageURI = "ImageUri"
)
