package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for recovery logic.
type ErrorClass string

const (
	// ErrorClassConfiguration indicates a malformed request or project setting.
	// Not retryable; the enclosing operation must abort and surface it to the user.
	ErrorClassConfiguration ErrorClass = "configuration"

	// ErrorClassNotFound indicates the remote side confirmed the target does not exist.
	// The caller decides whether absence is fatal.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassTransient indicates the remote call itself failed.
	// Examples: network errors, throttling, permission denied, timeouts.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassPreconditionUnmet indicates a mutation rule found a node whose
	// nested shape did not match what the rule expects.
	ErrorClassPreconditionUnmet ErrorClass = "precondition_unmet"
)

// EngineError is a classified failure. Resource is the node path, lookup key
// or file that caused it; Operation names the visitor, lookup or check that
// was running.
type EngineError struct {
	Class     ErrorClass             `json:"class"`
	Message   string                 `json:"message"`
	Code      string                 `json:"code,omitempty"`
	Resource  string                 `json:"resource,omitempty"`
	Operation string                 `json:"operation,omitempty"`
	Err       error                  `json:"-"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Resource != "" && e.Operation != "" {
		msg = fmt.Sprintf("%s (resource=%s, operation=%s)", msg, e.Resource, e.Operation)
	} else if e.Resource != "" {
		msg = fmt.Sprintf("%s (resource=%s)", msg, e.Resource)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

func newError(class ErrorClass, code, message string, err error) *EngineError {
	return &EngineError{Class: class, Code: code, Message: message, Err: err}
}

// NewConfigurationError reports a malformed query or project setting.
func NewConfigurationError(message string, err error) *EngineError {
	return newError(ErrorClassConfiguration, ErrCodeValidation, message, err)
}

// NewNotFoundError reports a target the remote side confirmed absent.
func NewNotFoundError(message string, err error) *EngineError {
	return newError(ErrorClassNotFound, ErrCodeNotFound, message, err)
}

// NewTransientError reports a failed remote call.
func NewTransientError(message string, err error) *EngineError {
	return newError(ErrorClassTransient, ErrCodeRemoteFailed, message, err)
}

// NewPreconditionError reports a node missing the nested shape a rule needs.
func NewPreconditionError(message string, err error) *EngineError {
	return newError(ErrorClassPreconditionUnmet, ErrCodeShapeMismatch, message, err)
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(resourceID string) *EngineError {
	e.Resource = resourceID
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ClassOf returns the class of err, or the empty class if err is not classified.
func ClassOf(err error) ErrorClass {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

func IsConfiguration(err error) bool { return ClassOf(err) == ErrorClassConfiguration }

func IsNotFound(err error) bool { return ClassOf(err) == ErrorClassNotFound }

func IsTransient(err error) bool { return ClassOf(err) == ErrorClassTransient }

func IsPreconditionUnmet(err error) bool { return ClassOf(err) == ErrorClassPreconditionUnmet }

// IsRetryable returns true if a caller may retry the operation.
// Only transient errors are retryable; retry policy itself belongs to the caller.
func IsRetryable(err error) bool {
	return IsTransient(err)
}

// Error codes. The constructors set a default per class; WithCode narrows it.
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeMissingParameter = "MISSING_PARAMETER"
	ErrCodeUnknownProvider  = "UNKNOWN_PROVIDER"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeRemoteFailed     = "REMOTE_FAILED"
	ErrCodeTimeout          = "TIMEOUT"
	ErrCodeCanceled         = "CANCELED"
	ErrCodeThrottled        = "THROTTLED"
	ErrCodePermissionDenied = "PERMISSION_DENIED"
	ErrCodeSession          = "SESSION_FAILED"
	ErrCodeShapeMismatch    = "SHAPE_MISMATCH"
	ErrCodeRuleFailed       = "RULE_FAILED"
	ErrCodePolicyViolation  = "POLICY_VIOLATION"
	ErrCodeLookupFailed     = "LOOKUP_FAILED"
)
