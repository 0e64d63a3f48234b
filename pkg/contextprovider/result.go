package contextprovider

import (
	"fmt"

	"github.com/openfroyo/synth/pkg/engine"
)

// Outcome classifies a Result.
type Outcome string

const (
	OutcomeSuccess            Outcome = "success"
	OutcomeNotFound           Outcome = "not_found"
	OutcomeTransientFailure   Outcome = "transient_failure"
	OutcomeConfigurationError Outcome = "configuration_error"
)

// Result is the outcome of resolving one Query. Failures are values so that
// callers must look at Outcome before using Value.
type Result struct {
	Outcome Outcome `json:"outcome"`

	// Value is a string, []string or map[string]any on success.
	Value any `json:"value,omitempty"`

	// Diagnostic carries the remote or validation message for non-success outcomes.
	Diagnostic string `json:"diagnostic,omitempty"`

	err *engine.EngineError
}

// Success wraps a resolved value.
func Success(value any) Result {
	return Result{Outcome: OutcomeSuccess, Value: value}
}

// NotFound reports that the remote side confirmed the target is absent.
func NotFound(message string) Result {
	return fromEngineError(engine.NewNotFoundError(message, nil))
}

// TransientFailure reports that the remote call itself failed.
func TransientFailure(message string, cause error) Result {
	return fromEngineError(engine.NewTransientError(message, cause))
}

// ConfigurationError reports a malformed query. No remote call was made.
func ConfigurationError(message string) Result {
	return fromEngineError(engine.NewConfigurationError(message, nil))
}

// FromError classifies err by its engine error class. Unclassified errors
// become transient failures.
func FromError(err error) Result {
	if err == nil {
		return Result{Outcome: OutcomeSuccess}
	}
	if ee, ok := err.(*engine.EngineError); ok {
		return fromEngineError(ee)
	}
	switch engine.ClassOf(err) {
	case engine.ErrorClassConfiguration:
		return fromEngineError(engine.NewConfigurationError(err.Error(), err))
	case engine.ErrorClassNotFound:
		return fromEngineError(engine.NewNotFoundError(err.Error(), err))
	default:
		return fromEngineError(engine.NewTransientError(err.Error(), err))
	}
}

func fromEngineError(ee *engine.EngineError) Result {
	r := Result{Diagnostic: ee.Error(), err: ee}
	switch ee.Class {
	case engine.ErrorClassConfiguration:
		r.Outcome = OutcomeConfigurationError
	case engine.ErrorClassNotFound:
		r.Outcome = OutcomeNotFound
	default:
		r.Outcome = OutcomeTransientFailure
	}
	return r
}

// OK reports whether the result is a success.
func (r Result) OK() bool {
	return r.Outcome == OutcomeSuccess
}

// Err returns the classified error for non-success outcomes and nil otherwise.
func (r Result) Err() error {
	if r.Outcome == OutcomeSuccess || r.err == nil {
		return nil
	}
	return r.err
}

// Strings returns the value as a string list.
func (r Result) Strings() ([]string, error) {
	if err := r.Err(); err != nil {
		return nil, err
	}
	switch v := r.Value.(type) {
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out, nil
	case nil:
		return []string{}, nil
	default:
		return nil, fmt.Errorf("context value is %T, not a list", r.Value)
	}
}

// String returns the value as a string.
func (r Result) String() (string, error) {
	if err := r.Err(); err != nil {
		return "", err
	}
	s, ok := r.Value.(string)
	if !ok {
		return "", fmt.Errorf("context value is %T, not a string", r.Value)
	}
	return s, nil
}

func (r Result) withCode(code string) Result {
	if r.err != nil {
		r.err.WithCode(code)
	}
	return r
}

func (r Result) withResource(resource string) Result {
	if r.err != nil {
		r.err.WithResource(resource)
		r.Diagnostic = r.err.Error()
	}
	return r
}
