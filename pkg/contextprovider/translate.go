package contextprovider

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/smithy-go"

	"github.com/openfroyo/synth/pkg/engine"
)

// Remote error codes that map onto the error taxonomy. Everything not listed is
// a generic transient failure.
var (
	throttlingCodes = map[string]struct{}{
		"Throttling":                {},
		"ThrottlingException":       {},
		"ThrottledException":        {},
		"RequestLimitExceeded":      {},
		"TooManyRequestsException":  {},
		"RequestThrottledException": {},
	}

	permissionCodes = map[string]struct{}{
		"AccessDenied":                {},
		"AccessDeniedException":       {},
		"UnauthorizedOperation":       {},
		"UnrecognizedClientException": {},
		"InvalidClientTokenId":        {},
		"ExpiredToken":                {},
		"ExpiredTokenException":       {},
	}
)

// translateError maps a remote failure into a Result. notFoundCodes lists the
// error codes the provider documents as "target does not exist"; they become
// NotFound carrying notFoundMessage. Pass none for providers that have no
// absence signal.
func translateError(err error, notFoundMessage string, notFoundCodes ...string) Result {
	if errors.Is(err, context.DeadlineExceeded) {
		return TransientFailure("remote call timed out", err).withCode(engine.ErrCodeTimeout)
	}
	if errors.Is(err, context.Canceled) {
		return TransientFailure("remote call cancelled", err).withCode(engine.ErrCodeCanceled)
	}

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return TransientFailure("remote call failed", err)
	}

	code := apiErr.ErrorCode()
	for _, nf := range notFoundCodes {
		if code == nf {
			return NotFound(notFoundMessage).withCode(engine.ErrCodeNotFound)
		}
	}
	if _, ok := throttlingCodes[code]; ok {
		return TransientFailure(fmt.Sprintf("remote call throttled (%s)", code), err).
			withCode(engine.ErrCodeThrottled)
	}
	if _, ok := permissionCodes[code]; ok {
		return TransientFailure(fmt.Sprintf("permission denied (%s)", code), err).
			withCode(engine.ErrCodePermissionDenied)
	}
	return TransientFailure(fmt.Sprintf("remote call failed (%s)", code), err)
}

// sessionFailure wraps an error from the session provider.
func sessionFailure(q Query, err error) Result {
	return TransientFailure(
		fmt.Sprintf("could not obtain a read-only session for %s/%s", q.Account, q.Region), err).
		withCode(engine.ErrCodeSession)
}
