package errors

import (
	"errors"
	"net/http"

	"brvlicense/internal/license"
	"brvlicense/internal/lmfwc"
)

// licenseProblem maps controller and client errors to RFC 7807
// problem details. The instance should be the request path.
func licenseProblem(err error, instance string) *ProblemDetails {
	var cfgErr *lmfwc.ConfigError
	if errors.As(err, &cfgErr) {
		return NewProblemDetails(
			http.StatusServiceUnavailable,
			TypeNotConfigured,
			"License Client Not Configured",
			cfgErr.Message,
			instance,
		).WithExtension("error_code", "NOT_CONFIGURED")
	}

	switch {
	case errors.Is(err, license.ErrKeyRequired):
		return NewProblemDetails(
			http.StatusBadRequest,
			TypeKeyRequired,
			"License Key Required",
			"Provide a license key in the request or activate one first.",
			instance,
		).WithExtension("error_code", "KEY_REQUIRED")

	case errors.Is(err, license.ErrTokenRequired):
		return NewProblemDetails(
			http.StatusBadRequest,
			TypeTokenRequired,
			"Activation Token Required",
			"No activation token is stored and none was provided.",
			instance,
		).WithExtension("error_code", "TOKEN_REQUIRED")

	case errors.Is(err, license.ErrLicenseExpired):
		return NewProblemDetails(
			http.StatusForbidden,
			TypeLicenseExpired,
			"License Expired",
			"The license has expired. Renew it to continue.",
			instance,
		).WithExtension("error_code", "LICENSE_EXPIRED")

	case errors.Is(err, license.ErrActivationSettling):
		return NewProblemDetails(
			http.StatusConflict,
			TypeActivationSettling,
			"Activation Settling",
			"A recent activation for this key is still settling. Retry in a few seconds.",
			instance,
		).WithExtension("error_code", "ACTIVATION_SETTLING").
			WithExtension("retry_after", 10)

	case errors.Is(err, license.ErrActivationLimit):
		return NewProblemDetails(
			http.StatusConflict,
			TypeActivationLimit,
			"Activation Limit Reached",
			"The license has reached its activation limit and no fresh token was issued.",
			instance,
		).WithExtension("error_code", "ACTIVATION_LIMIT")

	case errors.Is(err, license.ErrOperationFailed):
		return NewProblemDetails(
			http.StatusBadGateway,
			TypeOperationFailed,
			"License Operation Failed",
			"The license server rejected the operation or could not be reached.",
			instance,
		).WithExtension("error_code", "OPERATION_FAILED")

	default:
		return NewProblemDetails(
			http.StatusInternalServerError,
			TypeInternal,
			"Internal Server Error",
			"An unexpected error occurred while processing your request.",
			instance,
		).WithExtension("error_code", "INTERNAL_ERROR")
	}
}
