package lmfwc

import (
	"encoding/json"
	"errors"
	"strings"
)

// ConfigError reports missing or malformed configuration or invalid
// input. Calls failing with a ConfigError never reached the network.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string { return e.Message }

// NewConfigError creates a ConfigError with the given message.
func NewConfigError(message string) *ConfigError {
	return &ConfigError{Message: message}
}

// RequestError reports an HTTP-level or transport-level failure.
// Status is the HTTP status code when a response was received, or 0
// for pure transport failures (timeout, connection refused). Payload
// holds the raw response body verbatim for diagnostics.
type RequestError struct {
	Message string
	Status  int
	Payload json.RawMessage
}

func (e *RequestError) Error() string { return e.Message }

// ContractError reports a response that succeeded at the HTTP layer
// but semantically encodes failure in its body. Code is the remote
// error code (for example "lmfwc_rest_license_expired"), Status the
// status embedded alongside it when the server provided one.
type ContractError struct {
	Message string
	Code    string
	Status  int
	Payload json.RawMessage
}

func (e *ContractError) Error() string { return e.Message }

// IsDuplicateActivate reports whether err is the idempotency-guard
// rejection raised when a second activate lands inside the lock window.
func IsDuplicateActivate(err error) bool {
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		return false
	}
	return reqErr.Status == 409 && strings.Contains(strings.ToLower(reqErr.Message), "duplicate activate blocked")
}
