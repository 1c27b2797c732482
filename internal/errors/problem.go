package errors

import (
	"encoding/json"
	"net/http"
)

// Problem type URIs following RFC 7807
const (
	TypeValidation       = "/errors/validation"
	TypeNotFound         = "/errors/not-found"
	TypeMethodNotAllowed = "/errors/method-not-allowed"
	TypeRateLimit        = "/errors/rate-limit"
	TypeInternal         = "/errors/internal"
	TypeTimeout          = "/errors/timeout"
	TypeForbidden        = "/errors/forbidden"
	TypeServiceDown      = "/errors/service-unavailable"
)

// License domain problem types
const (
	TypeKeyRequired        = "/errors/license/key-required"
	TypeTokenRequired      = "/errors/license/token-required"
	TypeLicenseExpired     = "/errors/license/expired"
	TypeActivationSettling = "/errors/license/activation-settling"
	TypeActivationLimit    = "/errors/license/activation-limit"
	TypeOperationFailed    = "/errors/license/operation-failed"
	TypeNotConfigured      = "/errors/license/not-configured"
)

// ProblemDetails implements RFC 7807 Problem Details for HTTP APIs
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	// Extensions carries additional fields merged into the JSON object
	Extensions map[string]interface{} `json:"-"`
}

// NewProblemDetails creates a new RFC 7807 compliant error
func NewProblemDetails(status int, problemType, title, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:       problemType,
		Title:      title,
		Status:     status,
		Detail:     detail,
		Instance:   instance,
		Extensions: make(map[string]interface{}),
	}
}

// WithExtension adds an extension field to the problem details
func (pd *ProblemDetails) WithExtension(key string, value interface{}) *ProblemDetails {
	if pd.Extensions == nil {
		pd.Extensions = make(map[string]interface{})
	}
	pd.Extensions[key] = value
	return pd
}

// Error implements the error interface so problems can travel as errors.
func (pd *ProblemDetails) Error() string {
	return pd.Title + ": " + pd.Detail
}

// RenderProblem writes pd as application/problem+json with its
// embedded status code. chi render's JSON responder would overwrite
// the media type, so problems take their own path to the wire.
func RenderProblem(w http.ResponseWriter, pd *ProblemDetails) {
	body, err := json.Marshal(pd)
	if err != nil {
		http.Error(w, "failed to encode error response", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(pd.Status)
	w.Write(body)
}

// ValidationError describes one failed request field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// NewValidationProblem builds a 400 problem carrying per-field errors.
func NewValidationProblem(instance string, errs []ValidationError) *ProblemDetails {
	return NewProblemDetails(
		http.StatusBadRequest,
		TypeValidation,
		"Validation Failed",
		"One or more request fields are invalid.",
		instance,
	).WithExtension("error_code", "VALIDATION_FAILED").
		WithExtension("errors", errs)
}

// MarshalJSON merges extension fields into the standard RFC 7807 members.
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := make(map[string]interface{}, 5+len(pd.Extensions))

	data["type"] = pd.Type
	data["title"] = pd.Title
	data["status"] = pd.Status

	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}

	for k, v := range pd.Extensions {
		data[k] = v
	}

	return json.Marshal(data)
}
