package middleware

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	apierrors "brvlicense/internal/errors"
)

// RequestValidator decodes JSON request bodies and validates them
// against their struct tags.
type RequestValidator struct {
	validator   *validator.Validate
	logger      *slog.Logger
	maxBodySize int64
}

// NewRequestValidator creates a validator for the admin API payloads.
func NewRequestValidator(logger *slog.Logger) *RequestValidator {
	v := validator.New()

	// Use JSON tag names in error messages
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &RequestValidator{
		validator:   v,
		logger:      logger.With(slog.String("component", "request_validator")),
		maxBodySize: 64 * 1024,
	}
}

// DecodeAndValidate reads the request body into dst and validates it.
// A nil return means dst is populated and valid. An empty body is
// treated as an empty JSON object so optional-field requests work
// without one.
func (rv *RequestValidator) DecodeAndValidate(r *http.Request, dst interface{}) *apierrors.ProblemDetails {
	if r.ContentLength > rv.maxBodySize {
		return apierrors.NewProblemDetails(
			http.StatusRequestEntityTooLarge,
			apierrors.TypeValidation,
			"Payload Too Large",
			fmt.Sprintf("Request body exceeds the %d byte limit.", rv.maxBodySize),
			r.URL.Path,
		).WithExtension("error_code", "PAYLOAD_TOO_LARGE")
	}

	if r.Body != nil && r.ContentLength != 0 {
		dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, rv.maxBodySize))
		if err := dec.Decode(dst); err != nil {
			rv.logger.WarnContext(r.Context(), "request body rejected",
				slog.String("error", err.Error()),
				slog.String("path", r.URL.Path))
			return apierrors.NewProblemDetails(
				http.StatusBadRequest,
				apierrors.TypeValidation,
				"Invalid JSON",
				"Request body contains invalid JSON.",
				r.URL.Path,
			).WithExtension("error_code", "INVALID_JSON")
		}
	}

	if err := rv.validator.Struct(dst); err != nil {
		fieldErrors, ok := err.(validator.ValidationErrors)
		if !ok {
			return apierrors.NewValidationProblem(r.URL.Path, []apierrors.ValidationError{
				{Field: "body", Message: err.Error()},
			})
		}

		errs := make([]apierrors.ValidationError, 0, len(fieldErrors))
		for _, fe := range fieldErrors {
			errs = append(errs, apierrors.ValidationError{
				Field:   fe.Field(),
				Message: formatValidationError(fe),
			})
		}
		return apierrors.NewValidationProblem(r.URL.Path, errs)
	}

	return nil
}

// ContentTypeValidator ensures mutating requests carry an accepted
// content type.
func ContentTypeValidator(contentTypes ...string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			if r.ContentLength == 0 {
				next.ServeHTTP(w, r)
				return
			}

			contentType := r.Header.Get("Content-Type")
			for _, allowed := range contentTypes {
				if strings.HasPrefix(contentType, allowed) {
					next.ServeHTTP(w, r)
					return
				}
			}

			problem := apierrors.NewProblemDetails(
				http.StatusUnsupportedMediaType,
				apierrors.TypeValidation,
				"Unsupported Media Type",
				"Content-Type must be one of: "+strings.Join(contentTypes, ", "),
				r.URL.Path,
			)
			apierrors.RenderProblem(w, problem)
		})
	}
}

// formatValidationError renders one field error as a human message.
func formatValidationError(err validator.FieldError) string {
	field := err.Field()
	param := err.Param()

	switch err.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, param)
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, param)
	case "uppercase":
		return fmt.Sprintf("%s must be uppercase", field)
	case "hexadecimal":
		return fmt.Sprintf("%s must be hexadecimal", field)
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(param, " ", ", "))
	default:
		return fmt.Sprintf("%s failed %s validation", field, err.Tag())
	}
}
