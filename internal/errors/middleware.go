package errors

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

const (
	maxCapturedBody = 1 << 20
	maxLoggedBody   = 500
)

// FailureAudit logs failed API requests together with their sanitized
// request body, so operator input mistakes can be diagnosed from the
// logs without ever exposing credential material.
type FailureAudit struct {
	logger *slog.Logger
}

// NewFailureAudit creates the failure audit middleware.
func NewFailureAudit(logger *slog.Logger) *FailureAudit {
	return &FailureAudit{
		logger: logger.With(slog.String("component", "failure_audit")),
	}
}

// Handler captures small request bodies and emits one log entry per
// failed request. Successful requests pass through silently; the
// completion log line belongs to the access logger.
func (m *FailureAudit) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		var requestBody []byte
		if r.Body != nil && r.ContentLength > 0 && r.ContentLength < maxCapturedBody {
			requestBody, _ = io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewReader(requestBody))
		}

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status < 400 {
			return
		}

		level := slog.LevelWarn
		if status >= 500 {
			level = slog.LevelError
		}

		attrs := []slog.Attr{
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		}
		if len(requestBody) > 0 {
			body := sanitizeRequestBody(string(requestBody))
			if len(body) > maxLoggedBody {
				body = body[:maxLoggedBody] + "..."
			}
			attrs = append(attrs, slog.String("request_body", body))
		}

		m.logger.LogAttrs(r.Context(), level, "request failed", attrs...)
	})
}

// sanitizeRequestBody removes credential material from request bodies
// before they are logged.
func sanitizeRequestBody(body string) string {
	var data map[string]interface{}
	if err := json.Unmarshal([]byte(body), &data); err != nil {
		return body
	}

	sensitiveFields := []string{
		"license_key", "licenseKey", "token", "activation_token",
		"api_key", "api_secret", "passphrase", "password", "secret",
	}

	for _, field := range sensitiveFields {
		if _, exists := data[field]; exists {
			data[field] = "[REDACTED]"
		}
	}

	sanitized, _ := json.Marshal(data)
	return string(sanitized)
}
