package errors

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brvlicense/internal/license"
)

func newTestHandler(includeStack bool) *ErrorHandler {
	return NewErrorHandler(slog.New(slog.NewJSONHandler(io.Discard, nil)), includeStack)
}

func requestWithID(method, path, reqID string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	ctx := context.WithValue(req.Context(), middleware.RequestIDKey, reqID)
	return req.WithContext(ctx)
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	return decoded
}

func TestHandleErrorMapsSentinels(t *testing.T) {
	h := newTestHandler(false)

	rec := httptest.NewRecorder()
	req := requestWithID(http.MethodPost, "/api/license/validate", "req-42")

	h.HandleError(rec, req, license.ErrLicenseExpired)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	decoded := decodeProblem(t, rec)
	assert.Equal(t, TypeLicenseExpired, decoded["type"])
	assert.Equal(t, "req-42", decoded["trace_id"])
	assert.Equal(t, "/api/license/validate", decoded["instance"])
}

func TestHandleErrorNilIsNoop(t *testing.T) {
	h := newTestHandler(false)

	rec := httptest.NewRecorder()
	h.HandleError(rec, requestWithID(http.MethodGet, "/api/license/status", "r"), nil)

	assert.Empty(t, rec.Body.String())
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestErrorToProblemContextTimeout(t *testing.T) {
	h := newTestHandler(false)
	req := httptest.NewRequest(http.MethodPost, "/api/license/activate", nil)

	problem := h.ErrorToProblem(context.DeadlineExceeded, req)
	assert.Equal(t, http.StatusGatewayTimeout, problem.Status)
	assert.Equal(t, TypeTimeout, problem.Type)

	problem = h.ErrorToProblem(context.Canceled, req)
	assert.Equal(t, http.StatusGatewayTimeout, problem.Status)
}

func TestErrorToProblemPassesThroughProblems(t *testing.T) {
	h := newTestHandler(false)
	req := httptest.NewRequest(http.MethodGet, "/api/license/status", nil)

	original := NewProblemDetails(http.StatusTeapot, "/errors/teapot", "Teapot", "short and stout", "/x")
	got := h.ErrorToProblem(original, req)

	assert.Same(t, original, got)
}

func TestHandlePanic(t *testing.T) {
	h := newTestHandler(false)

	rec := httptest.NewRecorder()
	req := requestWithID(http.MethodPost, "/api/license/activate", "req-panic")

	h.HandlePanic(rec, req, "boom")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	decoded := decodeProblem(t, rec)
	assert.Equal(t, TypeInternal, decoded["type"])
	assert.Equal(t, "req-panic", decoded["trace_id"])
	_, hasStack := decoded["stack"]
	assert.False(t, hasStack)
}

func TestHandlePanicIncludesStackWhenEnabled(t *testing.T) {
	h := newTestHandler(true)

	rec := httptest.NewRecorder()
	req := requestWithID(http.MethodPost, "/api/license/activate", "req-panic")

	h.HandlePanic(rec, req, "boom")

	decoded := decodeProblem(t, rec)
	assert.Equal(t, "boom", decoded["panic"])
	assert.NotEmpty(t, decoded["stack"])
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	h := newTestHandler(false)

	rec := httptest.NewRecorder()
	h.NotFound(rec, requestWithID(http.MethodGet, "/nope", "r1"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.MethodNotAllowed(rec, requestWithID(http.MethodDelete, "/api/license/status", "r2"))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	decoded := decodeProblem(t, rec)
	assert.Contains(t, decoded["detail"], "DELETE")
}
