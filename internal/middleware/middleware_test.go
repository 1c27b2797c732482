package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "brvlicense/internal/errors"
	"brvlicense/internal/infrastructure"
)

func newLogBuffer() (*bytes.Buffer, *slog.Logger) {
	buf := &bytes.Buffer{}
	return buf, slog.New(slog.NewJSONHandler(buf, nil))
}

func TestRequestIDGeneratesWhenMissing(t *testing.T) {
	var seenID string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = GetRequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/data", nil))

	assert.Len(t, rec.Header().Get("X-Request-ID"), 36)
	assert.Equal(t, rec.Header().Get("X-Request-ID"), seenID)
}

func TestRequestIDHonorsClientHeader(t *testing.T) {
	var seenID, seenTrace string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = chimiddleware.GetReqID(r.Context())
		seenTrace = infrastructure.GetTraceID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/data", nil)
	req.Header.Set("X-Request-ID", "client-supplied-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "client-supplied-42", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "client-supplied-42", seenID)
	assert.Equal(t, "client-supplied-42", seenTrace)
}

func TestGetRequestIDFallsBackToTraceID(t *testing.T) {
	assert.Empty(t, GetRequestID(context.Background()))

	ctx := infrastructure.WithTraceID(context.Background(), "trace-7")
	assert.Equal(t, "trace-7", GetRequestID(ctx))
}

func TestStructuredLoggerEmitsCompletionEntry(t *testing.T) {
	buf, logger := newLogBuffer()

	handler := RequestID(StructuredLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("done"))
	})))

	req := httptest.NewRequest(http.MethodPost, "/api/license/activate", nil)
	req.Header.Set("X-Request-ID", "trace-log-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "request completed", entry["msg"])
	assert.Equal(t, "POST", entry["method"])
	assert.Equal(t, "/api/license/activate", entry["path"])
	assert.Equal(t, float64(http.StatusCreated), entry["status"])
	assert.Equal(t, float64(4), entry["bytes"])
	assert.Equal(t, "trace-log-1", entry["trace_id"])
}

func TestRecovererRendersProblem(t *testing.T) {
	_, logger := newLogBuffer()
	errHandler := apierrors.NewErrorHandler(logger, false)

	handler := RequestID(Recoverer(errHandler)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/data", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "/errors/internal", body["type"])
	assert.NotEmpty(t, body["trace_id"])
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	_, logger := newLogBuffer()
	rl := NewRateLimiter(0.0001, 2, logger)

	handler := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/data", nil))
		require.Equal(t, http.StatusOK, rec.Code, "request %d inside burst", i)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/data", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "/errors/rate-limit", body["type"])
}

func TestCORSPreflight(t *testing.T) {
	handler := CORS(CORSConfig{AllowedOrigins: []string{"https://admin.example.com"}})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight must not reach the handler")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/license/activate", nil)
	req.Header.Set("Origin", "https://admin.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://admin.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
	assert.Equal(t, "300", rec.Header().Get("Access-Control-Max-Age"))
}

func TestCORSRejectsUnknownOrigin(t *testing.T) {
	handler := CORS(CORSConfig{AllowedOrigins: []string{"https://admin.example.com"}})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/data", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code, "enforcement is the browser's job")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSWildcardOrigin(t *testing.T) {
	handler := CORS(CORSConfig{AllowedOrigins: []string{"*"}})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/data", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://host/api", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", rec.Header().Get("Referrer-Policy"))
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "default-src 'none'")
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "https://host/api", nil))
	assert.NotEmpty(t, rec.Header().Get("Strict-Transport-Security"))
}

func TestGetRealIP(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(r *http.Request)
		expected string
	}{
		{
			name:     "prefers X-Forwarded-For",
			setup:    func(r *http.Request) { r.Header.Set("X-Forwarded-For", "203.0.113.9") },
			expected: "203.0.113.9",
		},
		{
			name:     "falls back to X-Real-IP",
			setup:    func(r *http.Request) { r.Header.Set("X-Real-IP", "198.51.100.4") },
			expected: "198.51.100.4",
		},
		{
			name:     "defaults to remote address",
			setup:    func(r *http.Request) {},
			expected: "192.0.2.1:1234",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api", nil)
			tt.setup(req)
			assert.Equal(t, tt.expected, GetRealIP(req))
		})
	}
}
