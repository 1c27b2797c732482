package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"brvlicense/internal/infrastructure"
)

// OTelMiddleware traces every request and feeds the HTTP metric
// instruments. It runs after RequestID so the span lands in the same
// trace the logs carry.
func OTelMiddleware(metrics *infrastructure.LicenseMetrics) func(next http.Handler) http.Handler {
	tracer := otel.Tracer(infrastructure.ServiceName)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			spanName := fmt.Sprintf("%s %s", r.Method, r.URL.Path)
			ctx, span := tracer.Start(ctx, spanName,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
					semconv.URLScheme(schemeOf(r)),
					semconv.UserAgentOriginal(r.UserAgent()),
					semconv.ClientAddress(GetRealIP(r)),
				),
			)
			defer span.End()

			start := time.Now()
			if metrics != nil && metrics.HTTPActiveRequests != nil {
				metrics.HTTPActiveRequests.Add(ctx, 1)
				defer metrics.HTTPActiveRequests.Add(ctx, -1)
			}

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r.WithContext(ctx))

			duration := time.Since(start)
			route := getRoutePattern(r)

			span.SetAttributes(
				semconv.HTTPResponseStatusCode(rw.statusCode),
				semconv.HTTPRoute(route),
				attribute.Int64("http.response.body.size", rw.bytesWritten),
			)
			if rw.statusCode >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(rw.statusCode))
			}

			if metrics != nil && metrics.HTTPRequestsTotal != nil {
				attrs := []attribute.KeyValue{
					attribute.String("method", r.Method),
					attribute.String("route", route),
					attribute.Int("status", rw.statusCode),
				}
				metrics.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
				metrics.HTTPRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
			}
		})
	}
}

// WebSocketTraceMiddleware opens a span around websocket upgrades but
// leaves the long-lived connection itself untraced.
func WebSocketTraceMiddleware(next http.Handler) http.Handler {
	tracer := otel.Tracer(infrastructure.ServiceName)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Upgrade") != "websocket" {
			next.ServeHTTP(w, r)
			return
		}

		ctx, span := tracer.Start(r.Context(), "websocket.upgrade",
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.URLPath(r.URL.Path),
				semconv.ClientAddress(GetRealIP(r)),
			),
		)
		span.End()

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// responseWriter captures the status code and body size for spans and
// metrics.
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
	wroteHeader  bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.statusCode = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// getRoutePattern prefers the chi route template over the raw path so
// metric cardinality stays bounded.
func getRoutePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

func schemeOf(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
