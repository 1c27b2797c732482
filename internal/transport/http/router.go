package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	apierrors "brvlicense/internal/errors"
	"brvlicense/internal/events"
	"brvlicense/internal/infrastructure"
	custommw "brvlicense/internal/middleware"
	"brvlicense/internal/services"
)

// RateLimitSettings tunes the process-wide request limiter.
type RateLimitSettings struct {
	Enabled bool
	RPS     float64
	Burst   int
}

// RouterConfig collects the dependencies the router wires together.
// Hub, Gate, Metrics, and PrometheusHTTP may be nil; the corresponding
// surface is simply not mounted.
type RouterConfig struct {
	LicenseService services.LicenseService
	HealthService  *services.HealthService
	Gate           *custommw.EntitlementGate
	Hub            *events.Hub
	Metrics        *infrastructure.LicenseMetrics
	PrometheusHTTP http.Handler
	Logger         *slog.Logger
	AllowedOrigins []string
	RateLimit      RateLimitSettings
	WebSocket      events.Settings
	RequestTimeout time.Duration
}

// NewRouter assembles the admin API router. Middleware order:
// RequestID, RealIP, OTel, StructuredLogger, Recoverer,
// SecurityHeaders, CORS, RateLimiter, EntitlementGate.
func NewRouter(cfg RouterConfig) chi.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	errHandler := apierrors.NewErrorHandler(logger, false)
	validator := custommw.NewRequestValidator(logger)

	licenseHandler := NewLicenseHandler(cfg.LicenseService, validator, errHandler, logger)
	healthHandler := NewHealthHandler(cfg.HealthService, logger)

	r := chi.NewRouter()

	r.Use(custommw.RequestID)
	r.Use(chimiddleware.RealIP)

	// The event feed stays outside the main group so the upgrade
	// never runs through wrapping response writers.
	if cfg.Hub != nil {
		r.With(custommw.WebSocketTraceMiddleware).
			Get("/api/license/events", events.ServeWS(cfg.Hub, cfg.WebSocket, cfg.AllowedOrigins, logger))
	}

	r.Group(func(r chi.Router) {
		r.Use(custommw.OTelMiddleware(cfg.Metrics))
		r.Use(custommw.StructuredLogger(logger))
		r.Use(custommw.Recoverer(errHandler))
		r.Use(custommw.SecurityHeaders)
		r.Use(custommw.CORS(custommw.CORSConfig{
			AllowedOrigins: cfg.AllowedOrigins,
			Logger:         logger,
		}))
		if cfg.RateLimit.Enabled {
			r.Use(custommw.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, logger).Handler)
		}
		if cfg.Gate != nil {
			r.Use(cfg.Gate.Handler)
		}

		r.Route("/api", func(r chi.Router) {
			r.Use(render.SetContentType(render.ContentTypeJSON))

			timeout := cfg.RequestTimeout
			if timeout <= 0 {
				timeout = 30 * time.Second
			}
			r.Use(chimiddleware.Timeout(timeout))
			r.Use(apierrors.NewFailureAudit(logger).Handler)
			r.Use(custommw.ContentTypeValidator("application/json"))

			r.Mount("/license", licenseHandler.Routes())

			r.Get("/healthz", healthHandler.Healthz)
			r.Get("/health/live", healthHandler.Liveness)
			r.Get("/version", healthHandler.Version)
		})
	})

	// Prometheus scrapes skip the middleware chain.
	if cfg.PrometheusHTTP != nil {
		r.Handle("/metrics", cfg.PrometheusHTTP)
	}

	r.NotFound(errHandler.NotFound)
	r.MethodNotAllowed(errHandler.MethodNotAllowed)

	return r
}
