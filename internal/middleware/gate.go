package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apierrors "brvlicense/internal/errors"
	"brvlicense/internal/infrastructure"
	"brvlicense/pkg/contracts/domain"
)

// StatusProvider hands the gate the two license fields it is allowed
// to read: status and grace_until.
type StatusProvider interface {
	Snapshot(ctx context.Context) (domain.LicenseSnapshot, error)
}

// GateConfig controls the entitlement gate.
type GateConfig struct {
	Enabled         bool
	ExpiryTolerance time.Duration
	AllowedPrefixes []string
	CacheTTL        time.Duration
}

// EntitlementGate blocks requests according to the stored license
// status. Hard-blocked statuses reject every method, soft-locked
// statuses reject writes, and EXPIRED is tolerated for a bounded
// window past grace_until.
type EntitlementGate struct {
	provider StatusProvider
	logger   *slog.Logger
	cfg      GateConfig
	metrics  *infrastructure.LicenseMetrics

	mu        sync.RWMutex
	status    domain.LicenseStatus
	grace     *time.Time
	checkedAt time.Time
}

const defaultGateCacheTTL = 2 * time.Second

// NewEntitlementGate creates the gate middleware.
func NewEntitlementGate(provider StatusProvider, cfg GateConfig, logger *slog.Logger, metrics *infrastructure.LicenseMetrics) *EntitlementGate {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultGateCacheTTL
	}
	return &EntitlementGate{
		provider: provider,
		logger:   logger.With(slog.String("component", "entitlement_gate")),
		cfg:      cfg,
		metrics:  metrics,
	}
}

// Handler returns the middleware handler function.
func (g *EntitlementGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.cfg.Enabled || r.Method == http.MethodOptions || g.pathAllowed(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		tracer := otel.Tracer("brvlicense-gate")
		ctx, span := tracer.Start(ctx, "gate.check",
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", r.URL.Path),
			),
		)
		defer span.End()

		status, grace, err := g.currentStatus(ctx)
		if err != nil {
			// The gate fails open: an unreadable state file must not
			// take the whole surface down.
			g.logger.WarnContext(ctx, "gate could not read license state, allowing request",
				slog.String("error", err.Error()),
				slog.String("path", r.URL.Path))
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		allowed, problem := g.decide(status, grace, r)
		span.SetAttributes(
			attribute.String("license.status", string(status)),
			attribute.Bool("gate.allowed", allowed),
		)
		infrastructure.RecordGateDecision(ctx, g.metrics, allowed, string(status), r.Method)

		if !allowed {
			infrastructure.AddSpanEvent(ctx, "gate.blocked", map[string]interface{}{
				"license.status": string(status),
				"http.path":      r.URL.Path,
			})
			g.logger.WarnContext(ctx, "request blocked by entitlement gate",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("license_status", string(status)))
			problem.WithExtension("trace_id", GetRequestID(ctx))
			apierrors.RenderProblem(w, problem)
			return
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Invalidate drops the cached status so the next request re-reads the
// store. The notifier calls this on every license transition.
func (g *EntitlementGate) Invalidate() {
	g.mu.Lock()
	g.checkedAt = time.Time{}
	g.mu.Unlock()
}

func (g *EntitlementGate) pathAllowed(path string) bool {
	for _, prefix := range g.cfg.AllowedPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// currentStatus returns the cached status and grace window, refreshing
// from the provider when the cache has expired.
func (g *EntitlementGate) currentStatus(ctx context.Context) (domain.LicenseStatus, *time.Time, error) {
	g.mu.RLock()
	if time.Since(g.checkedAt) < g.cfg.CacheTTL {
		status, grace := g.status, g.grace
		g.mu.RUnlock()
		return status, grace, nil
	}
	g.mu.RUnlock()

	g.mu.Lock()
	defer g.mu.Unlock()
	if time.Since(g.checkedAt) < g.cfg.CacheTTL {
		return g.status, g.grace, nil
	}

	snap, err := g.provider.Snapshot(ctx)
	if err != nil {
		return "", nil, err
	}

	g.status = snap.Status
	g.grace = snap.GraceUntil
	g.checkedAt = time.Now()
	return g.status, g.grace, nil
}

// decide applies the gating contract to one request.
func (g *EntitlementGate) decide(status domain.LicenseStatus, grace *time.Time, r *http.Request) (bool, *apierrors.ProblemDetails) {
	switch status {
	case domain.StatusRevoked, domain.StatusLockHard:
		return false, apierrors.NewProblemDetails(
			http.StatusForbidden,
			apierrors.TypeForbidden,
			"License Blocked",
			"The license is revoked or hard-locked. All operations are blocked.",
			r.URL.Path,
		).WithExtension("error_code", "LICENSE_BLOCKED").
			WithExtension("license_status", string(status))

	case domain.StatusDeactivated, domain.StatusGraceSoft:
		if isWriteMethod(r.Method) {
			return false, apierrors.NewProblemDetails(
				http.StatusForbidden,
				apierrors.TypeForbidden,
				"License Soft-Locked",
				"The license is deactivated or in its grace window. Write operations are blocked.",
				r.URL.Path,
			).WithExtension("error_code", "LICENSE_SOFT_LOCKED").
				WithExtension("license_status", string(status))
		}
		return true, nil

	case domain.StatusExpired:
		if grace != nil && time.Now().Before(grace.Add(g.cfg.ExpiryTolerance)) {
			return true, nil
		}
		return false, apierrors.NewProblemDetails(
			http.StatusForbidden,
			apierrors.TypeLicenseExpired,
			"License Expired",
			"The license has expired and the tolerance window has elapsed.",
			r.URL.Path,
		).WithExtension("error_code", "LICENSE_EXPIRED").
			WithExtension("license_status", string(status))

	default:
		// UNCONFIGURED, ACTIVE, VALIDATED, and anything unknown pass.
		return true, nil
	}
}

func isWriteMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
