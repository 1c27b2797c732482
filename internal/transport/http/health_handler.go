package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"brvlicense/internal/services"
)

// HealthHandler answers probe and version requests.
type HealthHandler struct {
	service *services.HealthService
	logger  *slog.Logger
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(service *services.HealthService, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "health")),
	}
}

// Healthz handles GET /api/healthz. The body is always the
// gate-compatible health document; the status code carries the verdict.
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	health, err := h.service.Check(ctx)
	if err != nil {
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, health)
		return
	}

	if !health.OK {
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, health)
}

// Liveness handles GET /api/health/live.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.Liveness(r.Context()))
}

// Version handles GET /api/version.
func (h *HealthHandler) Version(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.Version())
}
