package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apierrors "brvlicense/internal/errors"
	custommw "brvlicense/internal/middleware"
	"brvlicense/internal/services"
	"brvlicense/pkg/contracts/domain"
)

// LicenseHandler handles license operation requests.
type LicenseHandler struct {
	service   services.LicenseService
	validator *custommw.RequestValidator
	errors    *apierrors.ErrorHandler
	logger    *slog.Logger
}

// NewLicenseHandler creates a license handler.
func NewLicenseHandler(service services.LicenseService, validator *custommw.RequestValidator, errHandler *apierrors.ErrorHandler, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		service:   service,
		validator: validator,
		errors:    errHandler,
		logger:    logger.With(slog.String("handler", "license")),
	}
}

// Routes returns the chi router for license endpoints.
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/status", h.Status)
	r.Post("/activate", h.Activate)
	r.Post("/reactivate", h.Reactivate)
	r.Post("/deactivate", h.Deactivate)
	r.Post("/validate", h.Validate)

	return r
}

// Status handles GET /api/license/status.
func (h *LicenseHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	snap, err := h.service.Status(ctx)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, snap)
}

// Activate handles POST /api/license/activate.
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	var req domain.ActivateRequest
	h.handle(w, r, "activate", &req, func(ctx context.Context) (*domain.OperationResponse, error) {
		return h.service.Activate(ctx, req)
	})
}

// Reactivate handles POST /api/license/reactivate.
func (h *LicenseHandler) Reactivate(w http.ResponseWriter, r *http.Request) {
	var req domain.ReactivateRequest
	h.handle(w, r, "reactivate", &req, func(ctx context.Context) (*domain.OperationResponse, error) {
		return h.service.Reactivate(ctx, req)
	})
}

// Deactivate handles POST /api/license/deactivate.
func (h *LicenseHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	var req domain.DeactivateRequest
	h.handle(w, r, "deactivate", &req, func(ctx context.Context) (*domain.OperationResponse, error) {
		return h.service.Deactivate(ctx, req)
	})
}

// Validate handles POST /api/license/validate.
func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req domain.ValidateRequest
	h.handle(w, r, "validate", &req, func(ctx context.Context) (*domain.OperationResponse, error) {
		return h.service.Validate(ctx, req)
	})
}

// handle decodes and validates the payload into req, runs the
// operation, and renders the outcome. Both branches feed the same
// problem-details pipeline.
func (h *LicenseHandler) handle(w http.ResponseWriter, r *http.Request, op string, req interface{}, call func(context.Context) (*domain.OperationResponse, error)) {
	tracer := otel.Tracer("license-handler")
	ctx, span := tracer.Start(r.Context(), "license_handler."+op,
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("operation", op),
			attribute.String("request_id", chimiddleware.GetReqID(r.Context())),
		),
	)
	defer span.End()
	r = r.WithContext(ctx)

	if problem := h.validator.DecodeAndValidate(r, req); problem != nil {
		h.logger.WarnContext(ctx, "request rejected",
			slog.String("operation", op),
			slog.Int("status", problem.Status))
		span.SetAttributes(attribute.Bool("request.valid", false))
		apierrors.RenderProblem(w, problem)
		return
	}

	resp, err := call(ctx)
	if err != nil {
		span.RecordError(err)
		h.errors.HandleError(w, r, err)
		return
	}

	span.SetAttributes(
		attribute.Bool("request.valid", true),
		attribute.String("license.status", string(resp.Snapshot.Status)),
	)
	render.JSON(w, r, resp)
}
