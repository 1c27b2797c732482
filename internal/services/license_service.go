package services

import (
	"context"
	"log/slog"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"brvlicense/internal/infrastructure"
	"brvlicense/internal/lmfwc"
	"brvlicense/pkg/contracts/domain"
)

// LicenseController is the slice of the controller the service layer
// consumes. The concrete implementation lives in internal/license.
type LicenseController interface {
	Activate(ctx context.Context, licenseKey, token string) (*lmfwc.ResponseData, error)
	Reactivate(ctx context.Context, token, licenseKey string) (*lmfwc.ResponseData, error)
	Deactivate(ctx context.Context, token, licenseKey string) (*lmfwc.ResponseData, error)
	Validate(ctx context.Context, licenseKey string) (*lmfwc.ResponseData, error)
	Snapshot(ctx context.Context) (domain.LicenseSnapshot, error)
}

// LicenseService provides business logic for license operations.
type LicenseService interface {
	Activate(ctx context.Context, req domain.ActivateRequest) (*domain.OperationResponse, error)
	Reactivate(ctx context.Context, req domain.ReactivateRequest) (*domain.OperationResponse, error)
	Deactivate(ctx context.Context, req domain.DeactivateRequest) (*domain.OperationResponse, error)
	Validate(ctx context.Context, req domain.ValidateRequest) (*domain.OperationResponse, error)
	Status(ctx context.Context) (domain.LicenseSnapshot, error)
}

// licenseService wraps the controller with logging and metrics.
type licenseService struct {
	controller LicenseController
	metrics    *infrastructure.LicenseMetrics
	logger     *slog.Logger
}

// NewLicenseService creates the license service.
func NewLicenseService(controller LicenseController, metrics *infrastructure.LicenseMetrics, logger *slog.Logger) LicenseService {
	if logger == nil {
		logger = slog.Default()
	}
	return &licenseService{
		controller: controller,
		metrics:    metrics,
		logger:     logger.With(slog.String("service", "license")),
	}
}

func (s *licenseService) Activate(ctx context.Context, req domain.ActivateRequest) (*domain.OperationResponse, error) {
	return s.run(ctx, "activate", req.LicenseKey, func(ctx context.Context) (*lmfwc.ResponseData, error) {
		return s.controller.Activate(ctx, req.LicenseKey, req.Token)
	})
}

func (s *licenseService) Reactivate(ctx context.Context, req domain.ReactivateRequest) (*domain.OperationResponse, error) {
	return s.run(ctx, "reactivate", req.LicenseKey, func(ctx context.Context) (*lmfwc.ResponseData, error) {
		return s.controller.Reactivate(ctx, req.Token, req.LicenseKey)
	})
}

func (s *licenseService) Deactivate(ctx context.Context, req domain.DeactivateRequest) (*domain.OperationResponse, error) {
	return s.run(ctx, "deactivate", req.LicenseKey, func(ctx context.Context) (*lmfwc.ResponseData, error) {
		return s.controller.Deactivate(ctx, req.Token, req.LicenseKey)
	})
}

func (s *licenseService) Validate(ctx context.Context, req domain.ValidateRequest) (*domain.OperationResponse, error) {
	return s.run(ctx, "validate", req.LicenseKey, func(ctx context.Context) (*lmfwc.ResponseData, error) {
		return s.controller.Validate(ctx, req.LicenseKey)
	})
}

// Status returns the current snapshot. The license key arrives already
// masked by the state layer.
func (s *licenseService) Status(ctx context.Context) (domain.LicenseSnapshot, error) {
	snap, err := s.controller.Snapshot(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "status read failed",
			slog.String("trace_id", s.traceID(ctx)),
			slog.String("error", err.Error()))
		return domain.LicenseSnapshot{}, err
	}

	s.logger.DebugContext(ctx, "status read",
		slog.String("trace_id", s.traceID(ctx)),
		slog.String("status", string(snap.Status)))
	return snap, nil
}

// run executes one controller operation with uniform logging, metric
// recording, and response shaping.
func (s *licenseService) run(ctx context.Context, op, licenseKey string, call func(context.Context) (*lmfwc.ResponseData, error)) (*domain.OperationResponse, error) {
	start := time.Now()
	traceID := s.traceID(ctx)

	logger := s.logger.With(
		slog.String("operation", op),
		slog.String("trace_id", traceID),
	)
	logger.InfoContext(ctx, "license operation started",
		slog.String("license_key", lmfwc.MaskLicenseKey(licenseKey)))
	infrastructure.SetSpanAttributes(ctx, map[string]interface{}{
		"license.operation": op,
		"license.key":       lmfwc.MaskLicenseKey(licenseKey),
	})

	_, err := call(ctx)
	duration := time.Since(start)
	infrastructure.RecordOperationMetrics(ctx, s.metrics, op, duration, err)

	if err != nil {
		infrastructure.RecordError(ctx, err)
		logger.WarnContext(ctx, "license operation failed",
			slog.String("error", err.Error()),
			slog.Duration("duration", duration))
		return nil, err
	}

	snap, err := s.controller.Snapshot(ctx)
	if err != nil {
		// The operation itself landed; only the confirmation read broke.
		logger.ErrorContext(ctx, "post-operation snapshot failed",
			slog.String("error", err.Error()))
		return nil, err
	}

	logger.InfoContext(ctx, "license operation completed",
		slog.String("status", string(snap.Status)),
		slog.Duration("duration", duration))

	return &domain.OperationResponse{Success: true, Snapshot: snap}, nil
}

func (s *licenseService) traceID(ctx context.Context) string {
	if reqID := chimiddleware.GetReqID(ctx); reqID != "" {
		return reqID
	}
	return infrastructure.TraceIDFromContext(ctx)
}
