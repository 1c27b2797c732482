package services

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"brvlicense/internal/infrastructure"
	"brvlicense/internal/license"
)

// HealthProvider evaluates entitlement health for probes.
type HealthProvider interface {
	Health(ctx context.Context, tolerance time.Duration) (license.Health, error)
}

// ClientCounter reports connected event subscribers. Optional.
type ClientCounter interface {
	ClientCount() int
}

// RuntimeStatsSource samples process runtime statistics. Optional.
type RuntimeStatsSource interface {
	CurrentStats(ctx context.Context) *infrastructure.RuntimeStats
}

// HealthService answers liveness, readiness, and version queries.
type HealthService struct {
	version   string
	buildTime string
	provider  HealthProvider
	clients   ClientCounter
	stats     RuntimeStatsSource
	tolerance time.Duration
	startTime time.Time
	logger    *slog.Logger
}

// LivenessStatus is the always-200 process liveness response.
type LivenessStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Runtime   map[string]interface{} `json:"runtime,omitempty"`
}

// VersionInfo describes the running build.
type VersionInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time,omitempty"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// NewHealthService creates the health service. A non-positive
// tolerance falls back to the default expiry tolerance.
func NewHealthService(provider HealthProvider, clients ClientCounter, stats RuntimeStatsSource, version, buildTime string, tolerance time.Duration, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	if tolerance <= 0 {
		tolerance = license.DefaultExpiryTolerance
	}
	return &HealthService{
		version:   version,
		buildTime: buildTime,
		provider:  provider,
		clients:   clients,
		stats:     stats,
		tolerance: tolerance,
		startTime: time.Now(),
		logger:    logger.With(slog.String("service", "health")),
	}
}

// Check evaluates entitlement health. The HTTP layer turns OK=false
// into a 503.
func (hs *HealthService) Check(ctx context.Context) (license.Health, error) {
	health, err := hs.provider.Health(ctx, hs.tolerance)
	if err != nil {
		hs.logger.WarnContext(ctx, "health evaluation failed",
			slog.String("error", err.Error()))
		return health, err
	}

	hs.logger.DebugContext(ctx, "health evaluated",
		slog.Bool("ok", health.OK),
		slog.String("status", string(health.Status)))
	return health, nil
}

// Liveness reports process liveness regardless of entitlement state.
func (hs *HealthService) Liveness(ctx context.Context) LivenessStatus {
	rt := map[string]interface{}{
		"go_version":     runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
		"uptime_seconds": time.Since(hs.startTime).Seconds(),
	}
	if hs.stats != nil {
		sample := hs.stats.CurrentStats(ctx)
		rt["goroutines"] = sample.GoRoutines
		rt["heap_alloc_bytes"] = sample.HeapAlloc
		rt["uptime_seconds"] = sample.Uptime.Seconds()
	}
	if hs.clients != nil {
		rt["event_clients"] = hs.clients.ClientCount()
	}

	return LivenessStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Version:   hs.version,
		Runtime:   rt,
	}
}

// Version returns build identification.
func (hs *HealthService) Version() VersionInfo {
	return VersionInfo{
		Version:   hs.version,
		BuildTime: hs.buildTime,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}
