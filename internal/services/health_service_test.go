package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brvlicense/internal/infrastructure"
	"brvlicense/internal/license"
	"brvlicense/pkg/contracts/domain"
)

type fakeHealthProvider struct {
	health        license.Health
	err           error
	seenTolerance time.Duration
}

func (f *fakeHealthProvider) Health(ctx context.Context, tolerance time.Duration) (license.Health, error) {
	f.seenTolerance = tolerance
	return f.health, f.err
}

type fakeClientCounter struct{ n int }

func (f *fakeClientCounter) ClientCount() int { return f.n }

type fakeStatsSource struct{ stats infrastructure.RuntimeStats }

func (f *fakeStatsSource) CurrentStats(ctx context.Context) *infrastructure.RuntimeStats {
	return &f.stats
}

func TestHealthServiceCheck(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		provider := &fakeHealthProvider{
			health: license.Health{OK: true, Status: domain.StatusValidated},
		}
		hs := NewHealthService(provider, nil, nil, "1.0.0", "", time.Hour, discardLogger())

		health, err := hs.Check(context.Background())

		require.NoError(t, err)
		assert.True(t, health.OK)
		assert.Equal(t, time.Hour, provider.seenTolerance)
	})

	t.Run("provider error", func(t *testing.T) {
		provider := &fakeHealthProvider{err: errors.New("state unreadable")}
		hs := NewHealthService(provider, nil, nil, "1.0.0", "", time.Hour, discardLogger())

		_, err := hs.Check(context.Background())
		assert.Error(t, err)
	})
}

func TestHealthServiceDefaultTolerance(t *testing.T) {
	provider := &fakeHealthProvider{health: license.Health{OK: true}}
	hs := NewHealthService(provider, nil, nil, "1.0.0", "", 0, discardLogger())

	_, err := hs.Check(context.Background())

	require.NoError(t, err)
	assert.Equal(t, license.DefaultExpiryTolerance, provider.seenTolerance)
}

func TestHealthServiceLiveness(t *testing.T) {
	hs := NewHealthService(&fakeHealthProvider{}, &fakeClientCounter{n: 3}, nil, "2.1.0", "", time.Hour, discardLogger())

	status := hs.Liveness(context.Background())

	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, "2.1.0", status.Version)
	assert.WithinDuration(t, time.Now().UTC(), status.Timestamp, time.Minute)
	assert.Contains(t, status.Runtime, "go_version")
	assert.Contains(t, status.Runtime, "goroutines")
	assert.Equal(t, 3, status.Runtime["event_clients"])
}

func TestHealthServiceLivenessWithoutClientCounter(t *testing.T) {
	hs := NewHealthService(&fakeHealthProvider{}, nil, nil, "2.1.0", "", time.Hour, discardLogger())

	status := hs.Liveness(context.Background())
	assert.NotContains(t, status.Runtime, "event_clients")
}

func TestHealthServiceLivenessWithStatsSource(t *testing.T) {
	stats := &fakeStatsSource{stats: infrastructure.RuntimeStats{
		GoRoutines: 12,
		HeapAlloc:  4096,
		Uptime:     90 * time.Second,
	}}
	hs := NewHealthService(&fakeHealthProvider{}, nil, stats, "2.1.0", "", time.Hour, discardLogger())

	status := hs.Liveness(context.Background())

	assert.Equal(t, int64(12), status.Runtime["goroutines"])
	assert.Equal(t, int64(4096), status.Runtime["heap_alloc_bytes"])
	assert.Equal(t, 90.0, status.Runtime["uptime_seconds"])
}

func TestHealthServiceVersion(t *testing.T) {
	hs := NewHealthService(&fakeHealthProvider{}, nil, nil, "2.1.0", "2026-01-15T10:00:00Z", time.Hour, discardLogger())

	info := hs.Version()

	assert.Equal(t, "2.1.0", info.Version)
	assert.Equal(t, "2026-01-15T10:00:00Z", info.BuildTime)
	assert.NotEmpty(t, info.GoVersion)
	assert.NotEmpty(t, info.OS)
	assert.NotEmpty(t, info.Arch)
}
