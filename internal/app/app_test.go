package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"brvlicense/internal/config"
	"brvlicense/internal/events"
	"brvlicense/internal/infrastructure"
	"brvlicense/internal/lmfwc"
	custommw "brvlicense/internal/middleware"
	"brvlicense/internal/security"
	"brvlicense/pkg/contracts/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildClientStubWhenUnconfigured(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"everything missing", func(c *config.Config) {}},
		{"api_key missing", func(c *config.Config) {
			c.License.BaseURL = "https://store.example.com"
			c.License.APISecret = "cs_x"
		}},
		{"api_secret missing", func(c *config.Config) {
			c.License.BaseURL = "https://store.example.com"
			c.License.APIKey = "ck_x"
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(cfg)

			client, err := buildClient(cfg, nil, testLogger())
			require.NoError(t, err)

			_, err = client.Validate(context.Background(), "TEST-1234-5678-7890")
			var cfgErr *lmfwc.ConfigError
			require.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestBuildClientPlainHTTPNeedsOverride(t *testing.T) {
	cfg := config.Default()
	cfg.License.BaseURL = "http://store.example.com"
	cfg.License.APIKey = "ck_x"
	cfg.License.APISecret = "cs_x"

	_, err := buildClient(cfg, nil, testLogger())
	var cfgErr *lmfwc.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), "allow_insecure_http")

	cfg.License.AllowInsecureHTTP = true
	client, err := buildClient(cfg, lmfwc.NewTTLLockStore(), testLogger())
	require.NoError(t, err)
	assert.IsType(t, &lmfwc.Client{}, client)
}

func TestBuildClientConfigured(t *testing.T) {
	cfg := config.Default()
	cfg.License.BaseURL = "https://store.example.com/wp-json/lmfwc/v2"
	cfg.License.APIKey = "ck_x"
	cfg.License.APISecret = "cs_x"

	client, err := buildClient(cfg, lmfwc.NewTTLLockStore(), testLogger())
	require.NoError(t, err)
	assert.IsType(t, &lmfwc.Client{}, client)
}

func TestResolveCredentialsSealedFile(t *testing.T) {
	dir := t.TempDir()
	sealed := filepath.Join(dir, "credentials.sealed")
	require.NoError(t, security.SealToFile(sealed, security.Credentials{
		APIKey:    "ck_from_file",
		APISecret: "cs_from_file",
	}, "open sesame"))

	cfg := config.Default()
	cfg.License.APIKey = "ck_plain"
	cfg.License.APISecret = "cs_plain"
	cfg.License.CredentialsFile = sealed
	cfg.License.Passphrase = "open sesame"

	paths, err := config.ResolvePaths(cfg)
	require.NoError(t, err)

	require.NoError(t, resolveCredentials(cfg, paths, testLogger()))
	assert.Equal(t, "ck_from_file", cfg.License.APIKey)
	assert.Equal(t, "cs_from_file", cfg.License.APISecret)
}

func TestResolveCredentialsMissingPassphrase(t *testing.T) {
	cfg := config.Default()
	cfg.License.CredentialsFile = "credentials.sealed"

	paths, err := config.ResolvePaths(cfg)
	require.NoError(t, err)

	err = resolveCredentials(cfg, paths, testLogger())
	require.ErrorIs(t, err, security.ErrPassphraseRequired)
}

func TestResolveCredentialsNoopWithoutFile(t *testing.T) {
	cfg := config.Default()
	cfg.License.APIKey = "ck_plain"

	paths, err := config.ResolvePaths(cfg)
	require.NoError(t, err)

	require.NoError(t, resolveCredentials(cfg, paths, testLogger()))
	assert.Equal(t, "ck_plain", cfg.License.APIKey)
}

type countingStatusProvider struct {
	calls    int
	snapshot domain.LicenseSnapshot
}

func (p *countingStatusProvider) Snapshot(ctx context.Context) (domain.LicenseSnapshot, error) {
	p.calls++
	return p.snapshot, nil
}

func TestTransitionFanout(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("fanout-test")
	metrics, err := infrastructure.NewLicenseMetrics(meter)
	require.NoError(t, err)

	hub := events.NewHub(nil, testLogger())
	fanout := newTransitionFanout(hub, metrics, domain.StatusUnconfigured)

	provider := &countingStatusProvider{snapshot: domain.LicenseSnapshot{Status: domain.StatusActive}}
	gate := custommw.NewEntitlementGate(provider, custommw.GateConfig{
		Enabled:  true,
		CacheTTL: time.Minute,
	}, testLogger(), nil)
	fanout.SetGate(gate)

	handler := gate.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	hit := func() {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/data", nil))
	}

	hit()
	hit()
	assert.Equal(t, 1, provider.calls, "second hit inside the TTL uses the cache")

	// Same status as the seed: no transition counted, cache still dropped.
	fanout.LicenseTransition(domain.LicenseEvent{Status: domain.StatusUnconfigured, At: time.Now()})
	hit()
	assert.Equal(t, 2, provider.calls, "transition invalidates the gate cache")

	fanout.LicenseTransition(domain.LicenseEvent{Status: domain.StatusActive, At: time.Now()})
	fanout.LicenseTransition(domain.LicenseEvent{Status: domain.StatusActive, At: time.Now()})

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	transitions := int64(0)
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != "license_state_transitions_total" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				transitions += dp.Value
			}
		}
	}
	assert.Equal(t, int64(1), transitions, "only the UNCONFIGURED->ACTIVE change counts")
}

// TestNewWithConfigAssemblesDaemon is the one test in this binary that
// bootstraps the Prometheus exporter; it exercises the whole wiring
// with the remote client left unconfigured.
func TestNewWithConfigAssemblesDaemon(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Logging.Output = "stdout"
	cfg.Security.RateLimit.Enabled = false

	application, err := NewWithConfig(cfg)
	require.NoError(t, err)
	require.NotNil(t, application.Controller)
	require.NotNil(t, application.Gate)
	require.NotNil(t, application.Hub)
	require.NotNil(t, application.Validator, "scheduler is on by default")
	require.NotNil(t, application.Router)
	require.NotNil(t, application.Server)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		application.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := get("/api/version")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = get("/api/license/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var snapshot map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.Equal(t, string(domain.StatusUnconfigured), snapshot["status"])

	req := httptest.NewRequest(http.MethodPost, "/api/license/validate",
		strings.NewReader(`{"license_key":"TEST-1234-5678-7890"}`))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	application.Router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var problem map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, "NOT_CONFIGURED", problem["error_code"])

	rec = get("/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, application.Stop())
}
