package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"brvlicense/internal/config"
	"brvlicense/internal/events"
	"brvlicense/internal/infrastructure"
	"brvlicense/internal/license"
	"brvlicense/internal/lmfwc"
	custommw "brvlicense/internal/middleware"
	"brvlicense/internal/scheduler"
	"brvlicense/internal/security"
	"brvlicense/internal/services"
	transporthttp "brvlicense/internal/transport/http"
	"brvlicense/pkg/contracts/domain"
)

// Build metadata, overridable at link time.
var (
	Version   = config.AppVersion
	BuildTime = ""
)

const (
	runtimeMetricsInterval = 15 * time.Second
	requestTimeout         = 90 * time.Second
)

// Application is the assembled daemon.
type Application struct {
	Config     *config.Config
	Paths      *config.Paths
	Logger     *slog.Logger
	OTel       *infrastructure.OTelProviders
	Metrics    *infrastructure.LicenseMetrics
	Collector  *infrastructure.RuntimeCollector
	Store      license.Store
	Locks      *lmfwc.TTLLockStore
	Controller *license.Controller
	Hub        *events.Hub
	Gate       *custommw.EntitlementGate
	Validator  *scheduler.AutoValidator
	Router     chi.Router
	Server     *http.Server
}

// New loads configuration and assembles the daemon.
func New() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig assembles the daemon from an already-loaded
// configuration. Construction is side-effecting: it creates the data
// directories, installs the global logger, and registers the
// Prometheus exporter.
func NewWithConfig(cfg *config.Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	paths, err := config.ResolvePaths(cfg)
	if err != nil {
		return nil, err
	}
	if err := paths.EnsureDirectories(); err != nil {
		return nil, err
	}
	if paths.LogFile != "" {
		cfg.Logging.FilePath = paths.LogFile
	}

	if err := infrastructure.InitializeLogger(cfg.Logging); err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	logger := infrastructure.GetLogger()

	logger.Info("starting",
		slog.String("app", config.AppName),
		slog.String("version", Version),
		slog.Int("port", cfg.Server.Port),
		slog.String("data_dir", paths.DataDir))

	if err := resolveCredentials(cfg, paths, logger); err != nil {
		return nil, err
	}

	otelProviders, err := infrastructure.InitializeOTel(otelConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("initialize OpenTelemetry: %w", err)
	}

	metrics, err := infrastructure.NewLicenseMetrics(otelProviders.Meter)
	if err != nil {
		return nil, fmt.Errorf("create license metrics: %w", err)
	}
	collector, err := infrastructure.NewRuntimeCollector(otelProviders.Meter, runtimeMetricsInterval)
	if err != nil {
		return nil, fmt.Errorf("create runtime collector: %w", err)
	}

	store := license.NewFileStore(paths.StateFile, logger)

	locks := lmfwc.NewTTLLockStore()
	client, err := buildClient(cfg, locks, logger)
	if err != nil {
		return nil, err
	}

	hub := events.NewHub(metrics, logger)
	fanout := newTransitionFanout(hub, metrics, initialStatus(store, logger))

	controller := license.NewController(client, store, fanout, logger)

	gate := custommw.NewEntitlementGate(controller, custommw.GateConfig{
		Enabled:         cfg.Gate.Enabled,
		ExpiryTolerance: cfg.Gate.ExpiryTolerance,
		AllowedPrefixes: cfg.Gate.AllowedPrefixes,
	}, logger, metrics)
	fanout.SetGate(gate)

	var validator *scheduler.AutoValidator
	if cfg.Scheduler.Enabled {
		validator = scheduler.NewAutoValidator(controller, scheduler.Config{
			Interval:   cfg.Scheduler.Interval,
			LockPath:   paths.LockFile,
			LockBudget: cfg.Scheduler.LockBudget,
		}, logger, metrics)
	}

	licenseService := services.NewLicenseService(controller, metrics, logger)
	healthService := services.NewHealthService(controller, hub, collector, Version, BuildTime,
		cfg.Gate.ExpiryTolerance, logger)

	router := transporthttp.NewRouter(transporthttp.RouterConfig{
		LicenseService: licenseService,
		HealthService:  healthService,
		Gate:           gate,
		Hub:            hub,
		Metrics:        metrics,
		PrometheusHTTP: otelProviders.PrometheusHTTP,
		Logger:         logger,
		AllowedOrigins: cfg.Security.AllowedOrigins,
		RateLimit: transporthttp.RateLimitSettings{
			Enabled: cfg.Security.RateLimit.Enabled,
			RPS:     cfg.Security.RateLimit.RPS,
			Burst:   cfg.Security.RateLimit.Burst,
		},
		WebSocket: events.Settings{
			ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
			WriteBufferSize: cfg.WebSocket.WriteBufferSize,
			PingPeriod:      cfg.WebSocket.PingPeriod,
			PongWait:        cfg.WebSocket.PongWait,
		},
		RequestTimeout: requestTimeout,
	})

	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	return &Application{
		Config:     cfg,
		Paths:      paths,
		Logger:     logger,
		OTel:       otelProviders,
		Metrics:    metrics,
		Collector:  collector,
		Store:      store,
		Locks:      locks,
		Controller: controller,
		Hub:        hub,
		Gate:       gate,
		Validator:  validator,
		Router:     router,
		Server:     server,
	}, nil
}

// Start launches the background services. The HTTP server is started
// by Run so tests can drive the router directly.
func (a *Application) Start(ctx context.Context) error {
	a.Hub.Start()
	go a.Collector.Start(ctx)
	if a.Validator != nil {
		a.Validator.Start(ctx)
	}
	return nil
}

// Stop shuts everything down in reverse order of Start.
func (a *Application) Stop() error {
	timeout := a.Config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	a.Logger.InfoContext(ctx, "shutting down")

	var firstErr error
	if err := a.Server.Shutdown(ctx); err != nil {
		firstErr = fmt.Errorf("server shutdown: %w", err)
	}
	if a.Validator != nil {
		a.Validator.Stop()
	}
	a.Hub.Stop()
	a.Collector.Stop()
	a.Locks.Stop()

	if err := a.OTel.Shutdown(ctx); err != nil {
		a.Logger.ErrorContext(ctx, "telemetry shutdown failed", slog.String("error", err.Error()))
	}

	a.Logger.InfoContext(ctx, "shutdown complete")
	if err := infrastructure.CloseLogFile(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Run serves until SIGINT/SIGTERM, then shuts down gracefully.
func (a *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext serves until the context is cancelled.
func (a *Application) RunContext(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info("admin server listening", slog.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.Stop()
	})
	return g.Wait()
}

// NewCLIController builds a controller for one-shot command use: the
// same config resolution, state store, and remote client as the
// daemon, but no event hub, gate, scheduler, or telemetry bootstrap.
func NewCLIController(cfg *config.Config, logger *slog.Logger) (*license.Controller, *config.Paths, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	paths, err := config.ResolvePaths(cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := paths.EnsureDirectories(); err != nil {
		return nil, nil, err
	}
	if err := resolveCredentials(cfg, paths, logger); err != nil {
		return nil, nil, err
	}

	store := license.NewFileStore(paths.StateFile, logger)
	client, err := buildClient(cfg, lmfwc.NewTTLLockStore(), logger)
	if err != nil {
		return nil, nil, err
	}
	return license.NewController(client, store, nil, logger), paths, nil
}

func otelConfig() *infrastructure.OTelConfig {
	cfg := infrastructure.DefaultOTelConfig()
	cfg.ServiceVersion = Version
	return cfg
}

// resolveCredentials swaps plain api_key/api_secret for the sealed
// file's contents. A configured file without a passphrase is an error:
// the operator asked for sealed credentials, so falling back to plain
// settings would silently downgrade them.
func resolveCredentials(cfg *config.Config, paths *config.Paths, logger *slog.Logger) error {
	if cfg.License.CredentialsFile == "" {
		return nil
	}
	if cfg.License.Passphrase == "" {
		return fmt.Errorf("credentials_file is set: %w (set %s_LICENSE_PASSPHRASE)",
			security.ErrPassphraseRequired, config.EnvPrefix)
	}

	creds, err := security.OpenFromFile(paths.CredentialsFile, cfg.License.Passphrase)
	if err != nil {
		return err
	}
	cfg.License.APIKey = creds.APIKey
	cfg.License.APISecret = creds.APISecret
	logger.Info("credentials loaded from sealed file", slog.String("path", paths.CredentialsFile))
	return nil
}

// buildClient constructs the remote client, or a stub when the remote
// service is not configured yet. The stub keeps the daemon serving
// status, health, and the gate while every remote operation fails with
// the same ConfigError the real client would raise.
func buildClient(cfg *config.Config, locks lmfwc.LockStore, logger *slog.Logger) (license.APIClient, error) {
	lc := cfg.License

	var missing []string
	if lc.BaseURL == "" {
		missing = append(missing, "base_url")
	}
	if lc.APIKey == "" {
		missing = append(missing, "api_key")
	}
	if lc.APISecret == "" {
		missing = append(missing, "api_secret")
	}
	if len(missing) > 0 {
		logger.Warn("license API not configured, remote operations will fail until it is",
			slog.String("missing", strings.Join(missing, ", ")))
		return unconfiguredClient{}, nil
	}

	if strings.HasPrefix(lc.BaseURL, "http://") && !lc.AllowInsecureHTTP {
		return nil, lmfwc.NewConfigError("plain-http base_url requires allow_insecure_http: true")
	}

	return lmfwc.NewClient(lmfwc.Config{
		BaseURL:          lc.BaseURL,
		APIKey:           lc.APIKey,
		APISecret:        lc.APISecret,
		VerifyTLS:        !lc.AllowInsecureHTTP,
		Timeout:          lc.Timeout,
		RetryCount:       lc.RetryCount,
		RetryBackoff:     lc.RetryBackoff,
		IdempotentWindow: lc.IdempotentWindow,
	}, locks, logger)
}

func initialStatus(store license.Store, logger *slog.Logger) domain.LicenseStatus {
	st, err := store.Load(context.Background())
	if err != nil {
		logger.Warn("state preload failed", slog.String("error", err.Error()))
		return domain.StatusUnconfigured
	}
	return st.Snapshot().Status
}

// unconfiguredClient stands in for the remote client until base_url,
// api_key, and api_secret are all present.
type unconfiguredClient struct{}

func (unconfiguredClient) Activate(ctx context.Context, licenseKey, token string) (*lmfwc.ResponseData, error) {
	return nil, errNotConfigured()
}

func (unconfiguredClient) Deactivate(ctx context.Context, licenseKey, token string) (*lmfwc.ResponseData, error) {
	return nil, errNotConfigured()
}

func (unconfiguredClient) Validate(ctx context.Context, licenseKey string) (*lmfwc.ResponseData, error) {
	return nil, errNotConfigured()
}

func errNotConfigured() error {
	return lmfwc.NewConfigError("license API is not configured (set base_url, api_key, api_secret)")
}

// transitionFanout delivers controller transitions to every consumer:
// the event hub, the gate snapshot cache, and the transition metric.
// The controller emits on every persist, so the metric only counts
// actual status changes.
type transitionFanout struct {
	hub     *events.Hub
	metrics *infrastructure.LicenseMetrics

	mu   sync.Mutex
	gate *custommw.EntitlementGate
	prev domain.LicenseStatus
}

func newTransitionFanout(hub *events.Hub, metrics *infrastructure.LicenseMetrics, initial domain.LicenseStatus) *transitionFanout {
	return &transitionFanout{
		hub:     hub,
		metrics: metrics,
		prev:    initial,
	}
}

// SetGate attaches the gate after construction; the gate itself reads
// status through the controller, which needs the fanout first.
func (f *transitionFanout) SetGate(gate *custommw.EntitlementGate) {
	f.mu.Lock()
	f.gate = gate
	f.mu.Unlock()
}

func (f *transitionFanout) LicenseTransition(event domain.LicenseEvent) {
	f.mu.Lock()
	prev := f.prev
	f.prev = event.Status
	gate := f.gate
	f.mu.Unlock()

	if event.Status != prev {
		infrastructure.RecordStateTransition(context.Background(), f.metrics,
			string(prev), string(event.Status))
	}
	if gate != nil {
		gate.Invalidate()
	}
	if f.hub != nil {
		f.hub.LicenseTransition(event)
	}
}
