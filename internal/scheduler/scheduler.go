package scheduler

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"brvlicense/internal/infrastructure"
)

// Defaults for the revalidation job.
const (
	DefaultInterval   = 6 * time.Hour
	DefaultLockBudget = 2 * time.Second

	lockRetryDelay = 250 * time.Millisecond
)

// Runner is the controller surface the job drives.
type Runner interface {
	ScheduledAutoValidate(ctx context.Context) error
}

// Config tunes the revalidation job. Zero values pick defaults.
type Config struct {
	Interval   time.Duration
	LockPath   string
	LockBudget time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.LockBudget <= 0 {
		c.LockBudget = DefaultLockBudget
	}
	if c.LockPath == "" {
		c.LockPath = filepath.Join(os.TempDir(), "brvlicense-autovalidate.lock")
	}
	return c
}

// AutoValidator periodically revalidates the license in the
// background. Each run takes a cross-process advisory file lock so
// overlapping daemons do not hammer the remote service; losing the
// lock skips the run quietly.
type AutoValidator struct {
	runner  Runner
	cfg     Config
	logger  *slog.Logger
	metrics *infrastructure.LicenseMetrics

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewAutoValidator creates the job. Start launches it. Metrics may be
// nil.
func NewAutoValidator(runner Runner, cfg Config, logger *slog.Logger, metrics *infrastructure.LicenseMetrics) *AutoValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &AutoValidator{
		runner:  runner,
		cfg:     cfg.withDefaults(),
		logger:  logger.With(slog.String("component", "auto_validator")),
		metrics: metrics,
	}
}

// Start launches the ticker goroutine. A second Start while running is
// ignored.
func (a *AutoValidator) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})

	go a.loop(ctx, a.done)
	a.logger.Info("auto-validation started",
		slog.Duration("interval", a.cfg.Interval),
		slog.String("lock_path", a.cfg.LockPath))
}

// Stop cancels the loop and waits for any in-flight run to finish.
// Safe to call repeatedly or before Start.
func (a *AutoValidator) Stop() {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel = nil
	a.done = nil
	a.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	a.logger.Info("auto-validation stopped")
}

func (a *AutoValidator) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.runOnce(ctx)
		}
	}
}

// runOnce executes a single revalidation attempt under the file lock.
// Failures are logged and absorbed: the next tick tries again.
func (a *AutoValidator) runOnce(ctx context.Context) {
	logger := a.logger.With(slog.String("run_id", uuid.NewString()))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("auto-validation panic recovered",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	lock := flock.New(a.cfg.LockPath)
	lockCtx, cancel := context.WithTimeout(ctx, a.cfg.LockBudget)
	defer cancel()

	locked, err := lock.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil && ctx.Err() == nil && lockCtx.Err() == nil {
		logger.Warn("auto-validation lock error", slog.String("error", err.Error()))
		return
	}
	if !locked {
		a.recordSkip(ctx)
		logger.Debug("auto-validation skipped",
			slog.String("cause", "another process holds the validation lock"))
		return
	}
	defer lock.Unlock()

	start := time.Now()
	rerr := a.runner.ScheduledAutoValidate(ctx)
	a.recordRun(ctx, rerr == nil)
	if rerr != nil {
		logger.Warn("auto-validation failed",
			slog.String("error", rerr.Error()),
			slog.Duration("elapsed", time.Since(start)))
		return
	}
	logger.Info("auto-validation completed", slog.Duration("elapsed", time.Since(start)))
}

func (a *AutoValidator) recordRun(ctx context.Context, success bool) {
	if a.metrics == nil || a.metrics.AutoValidateRuns == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	a.metrics.AutoValidateRuns.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)))
}

func (a *AutoValidator) recordSkip(ctx context.Context) {
	if a.metrics == nil || a.metrics.AutoValidateSkips == nil {
		return
	}
	a.metrics.AutoValidateSkips.Add(ctx, 1)
}
