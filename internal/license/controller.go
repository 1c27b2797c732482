package license

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"brvlicense/internal/lmfwc"
	"brvlicense/pkg/contracts/domain"
)

// APIClient is the remote license client surface the controller needs.
type APIClient interface {
	Activate(ctx context.Context, licenseKey, token string) (*lmfwc.ResponseData, error)
	Deactivate(ctx context.Context, licenseKey, token string) (*lmfwc.ResponseData, error)
	Validate(ctx context.Context, licenseKey string) (*lmfwc.ResponseData, error)
}

// Notifier receives state-transition events for broadcast. A nil
// Notifier disables broadcasting.
type Notifier interface {
	LicenseTransition(event domain.LicenseEvent)
}

// Controller owns the license lifecycle: it is the only writer of the
// license state and the only caller of the remote client. Operations
// are synchronous; concurrent callers are serialized only by the
// activate idempotency guard and last-writer-wins persistence.
type Controller struct {
	client APIClient
	store  Store
	notify Notifier
	logger *slog.Logger
	tracer trace.Tracer
}

// NewController wires the controller. notify may be nil.
func NewController(client APIClient, store Store, notify Notifier, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		client: client,
		store:  store,
		notify: notify,
		logger: logger.With(slog.String("component", "license_controller")),
		tracer: otel.Tracer("brvlicense-controller"),
	}
}

// Activate registers a fresh activation: on success the state adopts
// the returned expiry, any rotated token, and the ACTIVE status. An
// expiry error marks the state EXPIRED and surfaces a renewal prompt;
// any other failure leaves the semantic fields untouched.
func (c *Controller) Activate(ctx context.Context, licenseKey, token string) (data *lmfwc.ResponseData, err error) {
	ctx, span := c.tracer.Start(ctx, "license.activate",
		trace.WithAttributes(attribute.String("license.operation", "activate")))
	defer span.End()
	defer c.recoverPanic("activate", &err)

	st, key, err := c.begin(ctx, "activate", licenseKey)
	if err != nil {
		return nil, err
	}

	data, aerr := c.activateWith(ctx, st, key, token)
	if aerr == nil {
		return data, nil
	}
	return nil, c.activateFailure(ctx, st, key, aerr)
}

// Reactivate re-registers this installation using the freshest token
// available: preflight rotation first, then the stored token, then the
// caller-supplied one. An activation-limit failure is retried exactly
// once, and only with a token the preflight newly issued.
func (c *Controller) Reactivate(ctx context.Context, token, licenseKey string) (data *lmfwc.ResponseData, err error) {
	ctx, span := c.tracer.Start(ctx, "license.reactivate",
		trace.WithAttributes(attribute.String("license.operation", "reactivate")))
	defer span.End()
	defer c.recoverPanic("reactivate", &err)

	st, key, err := c.begin(ctx, "reactivate", licenseKey)
	if err != nil {
		return nil, err
	}

	c.preflightRefreshToken(ctx, st, key)

	first := strings.TrimSpace(st.ActivationToken)
	if first == "" {
		first = strings.TrimSpace(token)
	}
	if first == "" {
		return nil, ErrTokenRequired
	}

	data, aerr := c.activateWith(ctx, st, key, first)
	if aerr == nil {
		return data, nil
	}
	if isConfigError(aerr) {
		return nil, aerr
	}

	now := time.Now().UTC()
	msg := aerr.Error()

	var contractErr *lmfwc.ContractError
	if errors.As(aerr, &contractErr) {
		if isExpiredError(aerr) {
			markExpired(st, msg, now)
			c.recordFailure(st, "reactivate", aerr, now)
			c.persistBestEffort(ctx, st, now)
			c.logger.WarnContext(ctx, "reactivate reported expiry",
				slog.String("license_key", lmfwc.MaskLicenseKey(key)),
				slog.String("error", msg))
			return nil, ErrLicenseExpired
		}
		c.logger.WarnContext(ctx, "reactivate first attempt failed",
			slog.String("license_key", lmfwc.MaskLicenseKey(key)),
			slog.String("error", msg))
		if isActivationLimitError(msg) {
			return c.retryAfterLimit(ctx, st, key, first)
		}
		c.recordFailure(st, "reactivate", aerr, now)
		c.saveQuiet(ctx, st)
		return nil, ErrOperationFailed
	}

	if lmfwc.IsDuplicateActivate(aerr) {
		return nil, ErrActivationSettling
	}
	c.logger.ErrorContext(ctx, "reactivate failed",
		slog.String("license_key", lmfwc.MaskLicenseKey(key)),
		slog.String("error", msg))
	c.recordFailure(st, "reactivate", aerr, now)
	c.saveQuiet(ctx, st)
	return nil, ErrOperationFailed
}

// Deactivate releases the activation held by this installation, or all
// activations when no token can be found (bulk mode). Whatever the
// remote says, the local outcome is a hard lock: deactivate is a
// terminal, sticky local decision.
func (c *Controller) Deactivate(ctx context.Context, token, licenseKey string) (data *lmfwc.ResponseData, err error) {
	ctx, span := c.tracer.Start(ctx, "license.deactivate",
		trace.WithAttributes(attribute.String("license.operation", "deactivate")))
	defer span.End()
	defer c.recoverPanic("deactivate", &err)

	st, key, err := c.begin(ctx, "deactivate", licenseKey)
	if err != nil {
		return nil, err
	}

	tok := strings.TrimSpace(token)
	if tok == "" {
		c.preflightRefreshToken(ctx, st, key)
		tok = strings.TrimSpace(st.ActivationToken)
		if tok == "" {
			c.logger.InfoContext(ctx, "no token available, deactivating all activations",
				slog.String("license_key", lmfwc.MaskLicenseKey(key)))
		}
	}

	data, derr := c.client.Deactivate(ctx, key, tok)
	now := time.Now().UTC()
	if derr != nil {
		reason := "Deactivate unexpected error: " + derr.Error()
		if isAPIError(derr) {
			reason = "Deactivate failed: " + derr.Error()
		}
		st.Status = domain.StatusLockHard
		st.Reason = reason
		st.GraceUntil = timePtr(now)
		c.recordFailure(st, "deactivate", derr, now)
		c.persistBestEffort(ctx, st, now)
		c.logger.ErrorContext(ctx, "deactivate failed",
			slog.String("license_key", lmfwc.MaskLicenseKey(key)),
			slog.String("error", derr.Error()))
		return nil, ErrOperationFailed
	}

	st.LastResponseRaw = string(data.Raw)
	applyDeactivationUpdate(st, data)
	st.Status = domain.StatusLockHard
	st.Reason = "License deactivated"
	st.GraceUntil = timePtr(now)
	st.ActivationToken = ""

	// Best-effort sync of counters and expiry. The hard lock is
	// re-asserted afterward no matter what the validation reports.
	if v, verr := c.client.Validate(ctx, key); verr == nil {
		st.LastResponseRaw = string(v.Raw)
		applyValidationUpdate(st, v, time.Now().UTC())
	} else {
		c.logger.WarnContext(ctx, "post-deactivate validate skipped",
			slog.String("error", verr.Error()))
	}
	now = time.Now().UTC()
	st.Status = domain.StatusLockHard
	st.Reason = "License deactivated"
	st.GraceUntil = timePtr(now)

	if perr := c.persist(ctx, st, now); perr != nil {
		return nil, perr
	}
	return data, nil
}

// Validate confirms the license against the remote service. It always
// goes remote, even when the stored status is EXPIRED: the server may
// have extended the expiry. A failed round-trip engages the grace
// policy instead of leaving the state untouched.
func (c *Controller) Validate(ctx context.Context, licenseKey string) (data *lmfwc.ResponseData, err error) {
	ctx, span := c.tracer.Start(ctx, "license.validate",
		trace.WithAttributes(attribute.String("license.operation", "validate")))
	defer span.End()
	defer c.recoverPanic("validate", &err)

	st, key, err := c.begin(ctx, "validate", licenseKey)
	if err != nil {
		return nil, err
	}

	data, verr := c.client.Validate(ctx, key)
	now := time.Now().UTC()
	if verr == nil {
		st.LastResponseRaw = string(data.Raw)
		applyValidationUpdate(st, data, now)
		if adoptToken(st, data) {
			c.logger.InfoContext(ctx, "activation token rotated",
				slog.String("token", lmfwc.MaskToken(st.ActivationToken)))
		}
		if perr := c.persist(ctx, st, now); perr != nil {
			return nil, perr
		}
		return data, nil
	}

	if isConfigError(verr) {
		return nil, verr
	}

	cause := verr.Error()
	if !isAPIError(verr) {
		cause = "Unexpected error: " + cause
	}
	c.logger.ErrorContext(ctx, "validate failed",
		slog.String("license_key", lmfwc.MaskLicenseKey(key)),
		slog.String("error", verr.Error()))
	applyGraceOnFailure(st, now, cause)
	c.recordFailure(st, "validate", verr, now)
	c.persistBestEffort(ctx, st, now)
	return nil, ErrOperationFailed
}

// ScheduledAutoValidate is the periodic revalidation entry point. It
// no-ops when no license key is configured.
func (c *Controller) ScheduledAutoValidate(ctx context.Context) (err error) {
	defer c.recoverPanic("scheduled_auto_validate", &err)

	st, lerr := c.store.Load(ctx)
	if lerr != nil {
		c.logger.ErrorContext(ctx, "state load failed",
			slog.String("operation", "scheduled_auto_validate"),
			slog.String("error", lerr.Error()))
		return ErrOperationFailed
	}
	if strings.TrimSpace(st.LicenseKey) == "" {
		c.logger.InfoContext(ctx, "scheduled validation skipped",
			slog.String("cause", "no license key configured"))
		return nil
	}
	_, err = c.Validate(ctx, st.LicenseKey)
	return err
}

// Snapshot returns the operator-facing view of the current state.
func (c *Controller) Snapshot(ctx context.Context) (domain.LicenseSnapshot, error) {
	st, err := c.store.Load(ctx)
	if err != nil {
		c.logger.ErrorContext(ctx, "state load failed",
			slog.String("operation", "snapshot"),
			slog.String("error", err.Error()))
		return domain.LicenseSnapshot{}, ErrOperationFailed
	}
	return st.Snapshot(), nil
}

// Health evaluates probe health with the given expiry tolerance.
func (c *Controller) Health(ctx context.Context, tolerance time.Duration) (Health, error) {
	st, err := c.store.Load(ctx)
	if err != nil {
		return Health{App: "brvlicense", CheckedAt: time.Now().UTC()}, err
	}
	return EvaluateHealth(st, time.Now().UTC(), tolerance), nil
}

// begin loads the state and resolves the effective license key:
// the parameter wins, the stored key is the fallback.
func (c *Controller) begin(ctx context.Context, op, licenseKey string) (*State, string, error) {
	st, err := c.store.Load(ctx)
	if err != nil {
		c.logger.ErrorContext(ctx, "state load failed",
			slog.String("operation", op),
			slog.String("error", err.Error()))
		return nil, "", ErrOperationFailed
	}

	key := strings.TrimSpace(licenseKey)
	if key == "" {
		key = strings.TrimSpace(st.LicenseKey)
	}
	if key == "" {
		return nil, "", ErrKeyRequired
	}
	st.LicenseKey = key

	c.logger.InfoContext(ctx, op,
		slog.String("license_key", lmfwc.MaskLicenseKey(key)),
		slog.String("status", string(st.Status)))
	return st, key, nil
}

// activateWith is the shared activation executor: call the client,
// apply the activation update, adopt a rotated token, persist. Client
// errors return unclassified so callers can apply their own policy.
func (c *Controller) activateWith(ctx context.Context, st *State, key, token string) (*lmfwc.ResponseData, error) {
	data, err := c.client.Activate(ctx, key, token)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	st.LastResponseRaw = string(data.Raw)
	applyActivationUpdate(st, data, now)
	if adoptToken(st, data) {
		c.logger.InfoContext(ctx, "activation token rotated",
			slog.String("token", lmfwc.MaskToken(st.ActivationToken)))
	}
	if perr := c.persist(ctx, st, now); perr != nil {
		return nil, perr
	}
	return data, nil
}

// activateFailure applies the activate error policy.
func (c *Controller) activateFailure(ctx context.Context, st *State, key string, aerr error) error {
	if isConfigError(aerr) {
		return aerr
	}

	now := time.Now().UTC()
	msg := aerr.Error()

	if isAPIError(aerr) && isExpiredError(aerr) {
		if dt, ok := parseExpiryFromMessage(msg); ok {
			st.ExpiresAt = timePtr(dt)
		}
		st.Status = domain.StatusExpired
		if msg != "" {
			st.Reason = msg
		} else {
			st.Reason = "License expired"
		}
		if st.GraceUntil == nil {
			st.GraceUntil = timePtr(now)
		}
		st.LastValidated = timePtr(now)
		c.recordFailure(st, "activate", aerr, now)
		c.persistBestEffort(ctx, st, now)
		c.logger.WarnContext(ctx, "activate reported expiry",
			slog.String("license_key", lmfwc.MaskLicenseKey(key)),
			slog.String("error", msg))
		return ErrLicenseExpired
	}

	c.logger.ErrorContext(ctx, "activate failed",
		slog.String("license_key", lmfwc.MaskLicenseKey(key)),
		slog.String("error", msg))
	c.recordFailure(st, "activate", aerr, now)
	c.saveQuiet(ctx, st)
	return ErrOperationFailed
}

// retryAfterLimit runs the single activation-limit retry. It preflights
// again and retries only with a token the preflight newly issued.
func (c *Controller) retryAfterLimit(ctx context.Context, st *State, key, firstToken string) (*lmfwc.ResponseData, error) {
	c.preflightRefreshToken(ctx, st, key)

	next := strings.TrimSpace(st.ActivationToken)
	if next == "" {
		next = firstToken
	}
	if next == firstToken {
		c.logger.InfoContext(ctx, "activation-limit retry skipped",
			slog.String("cause", "no fresh token from preflight"))
		return nil, ErrActivationLimit
	}

	c.logger.InfoContext(ctx, "activation-limit retry",
		slog.String("token", lmfwc.MaskToken(next)))
	data, rerr := c.activateWith(ctx, st, key, next)
	if rerr == nil {
		return data, nil
	}
	if lmfwc.IsDuplicateActivate(rerr) {
		return nil, ErrActivationSettling
	}
	now := time.Now().UTC()
	c.logger.ErrorContext(ctx, "activation-limit retry failed",
		slog.String("error", rerr.Error()))
	c.recordFailure(st, "reactivate", rerr, now)
	c.saveQuiet(ctx, st)
	return nil, ErrOperationFailed
}

// preflightRefreshToken validates remotely purely to pick up a rotated
// token. Failures are swallowed; callers proceed with whatever token
// is stored.
func (c *Controller) preflightRefreshToken(ctx context.Context, st *State, key string) {
	v, err := c.client.Validate(ctx, key)
	if err != nil {
		c.logger.WarnContext(ctx, "preflight validate failed",
			slog.String("license_key", lmfwc.MaskLicenseKey(key)),
			slog.String("error", err.Error()))
		return
	}
	st.LastResponseRaw = string(v.Raw)
	if adoptToken(st, v) {
		st.Reason = "Token rotated from validate"
		c.logger.InfoContext(ctx, "token rotated by preflight",
			slog.String("token", lmfwc.MaskToken(st.ActivationToken)))
	}
}

// markExpired is the reactivate-path expiry marking: grace_until is
// reset unconditionally and last_validated is left alone.
func markExpired(st *State, reason string, now time.Time) {
	st.Status = domain.StatusExpired
	if reason == "" {
		reason = "License expired"
	}
	st.Reason = reason
	st.GraceUntil = timePtr(now)
}

// applyExpiry stores the returned expiresAt when present and parseable.
func applyExpiry(st *State, data *lmfwc.ResponseData) {
	if data == nil || data.ExpiresAt == "" {
		return
	}
	if t, ok := lmfwc.ParseTime(data.ExpiresAt); ok {
		st.ExpiresAt = timePtr(t)
	}
}

func applyActivationUpdate(st *State, data *lmfwc.ResponseData, now time.Time) {
	applyExpiry(st, data)
	st.Status = domain.StatusActive
	st.Reason = "Activated"
	st.LastValidated = timePtr(now)
	st.GraceUntil = nil
}

func applyDeactivationUpdate(st *State, data *lmfwc.ResponseData) {
	applyExpiry(st, data)
	st.Status = domain.StatusDeactivated
	st.Reason = "Deactivated"
}

// applyValidationUpdate is the success rule shared by validation
// flows. The expiry check runs first and never consults the previous
// status, so an EXPIRED record recovers as soon as the server extends
// the date.
func applyValidationUpdate(st *State, data *lmfwc.ResponseData, now time.Time) {
	prev := st.Status
	applyExpiry(st, data)

	if st.ExpiresAt != nil && now.After(*st.ExpiresAt) {
		st.Status = domain.StatusExpired
		if st.Reason == "" {
			st.Reason = "License expired"
		}
		if st.GraceUntil == nil {
			st.GraceUntil = timePtr(now)
		}
		st.LastValidated = timePtr(now)
		return
	}

	if data.HasActiveActivation() {
		st.Status = domain.StatusValidated
		st.Reason = "Validated"
	} else {
		st.Status = domain.StatusDeactivated
		st.Reason = "Validated (no active activation)"
	}
	st.LastValidated = timePtr(now)
	st.GraceUntil = nil

	if prev.IsGrace() {
		st.Status = domain.StatusValidated
		st.Reason = "Grace cleared after success"
	}
}

// adoptToken stores the freshest token from the response when it
// differs from the held one. An empty extraction never clears a token.
func adoptToken(st *State, data *lmfwc.ResponseData) bool {
	latest := lmfwc.ExtractLatestToken(data)
	if latest == "" {
		return false
	}
	if latest != strings.TrimSpace(st.ActivationToken) {
		st.ActivationToken = latest
		return true
	}
	return false
}

// recordFailure keeps a compact diagnostic of the failure in
// last_error_raw. Full payloads stay in logs.
func (c *Controller) recordFailure(st *State, op string, err error, now time.Time) {
	diag := map[string]any{
		"ts":      now.Format(time.RFC3339),
		"op":      op,
		"message": err.Error(),
	}
	var contractErr *lmfwc.ContractError
	var reqErr *lmfwc.RequestError
	switch {
	case errors.As(err, &contractErr):
		diag["code"] = contractErr.Code
		if contractErr.Status != 0 {
			diag["status"] = contractErr.Status
		}
	case errors.As(err, &reqErr):
		if reqErr.Status != 0 {
			diag["status"] = reqErr.Status
		}
	}
	if b, merr := json.Marshal(diag); merr == nil {
		st.LastErrorRaw = string(b)
	}
}

// persist saves and broadcasts; a failed save fails the operation.
func (c *Controller) persist(ctx context.Context, st *State, at time.Time) error {
	if err := c.store.Save(ctx, st); err != nil {
		c.logger.ErrorContext(ctx, "state save failed", slog.String("error", err.Error()))
		return ErrOperationFailed
	}
	c.emit(st, at)
	return nil
}

// persistBestEffort saves and broadcasts a degraded transition; save
// failures are logged and absorbed.
func (c *Controller) persistBestEffort(ctx context.Context, st *State, at time.Time) {
	if err := c.store.Save(ctx, st); err != nil {
		c.logger.ErrorContext(ctx, "state save failed", slog.String("error", err.Error()))
	}
	c.emit(st, at)
}

// saveQuiet saves diagnostic-only changes without broadcasting.
func (c *Controller) saveQuiet(ctx context.Context, st *State) {
	if err := c.store.Save(ctx, st); err != nil {
		c.logger.ErrorContext(ctx, "state save failed", slog.String("error", err.Error()))
	}
}

func (c *Controller) emit(st *State, at time.Time) {
	if c.notify == nil {
		return
	}
	c.notify.LicenseTransition(st.Event(at))
}

func (c *Controller) recoverPanic(op string, err *error) {
	if r := recover(); r != nil {
		c.logger.Error("panic recovered",
			slog.String("operation", op),
			slog.Any("panic", r),
			slog.String("stack", string(debug.Stack())))
		*err = ErrOperationFailed
	}
}
