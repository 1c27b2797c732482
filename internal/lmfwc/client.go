package lmfwc

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultTimeout bounds a single HTTP attempt.
	DefaultTimeout = 30 * time.Second
	// DefaultRetryCount is the number of extra attempts after the first.
	DefaultRetryCount = 3
	// DefaultRetryBackoff is the base of the exponential backoff schedule.
	DefaultRetryBackoff = 2 * time.Second
	// DefaultIdempotentWindow is the activate guard lock TTL.
	DefaultIdempotentWindow = 8 * time.Second
	// DefaultUserAgent identifies this client to the remote service.
	DefaultUserAgent = "BRVLicenseApp/1.0 (+helpdeskai.com)"

	// basePath is the LMFWC v2 licenses endpoint prefix appended to the
	// configured base URL.
	basePath = "/wp-json/lmfwc/v2/licenses"

	// activateLockPrefix keys the idempotency guard. The full key is
	// prefix + licenseKey + ":" + first 16 chars of the token ("none"
	// for tokenless calls).
	activateLockPrefix = "brvlicense:activate_lock:v2:activate:"
)

var (
	licenseKeyRE = regexp.MustCompile(`^[A-Z0-9\-]{10,}$`)
	tokenRE      = regexp.MustCompile(`^[A-Fa-f0-9]{16,128}$`)
)

// Config carries everything the client needs to reach the remote
// license service. Zero durations and counts select the defaults
// above; RetryCount < 0 disables retries entirely.
type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string
	VerifyTLS bool

	Timeout          time.Duration
	RetryCount       int
	RetryBackoff     time.Duration
	IdempotentWindow time.Duration
	UserAgent        string
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RetryCount == 0 {
		c.RetryCount = DefaultRetryCount
	}
	if c.RetryCount < 0 {
		c.RetryCount = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	if c.IdempotentWindow <= 0 {
		c.IdempotentWindow = DefaultIdempotentWindow
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	return c
}

// Client is the remote license API client. It owns request
// construction, authentication, retry/backoff, the two-layer response
// contract, and the activate idempotency guard. It never touches
// license state; that is the lifecycle controller's job.
type Client struct {
	cfg    Config
	http   *http.Client
	locks  LockStore
	logger *slog.Logger
	tracer trace.Tracer
}

// NewClient validates the configuration and builds a client. A nil
// lock store disables the idempotency guard (the guard fails open).
func NewClient(cfg Config, locks LockStore, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")

	if cfg.BaseURL == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, NewConfigError("missing base_url / api_key / api_secret in configuration")
	}
	if !strings.HasPrefix(cfg.BaseURL, "http") {
		return nil, NewConfigError("base_url must be an http(s) URL")
	}
	cfg = cfg.withDefaults()

	transport := &http.Transport{}
	if !cfg.VerifyTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	client := &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		locks:  locks,
		logger: logger.With(slog.String("component", "lmfwc_client")),
		tracer: otel.Tracer("brvlicense-lmfwc-client"),
	}

	client.logger.Info("client configured",
		slog.String("base_url", cfg.BaseURL),
		slog.Bool("verify_tls", cfg.VerifyTLS),
		slog.Duration("timeout", cfg.Timeout),
		slog.Int("retry_count", cfg.RetryCount))

	return client, nil
}

// Activate registers an activation for the license key, optionally
// targeting an existing token (pass "" for none). Guarded by the
// idempotency lock: a second activate for the same (key, token prefix)
// inside the window fails with a 409 RequestError before any network
// I/O.
func (c *Client) Activate(ctx context.Context, licenseKey, token string) (*ResponseData, error) {
	if err := validateLicenseKey(licenseKey); err != nil {
		return nil, err
	}
	if token != "" {
		if err := validateToken(token); err != nil {
			return nil, err
		}
	}

	tokfrag := "none"
	if token != "" {
		tokfrag = token
		if len(tokfrag) > 16 {
			tokfrag = tokfrag[:16]
		}
	}
	lockKey := activateLockPrefix + licenseKey + ":" + tokfrag

	c.logger.InfoContext(ctx, "activate",
		slog.String("license_key", MaskLicenseKey(licenseKey)),
		slog.String("token", MaskToken(token)))

	if !c.tryAcquire(lockKey) {
		c.logger.ErrorContext(ctx, "activate blocked by idempotency guard",
			slog.String("license_key", MaskLicenseKey(licenseKey)))
		return nil, &RequestError{
			Message: "Duplicate activate blocked by idempotency guard",
			Status:  http.StatusConflict,
		}
	}

	resp, err := c.get(ctx, "activate", licenseKey, token)
	if err != nil {
		// A failed attempt leaves nothing to deduplicate; free the
		// window so a retry is not blocked.
		c.release(lockKey)
	}
	return resp, err
}

// Deactivate releases the activation matching token, or every
// activation of the key when token is "" (bulk mode).
func (c *Client) Deactivate(ctx context.Context, licenseKey, token string) (*ResponseData, error) {
	if err := validateLicenseKey(licenseKey); err != nil {
		return nil, err
	}
	if token != "" {
		if err := validateToken(token); err != nil {
			return nil, err
		}
	}

	c.logger.InfoContext(ctx, "deactivate",
		slog.String("license_key", MaskLicenseKey(licenseKey)),
		slog.String("token", MaskToken(token)))

	return c.get(ctx, "deactivate", licenseKey, token)
}

// Validate fetches the current remote view of the license.
func (c *Client) Validate(ctx context.Context, licenseKey string) (*ResponseData, error) {
	if err := validateLicenseKey(licenseKey); err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "validate",
		slog.String("license_key", MaskLicenseKey(licenseKey)))

	return c.get(ctx, "validate", licenseKey, "")
}

// tryAcquire consults the lock store, failing open when none is
// configured.
func (c *Client) tryAcquire(key string) bool {
	if c.locks == nil {
		return true
	}
	return c.locks.TryAcquire(key, c.cfg.IdempotentWindow)
}

func (c *Client) release(key string) {
	if c.locks == nil {
		return
	}
	c.locks.Release(key)
}

// get performs the operation with retries. Only transport failures are
// retried; any received HTTP response is classified immediately.
func (c *Client) get(ctx context.Context, operation, licenseKey, token string) (*ResponseData, error) {
	ctx, span := c.tracer.Start(ctx, "lmfwc."+operation,
		trace.WithAttributes(
			attribute.String("lmfwc.operation", operation),
			attribute.String("lmfwc.license_key", MaskLicenseKey(licenseKey)),
		),
	)
	defer span.End()

	endpoint := c.cfg.BaseURL + basePath + "/" + operation + "/" + url.PathEscape(licenseKey)

	var lastErr error
	for attempt := 0; attempt <= c.cfg.RetryCount; attempt++ {
		resp, err := c.do(ctx, endpoint, token)
		if err == nil {
			data, cerr := c.classify(ctx, span, operation, resp)
			if cerr != nil {
				return nil, cerr
			}
			span.SetStatus(codes.Ok, "")
			return data, nil
		}

		lastErr = err
		c.logger.WarnContext(ctx, "network error",
			slog.String("operation", operation),
			slog.Int("attempt", attempt),
			slog.Int("retry_count", c.cfg.RetryCount),
			slog.String("error", err.Error()))

		if attempt == c.cfg.RetryCount {
			break
		}
		if serr := sleepBackoff(ctx, c.cfg.RetryBackoff*time.Duration(1<<attempt)); serr != nil {
			break
		}
	}

	span.SetStatus(codes.Error, "transport failure")
	span.RecordError(lastErr)
	return nil, &RequestError{Message: fmt.Sprintf("network error: %v", lastErr)}
}

// do issues one GET attempt with a fresh cache buster.
func (c *Client) do(ctx context.Context, endpoint, token string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	query := req.URL.Query()
	if token != "" {
		query.Set("token", strings.TrimSpace(token))
	}
	query.Set("_", strconv.FormatInt(time.Now().UnixMilli(), 10))
	req.URL.RawQuery = query.Encode()

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	req.SetBasicAuth(c.cfg.APIKey, c.cfg.APISecret)

	return c.http.Do(req)
}

// classify drains the response and applies the two-layer contract.
func (c *Client) classify(ctx context.Context, span trace.Span, operation string, resp *http.Response) (*ResponseData, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.SetStatus(codes.Error, "body read failed")
		span.RecordError(err)
		return nil, &RequestError{Message: fmt.Sprintf("network error: %v", err)}
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	c.logger.DebugContext(ctx, "response received",
		slog.String("operation", operation),
		slog.Int("status", resp.StatusCode),
		slog.String("body", CompactJSON(body)))

	data, cerr := classifyResponse(resp.StatusCode, resp.Header.Get("Content-Type"), body)
	if cerr != nil {
		span.SetStatus(codes.Error, cerr.Error())
		span.RecordError(cerr)
		c.logger.ErrorContext(ctx, "remote call failed",
			slog.String("operation", operation),
			slog.Int("status", resp.StatusCode),
			slog.String("error", cerr.Error()))
		return nil, cerr
	}
	return data, nil
}

func sleepBackoff(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func validateLicenseKey(licenseKey string) error {
	if licenseKey == "" {
		return NewConfigError("license_key must be a non-empty string")
	}
	if !licenseKeyRE.MatchString(licenseKey) {
		return NewConfigError("license_key format looks invalid (expect A-Z, 0-9 and dashes)")
	}
	return nil
}

func validateToken(token string) error {
	if token == "" {
		return NewConfigError("token must be a non-empty string")
	}
	if !tokenRE.MatchString(token) {
		return NewConfigError("token format looks invalid (expect hex-like string)")
	}
	return nil
}

// MaskLicenseKey hides the middle of a license key for logs.
func MaskLicenseKey(key string) string {
	if key == "" {
		return "<none>"
	}
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// MaskToken keeps a short recognizable prefix of an activation token.
func MaskToken(token string) string {
	if token == "" {
		return "<none>"
	}
	if len(token) <= 6 {
		return strings.Repeat("*", len(token))
	}
	return token[:6] + "..." + strings.Repeat("*", len(token)-7)
}

// CompactJSON renders a payload on one line, capped for log hygiene.
func CompactJSON(raw []byte) string {
	const limit = 1200

	s := string(raw)
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err == nil {
		s = buf.String()
	}
	if len(s) > limit {
		return s[:limit] + "...(truncated)"
	}
	return s
}
