package license

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"brvlicense/internal/lmfwc"
)

// User-facing failures surfaced by the controller. Internal detail
// (stack, payloads) stays in logs and last_error_raw; callers see only
// these.
var (
	ErrKeyRequired        = errors.New("License Key is required in settings or as parameter.")
	ErrTokenRequired      = errors.New("Activation token is required (not found in settings or validation response).")
	ErrLicenseExpired     = errors.New("License is expired. Please renew your license.")
	ErrActivationSettling = errors.New("Another activation attempt is still settling. Please retry in a few seconds.")
	ErrActivationLimit    = errors.New("Activation limit reached on the server and no fresh token was issued. Please deactivate an existing activation or increase the limit.")
	ErrOperationFailed    = errors.New("Operation failed. See logs for details.")
)

// expiredErrorCode is the remote service's expiry error code.
const expiredErrorCode = "lmfwc_rest_license_expired"

// expiryMessageRE captures the timestamp in messages like
// "The license key expired on 2024-03-01 00:00:00 (UTC).".
var expiryMessageRE = regexp.MustCompile(`(?i)expired on\s+([\d:\-\s]+)\s*\(UTC\)`)

// isExpiredError reports whether a client error indicates license
// expiry, by embedded error code or by message text.
func isExpiredError(err error) bool {
	if err == nil {
		return false
	}
	var contractErr *lmfwc.ContractError
	if errors.As(err, &contractErr) && contractErr.Code == expiredErrorCode {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "expire")
}

// isActivationLimitError matches the remote's activation-cap failures.
func isActivationLimitError(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "activation limit") || strings.Contains(lower, "maximum activation")
}

// isAPIError reports whether err came back from the remote service
// (transport or contract layer). Configuration errors are excluded:
// they never reached the network.
func isAPIError(err error) bool {
	var reqErr *lmfwc.RequestError
	var contractErr *lmfwc.ContractError
	return errors.As(err, &reqErr) || errors.As(err, &contractErr)
}

func isConfigError(err error) bool {
	var cfgErr *lmfwc.ConfigError
	return errors.As(err, &cfgErr)
}

// parseExpiryFromMessage pulls the "expired on <ts> (UTC)" timestamp
// out of a remote error message.
func parseExpiryFromMessage(msg string) (time.Time, bool) {
	m := expiryMessageRE.FindStringSubmatch(msg)
	if m == nil {
		return time.Time{}, false
	}
	return lmfwc.ParseTime(strings.TrimSpace(m[1]))
}
