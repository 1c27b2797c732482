package license

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brvlicense/internal/lmfwc"
)

func TestIsExpiredError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "expiry code",
			err:  &lmfwc.ContractError{Code: "lmfwc_rest_license_expired", Message: "nope"},
			want: true,
		},
		{
			name: "expiry message without the code",
			err:  &lmfwc.ContractError{Code: "lmfwc_error", Message: "The license key expired on 2024-03-01 00:00:00 (UTC)."},
			want: true,
		},
		{
			name: "case insensitive message match",
			err:  &lmfwc.RequestError{Message: "License EXPIRED yesterday", Status: 410},
			want: true,
		},
		{
			name: "unrelated failure",
			err:  &lmfwc.ContractError{Code: "lmfwc_error", Message: "Activation limit reached"},
			want: false,
		},
		{
			name: "plain error mentioning expiry",
			err:  errors.New("certificate expired"),
			want: true,
		},
		{name: "nil", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isExpiredError(tt.err))
		})
	}
}

func TestIsActivationLimitError(t *testing.T) {
	assert.True(t, isActivationLimitError("Activation limit reached for this key"))
	assert.True(t, isActivationLimitError("MAXIMUM ACTIVATION count exceeded"))
	assert.False(t, isActivationLimitError("license disabled"))
	assert.False(t, isActivationLimitError(""))
}

func TestParseExpiryFromMessage(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want time.Time
		ok   bool
	}{
		{
			name: "standard phrasing",
			msg:  "The license key expired on 2024-03-01 00:00:00 (UTC).",
			want: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			ok:   true,
		},
		{
			name: "case insensitive",
			msg:  "License EXPIRED ON 2025-12-31 23:59:59 (UTC)",
			want: time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC),
			ok:   true,
		},
		{
			name: "date only",
			msg:  "expired on 2024-06-15 (UTC)",
			want: time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC),
			ok:   true,
		},
		{name: "no expiry marker", msg: "something else entirely", ok: false},
		{name: "missing UTC suffix", msg: "expired on 2024-03-01 00:00:00", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseExpiryFromMessage(tt.msg)
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, got.Equal(tt.want), "got %v want %v", got, tt.want)
			}
		})
	}
}

func TestErrorClassPredicates(t *testing.T) {
	assert.True(t, isAPIError(&lmfwc.RequestError{Message: "boom"}))
	assert.True(t, isAPIError(&lmfwc.ContractError{Code: "lmfwc_error", Message: "boom"}))
	assert.False(t, isAPIError(lmfwc.NewConfigError("bad token")))
	assert.False(t, isAPIError(errors.New("boom")))

	assert.True(t, isConfigError(lmfwc.NewConfigError("bad token")))
	assert.False(t, isConfigError(&lmfwc.RequestError{Message: "boom"}))
}
