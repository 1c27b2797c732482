package license

import (
	"time"

	"brvlicense/pkg/contracts/domain"
)

// DefaultExpiryTolerance is how long past grace_until an EXPIRED
// license keeps passing health checks, giving operators room to renew
// before probes start failing.
const DefaultExpiryTolerance = 24 * time.Hour

// Health is the gate-compatible health view of the license state.
type Health struct {
	App           string               `json:"app"`
	OK            bool                 `json:"ok"`
	Status        domain.LicenseStatus `json:"status"`
	Reason        string               `json:"reason,omitempty"`
	GraceUntil    *time.Time           `json:"grace_until,omitempty"`
	LastValidated *time.Time           `json:"last_validated,omitempty"`
	CheckedAt     time.Time            `json:"checked_at"`
}

// WithinExpiryTolerance reports whether an EXPIRED state is still
// inside the tolerance window past grace_until. A tolerance of zero
// tolerates expiry only until grace_until itself.
func WithinExpiryTolerance(st *State, now time.Time, tolerance time.Duration) bool {
	if st.Status != domain.StatusExpired || st.GraceUntil == nil {
		return false
	}
	return now.Before(st.GraceUntil.Add(tolerance))
}

// EvaluateHealth classifies the state for probes: ok when the
// entitlement is fully confirmed, or when EXPIRED within tolerance.
func EvaluateHealth(st *State, now time.Time, tolerance time.Duration) Health {
	return Health{
		App:           "brvlicense",
		OK:            st.Status.Healthy() || WithinExpiryTolerance(st, now, tolerance),
		Status:        st.Status,
		Reason:        st.Reason,
		GraceUntil:    copyTime(st.GraceUntil),
		LastValidated: copyTime(st.LastValidated),
		CheckedAt:     now,
	}
}
