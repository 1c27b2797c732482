package license

import (
	"time"

	"brvlicense/pkg/contracts/domain"
)

// Grace-degradation windows, measured from the last successful remote
// confirmation. Inside the soft window a failed validation degrades to
// GRACE_SOFT; past the hard window it locks.
const (
	GraceSoftWindow = 24 * time.Hour
	GraceHardWindow = 48 * time.Hour
)

// applyGraceOnFailure degrades the state after a failed validation.
// The policy is evaluated fresh on every failure from elapsed time
// alone; it never accumulates failure counts.
func applyGraceOnFailure(st *State, now time.Time, cause string) {
	st.Reason = "Grace policy engaged: " + cause

	if st.LastValidated == nil {
		st.Status = domain.StatusGraceSoft
		st.GraceUntil = timePtr(now)
		return
	}

	elapsed := now.Sub(*st.LastValidated)
	switch {
	case elapsed <= GraceSoftWindow:
		st.Status = domain.StatusGraceSoft
	case elapsed >= GraceHardWindow:
		st.Status = domain.StatusLockHard
	default:
		st.Status = domain.StatusGraceSoft
	}
	st.GraceUntil = timePtr(now)
}
