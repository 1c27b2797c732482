package license

import (
	"time"

	"brvlicense/internal/lmfwc"
	"brvlicense/pkg/contracts/domain"
)

// State is the durable license record. There is exactly one per
// deployment. All mutation goes through the Controller; everything
// else reads snapshots.
type State struct {
	LicenseKey      string               `json:"license_key"`
	Status          domain.LicenseStatus `json:"status"`
	ActivationToken string               `json:"activation_token,omitempty"`
	ExpiresAt       *time.Time           `json:"expires_at,omitempty"`
	GraceUntil      *time.Time           `json:"grace_until,omitempty"`
	Reason          string               `json:"reason,omitempty"`
	LastValidated   *time.Time           `json:"last_validated,omitempty"`
	LastResponseRaw string               `json:"last_response_raw,omitempty"`
	LastErrorRaw    string               `json:"last_error_raw,omitempty"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// NewState returns the initial, unconfigured state.
func NewState() *State {
	return &State{Status: domain.StatusUnconfigured}
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := *s
	out.ExpiresAt = copyTime(s.ExpiresAt)
	out.GraceUntil = copyTime(s.GraceUntil)
	out.LastValidated = copyTime(s.LastValidated)
	return &out
}

// Snapshot renders the operator-facing view. The key is masked and the
// token reduced to a presence flag.
func (s *State) Snapshot() domain.LicenseSnapshot {
	snap := domain.LicenseSnapshot{
		Status:        s.Status,
		HasToken:      s.ActivationToken != "",
		Reason:        s.Reason,
		ExpiresAt:     copyTime(s.ExpiresAt),
		GraceUntil:    copyTime(s.GraceUntil),
		LastValidated: copyTime(s.LastValidated),
	}
	if s.LicenseKey != "" {
		snap.LicenseKey = lmfwc.MaskLicenseKey(s.LicenseKey)
	}
	return snap
}

// Event renders the state as a transition event for broadcast.
func (s *State) Event(at time.Time) domain.LicenseEvent {
	return domain.LicenseEvent{
		Status:     s.Status,
		Reason:     s.Reason,
		GraceUntil: copyTime(s.GraceUntil),
		At:         at,
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func timePtr(t time.Time) *time.Time { return &t }
