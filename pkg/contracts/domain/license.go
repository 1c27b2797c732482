// Package domain contains the shared contracts of the license
// controller. These types are the single source of truth across the
// transport, service, controller, and CLI layers.
package domain

import "time"

// LicenseStatus is the lifecycle status of the locally held license.
// Exactly one status is in effect at a time.
type LicenseStatus string

const (
	StatusUnconfigured LicenseStatus = "UNCONFIGURED"
	StatusActive       LicenseStatus = "ACTIVE"
	StatusValidated    LicenseStatus = "VALIDATED"
	StatusDeactivated  LicenseStatus = "DEACTIVATED"
	StatusExpired      LicenseStatus = "EXPIRED"
	StatusRevoked      LicenseStatus = "REVOKED"
	StatusGraceSoft    LicenseStatus = "GRACE_SOFT"
	StatusLockHard     LicenseStatus = "LOCK_HARD"
)

// IsGrace reports whether the status was produced by the
// grace-degradation policy.
func (s LicenseStatus) IsGrace() bool {
	return s == StatusGraceSoft || s == StatusLockHard
}

// Healthy reports whether the status represents a fully confirmed
// entitlement.
func (s LicenseStatus) Healthy() bool {
	return s == StatusActive || s == StatusValidated
}

// LicenseSnapshot is the read-only view of the stored license state
// served to operators. The license key is masked before it leaves the
// controller; the activation token never leaves it at all.
type LicenseSnapshot struct {
	LicenseKey    string        `json:"license_key"`
	Status        LicenseStatus `json:"status"`
	HasToken      bool          `json:"has_token"`
	Reason        string        `json:"reason,omitempty"`
	ExpiresAt     *time.Time    `json:"expires_at,omitempty"`
	GraceUntil    *time.Time    `json:"grace_until,omitempty"`
	LastValidated *time.Time    `json:"last_validated,omitempty"`
}

// LicenseEvent is one state transition broadcast to event subscribers.
type LicenseEvent struct {
	Status     LicenseStatus `json:"status"`
	Reason     string        `json:"reason,omitempty"`
	GraceUntil *time.Time    `json:"grace_until,omitempty"`
	At         time.Time     `json:"at"`
}

// ActivateRequest asks for a fresh activation of a license key,
// optionally targeting an existing activation token.
type ActivateRequest struct {
	LicenseKey string `json:"license_key" validate:"required,min=10,uppercase"`
	Token      string `json:"token,omitempty" validate:"omitempty,hexadecimal,min=16,max=128"`
}

// ReactivateRequest asks for a reactivation using the freshest token
// available (preflight rotation, stored token, or the one supplied).
type ReactivateRequest struct {
	Token      string `json:"token,omitempty" validate:"omitempty,hexadecimal,min=16,max=128"`
	LicenseKey string `json:"license_key,omitempty" validate:"omitempty,min=10,uppercase"`
}

// DeactivateRequest releases one activation (token given) or all of
// them (token omitted and none stored).
type DeactivateRequest struct {
	Token      string `json:"token,omitempty" validate:"omitempty,hexadecimal,min=16,max=128"`
	LicenseKey string `json:"license_key,omitempty" validate:"omitempty,min=10,uppercase"`
}

// ValidateRequest triggers a remote validation round-trip.
type ValidateRequest struct {
	LicenseKey string `json:"license_key,omitempty" validate:"omitempty,min=10,uppercase"`
}

// OperationResponse wraps the outcome of a successful license
// operation.
type OperationResponse struct {
	Success  bool            `json:"success"`
	Snapshot LicenseSnapshot `json:"snapshot"`
}
