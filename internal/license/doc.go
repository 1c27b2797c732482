// Package license implements the client-side license entitlement
// lifecycle. It resolves effective credentials, drives the remote
// LMFWC-compatible service through the lmfwc client, applies the
// outcome to a persistent local state machine, and decides what the
// rest of the application is entitled to do.
//
// # Architecture Overview
//
// The package consists of several components:
//
//	- Controller: Lifecycle operations (activate, reactivate, deactivate, validate)
//	- State: The persistent local record and its store
//	- Grace: Degradation policy for failed validations
//	- Health: Probe evaluation for readiness and monitoring
//	- Errors: User-facing sentinels and remote error classification
//
// # Status Model
//
// The local status is one of (see pkg/contracts/domain):
//
//	UNCONFIGURED  no license has ever been applied
//	ACTIVE        activation succeeded
//	VALIDATED     the last validation confirmed an active activation
//	DEACTIVATED   no activation is held (or deactivation was applied)
//	EXPIRED       the server reported or the clock passed the expiry
//	GRACE_SOFT    a validation failed recently; full function continues
//	LOCK_HARD     validations have failed for too long, or deactivate ran
//
// # Grace Policy
//
// A failed validation never flips the state straight to a hard lock.
// Instead the time since the last successful validation decides:
//
//	under 24h (or never validated)  GRACE_SOFT
//	48h or more                     LOCK_HARD
//	in between                      GRACE_SOFT
//
// grace_until records the failure time for expiry-tolerance checks.
// A later successful validation clears the grace state.
//
// # Operation Outcomes
//
// Every operation resolves the license key from the parameter or the
// stored state, calls the remote service, applies the outcome to the
// state, persists, and broadcasts a transition event. Failures map to
// a small set of user-facing sentinel errors (ErrLicenseExpired,
// ErrActivationLimit, ErrActivationSettling, ErrOperationFailed);
// remote diagnostics go to logs and last_error_raw, never to callers.
//
// Deactivation is sticky: whatever the remote answers, the local
// outcome is LOCK_HARD until a later explicit activation succeeds.
//
// # Persistence
//
// State is a single JSON document written atomically with 0600
// permissions. Concurrent writers are last-writer-wins; the activate
// idempotency guard in the lmfwc client is the only concurrency
// control for the activation path.
package license
