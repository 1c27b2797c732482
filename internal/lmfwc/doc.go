// Package lmfwc implements the client for the License Manager for
// WooCommerce REST API (v2). It owns everything between the lifecycle
// controller and the wire: request construction, Basic authentication,
// retry with exponential backoff, response classification, activation
// token selection, and the activate idempotency guard.
//
// # Response Contract
//
// The remote service reports failure through two distinct layers and
// the client normalizes both:
//
//  1. HTTP status >= 400 becomes a RequestError. The message is taken
//     from the body's "message" field when present, otherwise from the
//     first string found in any list-valued field, otherwise a plain
//     "HTTP <status>" placeholder.
//  2. HTTP 200 whose body embeds "errors" or "error_data" under the
//     data envelope becomes a ContractError carrying the first error
//     code, the first human-readable message, and the numeric status
//     the service tucked into error_data.
//
// A 200 response that is not valid JSON also becomes a ContractError
// ("invalid JSON response"): the service is known to emit HTML error
// pages with a 200 status when a site plugin misbehaves.
//
// # Retry Semantics
//
// Only transport failures (connection refused, DNS, timeouts) are
// retried. Any received HTTP response, including 5xx, is classified
// and returned immediately: the server saw the request, so repeating
// it could double-consume an activation slot.
//
// # Idempotency Guard
//
// Activate calls acquire a short-lived lock keyed by license key and
// token prefix before any network I/O. A second activate inside the
// window fails fast with a 409 RequestError. The guard fails open when
// the lock store is unavailable; it exists to stop rapid double-clicks
// and crash-retry loops, not to serialize correct callers.
package lmfwc
