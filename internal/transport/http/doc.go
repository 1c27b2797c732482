// Package http implements the HTTP handlers of the license daemon's
// admin API. It is a thin layer between chi and the service layer:
// handlers parse and validate requests, delegate to services, and
// render either JSON responses or RFC 7807 problem details.
//
// Handlers in this package follow these principles:
//
//	1. Thin handlers - minimal logic, delegate to services
//	2. HTTP-only concerns - request parsing, response formatting
//	3. Error transformation - convert service errors to HTTP responses
//
// The router assembled by NewRouter carries the full middleware chain
// (request IDs, tracing, structured logging, panic recovery, security
// headers, CORS, rate limiting, and the entitlement gate) in the same
// order across every build of the daemon.
package http
