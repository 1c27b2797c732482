// Package services implements the business logic layer between the
// HTTP handlers and the license controller. It owns cross-cutting
// concerns for each operation: structured logging with trace
// correlation, OpenTelemetry metrics, and translation of controller
// results into transport-facing response shapes.
//
// Services follow these architectural principles:
//
//	1. Interface-driven design for testability
//	2. Context propagation for cancellation and tracing
//	3. Dependency injection for loose coupling
//
// Handlers never reach past a service into the controller or the
// state store directly.
package services
