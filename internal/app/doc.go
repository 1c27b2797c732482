// Package app wires the license daemon together and owns its
// lifecycle: configuration loading, logging and observability setup,
// state store, remote client, lifecycle controller, entitlement gate,
// event hub, background revalidation, and the admin HTTP server.
//
// # Initialization Flow
//
// The typical initialization sequence:
//
//	1. Load configuration from defaults, file, and environment
//	2. Resolve the runtime file layout and create directories
//	3. Initialize logging and OpenTelemetry
//	4. Open sealed credentials when configured
//	5. Build the state store, remote client, and controller
//	6. Wire the event hub, gate, and scheduler around the controller
//	7. Assemble the router and HTTP server
//
// # Usage
//
// The main entry point is typically:
//
//	application, err := app.New()
//	if err != nil {
//	    ...
//	}
//	if err := application.Run(); err != nil {
//	    ...
//	}
//
// Run blocks until SIGINT/SIGTERM and then shuts everything down in
// reverse order.
package app
