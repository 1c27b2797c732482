// Package scheduler runs the periodic background revalidation of the
// license. The job is deliberately dumb: it ticks, takes a
// cross-process file lock, and hands off to the license controller.
// All policy (no-key no-op, grace degradation, persistence) lives in
// the controller.
package scheduler
