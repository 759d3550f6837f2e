// Package orchestrator drives positions through the configured pipeline.
//
// One Manager owns the control cycle: discover positions, reconcile in-flight
// cluster jobs with the scheduler, ask the resolver for each position's next
// eligible stage, admit candidates against the cluster quota, render the stage
// template, and submit. The loop is single-threaded and is the only writer of
// the state store; parallelism lives entirely in the external scheduler.
//
// Failures are isolated per (position, stage): a failed stage is retried until
// the attempt budget runs out, then marked failed_terminal, excluding only
// that position from further advancement. Transient scheduler outages are
// retried on the next tick without consuming an attempt.
package orchestrator
