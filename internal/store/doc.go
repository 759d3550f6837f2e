// Package store persists pipeline state in SQLite and enforces the per-pair
// status state machine.
//
// Two tables back the model: positions, written once per discovered tilt
// series, and stage_status, one row per (position, stage) pair. A pair with
// no row is implicitly pending. Transition is the only way to change a row;
// it rejects moves the state machine forbids and increments the attempt
// counter on every (re-)submission. The database survives process restarts so
// a rerun resumes exactly where the previous run stopped.
//
// Treat this package as the single source of truth for status semantics; new
// statuses require updating models.go, schema.sql, and schemaVersion.
package store
