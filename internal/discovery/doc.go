// Package discovery enumerates positions (tilt series) from the mdoc files
// the acquisition software writes. Discovery never mutates pipeline state;
// registering positions idempotently is the orchestrator's job.
package discovery
