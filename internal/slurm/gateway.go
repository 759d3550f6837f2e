package slurm

import "context"

// State is the narrow job-status vocabulary the rest of the system sees.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateUnknown   State = "unknown"
)

// Handle is the scheduler-assigned job identifier. Opaque outside this package.
type Handle string

// Gateway is the sole point of contact with the batch scheduler.
//
// QueryStatus combines the scheduler's view of the job with an existence check
// on successMarker: a job that exits zero without producing the expected
// artifact reports StateFailed. An empty successMarker trusts the exit state.
// Cancel is best-effort and never errors on a job that already finished.
type Gateway interface {
	Submit(ctx context.Context, script string) (Handle, error)
	QueryStatus(ctx context.Context, handle Handle, successMarker string) (State, error)
	Cancel(ctx context.Context, handle Handle) error
}
