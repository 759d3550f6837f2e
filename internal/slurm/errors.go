package slurm

import "errors"

var (
	// ErrSubmission indicates the scheduler rejected the job (malformed
	// resource request, bad partition). Counted against the retry budget.
	ErrSubmission = errors.New("submission rejected")

	// ErrUnavailable indicates a transient scheduler or network problem.
	// Retried on the next poll tick without consuming an attempt.
	ErrUnavailable = errors.New("scheduler unavailable")

	// ErrJobNotFound indicates the handle is stale: the scheduler has purged
	// the job from its history. Treated as a failure and retried.
	ErrJobNotFound = errors.New("job not found")
)
