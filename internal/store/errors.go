package store

import "errors"

// ErrInvalidTransition indicates a status change that violates the per-pair
// state machine. It signals an orchestrator bug, not an operational failure.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrUnknownStatus indicates a status value outside the known enum.
var ErrUnknownStatus = errors.New("unknown status")
