package store

import (
	"strings"
	"time"
)

// Status represents the lifecycle of one (position, stage) pair.
type Status string

const (
	StatusPending        Status = "pending"
	StatusSubmitted      Status = "submitted"
	StatusRunning        Status = "running"
	StatusSucceeded      Status = "succeeded"
	StatusFailed         Status = "failed"
	StatusFailedTerminal Status = "failed_terminal"
)

// CancelledReason is the failure reason recorded when a user cancels a position.
const CancelledReason = "cancelled"

var allStatuses = []Status{
	StatusPending,
	StatusSubmitted,
	StatusRunning,
	StatusSucceeded,
	StatusFailed,
	StatusFailedTerminal,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// legalTransitions encodes the per-pair state machine. A missing key means
// the state is terminal.
var legalTransitions = map[Status]map[Status]struct{}{
	StatusPending: {
		StatusSubmitted:      {},
		StatusFailed:         {},
		StatusFailedTerminal: {},
	},
	StatusSubmitted: {
		StatusRunning:        {},
		StatusSucceeded:      {},
		StatusFailed:         {},
		StatusFailedTerminal: {},
	},
	StatusRunning: {
		StatusSucceeded:      {},
		StatusFailed:         {},
		StatusFailedTerminal: {},
	},
	StatusFailed: {
		StatusSubmitted:      {},
		StatusFailed:         {},
		StatusFailedTerminal: {},
	},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// Terminal reports whether no further transitions may occur.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailedTerminal
}

// InFlight reports whether the pair occupies a slot of the cluster quota.
func (s Status) InFlight() bool {
	return s == StatusSubmitted || s == StatusRunning
}

// CanTransition reports whether moving from s to next is legal.
func (s Status) CanTransition(next Status) bool {
	targets, ok := legalTransitions[s]
	if !ok {
		return false
	}
	_, ok = targets[next]
	return ok
}

// Position is one independently processable tilt series. Created once at
// discovery time and never mutated.
type Position struct {
	Name         string
	MdocPath     string
	WorkDir      string
	DiscoveredAt time.Time
}

// StageStatus is the durable record for one (position, stage) pair. Pairs with
// no persisted row are implicitly pending with zero attempts.
type StageStatus struct {
	Position  string
	Stage     string
	Status    Status
	JobID     string
	Attempts  int
	Failure   string
	UpdatedAt time.Time
}
