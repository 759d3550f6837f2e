package pipeline

import "sync"

// Throttle caps the number of simultaneously in-flight cluster jobs across
// all positions. Admission is atomic: concurrent callers can never jointly
// exceed the quota.
type Throttle struct {
	mu    sync.Mutex
	quota int
}

// NewThrottle returns a throttle for the given quota. Quotas below 1 admit nothing.
func NewThrottle(quota int) *Throttle {
	return &Throttle{quota: quota}
}

// Admit returns how many of the requested submissions may proceed given the
// current in-flight count. The grant never pushes inFlight past the quota.
func (t *Throttle) Admit(requested, inFlight int) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if requested <= 0 {
		return 0
	}
	free := t.quota - inFlight
	if free <= 0 {
		return 0
	}
	if requested < free {
		return requested
	}
	return free
}

// Quota returns the configured cap.
func (t *Throttle) Quota() int {
	return t.quota
}
