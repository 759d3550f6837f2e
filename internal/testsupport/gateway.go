package testsupport

import (
	"context"
	"fmt"
	"sync"

	"tomoprep/internal/slurm"
)

// FakeSubmission records one accepted Submit call.
type FakeSubmission struct {
	Handle slurm.Handle
	Script string
}

// FakeGateway is an in-memory slurm.Gateway for orchestration tests. Submitted
// jobs start in StateQueued; tests drive them forward with SetState or fail
// queries with SetQueryError.
type FakeGateway struct {
	mu sync.Mutex

	nextID      int
	autoSucceed bool
	submissions []FakeSubmission
	submitErr   error
	states      map[slurm.Handle]slurm.State
	queryErrs   map[slurm.Handle]error
	markers     map[slurm.Handle]string
	cancelled   []slurm.Handle
}

// NewFakeGateway returns an empty fake scheduler.
func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		states:    make(map[slurm.Handle]slurm.State),
		queryErrs: make(map[slurm.Handle]error),
		markers:   make(map[slurm.Handle]string),
	}
}

// Submit accepts the script and assigns a sequential handle unless FailSubmits
// configured an error.
func (g *FakeGateway) Submit(ctx context.Context, script string) (slurm.Handle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.submitErr != nil {
		return "", g.submitErr
	}

	g.nextID++
	handle := slurm.Handle(fmt.Sprintf("%d", 1000+g.nextID))
	g.submissions = append(g.submissions, FakeSubmission{Handle: handle, Script: script})
	if g.autoSucceed {
		g.states[handle] = slurm.StateSucceeded
	} else {
		g.states[handle] = slurm.StateQueued
	}
	return handle, nil
}

// AutoSucceed makes every subsequent submission report success on its first
// status query.
func (g *FakeGateway) AutoSucceed(enabled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.autoSucceed = enabled
}

// QueryStatus reports the configured state for the handle. It records the
// success marker path the caller asked about.
func (g *FakeGateway) QueryStatus(ctx context.Context, handle slurm.Handle, successMarker string) (slurm.State, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.markers[handle] = successMarker
	if err, ok := g.queryErrs[handle]; ok {
		return slurm.StateUnknown, err
	}
	state, ok := g.states[handle]
	if !ok {
		return slurm.StateUnknown, slurm.ErrJobNotFound
	}
	return state, nil
}

// Cancel records the handle. It never fails.
func (g *FakeGateway) Cancel(ctx context.Context, handle slurm.Handle) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.cancelled = append(g.cancelled, handle)
	return nil
}

// SetState sets the state future QueryStatus calls report for the handle.
func (g *FakeGateway) SetState(handle slurm.Handle, state slurm.State) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.states[handle] = state
}

// SetAllStates moves every submitted job to the given state.
func (g *FakeGateway) SetAllStates(state slurm.State) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for handle := range g.states {
		g.states[handle] = state
	}
}

// SetQueryError makes QueryStatus for the handle fail with err. A nil err
// clears the failure.
func (g *FakeGateway) SetQueryError(handle slurm.Handle, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.queryErrs, handle)
		return
	}
	g.queryErrs[handle] = err
}

// FailSubmits makes every subsequent Submit fail with err until cleared with
// a nil err.
func (g *FakeGateway) FailSubmits(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submitErr = err
}

// Submissions returns a copy of every accepted submission in order.
func (g *FakeGateway) Submissions() []FakeSubmission {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]FakeSubmission, len(g.submissions))
	copy(out, g.submissions)
	return out
}

// Cancelled returns a copy of every cancelled handle in order.
func (g *FakeGateway) Cancelled() []slurm.Handle {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]slurm.Handle, len(g.cancelled))
	copy(out, g.cancelled)
	return out
}

// MarkerFor returns the last success marker path queried for the handle.
func (g *FakeGateway) MarkerFor(handle slurm.Handle) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.markers[handle]
}
