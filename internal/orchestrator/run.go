package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tomoprep/internal/logging"
	"tomoprep/internal/pipeline"
	"tomoprep/internal/slurm"
	"tomoprep/internal/store"
	"tomoprep/internal/template"
)

// Summary aggregates position outcomes at the end of a tick.
type Summary struct {
	Positions  int
	Completed  int
	Stuck      int
	InProgress int
}

// Done reports whether every known position reached a terminal outcome. A run
// that discovered nothing is vacuously done; waiting for data to appear is
// watch mode's job.
func (s Summary) Done() bool {
	return s.InProgress == 0
}

// RunOnce drives the cycle until every position is complete or stuck, then
// returns the final summary. Context cancellation stops new admissions and
// returns early; external jobs keep running.
func (m *Manager) RunOnce(ctx context.Context) (Summary, error) {
	m.logger.Info("starting bounded run",
		logging.Int("quota", m.throttle.Quota()),
		logging.Int("max_attempts", m.maxAttempts),
	)
	for {
		summary, err := m.Tick(ctx)
		if err != nil {
			return summary, err
		}
		if summary.Done() {
			m.logger.Info("run complete",
				logging.Int("completed", summary.Completed),
				logging.Int("stuck", summary.Stuck),
			)
			return summary, nil
		}
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		case <-time.After(m.pollInterval):
		}
	}
}

// Watch drives the cycle indefinitely, picking up newly discovered positions
// each tick, until the context is cancelled.
func (m *Manager) Watch(ctx context.Context) error {
	m.logger.Info("watching for positions",
		logging.Duration("poll_interval", m.pollInterval),
	)
	for {
		if _, err := m.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				m.logger.Info("watch stopped; in-flight cluster jobs continue")
				return nil
			}
			// Discovery failures are fatal; per-stage failures never reach here.
			return err
		}
		select {
		case <-ctx.Done():
			m.logger.Info("watch stopped; in-flight cluster jobs continue")
			return nil
		case <-time.After(m.pollInterval):
		}
	}
}

// Tick runs one orchestration cycle: discover, refresh, resolve, admit, submit.
func (m *Manager) Tick(ctx context.Context) (Summary, error) {
	if err := m.discover(ctx); err != nil {
		return Summary{}, err
	}
	if err := m.refreshInFlight(ctx); err != nil {
		return Summary{}, err
	}
	if err := m.admitAndSubmit(ctx); err != nil {
		return Summary{}, err
	}
	return m.summarize(ctx)
}

func (m *Manager) discover(ctx context.Context) error {
	found, err := m.scanner.Scan(ctx)
	if err != nil {
		return err
	}
	for _, pos := range found {
		if _, err := m.store.AddPosition(ctx, pos.Name, pos.MdocPath, pos.WorkDir); err != nil {
			return fmt.Errorf("register position %s: %w", pos.Name, err)
		}
	}
	return nil
}

// refreshInFlight reconciles every submitted/running pair with the scheduler.
func (m *Manager) refreshInFlight(ctx context.Context) error {
	inFlight, err := m.store.ListInFlight(ctx)
	if err != nil {
		return err
	}

	for _, record := range inFlight {
		state, err := m.gateway.QueryStatus(ctx, slurm.Handle(record.JobID), m.markerPath(ctx, record))
		if err != nil {
			switch {
			case errors.Is(err, slurm.ErrJobNotFound):
				if err := m.recordFailure(ctx, record.Position, record.Stage, "job missing from scheduler history", false); err != nil {
					return err
				}
			case errors.Is(err, slurm.ErrUnavailable):
				// Transient: same attempt count, retried next tick.
				m.logger.Warn("scheduler unavailable, will retry",
					logging.String("position", record.Position),
					logging.String("stage", record.Stage),
					logging.Error(err),
				)
			default:
				return err
			}
			continue
		}

		switch state {
		case slurm.StateQueued:
			// Still waiting for resources.
		case slurm.StateRunning:
			if record.Status == store.StatusSubmitted {
				if _, err := m.store.Transition(ctx, record.Position, record.Stage, store.StatusRunning, store.TransitionDetails{}); err != nil {
					return err
				}
			}
		case slurm.StateSucceeded:
			if _, err := m.store.Transition(ctx, record.Position, record.Stage, store.StatusSucceeded, store.TransitionDetails{}); err != nil {
				return err
			}
			m.logger.Info("stage succeeded",
				logging.String("position", record.Position),
				logging.String("stage", record.Stage),
			)
		case slurm.StateFailed:
			if err := m.recordFailure(ctx, record.Position, record.Stage, "cluster job failed or produced no output", false); err != nil {
				return err
			}
		case slurm.StateUnknown:
			m.logger.Debug("job state unknown",
				logging.String("position", record.Position),
				logging.String("stage", record.Stage),
				logging.String("job_id", record.JobID),
			)
		}
	}
	return nil
}

type candidate struct {
	position store.Position
	stage    pipeline.Stage
}

func (m *Manager) admitAndSubmit(ctx context.Context) error {
	positions, err := m.store.Positions(ctx)
	if err != nil {
		return err
	}

	// Discovery order doubles as admission order: first discovered, first admitted.
	var candidates []candidate
	for _, pos := range positions {
		statuses, err := m.store.StagesFor(ctx, pos.Name)
		if err != nil {
			return err
		}
		if err := m.escalateExhausted(ctx, pos.Name, statuses); err != nil {
			return err
		}
		if stage, ok := pipeline.NextEligible(m.stages, statuses, m.maxAttempts); ok {
			candidates = append(candidates, candidate{position: pos, stage: stage})
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	inFlight, err := m.store.ListInFlight(ctx)
	if err != nil {
		return err
	}
	granted := m.throttle.Admit(len(candidates), len(inFlight))
	if granted < len(candidates) {
		m.logger.Debug("quota limits admissions",
			logging.Int("eligible", len(candidates)),
			logging.Int("granted", granted),
			logging.Int("in_flight", len(inFlight)),
		)
	}

	for _, cand := range candidates[:granted] {
		if err := m.submitStage(ctx, cand.position, cand.stage); err != nil {
			return err
		}
	}
	return nil
}

// submitStage renders and submits one job. Render and submission failures are
// recorded against the pair, never propagated: one position's problem must not
// abort the loop.
func (m *Manager) submitStage(ctx context.Context, pos store.Position, stage pipeline.Stage) error {
	values := m.renderValues(stage, pos)

	script, err := template.RenderFile(stage.TemplatePath, values)
	if err != nil {
		return m.recordFailure(ctx, pos.Name, stage.Name, err.Error(), true)
	}

	if err := os.MkdirAll(pos.WorkDir, 0o755); err != nil {
		return m.recordFailure(ctx, pos.Name, stage.Name, fmt.Sprintf("create working directory: %v", err), true)
	}
	scriptPath := filepath.Join(pos.WorkDir, fmt.Sprintf("%s_%s.sh", stage.Name, pos.Name))
	if err := os.WriteFile(scriptPath, []byte(script), 0o644); err != nil {
		return m.recordFailure(ctx, pos.Name, stage.Name, fmt.Sprintf("write job script: %v", err), true)
	}

	handle, err := m.gateway.Submit(ctx, script)
	if err != nil {
		// Unavailability is not the job's fault; keep the attempt count.
		bump := !errors.Is(err, slurm.ErrUnavailable)
		return m.recordFailure(ctx, pos.Name, stage.Name, err.Error(), bump)
	}

	if _, err := m.store.Transition(ctx, pos.Name, stage.Name, store.StatusSubmitted, store.TransitionDetails{JobID: string(handle)}); err != nil {
		return err
	}
	m.logger.Info("stage submitted",
		logging.String("position", pos.Name),
		logging.String("stage", stage.Name),
		logging.String("job_id", string(handle)),
	)
	return nil
}

// escalateExhausted finishes interrupted failure handling. recordFailure
// writes failed and then failed_terminal; a crash between the two leaves a
// failed row with no budget left, which would otherwise never be admitted nor
// counted stuck.
func (m *Manager) escalateExhausted(ctx context.Context, position string, statuses map[string]store.StageStatus) error {
	for _, stage := range m.stages {
		if !stage.Enabled {
			continue
		}
		record, ok := statuses[stage.Name]
		if !ok || record.Status != store.StatusFailed || record.Attempts < m.maxAttempts {
			continue
		}
		updated, err := m.store.Transition(ctx, position, stage.Name, store.StatusFailedTerminal, store.TransitionDetails{
			Failure: record.Failure,
		})
		if err != nil {
			return err
		}
		statuses[stage.Name] = updated
		m.logger.Error("stage permanently failed, position excluded from further advancement",
			logging.String("position", position),
			logging.String("stage", stage.Name),
			logging.Int("attempts", record.Attempts),
		)
	}
	return nil
}

// recordFailure marks a pair failed and escalates to failed_terminal once the
// retry budget is spent. Returns an error only for store-level problems.
func (m *Manager) recordFailure(ctx context.Context, position, stage, reason string, bumpAttempt bool) error {
	record, err := m.store.Transition(ctx, position, stage, store.StatusFailed, store.TransitionDetails{
		Failure:     reason,
		BumpAttempt: bumpAttempt,
	})
	if err != nil {
		return err
	}
	m.logger.Warn("stage failed",
		logging.String("position", position),
		logging.String("stage", stage),
		logging.Int("attempts", record.Attempts),
		logging.String("reason", reason),
	)

	if record.Attempts >= m.maxAttempts {
		if _, err := m.store.Transition(ctx, position, stage, store.StatusFailedTerminal, store.TransitionDetails{Failure: reason}); err != nil {
			return err
		}
		m.logger.Error("stage permanently failed, position excluded from further advancement",
			logging.String("position", position),
			logging.String("stage", stage),
			logging.Int("attempts", record.Attempts),
		)
	}
	return nil
}

func (m *Manager) summarize(ctx context.Context) (Summary, error) {
	positions, err := m.store.Positions(ctx)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{Positions: len(positions)}
	for _, pos := range positions {
		statuses, err := m.store.StagesFor(ctx, pos.Name)
		if err != nil {
			return Summary{}, err
		}
		switch {
		case pipeline.Complete(m.stages, statuses):
			summary.Completed++
		case pipeline.Stuck(m.stages, statuses):
			summary.Stuck++
		default:
			summary.InProgress++
		}
	}
	return summary, nil
}

func (m *Manager) renderValues(stage pipeline.Stage, pos store.Position) map[string]string {
	values := make(map[string]string, len(stage.Params)+2)
	for k, v := range stage.Params {
		values[k] = v
	}
	values["position_prefix"] = pos.Name
	values["position_directory"] = pos.WorkDir
	return values
}

// markerPath resolves the absolute success-marker path for an in-flight record.
func (m *Manager) markerPath(ctx context.Context, record store.StageStatus) string {
	stage, ok := m.stageByName(record.Stage)
	if !ok || stage.SuccessMarker == "" {
		return ""
	}
	pos, err := m.store.GetPosition(ctx, record.Position)
	if err != nil || pos.Name == "" {
		return ""
	}
	rel, err := template.Render(stage.SuccessMarker, m.renderValues(stage, pos))
	if err != nil {
		m.logger.Warn("success marker did not render",
			logging.String("stage", stage.Name),
			logging.Error(err),
		)
		return ""
	}
	return filepath.Join(pos.WorkDir, rel)
}
