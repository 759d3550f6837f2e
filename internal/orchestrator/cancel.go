package orchestrator

import (
	"context"
	"fmt"

	"tomoprep/internal/logging"
	"tomoprep/internal/slurm"
	"tomoprep/internal/store"
)

// CancelPosition cancels every non-terminal stage of one position: in-flight
// cluster jobs get a best-effort scheduler cancel, and each stage is marked
// permanently failed with reason "cancelled" so it is never admitted again.
func (m *Manager) CancelPosition(ctx context.Context, name string) error {
	pos, err := m.store.GetPosition(ctx, name)
	if err != nil {
		return err
	}
	if pos.Name == "" {
		return fmt.Errorf("unknown position %q", name)
	}
	return m.cancelStages(ctx, pos.Name)
}

// CancelAll cancels every known position.
func (m *Manager) CancelAll(ctx context.Context) error {
	positions, err := m.store.Positions(ctx)
	if err != nil {
		return err
	}
	for _, pos := range positions {
		if err := m.cancelStages(ctx, pos.Name); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) cancelStages(ctx context.Context, position string) error {
	statuses, err := m.store.StagesFor(ctx, position)
	if err != nil {
		return err
	}

	for _, stage := range m.stages {
		if !stage.Enabled {
			continue
		}
		record, ok := statuses[stage.Name]
		if !ok {
			record = store.StageStatus{Position: position, Stage: stage.Name, Status: store.StatusPending}
		}
		if record.Status.Terminal() {
			continue
		}
		if record.Status.InFlight() && record.JobID != "" {
			if err := m.gateway.Cancel(ctx, slurm.Handle(record.JobID)); err != nil {
				m.logger.Warn("scheduler cancel failed",
					logging.String("position", position),
					logging.String("stage", stage.Name),
					logging.String("job_id", record.JobID),
					logging.Error(err),
				)
			}
		}
		if _, err := m.store.Transition(ctx, position, stage.Name, store.StatusFailedTerminal, store.TransitionDetails{
			Failure: store.CancelledReason,
		}); err != nil {
			return err
		}
	}
	m.logger.Info("position cancelled", logging.String("position", position))
	return nil
}
