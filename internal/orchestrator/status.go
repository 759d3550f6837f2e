package orchestrator

import (
	"context"

	"tomoprep/internal/pipeline"
	"tomoprep/internal/store"
)

// ReportRow describes where one position currently sits in the pipeline.
type ReportRow struct {
	Position string
	Stage    string
	Status   store.Status
	Attempts int
	Failure  string
}

// Report is the user-facing view of pipeline state.
type Report struct {
	Rows    []ReportRow
	Summary Summary
}

// Report builds the per-position status view from the state store. Completed
// positions report their final stage as succeeded.
func (m *Manager) Report(ctx context.Context) (Report, error) {
	positions, err := m.store.Positions(ctx)
	if err != nil {
		return Report{}, err
	}

	report := Report{Summary: Summary{Positions: len(positions)}}
	for _, pos := range positions {
		statuses, err := m.store.StagesFor(ctx, pos.Name)
		if err != nil {
			return Report{}, err
		}

		row := ReportRow{Position: pos.Name}
		if stage, record, ok := pipeline.Current(m.stages, statuses); ok {
			row.Stage = stage.Name
			row.Status = record.Status
			row.Attempts = record.Attempts
			row.Failure = record.Failure
		} else if last, lastRecord, ok := lastEnabled(m.stages, statuses); ok {
			row.Stage = last.Name
			row.Status = lastRecord.Status
			row.Attempts = lastRecord.Attempts
		}

		switch {
		case pipeline.Complete(m.stages, statuses):
			report.Summary.Completed++
		case pipeline.Stuck(m.stages, statuses):
			report.Summary.Stuck++
		default:
			report.Summary.InProgress++
		}
		report.Rows = append(report.Rows, row)
	}
	return report, nil
}

func lastEnabled(stages []pipeline.Stage, statuses map[string]store.StageStatus) (pipeline.Stage, store.StageStatus, bool) {
	for i := len(stages) - 1; i >= 0; i-- {
		if stages[i].Enabled {
			return stages[i], statuses[stages[i].Name], true
		}
	}
	return pipeline.Stage{}, store.StageStatus{}, false
}
