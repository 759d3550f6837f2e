package pipeline

import "tomoprep/internal/store"

// NextEligible walks the stage sequence for one position and returns the first
// stage that may be submitted now. A disabled stage counts as vacuously
// succeeded. It returns false when the position is complete, blocked behind an
// in-flight stage, or permanently stuck.
func NextEligible(stages []Stage, statuses map[string]store.StageStatus, maxAttempts int) (Stage, bool) {
	for _, stage := range stages {
		if !stage.Enabled {
			continue
		}
		record, ok := statuses[stage.Name]
		if !ok {
			record = store.StageStatus{Status: store.StatusPending}
		}
		switch record.Status {
		case store.StatusSucceeded:
			continue
		case store.StatusPending:
			return stage, true
		case store.StatusFailed:
			if record.Attempts < maxAttempts {
				return stage, true
			}
			return Stage{}, false
		default:
			// submitted, running, failed_terminal: nothing to admit, and
			// later stages stay blocked behind this one.
			return Stage{}, false
		}
	}
	return Stage{}, false
}

// Complete reports whether every enabled stage has succeeded.
func Complete(stages []Stage, statuses map[string]store.StageStatus) bool {
	for _, stage := range stages {
		if !stage.Enabled {
			continue
		}
		record, ok := statuses[stage.Name]
		if !ok || record.Status != store.StatusSucceeded {
			return false
		}
	}
	return true
}

// Stuck reports whether the position can never advance: some enabled stage is
// terminally failed.
func Stuck(stages []Stage, statuses map[string]store.StageStatus) bool {
	for _, stage := range stages {
		if !stage.Enabled {
			continue
		}
		if record, ok := statuses[stage.Name]; ok && record.Status == store.StatusFailedTerminal {
			return true
		}
	}
	return false
}

// Current returns the earliest enabled stage that has not succeeded, which is
// where the position currently sits. The second result is false when the
// position is complete.
func Current(stages []Stage, statuses map[string]store.StageStatus) (Stage, store.StageStatus, bool) {
	for _, stage := range stages {
		if !stage.Enabled {
			continue
		}
		record, ok := statuses[stage.Name]
		if !ok {
			record = store.StageStatus{Position: record.Position, Stage: stage.Name, Status: store.StatusPending}
		}
		if record.Status != store.StatusSucceeded {
			return stage, record, true
		}
	}
	return Stage{}, store.StageStatus{}, false
}
