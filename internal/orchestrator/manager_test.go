package orchestrator_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"tomoprep/internal/config"
	"tomoprep/internal/logging"
	"tomoprep/internal/orchestrator"
	"tomoprep/internal/pipeline"
	"tomoprep/internal/slurm"
	"tomoprep/internal/store"
	"tomoprep/internal/testsupport"
)

func newManager(t *testing.T, cfg *config.Config, st *store.Store, gateway slurm.Gateway) *orchestrator.Manager {
	t.Helper()
	manager, err := orchestrator.NewManager(cfg, st, gateway, logging.NewNop())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return manager
}

func mustTick(t *testing.T, m *orchestrator.Manager) orchestrator.Summary {
	t.Helper()
	summary, err := m.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	return summary
}

func TestTickAdmitsUpToQuota(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithOnlyStages("import"),
		testsupport.WithMaxJobs(2),
	)
	st := testsupport.MustOpenStore(t, cfg)
	gateway := testsupport.NewFakeGateway()
	manager := newManager(t, cfg, st, gateway)

	testsupport.WriteMdoc(t, cfg, "Position_1.mrc")
	testsupport.WriteMdoc(t, cfg, "Position_2.mrc")
	testsupport.WriteMdoc(t, cfg, "Position_3.mrc")

	summary := mustTick(t, manager)
	if summary.Positions != 3 {
		t.Fatalf("expected 3 positions discovered, got %d", summary.Positions)
	}
	if got := len(gateway.Submissions()); got != 2 {
		t.Fatalf("expected quota to cap submissions at 2, got %d", got)
	}

	// A second tick with both jobs still queued must not over-admit.
	mustTick(t, manager)
	if got := len(gateway.Submissions()); got != 2 {
		t.Fatalf("expected no extra submissions while quota is full, got %d", got)
	}

	// One job finishing frees a slot for the third position.
	gateway.SetState(gateway.Submissions()[0].Handle, slurm.StateSucceeded)
	mustTick(t, manager)
	if got := len(gateway.Submissions()); got != 3 {
		t.Fatalf("expected third position admitted after slot freed, got %d submissions", got)
	}
}

func TestStagesAdvanceStrictlyInOrder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	gateway := testsupport.NewFakeGateway()
	manager := newManager(t, cfg, st, gateway)

	testsupport.WriteMdoc(t, cfg, "Position_1.mrc")

	// Markers in the rendered scripts identify which stage each submission ran.
	wantOrder := []string{
		"relion_import",
		"relion_run_motioncorr",
		"relion_run_ctffind",
		"AreTomo",
		"relion_tomo_reconstruct",
	}

	for i := range wantOrder {
		mustTick(t, manager)
		subs := gateway.Submissions()
		if len(subs) != i+1 {
			t.Fatalf("after submitting stage %d expected %d submissions, got %d", i, i+1, len(subs))
		}
		if !strings.Contains(subs[i].Script, wantOrder[i]) {
			t.Fatalf("submission %d does not run %s:\n%s", i, wantOrder[i], subs[i].Script)
		}

		// While the job is queued or running nothing new may be admitted.
		gateway.SetState(subs[i].Handle, slurm.StateRunning)
		mustTick(t, manager)
		if got := len(gateway.Submissions()); got != i+1 {
			t.Fatalf("stage %d still running but %d submissions exist", i, got)
		}

		gateway.SetState(subs[i].Handle, slurm.StateSucceeded)
	}

	summary := mustTick(t, manager)
	if summary.Completed != 1 || summary.InProgress != 0 {
		t.Fatalf("expected position complete, got %+v", summary)
	}
}

func TestResumeAfterRestartDoesNotResubmit(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithOnlyStages("import"))
	st := testsupport.MustOpenStore(t, cfg)
	gateway := testsupport.NewFakeGateway()

	manager := newManager(t, cfg, st, gateway)
	testsupport.WriteMdoc(t, cfg, "Position_1.mrc")
	mustTick(t, manager)
	if got := len(gateway.Submissions()); got != 1 {
		t.Fatalf("expected 1 submission, got %d", got)
	}

	// A fresh manager over the same store stands in for a restart. The
	// cluster job it submitted is still queued.
	restarted := newManager(t, cfg, st, gateway)
	mustTick(t, restarted)
	mustTick(t, restarted)
	if got := len(gateway.Submissions()); got != 1 {
		t.Fatalf("restart duplicated submissions: %d", got)
	}

	record, err := st.Get(context.Background(), "Position_1", pipeline.StageImport)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if record.Attempts != 1 {
		t.Fatalf("expected attempts=1 after restart, got %d", record.Attempts)
	}
}

func TestFailuresEscalateToTerminalAtBudget(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithOnlyStages("import"),
		testsupport.WithMaxAttempts(2),
	)
	st := testsupport.MustOpenStore(t, cfg)
	gateway := testsupport.NewFakeGateway()
	manager := newManager(t, cfg, st, gateway)

	testsupport.WriteMdoc(t, cfg, "Position_1.mrc")
	testsupport.WriteMdoc(t, cfg, "Position_2.mrc")

	// First attempts for both positions.
	mustTick(t, manager)
	if got := len(gateway.Submissions()); got != 2 {
		t.Fatalf("expected 2 submissions, got %d", got)
	}

	// Position_1's job fails; Position_2 keeps running.
	gateway.SetState(gateway.Submissions()[0].Handle, slurm.StateFailed)
	gateway.SetState(gateway.Submissions()[1].Handle, slurm.StateRunning)

	// Failure recorded, then the retry goes out in the same tick.
	mustTick(t, manager)
	subs := gateway.Submissions()
	if len(subs) != 3 {
		t.Fatalf("expected retry submission, got %d total", len(subs))
	}

	// The retry fails too, exhausting the budget of 2.
	gateway.SetState(subs[2].Handle, slurm.StateFailed)
	summary := mustTick(t, manager)

	record, err := st.Get(context.Background(), "Position_1", pipeline.StageImport)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if record.Status != store.StatusFailedTerminal {
		t.Fatalf("expected failed_terminal, got %s", record.Status)
	}
	if record.Attempts != 2 {
		t.Fatalf("expected exactly max_attempts=2 attempts, got %d", record.Attempts)
	}
	if got := len(gateway.Submissions()); got != 3 {
		t.Fatalf("terminal stage was resubmitted: %d submissions", got)
	}
	if summary.Stuck != 1 {
		t.Fatalf("expected 1 stuck position, got %+v", summary)
	}

	// Position_2 is unaffected and still completes.
	gateway.SetState(subs[1].Handle, slurm.StateSucceeded)
	summary = mustTick(t, manager)
	if summary.Completed != 1 || summary.Stuck != 1 {
		t.Fatalf("expected 1 completed and 1 stuck, got %+v", summary)
	}
}

func TestThirdAttemptSuccessAdvancesStage(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMaxAttempts(3))
	st := testsupport.MustOpenStore(t, cfg)
	gateway := testsupport.NewFakeGateway()
	manager := newManager(t, cfg, st, gateway)

	testsupport.WriteMdoc(t, cfg, "Position_1.mrc")

	// Two failed attempts at import.
	mustTick(t, manager)
	gateway.SetState(gateway.Submissions()[0].Handle, slurm.StateFailed)
	mustTick(t, manager)
	gateway.SetState(gateway.Submissions()[1].Handle, slurm.StateFailed)
	mustTick(t, manager)

	subs := gateway.Submissions()
	if len(subs) != 3 {
		t.Fatalf("expected 3 import attempts, got %d", len(subs))
	}

	// The third attempt succeeds: the position moves on to motioncorr.
	gateway.SetState(subs[2].Handle, slurm.StateSucceeded)
	mustTick(t, manager)

	subs = gateway.Submissions()
	if len(subs) != 4 {
		t.Fatalf("expected motioncorr submission after import recovered, got %d", len(subs))
	}
	if !strings.Contains(subs[3].Script, "relion_run_motioncorr") {
		t.Fatalf("fourth submission is not motioncorr:\n%s", subs[3].Script)
	}

	record, err := st.Get(context.Background(), "Position_1", pipeline.StageImport)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if record.Status != store.StatusSucceeded || record.Attempts != 3 {
		t.Fatalf("unexpected import record %#v", record)
	}
}

func TestTransientSchedulerErrorKeepsAttempt(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithOnlyStages("import"))
	st := testsupport.MustOpenStore(t, cfg)
	gateway := testsupport.NewFakeGateway()
	manager := newManager(t, cfg, st, gateway)

	testsupport.WriteMdoc(t, cfg, "Position_1.mrc")
	mustTick(t, manager)

	handle := gateway.Submissions()[0].Handle
	gateway.SetQueryError(handle, slurm.ErrUnavailable)

	// The pair stays submitted with its attempt intact; no resubmission.
	mustTick(t, manager)
	record, err := st.Get(context.Background(), "Position_1", pipeline.StageImport)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if record.Status != store.StatusSubmitted || record.Attempts != 1 {
		t.Fatalf("transient error changed state: %#v", record)
	}
	if got := len(gateway.Submissions()); got != 1 {
		t.Fatalf("transient error triggered resubmission: %d", got)
	}

	gateway.SetQueryError(handle, nil)
	gateway.SetState(handle, slurm.StateSucceeded)
	summary := mustTick(t, manager)
	if summary.Completed != 1 {
		t.Fatalf("expected completion after scheduler recovered, got %+v", summary)
	}
}

func TestRejectedSubmissionConsumesAttempt(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithOnlyStages("import"),
		testsupport.WithMaxAttempts(3),
	)
	st := testsupport.MustOpenStore(t, cfg)
	gateway := testsupport.NewFakeGateway()
	manager := newManager(t, cfg, st, gateway)

	testsupport.WriteMdoc(t, cfg, "Position_1.mrc")

	gateway.FailSubmits(slurm.ErrSubmission)
	mustTick(t, manager)

	ctx := context.Background()
	record, err := st.Get(ctx, "Position_1", pipeline.StageImport)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if record.Status != store.StatusFailed || record.Attempts != 1 {
		t.Fatalf("rejection should consume an attempt: %#v", record)
	}

	// Unavailability keeps the count.
	gateway.FailSubmits(slurm.ErrUnavailable)
	mustTick(t, manager)
	record, err = st.Get(ctx, "Position_1", pipeline.StageImport)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if record.Attempts != 1 {
		t.Fatalf("unavailability consumed an attempt: %#v", record)
	}

	// Recovery: the next tick submits for real.
	gateway.FailSubmits(nil)
	mustTick(t, manager)
	record, err = st.Get(ctx, "Position_1", pipeline.StageImport)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if record.Status != store.StatusSubmitted || record.Attempts != 2 {
		t.Fatalf("expected resubmission with attempts=2: %#v", record)
	}
}

func TestCancelPositionStopsJobsAndBlocksReadmission(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	gateway := testsupport.NewFakeGateway()
	manager := newManager(t, cfg, st, gateway)

	testsupport.WriteMdoc(t, cfg, "Position_1.mrc")
	mustTick(t, manager)

	handle := gateway.Submissions()[0].Handle
	gateway.SetState(handle, slurm.StateRunning)
	mustTick(t, manager)

	ctx := context.Background()
	if err := manager.CancelPosition(ctx, "Position_1"); err != nil {
		t.Fatalf("CancelPosition failed: %v", err)
	}

	cancelled := gateway.Cancelled()
	if len(cancelled) != 1 || cancelled[0] != handle {
		t.Fatalf("expected scheduler cancel for %s, got %v", handle, cancelled)
	}

	for _, stage := range manager.Stages() {
		record, err := st.Get(ctx, "Position_1", stage.Name)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if record.Status != store.StatusFailedTerminal {
			t.Fatalf("stage %s not terminal after cancel: %s", stage.Name, record.Status)
		}
		if record.Failure != store.CancelledReason {
			t.Fatalf("stage %s failure = %q, want %q", stage.Name, record.Failure, store.CancelledReason)
		}
	}

	// Cancelled positions never re-enter admission.
	summary := mustTick(t, manager)
	if got := len(gateway.Submissions()); got != 1 {
		t.Fatalf("cancelled position was resubmitted: %d submissions", got)
	}
	if summary.Stuck != 1 {
		t.Fatalf("expected cancelled position counted stuck, got %+v", summary)
	}
}

func TestCancelPositionRejectsUnknownName(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	manager := newManager(t, cfg, st, testsupport.NewFakeGateway())

	if err := manager.CancelPosition(context.Background(), "Position_99"); err == nil {
		t.Fatal("expected error for unknown position")
	}
}

func TestCancelAll(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithOnlyStages("import"))
	st := testsupport.MustOpenStore(t, cfg)
	gateway := testsupport.NewFakeGateway()
	manager := newManager(t, cfg, st, gateway)

	testsupport.WriteMdoc(t, cfg, "Position_1.mrc")
	testsupport.WriteMdoc(t, cfg, "Position_2.mrc")
	mustTick(t, manager)

	if err := manager.CancelAll(context.Background()); err != nil {
		t.Fatalf("CancelAll failed: %v", err)
	}
	if got := len(gateway.Cancelled()); got != 2 {
		t.Fatalf("expected 2 scheduler cancels, got %d", got)
	}

	summary := mustTick(t, manager)
	if summary.Stuck != 2 || summary.InProgress != 0 {
		t.Fatalf("expected every position stuck after cancel, got %+v", summary)
	}
}

func TestStaleJobHandleIsRetried(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithOnlyStages("import"))
	st := testsupport.MustOpenStore(t, cfg)
	gateway := testsupport.NewFakeGateway()
	manager := newManager(t, cfg, st, gateway)

	testsupport.WriteMdoc(t, cfg, "Position_1.mrc")
	mustTick(t, manager)

	handle := gateway.Submissions()[0].Handle
	gateway.SetQueryError(handle, slurm.ErrJobNotFound)

	// The purged job counts as a failure and a fresh submission goes out.
	mustTick(t, manager)
	if got := len(gateway.Submissions()); got != 2 {
		t.Fatalf("expected resubmission after purge, got %d", got)
	}

	record, err := st.Get(context.Background(), "Position_1", pipeline.StageImport)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if record.Status != store.StatusSubmitted || record.Attempts != 2 {
		t.Fatalf("unexpected record after purge retry: %#v", record)
	}
}

func TestRunOnceTerminatesWithNothingDiscovered(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.PollInterval = 1
	st := testsupport.MustOpenStore(t, cfg)
	manager := newManager(t, cfg, st, testsupport.NewFakeGateway())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// An empty mdoc directory is a finished run, not something to wait on.
	summary, err := manager.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce failed on empty mdoc directory: %v", err)
	}
	if summary.Positions != 0 || summary.Stuck != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestResumeEscalatesExhaustedFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithOnlyStages("import"),
		testsupport.WithMaxAttempts(1),
	)
	st := testsupport.MustOpenStore(t, cfg)
	gateway := testsupport.NewFakeGateway()
	ctx := context.Background()

	// A previous run crashed after recording the failure but before marking
	// the stage terminal: failed with the whole budget already spent.
	testsupport.NewPosition(t, st, "Position_1", "/data/Position_1.mrc.mdoc", "/work/Position_1")
	if _, err := st.Transition(ctx, "Position_1", pipeline.StageImport, store.StatusSubmitted, store.TransitionDetails{JobID: "9"}); err != nil {
		t.Fatalf("seed submitted: %v", err)
	}
	if _, err := st.Transition(ctx, "Position_1", pipeline.StageImport, store.StatusFailed, store.TransitionDetails{Failure: "oom"}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	manager := newManager(t, cfg, st, gateway)
	summary := mustTick(t, manager)

	record, err := st.Get(ctx, "Position_1", pipeline.StageImport)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if record.Status != store.StatusFailedTerminal {
		t.Fatalf("expected exhausted failure escalated to failed_terminal, got %s", record.Status)
	}
	if record.Attempts != 1 || record.Failure != "oom" {
		t.Fatalf("escalation altered the record: %#v", record)
	}
	if got := len(gateway.Submissions()); got != 0 {
		t.Fatalf("exhausted stage was resubmitted: %d submissions", got)
	}
	if summary.Stuck != 1 || summary.InProgress != 0 {
		t.Fatalf("expected position counted stuck, got %+v", summary)
	}
}

func TestRunOnceCompletesBoundedRun(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithOnlyStages("import"))
	cfg.Workflow.PollInterval = 1
	st := testsupport.MustOpenStore(t, cfg)
	gateway := testsupport.NewFakeGateway()
	gateway.AutoSucceed(true)
	manager := newManager(t, cfg, st, gateway)

	testsupport.WriteMdoc(t, cfg, "Position_1.mrc")
	testsupport.WriteMdoc(t, cfg, "Position_2.mrc")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	summary, err := manager.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if summary.Completed != 2 || summary.Stuck != 0 {
		t.Fatalf("unexpected final summary %+v", summary)
	}
}

func TestWatchStopsOnCancel(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithOnlyStages("import"))
	cfg.Workflow.PollInterval = 1
	st := testsupport.MustOpenStore(t, cfg)
	gateway := testsupport.NewFakeGateway()
	gateway.AutoSucceed(true)
	manager := newManager(t, cfg, st, gateway)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- manager.Watch(ctx)
	}()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Watch returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Watch did not stop after cancellation")
	}
}

func TestReportTracksCurrentStage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	gateway := testsupport.NewFakeGateway()
	manager := newManager(t, cfg, st, gateway)

	testsupport.WriteMdoc(t, cfg, "Position_1.mrc")
	mustTick(t, manager)
	gateway.SetAllStates(slurm.StateSucceeded)
	mustTick(t, manager) // import done, motioncorr submitted

	report, err := manager.Report(context.Background())
	if err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	if len(report.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(report.Rows))
	}
	row := report.Rows[0]
	if row.Position != "Position_1" || row.Stage != pipeline.StageMotionCorr {
		t.Fatalf("unexpected row %+v", row)
	}
	if row.Status != store.StatusSubmitted {
		t.Fatalf("expected motioncorr submitted, got %s", row.Status)
	}
	if report.Summary.InProgress != 1 {
		t.Fatalf("unexpected summary %+v", report.Summary)
	}
}

func TestQueryUsesRenderedSuccessMarker(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithOnlyStages("ctffind"))
	st := testsupport.MustOpenStore(t, cfg)
	gateway := testsupport.NewFakeGateway()
	manager := newManager(t, cfg, st, gateway)

	testsupport.WriteMdoc(t, cfg, "Position_4.mrc")
	mustTick(t, manager)

	handle := gateway.Submissions()[0].Handle
	mustTick(t, manager)

	marker := gateway.MarkerFor(handle)
	if !strings.HasSuffix(marker, "Position_4/CTF/Position_4.txt") {
		t.Fatalf("unexpected marker path %q", marker)
	}
}
