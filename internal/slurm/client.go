package slurm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"tomoprep/internal/config"
	"tomoprep/internal/logging"
)

// Client drives SLURM through its command-line tools. Every invocation runs
// under a bounded timeout so an unresponsive controller cannot stall the
// orchestration loop.
type Client struct {
	sbatch        string
	squeue        string
	sacct         string
	scancel       string
	submitTimeout time.Duration
	queryTimeout  time.Duration
	logger        *slog.Logger
}

// NewClient builds a Client from cluster configuration.
func NewClient(cfg *config.Config, logger *slog.Logger) *Client {
	return &Client{
		sbatch:        cfg.Cluster.SbatchBinary,
		squeue:        cfg.Cluster.SqueueBinary,
		sacct:         cfg.Cluster.SacctBinary,
		scancel:       cfg.Cluster.ScancelBinary,
		submitTimeout: time.Duration(cfg.Cluster.SubmitTimeout) * time.Second,
		queryTimeout:  time.Duration(cfg.Cluster.QueryTimeout) * time.Second,
		logger:        logging.WithComponent(logger, "slurm"),
	}
}

// Submit feeds a rendered script to sbatch and returns the assigned job id.
func (c *Client) Submit(ctx context.Context, script string) (Handle, error) {
	runCtx, cancel := context.WithTimeout(ctx, c.submitTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, c.sbatch, "--parsable")
	cmd.Stdin = strings.NewReader(script)
	// Keep stderr out of the parsed stream: sbatch writes warnings there
	// (deprecated options, QOS notices) while the job id goes to stdout.
	output, err := cmd.Output()
	if err != nil {
		if runCtx.Err() != nil {
			return "", fmt.Errorf("%w: sbatch timed out after %s", ErrUnavailable, c.submitTimeout)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("%w: sbatch: %s", ErrSubmission, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("%w: sbatch: %w", ErrUnavailable, err)
	}

	// --parsable prints "jobid" or "jobid;cluster" on the first line.
	id, _, _ := strings.Cut(firstLine(string(output)), ";")
	if id == "" {
		return "", fmt.Errorf("%w: sbatch produced no job id", ErrSubmission)
	}
	return Handle(id), nil
}

// QueryStatus resolves the current state of a job. Jobs still in the queue are
// read from squeue; jobs that left the queue are read from accounting. A
// COMPLETED job whose success marker is missing reports StateFailed.
func (c *Client) QueryStatus(ctx context.Context, handle Handle, successMarker string) (State, error) {
	runCtx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	queueState, inQueue, err := c.queueState(runCtx, handle)
	if err != nil {
		return StateUnknown, err
	}
	if inQueue {
		return queueState, nil
	}

	finalState, err := c.accountingState(runCtx, handle)
	if err != nil {
		return StateUnknown, err
	}
	if finalState == StateSucceeded && successMarker != "" {
		if _, statErr := os.Stat(successMarker); statErr != nil {
			c.logger.Warn("job completed without expected output",
				logging.String("job_id", string(handle)),
				logging.String("marker", successMarker),
			)
			return StateFailed, nil
		}
	}
	return finalState, nil
}

// Cancel asks the scheduler to cancel a job. Jobs that already finished are
// not an error.
func (c *Client) Cancel(ctx context.Context, handle Handle) error {
	runCtx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, c.scancel, string(handle))
	output, err := cmd.CombinedOutput()
	if err != nil {
		if runCtx.Err() != nil {
			return fmt.Errorf("%w: scancel timed out after %s", ErrUnavailable, c.queryTimeout)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// scancel exits non-zero for finished or unknown jobs; best effort.
			c.logger.Debug("scancel declined",
				logging.String("job_id", string(handle)),
				logging.String("output", strings.TrimSpace(string(output))),
			)
			return nil
		}
		return fmt.Errorf("%w: scancel: %w", ErrUnavailable, err)
	}
	return nil
}

func (c *Client) queueState(ctx context.Context, handle Handle) (State, bool, error) {
	cmd := exec.CommandContext(ctx, c.squeue, "-h", "-j", string(handle), "-o", "%T")
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return StateUnknown, false, fmt.Errorf("%w: squeue timed out", ErrUnavailable)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// "Invalid job id specified": the job left the queue.
			return StateUnknown, false, nil
		}
		return StateUnknown, false, fmt.Errorf("%w: squeue: %w", ErrUnavailable, err)
	}

	raw := strings.TrimSpace(string(output))
	if raw == "" {
		return StateUnknown, false, nil
	}
	return mapQueueState(raw), true, nil
}

func (c *Client) accountingState(ctx context.Context, handle Handle) (State, error) {
	cmd := exec.CommandContext(ctx, c.sacct, "-n", "-X", "-P", "-j", string(handle), "-o", "State")
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return StateUnknown, fmt.Errorf("%w: sacct timed out", ErrUnavailable)
		}
		return StateUnknown, fmt.Errorf("%w: sacct: %w", ErrUnavailable, err)
	}

	raw := strings.TrimSpace(string(output))
	if raw == "" {
		return StateUnknown, fmt.Errorf("%w: job %s has no accounting record", ErrJobNotFound, handle)
	}
	return mapAccountingState(raw), nil
}

func mapQueueState(raw string) State {
	switch strings.ToUpper(firstLine(raw)) {
	case "PENDING", "CONFIGURING", "REQUEUED", "SUSPENDED":
		return StateQueued
	case "RUNNING", "COMPLETING":
		return StateRunning
	case "COMPLETED":
		return StateSucceeded
	case "FAILED", "CANCELLED", "TIMEOUT", "OUT_OF_MEMORY", "NODE_FAIL", "PREEMPTED", "BOOT_FAIL", "DEADLINE":
		return StateFailed
	default:
		return StateUnknown
	}
}

func mapAccountingState(raw string) State {
	// sacct may suffix a cancellation with the requesting user ("CANCELLED by 123").
	state, _, _ := strings.Cut(strings.ToUpper(firstLine(raw)), " ")
	switch state {
	case "COMPLETED":
		return StateSucceeded
	case "PENDING", "REQUEUED", "SUSPENDED":
		return StateQueued
	case "RUNNING", "COMPLETING":
		return StateRunning
	case "FAILED", "CANCELLED", "TIMEOUT", "OUT_OF_MEMORY", "NODE_FAIL", "PREEMPTED", "BOOT_FAIL", "DEADLINE":
		return StateFailed
	default:
		return StateUnknown
	}
}

func firstLine(raw string) string {
	line, _, _ := strings.Cut(raw, "\n")
	return strings.TrimSpace(line)
}
