package orchestrator

import (
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tomoprep/internal/config"
	"tomoprep/internal/discovery"
	"tomoprep/internal/logging"
	"tomoprep/internal/pipeline"
	"tomoprep/internal/slurm"
	"tomoprep/internal/store"
)

// Manager drives the orchestration cycle: discover positions, refresh
// in-flight jobs, resolve eligible stages, admit against the quota, render,
// and submit. It is the single writer of the state store.
type Manager struct {
	cfg      *config.Config
	store    *store.Store
	gateway  slurm.Gateway
	scanner  *discovery.Scanner
	stages   []pipeline.Stage
	throttle *pipeline.Throttle
	logger   *slog.Logger

	pollInterval time.Duration
	maxAttempts  int
}

// NewManager constructs an orchestrator over the given store and gateway.
func NewManager(cfg *config.Config, st *store.Store, gateway slurm.Gateway, logger *slog.Logger) (*Manager, error) {
	if cfg == nil || st == nil || gateway == nil {
		return nil, errors.New("orchestrator requires config, store, and gateway")
	}

	runLogger := logging.WithComponent(logger, "orchestrator").
		With(logging.String("run_id", uuid.NewString()))

	return &Manager{
		cfg:     cfg,
		store:   st,
		gateway: gateway,
		scanner: discovery.NewScanner(
			cfg.Paths.MdocDir,
			cfg.Paths.ProcessingDir,
			cfg.Microscope.FileType,
			logger,
		),
		stages:       pipeline.Stages(cfg),
		throttle:     pipeline.NewThrottle(cfg.Cluster.MaxJobs),
		logger:       runLogger,
		pollInterval: time.Duration(cfg.Workflow.PollInterval) * time.Second,
		maxAttempts:  cfg.Workflow.MaxAttempts,
	}, nil
}

// Stages exposes the configured stage sequence.
func (m *Manager) Stages() []pipeline.Stage {
	cp := make([]pipeline.Stage, len(m.stages))
	copy(cp, m.stages)
	return cp
}

func (m *Manager) stageByName(name string) (pipeline.Stage, bool) {
	for _, stage := range m.stages {
		if stage.Name == name {
			return stage, true
		}
	}
	return pipeline.Stage{}, false
}
