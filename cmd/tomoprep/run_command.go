package main

import (
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"tomoprep/internal/logging"
	"tomoprep/internal/orchestrator"
	"tomoprep/internal/slurm"
	"tomoprep/internal/store"
)

func newRunCommand(cc *commandContext) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start or resume pipeline processing",
		Long: `Run discovers positions, submits their next eligible stages to the
cluster, and polls until every position is fully processed or permanently
failed. With --watch the loop keeps polling for newly acquired positions
until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cc.ensureConfig()
			if err != nil {
				return err
			}

			logger, err := logging.NewFromConfig(cfg)
			if err != nil {
				return err
			}

			st, err := store.Open(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			manager, err := orchestrator.NewManager(cfg, st, slurm.NewClient(cfg, logger), logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if watch {
				lock := flock.New(filepath.Join(cfg.Paths.LogDir, "tomoprep.lock"))
				ok, err := lock.TryLock()
				if err != nil {
					return fmt.Errorf("acquire run lock: %w", err)
				}
				if !ok {
					return fmt.Errorf("another tomoprep run is already watching this session")
				}
				defer func() { _ = lock.Unlock() }()

				return manager.Watch(ctx)
			}

			summary, err := manager.RunOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "positions: %d completed, %d permanently failed\n",
				summary.Completed, summary.Stuck)
			if summary.Stuck > 0 {
				return fmt.Errorf("%d position(s) ended permanently failed", summary.Stuck)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "Keep polling for newly discovered positions until interrupted")
	return cmd
}
