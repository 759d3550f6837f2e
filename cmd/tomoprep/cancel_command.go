package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tomoprep/internal/logging"
	"tomoprep/internal/orchestrator"
	"tomoprep/internal/slurm"
	"tomoprep/internal/store"
)

func newCancelCommand(cc *commandContext) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "cancel [position]",
		Short: "Cancel processing for a position or the whole session",
		Long: `Cancel asks the cluster to stop any in-flight jobs for the selected
positions and marks every unfinished stage permanently failed so it is
never resubmitted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return fmt.Errorf("specify either a position name or --all")
			}

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

			if all {
				if err := manager.CancelAll(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "All positions cancelled.")
				return nil
			}

			if err := manager.CancelPosition(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Position %s cancelled.\n", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Cancel every known position")
	return cmd
}
