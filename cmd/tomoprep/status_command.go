package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"tomoprep/internal/logging"
	"tomoprep/internal/orchestrator"
	"tomoprep/internal/slurm"
	"tomoprep/internal/store"
)

func newStatusCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report per-position pipeline state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cc.ensureConfig()
			if err != nil {
				return err
			}

			st, err := store.Open(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			logger := logging.NewNop()
			manager, err := orchestrator.NewManager(cfg, st, slurm.NewClient(cfg, logger), logger)
			if err != nil {
				return err
			}

			report, err := manager.Report(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(report.Rows) == 0 {
				fmt.Fprintln(out, "No positions discovered yet.")
				return nil
			}

			if isatty.IsTerminal(os.Stdout.Fd()) {
				fmt.Fprintln(out, statusTable(report.Rows))
			} else {
				fmt.Fprintln(out, statusPlain(report.Rows))
			}
			fmt.Fprintf(out, "%d position(s): %d completed, %d in progress, %d stuck\n",
				report.Summary.Positions,
				report.Summary.Completed,
				report.Summary.InProgress,
				report.Summary.Stuck,
			)
			return nil
		},
	}
}
