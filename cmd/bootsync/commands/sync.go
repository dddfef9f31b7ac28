package commands

import (
	"github.com/spf13/cobra"
	"github.com/wycats/bootsync/pkg/engine"
)

func newSyncCommand() *cobra.Command {
	var (
		only    []string
		exclude []string
		dryRun  bool
		confirm bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Converge the host toward the manifests",
		Long: `Install, remove, and update until the host matches the merged
manifests.

This command:
  - Plans per-subsystem changes in phase order (infrastructure,
    packages, configuration)
  - Evaluates the policy gate over the full plan; a denial applies
    nothing
  - With --confirm, shows the plan and prompts before applying;
    declining exits 1 with nothing changed
  - Executes item by item; one failure skips the rest of that
    subsystem's plan and the run continues with the next subsystem
  - Snapshots a fresh baseline for every subsystem that fully converged

Atomic subsystems (the OS image) never sync; use staged to inspect their
pending deployment.`,
		Example: `  # Preview the full plan
  bootsync sync --dry-run

  # Review the plan and approve it interactively
  bootsync sync --confirm

  # Converge everything except dconf settings
  bootsync sync --exclude settings`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.buildOrchestrator(ctx, true); err != nil {
				return err
			}

			opts := engine.Options{
				Only:    only,
				Exclude: exclude,
				DryRun:  dryRun,
			}
			if confirm {
				opts.Confirm = confirmPrompt(cmd)
			}

			report, err := rt.orch.Sync(ctx, opts)
			if err != nil {
				return err
			}
			if err := printReport(cmd, report); err != nil {
				return err
			}
			return exitWith(report.ExitCode())
		},
	}

	cmd.Flags().StringSliceVar(&only, "only", nil, "restrict to these subsystem ids")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "skip these subsystem ids")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "plan without changing anything")
	cmd.Flags().BoolVar(&confirm, "confirm", false, "describe the plan and prompt before applying")

	return cmd
}
