package commands

import (
	"github.com/spf13/cobra"
	"github.com/wycats/bootsync/pkg/engine"
)

func newCaptureCommand() *cobra.Command {
	var (
		only    []string
		exclude []string
		dryRun  bool
	)

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Record the host's current state into the user manifests",
		Long: `Record what is currently installed and configured into the user
manifests.

This command:
  - Observes each subsystem's external state
  - Diffs it against the merged manifests
  - Records every unmanaged item into the user manifest
  - Never removes anything from a manifest

Capture hooks (capture_filter in the hooks file) can screen out items
that should stay unmanaged. When review publishing is enabled, captured
changes are committed and pushed for review.`,
		Example: `  # Capture every subsystem
  bootsync capture

  # See what would be recorded without writing manifests
  bootsync capture --dry-run

  # Capture flatpaks only
  bootsync capture --only flatpak`,
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

			report, err := rt.orch.Capture(ctx, engine.Options{
				Only:    only,
				Exclude: exclude,
				DryRun:  dryRun,
			})
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
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "plan without writing manifests")

	return cmd
}
