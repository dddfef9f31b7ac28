package commands

import (
	"github.com/spf13/cobra"
	"github.com/wycats/bootsync/pkg/engine"
)

func newDriftCommand() *cobra.Command {
	var (
		only    []string
		exclude []string
	)

	cmd := &cobra.Command{
		Use:   "drift",
		Short: "Report where the host and the manifests disagree",
		Long: `Compare manifests, runtime state, and the last sync baseline without
changing anything.

Each difference is attributed to a side: "local" means the host changed
since the last sync (something was installed or removed by hand),
"unsynced" means the manifests changed and sync has not run yet. Without
a baseline the origin degrades to "unknown".

Exit code 1 means drift was found, 0 means clean.`,
		Example: `  # Check the whole host
  bootsync drift

  # Check a single subsystem, as JSON
  bootsync drift --only flatpak --json`,
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

			sum, err := rt.orch.Drift(ctx, engine.Options{Only: only, Exclude: exclude})
			if err != nil {
				return err
			}
			if err := printDrift(cmd, sum); err != nil {
				return err
			}
			return exitWith(sum.ExitCode())
		},
	}

	cmd.Flags().StringSliceVar(&only, "only", nil, "restrict to these subsystem ids")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "skip these subsystem ids")

	return cmd
}
