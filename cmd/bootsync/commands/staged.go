package commands

import (
	"github.com/spf13/cobra"
	"github.com/wycats/bootsync/pkg/engine"
)

func newStagedCommand() *cobra.Command {
	var (
		only    []string
		exclude []string
	)

	cmd := &cobra.Command{
		Use:   "staged",
		Short: "Show what the next boot will change",
		Long: `Compare the staged OS deployment against the booted one.

Atomic subsystems change by staging a whole new artifact rather than
mutating in place, so their pending state is a property of the staged
deployment, not of any manifest. This command reports package additions,
removals, and base image changes that take effect on reboot.

Exit code 1 means changes are staged, 0 means nothing is pending.`,
		Example: `  # What does the pending deployment change?
  bootsync staged

  # Machine-readable
  bootsync staged --json`,
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

			sum, err := rt.orch.Staged(ctx, engine.Options{Only: only, Exclude: exclude})
			if err != nil {
				return err
			}
			if err := printStaged(cmd, sum); err != nil {
				return err
			}
			return exitWith(sum.ExitCode())
		},
	}

	cmd.Flags().StringSliceVar(&only, "only", nil, "restrict to these subsystem ids")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "skip these subsystem ids")

	return cmd
}
