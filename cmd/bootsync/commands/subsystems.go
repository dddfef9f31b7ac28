package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/wycats/bootsync/pkg/engine"
)

func newSubsystemsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subsystems",
		Short: "List the registered subsystems",
		Long: `List every subsystem the engine would operate on, with its tier and
sync phase.

Convergent subsystems take part in capture, sync, and drift. Atomic
subsystems (the OS image) take part in capture and staged only. Ids
listed under subsystems.disabled in the config stay unregistered; WASM
plugins found in the plugin directory appear alongside the builtins.`,
		Example: `  bootsync subsystems

  bootsync subsystems --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()
			// Listing is a property of the local configuration; no need to
			// dial a --host target for it.
			if err := rt.buildOrchestrator(ctx, false); err != nil {
				return err
			}

			type subsystemInfo struct {
				ID       string       `json:"id"`
				Tier     engine.Tier  `json:"tier"`
				Phase    engine.Phase `json:"phase"`
				Disabled bool         `json:"disabled"`
			}
			var infos []subsystemInfo
			for _, sub := range rt.registry.All() {
				infos = append(infos, subsystemInfo{ID: sub.ID(), Tier: sub.Tier(), Phase: sub.Phase()})
			}
			for _, id := range rt.cfg.Subsystems.Disabled {
				infos = append(infos, subsystemInfo{ID: id, Disabled: true})
			}

			if jsonOutput {
				return printJSON(cmd, infos)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTIER\tPHASE\tSTATE")
			for _, info := range infos {
				if info.Disabled {
					fmt.Fprintf(w, "%s\t-\t-\tdisabled\n", info.ID)
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\tenabled\n", info.ID, info.Tier, info.Phase)
			}
			return w.Flush()
		},
	}

	return cmd
}
