package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/wycats/bootsync/pkg/manifest"
)

func newBaselineCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "baseline",
		Short: "Inspect the last-synced snapshots",
		Long: `Inspect the baseline snapshots drift uses to attribute differences.

A baseline is the manifest as it looked when a subsystem last fully
converged. Drift compares against it to tell local edits (the host
changed) from unsynced declarations (the manifest changed). Baselines
are taken automatically after a successful sync; deleting one degrades
that subsystem's drift origins to "unknown" until the next sync.`,
	}

	cmd.AddCommand(newBaselineListCommand())
	cmd.AddCommand(newBaselineShowCommand())
	cmd.AddCommand(newBaselineDeleteCommand())

	return cmd
}

func newBaselineListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored baselines",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			baselines, err := rt.store.ListBaselines(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, baselines)
			}

			if len(baselines) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No baselines stored.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SUBSYSTEM\tITEMS\tSAVED\tRUN")
			for _, b := range baselines {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
					b.Subsystem, b.ItemCount, b.SavedAt.Local().Format(time.RFC3339), b.RunID)
			}
			return w.Flush()
		},
	}

	return cmd
}

func newBaselineShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <subsystem>",
		Short: "Print one baseline's items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			m, ok, err := rt.store.LoadBaseline(ctx, args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no baseline for subsystem %s", args[0])
			}

			view := struct {
				Subsystem string          `json:"subsystem"`
				Items     []manifest.Item `json:"items"`
			}{Subsystem: args[0], Items: m.Items()}
			return printJSON(cmd, view)
		},
	}

	return cmd
}

func newBaselineDeleteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <subsystem>",
		Short: "Delete one baseline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.store.DeleteBaseline(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted baseline for %s.\n", args[0])
			return nil
		},
	}

	return cmd
}
