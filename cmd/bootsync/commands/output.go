package commands

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/wycats/bootsync/pkg/engine"
)

// printJSON renders v as indented JSON on the command's stdout.
func printJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

// printReport renders a capture or sync report. A dry run shows the plan
// it would have executed.
func printReport(cmd *cobra.Command, report *engine.Report) error {
	if jsonOutput {
		return printJSON(cmd, report)
	}
	out := cmd.OutOrStdout()
	if report.DryRun && report.Plan != nil && !report.Plan.IsEmpty() {
		fmt.Fprintln(out, report.Plan.Describe())
	}
	fmt.Fprintln(out, report.Describe())
	return nil
}

// printDrift renders a drift summary, one block per subsystem.
func printDrift(cmd *cobra.Command, sum *engine.DriftSummary) error {
	if jsonOutput {
		return printJSON(cmd, sum)
	}
	out := cmd.OutOrStdout()
	for _, r := range sum.Reports {
		fmt.Fprintln(out, r.Describe())
	}
	for _, f := range sum.Failures {
		fmt.Fprintf(out, "%s: %v\n", f.Subsystem, f.Err)
	}
	if sum.HasDrift() {
		fmt.Fprintf(out, "%d drifted item(s).\n", sum.TotalEntries())
	}
	return nil
}

// printStaged renders a staged summary, one block per atomic subsystem.
func printStaged(cmd *cobra.Command, sum *engine.StagedSummary) error {
	if jsonOutput {
		return printJSON(cmd, sum)
	}
	out := cmd.OutOrStdout()
	for _, r := range sum.Reports {
		fmt.Fprintln(out, r.Describe())
	}
	for _, f := range sum.Failures {
		fmt.Fprintf(out, "%s: %v\n", f.Subsystem, f.Err)
	}
	return nil
}

// confirmPrompt returns the confirmation hook for interactive syncs: show
// the plan, ask, and read one line from stdin. Anything but yes declines.
func confirmPrompt(cmd *cobra.Command) func(string) (bool, error) {
	return func(summary string) (bool, error) {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, summary)
		fmt.Fprint(out, "Apply these changes? [y/N] ")

		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
}
