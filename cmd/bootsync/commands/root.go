package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath  string
	manifestDir string
	verbose     bool
	jsonOutput  bool
	remoteHost  string
)

// buildVersion is the version string handed to telemetry, set by Execute.
var buildVersion = "dev"

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bootsync",
		Short: "Bootsync - declarative state for immutable desktops",
		Long: `Bootsync keeps an immutable Linux desktop and a set of declarative
manifests convergent, in both directions.

Capture records what is installed into the manifests; sync installs what
the manifests declare; drift and staged report the differences without
touching anything. Subsystems cover flatpaks, distrobox containers, GNOME
extensions, dconf settings, command shims, and the rpm-ostree deployment,
plus any WASM plugins dropped into the plugin directory.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&manifestDir, "manifest-dir", "", "override the manifest directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&remoteHost, "host", "", "operate on a remote host over SSH (user@host[:port])")

	// Add subcommands
	rootCmd.AddCommand(newCaptureCommand())
	rootCmd.AddCommand(newSyncCommand())
	rootCmd.AddCommand(newDriftCommand())
	rootCmd.AddCommand(newStagedCommand())
	rootCmd.AddCommand(newSubsystemsCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newBaselineCommand())
	rootCmd.AddCommand(newWatchCommand())

	return rootCmd
}

// statusError carries a process exit code out of a command whose result
// has already been printed.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// exitWith turns a non-zero report exit code into the error main maps back
// to the process exit code. Zero stays a clean return.
func exitWith(code int) error {
	if code == 0 {
		return nil
	}
	return &statusError{code: code}
}

// ExitStatus maps a command error to the process exit code. The bool is
// true when the command already printed its result and the error only
// carries the code.
func ExitStatus(err error) (int, bool) {
	var se *statusError
	if errors.As(err, &se) {
		return se.code, true
	}
	return 2, false
}
