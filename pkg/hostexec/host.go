package hostexec

import (
	"context"
	"fmt"
	"os"
)

// containerMarkers are files whose presence means we are running inside a
// container sandbox rather than directly on the host.
var containerMarkers = []string{
	"/run/.containerenv",
	"/.dockerenv",
}

// HostRunner executes commands on the host even when the process itself
// runs inside a toolbox or distrobox container. Inside a container every
// command is re-spawned on the host through flatpak-spawn; outside one the
// command runs directly.
type HostRunner struct {
	inner       Runner
	inContainer bool
}

// NewHostRunner wraps inner with host delegation. Container detection
// happens once at construction.
func NewHostRunner(inner Runner) *HostRunner {
	return &HostRunner{
		inner:       inner,
		inContainer: insideContainer(),
	}
}

// InContainer reports whether host delegation is active.
func (h *HostRunner) InContainer() bool {
	return h.inContainer
}

// Run implements Runner.
func (h *HostRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	if h.inContainer {
		cmd = wrapForHost(cmd)
	}
	return h.inner.Run(ctx, cmd)
}

// wrapForHost rewrites a command to execute through flatpak-spawn on the
// host side of the container boundary. Environment variables move into
// --env flags because the spawned process does not inherit our environment.
func wrapForHost(cmd Command) Command {
	args := []string{"--host"}
	for k, v := range cmd.Env {
		args = append(args, fmt.Sprintf("--env=%s=%s", k, v))
	}
	if cmd.Dir != "" {
		args = append(args, fmt.Sprintf("--directory=%s", cmd.Dir))
	}
	args = append(args, cmd.Program)
	args = append(args, cmd.Args...)

	return Command{
		Program: "flatpak-spawn",
		Args:    args,
		Stdin:   cmd.Stdin,
		Timeout: cmd.Timeout,
	}
}

func insideContainer() bool {
	for _, marker := range containerMarkers {
		if _, err := os.Stat(marker); err == nil {
			return true
		}
	}
	return false
}
