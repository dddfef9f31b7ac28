// Package hostexec defines the command-execution port the subsystems talk
// to. Every external tool invocation (flatpak, distrobox, gsettings,
// rpm-ostree) flows through a Runner, so the same subsystem code drives the
// local host, a container escape hatch, or a remote agent.
package hostexec

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wycats/bootsync/pkg/engine"
)

// Command describes one external program invocation.
type Command struct {
	// Program is the executable to run.
	Program string `json:"program"`

	// Args are the program arguments.
	Args []string `json:"args,omitempty"`

	// Env holds extra environment variables for the command.
	Env map[string]string `json:"env,omitempty"`

	// Dir is the working directory. Empty means the runner's default.
	Dir string `json:"dir,omitempty"`

	// Stdin is fed to the command's standard input when non-empty.
	Stdin []byte `json:"stdin,omitempty"`

	// Timeout bounds the execution. Zero means no extra bound beyond the
	// caller's context.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// String renders the command line for logs and error messages.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Program
	}
	return c.Program + " " + strings.Join(c.Args, " ")
}

// Result is the outcome of a command that actually ran.
type Result struct {
	// Stdout is the captured standard output.
	Stdout []byte `json:"stdout,omitempty"`

	// Stderr is the captured standard error.
	Stderr []byte `json:"stderr,omitempty"`

	// ExitCode is the process exit code.
	ExitCode int `json:"exit_code"`

	// Duration is how long the command ran.
	Duration time.Duration `json:"duration"`
}

// Success reports whether the command exited zero.
func (r *Result) Success() bool {
	return r.ExitCode == 0
}

// Runner executes external commands. Run returns an error only when the
// command could not be executed at all (program missing, transport broken,
// context canceled); a command that ran and exited non-zero returns a nil
// error with the exit code in the result.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// RunChecked runs the command and turns a non-zero exit into an error
// carrying the stderr tail, for callers that require success.
func RunChecked(ctx context.Context, r Runner, cmd Command) (*Result, error) {
	res, err := r.Run(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if !res.Success() {
		return res, engine.NewDomainError(
			fmt.Sprintf("%s exited with code %d: %s", cmd.String(), res.ExitCode, stderrTail(res.Stderr)),
			nil,
		).WithCode(engine.ErrCodeCommand)
	}
	return res, nil
}

// stderrTail keeps error messages readable by trimming captured stderr to
// its last few lines.
func stderrTail(stderr []byte) string {
	s := strings.TrimSpace(string(stderr))
	if s == "" {
		return "(no stderr)"
	}
	lines := strings.Split(s, "\n")
	if len(lines) > 3 {
		lines = lines[len(lines)-3:]
	}
	return strings.Join(lines, " / ")
}
