// Package review pushes captured manifest changes somewhere a human can
// look at them. The git adapter commits the manifest directory and pushes
// it to a review remote, with every git invocation going through the
// command Runner so recording and host delegation apply as usual.
package review

import (
	"context"
	"fmt"
	"strings"

	"github.com/wycats/bootsync/pkg/engine"
	"github.com/wycats/bootsync/pkg/hostexec"
	"github.com/wycats/bootsync/pkg/telemetry"
)

// Config locates the repository and the review target.
type Config struct {
	// Dir is the manifest directory, which must live inside a git
	// worktree. The publisher never initializes a repository itself.
	Dir string

	// Remote to push to. Empty keeps commits local.
	Remote string

	// Branch on the remote that receives the commits.
	Branch string
}

// GitPublisher implements the engine.Publisher port on top of the git
// command line.
type GitPublisher struct {
	runner hostexec.Runner
	logger *telemetry.Logger
	cfg    Config
}

// NewGitPublisher builds a publisher. Logger may be nil.
func NewGitPublisher(runner hostexec.Runner, logger *telemetry.Logger, cfg Config) (*GitPublisher, error) {
	if runner == nil {
		return nil, engine.NewValidationError("review publisher requires a runner", nil)
	}
	if cfg.Dir == "" {
		return nil, engine.NewValidationError("review publisher requires a manifest directory", nil)
	}
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	if logger == nil {
		logger = telemetry.FromContext(context.Background())
	}
	return &GitPublisher{
		runner: runner,
		logger: logger.NewComponentLogger("review"),
		cfg:    cfg,
	}, nil
}

// PublishRun commits whatever the run changed under the manifest directory
// and pushes it for review. A clean worktree publishes nothing.
func (g *GitPublisher) PublishRun(ctx context.Context, report *engine.Report) error {
	if _, err := g.git(ctx, "rev-parse", "--is-inside-work-tree"); err != nil {
		return fmt.Errorf("manifest directory %s is not a git repository: %w", g.cfg.Dir, err)
	}

	status, err := g.git(ctx, "status", "--porcelain")
	if err != nil {
		return fmt.Errorf("failed to read worktree status: %w", err)
	}
	if strings.TrimSpace(string(status.Stdout)) == "" {
		g.logger.WithRunID(report.RunID).Debug("no manifest changes to publish")
		return nil
	}

	if _, err := g.git(ctx, "add", "--all", "."); err != nil {
		return fmt.Errorf("failed to stage manifest changes: %w", err)
	}

	subject, body := commitMessage(report)
	if _, err := g.git(ctx, "commit", "-m", subject, "-m", body); err != nil {
		return fmt.Errorf("failed to commit manifest changes: %w", err)
	}

	if g.cfg.Remote == "" {
		g.logger.WithRunID(report.RunID).Debug("no review remote configured, commit kept local")
		return nil
	}
	if _, err := g.git(ctx, "push", g.cfg.Remote, "HEAD:"+g.cfg.Branch); err != nil {
		return fmt.Errorf("failed to push manifest changes: %w", err)
	}

	g.logger.WithRunID(report.RunID).
		WithField("remote", g.cfg.Remote).
		WithField("branch", g.cfg.Branch).
		Info("published manifest changes for review")
	return nil
}

// git runs one git command rooted at the manifest directory, treating a
// non-zero exit as an error.
func (g *GitPublisher) git(ctx context.Context, args ...string) (*hostexec.Result, error) {
	return hostexec.RunChecked(ctx, g.runner, hostexec.Command{
		Program: "git",
		Args:    args,
		Dir:     g.cfg.Dir,
	})
}

// commitMessage renders the subject and body for a published run.
func commitMessage(report *engine.Report) (string, string) {
	subject := fmt.Sprintf("bootsync %s on %s", report.Operation, report.Hostname)
	body := fmt.Sprintf("%s\n\nrun-id: %s", report.Describe(), report.RunID)
	return subject, body
}
