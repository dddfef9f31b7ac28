package subsystems

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/wycats/bootsync/pkg/engine"
	"github.com/wycats/bootsync/pkg/hostexec"
	"github.com/wycats/bootsync/pkg/manifest"
)

// shimMarker tags generated launchers so observation never touches
// scripts the user wrote themselves.
const shimMarker = "# bootsync-shim:"

const (
	shimKindDistrobox = "distrobox"
	shimKindFlatpak   = "flatpak"
)

// Shims reconciles launcher scripts in a bin directory. Each shim is a
// small shell script that forwards into a container or a flatpak; the
// marker line carries its attrs so observation can round-trip them.
type Shims struct {
	base
	dir string
}

// NewShims builds the shims subsystem over the given bin directory.
func NewShims(opts Options, dir string) *Shims {
	return &Shims{
		base: newBase("shims", engine.PhaseConfiguration, opts),
		dir:  dir,
	}
}

// Tier returns convergent: scripts are written and removed at runtime.
func (s *Shims) Tier() engine.Tier { return engine.TierConvergent }

type shimAttrs struct {
	Target string `json:"target"`
	Kind   string `json:"kind"`
}

// observe scans the bin directory for marker lines. grep exits 1 when
// nothing matches, which is an empty observation rather than a failure.
func (s *Shims) observe(ctx context.Context) ([]manifest.Item, error) {
	scan := fmt.Sprintf("grep -H '^%s' %s/* 2>/dev/null", shimMarker, shellQuote(s.dir))
	res, err := s.runner.Run(ctx, hostexec.Command{Program: "sh", Args: []string{"-c", scan}})
	if err != nil {
		return nil, engine.NewDomainError("shim scan failed", err).
			WithSubsystem(s.id).
			WithCode(engine.ErrCodeCommand)
	}
	if res.ExitCode > 1 {
		return nil, engine.NewDomainError(fmt.Sprintf("shim scan failed: %s", strings.TrimSpace(string(res.Stderr))), nil).
			WithSubsystem(s.id).
			WithCode(engine.ErrCodeCommand)
	}

	var items []manifest.Item
	for _, line := range splitLines(res.Stdout) {
		idx := strings.Index(line, ":"+shimMarker)
		if idx <= 0 {
			continue
		}
		path := line[:idx]
		payload := strings.TrimSpace(line[idx+1+len(shimMarker):])

		var attrs shimAttrs
		if err := json.Unmarshal([]byte(payload), &attrs); err != nil {
			s.logger.WithItem(filepath.Base(path)).Warn("shim marker is unreadable, skipping")
			continue
		}
		raw, err := json.Marshal(attrs)
		if err != nil {
			return nil, engine.NewInternalError("failed to encode shim attrs", err)
		}
		items = append(items, manifest.Item{ID: filepath.Base(path), Attrs: raw})
	}
	return items, nil
}

// Capture records launchers missing from the manifest.
func (s *Shims) Capture(ctx context.Context) (engine.Plan, error) {
	observed, err := s.observe(ctx)
	if err != nil {
		return nil, err
	}
	return s.capturePlan(ctx, observed)
}

// Sync writes declared launchers and removes undeclared ones.
func (s *Shims) Sync(ctx context.Context) (engine.Plan, error) {
	declared, err := s.store.LoadMerged(s.id)
	if err != nil {
		return nil, err
	}
	observed, err := s.observe(ctx)
	if err != nil {
		return nil, err
	}

	diff := diffStates(declared, observedManifest(observed))
	plan := engine.NewItemPlan(s.id)
	for _, item := range diff.missing {
		s.addWriteStep(plan, item, engine.ActionAdd, "create launcher")
	}
	for _, pair := range diff.mismatch {
		s.addWriteStep(plan, pair.declared, engine.ActionUpdate, "rewrite launcher")
	}
	for _, item := range diff.undeclared {
		name := item.ID
		path := filepath.Join(s.dir, name)
		plan.Add(engine.Step{
			ItemID: name,
			Action: engine.ActionRemove,
			Detail: "remove launcher",
			Attrs:  item.Attrs,
			Apply: func(ctx context.Context) error {
				_, err := s.run(ctx, "rm", "-f", path)
				return err
			},
		})
	}
	return plan, nil
}

func (s *Shims) addWriteStep(plan *engine.ItemPlan, item manifest.Item, action engine.Action, verb string) {
	name := item.ID
	var attrs shimAttrs
	if err := json.Unmarshal(item.Attrs, &attrs); err != nil || attrs.Target == "" {
		plan.Add(engine.Step{
			ItemID: name,
			Action: action,
			Detail: verb,
			Attrs:  item.Attrs,
			Apply: func(ctx context.Context) error {
				return engine.NewValidationError(fmt.Sprintf("shim %s declares no target", name), nil).
					WithSubsystem(s.id).
					WithItem(name)
			},
		})
		return
	}

	path := filepath.Join(s.dir, name)
	plan.Add(engine.Step{
		ItemID: name,
		Action: action,
		Detail: fmt.Sprintf("%s for %s", verb, attrs.Target),
		Attrs:  item.Attrs,
		Apply: func(ctx context.Context) error {
			script, err := shimScript(name, attrs)
			if err != nil {
				return engine.NewValidationError(err.Error(), nil).
					WithSubsystem(s.id).
					WithItem(name)
			}
			write := fmt.Sprintf("cat > %s && chmod 755 %s", shellQuote(path), shellQuote(path))
			_, err = hostexec.RunChecked(ctx, s.runner, hostexec.Command{
				Program: "sh",
				Args:    []string{"-c", write},
				Stdin:   []byte(script),
			})
			return err
		},
	})
}

// Drift compares declared launchers against the scanned state.
func (s *Shims) Drift(ctx context.Context) (*engine.DriftReport, error) {
	observed, err := s.observe(ctx)
	if err != nil {
		return nil, err
	}
	return s.driftAgainst(ctx, observedManifest(observed))
}

// Staged is not applicable to a convergent subsystem.
func (s *Shims) Staged(ctx context.Context) (*engine.StagedReport, error) {
	return nil, nil
}

// shimScript renders the launcher body. The marker line must survive a
// rewrite byte for byte, so attrs are re-encoded canonically.
func shimScript(name string, attrs shimAttrs) (string, error) {
	marker, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("failed to encode shim marker: %w", err)
	}
	var launch string
	switch attrs.Kind {
	case shimKindDistrobox:
		launch = fmt.Sprintf("exec distrobox enter %s -- %s \"$@\"", attrs.Target, name)
	case shimKindFlatpak:
		launch = fmt.Sprintf("exec flatpak run %s \"$@\"", attrs.Target)
	default:
		return "", fmt.Errorf("shim %s has unknown kind %q", name, attrs.Kind)
	}
	return fmt.Sprintf("#!/bin/sh\n%s %s\n%s\n", shimMarker, marker, launch), nil
}

// shellQuote single-quotes a path for sh -c command lines.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
