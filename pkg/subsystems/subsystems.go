// Package subsystems holds the built-in configuration domains bootsync
// reconciles: flatpak applications, distrobox containers, GNOME shell
// extensions, dconf settings, command shims, and the rpm-ostree image.
// Every observation and mutation of external state goes through the
// injected command Runner, so the same code serves local runs, dry runs
// against a recording runner, and remote hosts behind the agent.
package subsystems

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/wycats/bootsync/pkg/engine"
	"github.com/wycats/bootsync/pkg/hostexec"
	"github.com/wycats/bootsync/pkg/manifest"
	"github.com/wycats/bootsync/pkg/telemetry"
)

// CaptureFilter decides whether capture records an observed item. The
// starlark capture hook satisfies this.
type CaptureFilter interface {
	Keep(ctx context.Context, subsystem, id string, attrs json.RawMessage) (bool, error)
}

// Options carries the collaborators shared by every builtin subsystem.
type Options struct {
	// Manifests loads and saves the declared state.
	Manifests *manifest.FileStore

	// Runner executes external commands.
	Runner hostexec.Runner

	// Logger may be nil.
	Logger *telemetry.Logger

	// Filter, when set, screens capture candidates.
	Filter CaptureFilter

	// Baseline, when set, lets drift attribute differences to a side.
	Baseline engine.BaselineSource
}

// base implements the subsystem plumbing every builtin shares: identity,
// manifest access, command execution, capture planning, and drift
// classification.
type base struct {
	id     string
	phase  engine.Phase
	store  *manifest.FileStore
	runner hostexec.Runner
	logger *telemetry.Logger
	filter CaptureFilter
	bl     engine.BaselineSource
}

func newBase(id string, phase engine.Phase, opts Options) base {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.FromContext(context.Background())
	}
	return base{
		id:     id,
		phase:  phase,
		store:  opts.Manifests,
		runner: opts.Runner,
		logger: logger.NewComponentLogger(id),
		filter: opts.Filter,
		bl:     opts.Baseline,
	}
}

// ID returns the subsystem id.
func (b *base) ID() string { return b.id }

// Phase returns the execution ordering bucket.
func (b *base) Phase() engine.Phase { return b.phase }

// Manifest loads the merged declared state.
func (b *base) Manifest(ctx context.Context) (*manifest.Manifest, error) {
	return b.store.LoadMerged(b.id)
}

// run executes one command, turning a non-zero exit into a domain error
// tagged with the subsystem.
func (b *base) run(ctx context.Context, program string, args ...string) (*hostexec.Result, error) {
	res, err := hostexec.RunChecked(ctx, b.runner, hostexec.Command{Program: program, Args: args})
	if err != nil {
		var engErr *engine.Error
		if errors.As(err, &engErr) {
			return res, engErr.WithSubsystem(b.id)
		}
		return res, engine.NewDomainError(fmt.Sprintf("%s failed", program), err).
			WithSubsystem(b.id).
			WithCode(engine.ErrCodeCommand)
	}
	return res, nil
}

// capturePlan builds the additive plan recording observed items missing
// from the declared manifest into the user manifest. Nothing is ever
// removed by capture.
func (b *base) capturePlan(ctx context.Context, observed []manifest.Item) (engine.Plan, error) {
	declared, err := b.store.LoadMerged(b.id)
	if err != nil {
		return nil, err
	}
	user, err := b.store.LoadUser(b.id)
	if err != nil {
		return nil, err
	}

	plan := engine.NewItemPlan(b.id)
	for _, item := range observed {
		if declared.Has(item.ID) {
			continue
		}
		if b.filter != nil {
			keep, err := b.filter.Keep(ctx, b.id, item.ID, item.Attrs)
			if err != nil {
				return nil, engine.NewDomainError(fmt.Sprintf("capture filter failed for %s", item.ID), err).
					WithSubsystem(b.id).
					WithItem(item.ID).
					WithCode(engine.ErrCodeHook)
			}
			if !keep {
				b.logger.WithItem(item.ID).Debug("capture filter dropped item")
				continue
			}
		}
		plan.Add(engine.Step{
			ItemID: item.ID,
			Action: engine.ActionAdd,
			Detail: "record in user manifest",
			Attrs:  item.Attrs,
			Record: func(ctx context.Context) error {
				user.Put(item)
				return b.store.SaveUser(b.id, user)
			},
		})
	}
	return plan, nil
}

// driftAgainst classifies the difference between declared state and the
// given runtime observation. A missing or unreadable baseline degrades
// origins to unknown instead of failing the comparison.
func (b *base) driftAgainst(ctx context.Context, observed *manifest.Manifest) (*engine.DriftReport, error) {
	declared, err := b.store.LoadMerged(b.id)
	if err != nil {
		return nil, err
	}
	var baseline *manifest.Manifest
	if b.bl != nil {
		snap, ok, err := b.bl.LoadBaseline(ctx, b.id)
		if err != nil {
			b.logger.WithError(err).Warn("baseline unavailable, drift origins degrade to unknown")
		} else if ok {
			baseline = snap
		}
	}
	return engine.ClassifyDrift(b.id, declared, observed, baseline), nil
}

// attrsPair holds both sides of an attribute mismatch.
type attrsPair struct {
	declared manifest.Item
	observed manifest.Item
}

// stateDiff separates declared intent from observed runtime state.
type stateDiff struct {
	missing    []manifest.Item // declared, absent from runtime
	mismatch   []attrsPair     // present on both sides with differing attrs
	undeclared []manifest.Item // present, not declared; attrs are observed
}

// diffStates computes the three-way split driving sync planning. Order
// follows the manifest for declared items and the observation for
// undeclared ones.
func diffStates(declared, observed *manifest.Manifest) stateDiff {
	var d stateDiff
	for _, item := range declared.Items() {
		got, ok := observed.Get(item.ID)
		if !ok {
			d.missing = append(d.missing, item)
			continue
		}
		if !manifest.AttrsEqual(item.Attrs, got.Attrs) {
			d.mismatch = append(d.mismatch, attrsPair{declared: item, observed: got})
		}
	}
	for _, item := range observed.Items() {
		if !declared.Has(item.ID) {
			d.undeclared = append(d.undeclared, item)
		}
	}
	return d
}

// observedManifest builds a manifest from runtime observations, last
// occurrence winning on duplicate ids.
func observedManifest(items []manifest.Item) *manifest.Manifest {
	m := manifest.New()
	for _, item := range items {
		m.Put(item)
	}
	return m
}

// splitLines breaks command output into trimmed, non-empty lines.
func splitLines(output []byte) []string {
	var lines []string
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}
