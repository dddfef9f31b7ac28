package subsystems

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wycats/bootsync/pkg/engine"
	"github.com/wycats/bootsync/pkg/manifest"
)

// Distrobox reconciles distrobox containers. Items are keyed by container
// name; attrs carry the container image.
type Distrobox struct {
	base
}

// NewDistrobox builds the distrobox subsystem.
func NewDistrobox(opts Options) *Distrobox {
	return &Distrobox{base: newBase("distrobox", engine.PhaseInfrastructure, opts)}
}

// Tier returns convergent: containers create and remove at runtime.
func (d *Distrobox) Tier() engine.Tier { return engine.TierConvergent }

type distroboxAttrs struct {
	Image string `json:"image"`
}

// observe parses `distrobox list` output. Columns are pipe separated:
// ID | NAME | STATUS | IMAGE.
func (d *Distrobox) observe(ctx context.Context) ([]manifest.Item, error) {
	res, err := d.run(ctx, "distrobox", "list", "--no-color")
	if err != nil {
		return nil, err
	}

	var items []manifest.Item
	for _, line := range splitLines(res.Stdout) {
		cols := strings.Split(line, "|")
		if len(cols) < 4 {
			continue
		}
		name := strings.TrimSpace(cols[1])
		image := strings.TrimSpace(cols[3])
		if name == "" || strings.EqualFold(name, "name") {
			continue
		}
		raw, err := json.Marshal(distroboxAttrs{Image: image})
		if err != nil {
			return nil, engine.NewInternalError("failed to encode distrobox attrs", err)
		}
		items = append(items, manifest.Item{ID: name, Attrs: raw})
	}
	return items, nil
}

// Capture records existing containers missing from the manifest.
func (d *Distrobox) Capture(ctx context.Context) (engine.Plan, error) {
	observed, err := d.observe(ctx)
	if err != nil {
		return nil, err
	}
	return d.capturePlan(ctx, observed)
}

// Sync creates declared containers, recreates ones whose image changed,
// and removes undeclared ones.
func (d *Distrobox) Sync(ctx context.Context) (engine.Plan, error) {
	declared, err := d.store.LoadMerged(d.id)
	if err != nil {
		return nil, err
	}
	observed, err := d.observe(ctx)
	if err != nil {
		return nil, err
	}

	diff := diffStates(declared, observedManifest(observed))
	plan := engine.NewItemPlan(d.id)
	for _, item := range diff.missing {
		name := item.ID
		var attrs distroboxAttrs
		if err := json.Unmarshal(item.Attrs, &attrs); err != nil || attrs.Image == "" {
			plan.Add(engine.Step{
				ItemID: name,
				Action: engine.ActionAdd,
				Detail: "create",
				Attrs:  item.Attrs,
				Apply: func(ctx context.Context) error {
					return engine.NewValidationError(fmt.Sprintf("container %s declares no image", name), nil).
						WithSubsystem(d.id).
						WithItem(name)
				},
			})
			continue
		}
		plan.Add(engine.Step{
			ItemID: name,
			Action: engine.ActionAdd,
			Detail: fmt.Sprintf("create from %s", attrs.Image),
			Attrs:  item.Attrs,
			Apply: func(ctx context.Context) error {
				_, err := d.run(ctx, "distrobox", "create", "-n", name, "-i", attrs.Image, "-Y")
				return err
			},
		})
	}
	for _, pair := range diff.mismatch {
		name := pair.declared.ID
		var attrs distroboxAttrs
		if err := json.Unmarshal(pair.declared.Attrs, &attrs); err != nil || attrs.Image == "" {
			continue
		}
		// An image change means dropping the container and recreating it
		// from the declared image.
		plan.Add(engine.Step{
			ItemID: name,
			Action: engine.ActionUpdate,
			Detail: fmt.Sprintf("recreate from %s", attrs.Image),
			Attrs:  pair.declared.Attrs,
			Apply: func(ctx context.Context) error {
				if _, err := d.run(ctx, "distrobox", "rm", "-f", name); err != nil {
					return err
				}
				_, err := d.run(ctx, "distrobox", "create", "-n", name, "-i", attrs.Image, "-Y")
				return err
			},
		})
	}
	for _, item := range diff.undeclared {
		name := item.ID
		plan.Add(engine.Step{
			ItemID: name,
			Action: engine.ActionRemove,
			Detail: "remove container",
			Attrs:  item.Attrs,
			Apply: func(ctx context.Context) error {
				_, err := d.run(ctx, "distrobox", "rm", "-f", name)
				return err
			},
		})
	}
	return plan, nil
}

// Drift compares declared containers against the existing set.
func (d *Distrobox) Drift(ctx context.Context) (*engine.DriftReport, error) {
	observed, err := d.observe(ctx)
	if err != nil {
		return nil, err
	}
	return d.driftAgainst(ctx, observedManifest(observed))
}

// Staged is not applicable to a convergent subsystem.
func (d *Distrobox) Staged(ctx context.Context) (*engine.StagedReport, error) {
	return nil, nil
}
