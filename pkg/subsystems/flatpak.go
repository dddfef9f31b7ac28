package subsystems

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wycats/bootsync/pkg/engine"
	"github.com/wycats/bootsync/pkg/manifest"
)

// Flatpak reconciles installed flatpak applications. Items are keyed by
// application id; attrs carry the install origin and branch.
type Flatpak struct {
	base
}

// NewFlatpak builds the flatpak subsystem.
func NewFlatpak(opts Options) *Flatpak {
	return &Flatpak{base: newBase("flatpak", engine.PhasePackages, opts)}
}

// Tier returns convergent: flatpaks install and uninstall at runtime.
func (f *Flatpak) Tier() engine.Tier { return engine.TierConvergent }

type flatpakAttrs struct {
	Origin string `json:"origin"`
	Branch string `json:"branch,omitempty"`
}

func decodeFlatpakAttrs(raw json.RawMessage) flatpakAttrs {
	attrs := flatpakAttrs{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &attrs); err != nil {
			attrs = flatpakAttrs{}
		}
	}
	if attrs.Origin == "" {
		attrs.Origin = "flathub"
	}
	return attrs
}

// observe lists installed applications with origin and branch.
func (f *Flatpak) observe(ctx context.Context) ([]manifest.Item, error) {
	res, err := f.run(ctx, "flatpak", "list", "--app", "--columns=application,origin,branch")
	if err != nil {
		return nil, err
	}

	var items []manifest.Item
	for _, line := range splitLines(res.Stdout) {
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			continue
		}
		attrs := flatpakAttrs{Origin: strings.TrimSpace(fields[1])}
		if len(fields) > 2 {
			attrs.Branch = strings.TrimSpace(fields[2])
		}
		raw, err := json.Marshal(attrs)
		if err != nil {
			return nil, engine.NewInternalError("failed to encode flatpak attrs", err)
		}
		items = append(items, manifest.Item{ID: strings.TrimSpace(fields[0]), Attrs: raw})
	}
	return items, nil
}

// Capture records installed applications missing from the manifest.
func (f *Flatpak) Capture(ctx context.Context) (engine.Plan, error) {
	observed, err := f.observe(ctx)
	if err != nil {
		return nil, err
	}
	return f.capturePlan(ctx, observed)
}

// alignObserved echoes declared attrs for observed apps that satisfy
// their declaration. The declaration pins only what it names: an origin
// defaulting to flathub or an unpinned branch is not a difference.
func (f *Flatpak) alignObserved(declared *manifest.Manifest, items []manifest.Item) []manifest.Item {
	out := make([]manifest.Item, 0, len(items))
	for _, item := range items {
		want, ok := declared.Get(item.ID)
		if !ok {
			out = append(out, item)
			continue
		}
		decl := decodeFlatpakAttrs(want.Attrs)
		obs := decodeFlatpakAttrs(item.Attrs)
		if obs.Origin == decl.Origin && (decl.Branch == "" || obs.Branch == decl.Branch) {
			out = append(out, manifest.Item{ID: item.ID, Attrs: want.Attrs})
			continue
		}
		out = append(out, item)
	}
	return out
}

// Sync installs declared applications, reinstalls ones whose origin or
// branch moved, and uninstalls undeclared ones.
func (f *Flatpak) Sync(ctx context.Context) (engine.Plan, error) {
	declared, err := f.store.LoadMerged(f.id)
	if err != nil {
		return nil, err
	}
	observed, err := f.observe(ctx)
	if err != nil {
		return nil, err
	}

	diff := diffStates(declared, observedManifest(f.alignObserved(declared, observed)))
	plan := engine.NewItemPlan(f.id)
	for _, item := range diff.missing {
		attrs := decodeFlatpakAttrs(item.Attrs)
		id := item.ID
		plan.Add(engine.Step{
			ItemID: id,
			Action: engine.ActionAdd,
			Detail: fmt.Sprintf("install from %s", attrs.Origin),
			Attrs:  item.Attrs,
			Apply: func(ctx context.Context) error {
				_, err := f.run(ctx, "flatpak", "install", "-y", "--noninteractive", attrs.Origin, id)
				return err
			},
		})
	}
	for _, pair := range diff.mismatch {
		attrs := decodeFlatpakAttrs(pair.declared.Attrs)
		id := pair.declared.ID
		plan.Add(engine.Step{
			ItemID: id,
			Action: engine.ActionUpdate,
			Detail: fmt.Sprintf("reinstall from %s", attrs.Origin),
			Attrs:  pair.declared.Attrs,
			Apply: func(ctx context.Context) error {
				_, err := f.run(ctx, "flatpak", "install", "-y", "--noninteractive", "--reinstall", attrs.Origin, id)
				return err
			},
		})
	}
	for _, item := range diff.undeclared {
		id := item.ID
		plan.Add(engine.Step{
			ItemID: id,
			Action: engine.ActionRemove,
			Detail: "uninstall",
			Attrs:  item.Attrs,
			Apply: func(ctx context.Context) error {
				_, err := f.run(ctx, "flatpak", "uninstall", "-y", id)
				return err
			},
		})
	}
	return plan, nil
}

// Drift compares declared applications against the installed set.
func (f *Flatpak) Drift(ctx context.Context) (*engine.DriftReport, error) {
	declared, err := f.store.LoadMerged(f.id)
	if err != nil {
		return nil, err
	}
	observed, err := f.observe(ctx)
	if err != nil {
		return nil, err
	}
	return f.driftAgainst(ctx, observedManifest(f.alignObserved(declared, observed)))
}

// Staged is not applicable to a convergent subsystem.
func (f *Flatpak) Staged(ctx context.Context) (*engine.StagedReport, error) {
	return nil, nil
}
