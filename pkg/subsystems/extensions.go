package subsystems

import (
	"context"
	"fmt"

	"github.com/wycats/bootsync/pkg/engine"
	"github.com/wycats/bootsync/pkg/manifest"
)

// Extensions reconciles enabled GNOME shell extensions. Items are keyed
// by extension uuid; presence in the manifest means the extension should
// be enabled. Extensions carry no attrs.
type Extensions struct {
	base
}

// NewExtensions builds the extensions subsystem.
func NewExtensions(opts Options) *Extensions {
	return &Extensions{base: newBase("extensions", engine.PhaseConfiguration, opts)}
}

// Tier returns convergent: extensions enable and disable at runtime.
func (e *Extensions) Tier() engine.Tier { return engine.TierConvergent }

// extensionState is one observation of the shell: which extensions exist
// and which of them are active.
type extensionState struct {
	installed map[string]bool
	enabled   []string
}

func (s *extensionState) isEnabled(uuid string) bool {
	for _, id := range s.enabled {
		if id == uuid {
			return true
		}
	}
	return false
}

func (e *Extensions) observe(ctx context.Context) (*extensionState, error) {
	installedRes, err := e.run(ctx, "gnome-extensions", "list")
	if err != nil {
		return nil, err
	}
	enabledRes, err := e.run(ctx, "gnome-extensions", "list", "--enabled")
	if err != nil {
		return nil, err
	}

	state := &extensionState{installed: make(map[string]bool)}
	for _, uuid := range splitLines(installedRes.Stdout) {
		state.installed[uuid] = true
	}
	state.enabled = splitLines(enabledRes.Stdout)
	return state, nil
}

// Capture records enabled extensions missing from the manifest.
func (e *Extensions) Capture(ctx context.Context) (engine.Plan, error) {
	state, err := e.observe(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]manifest.Item, 0, len(state.enabled))
	for _, uuid := range state.enabled {
		items = append(items, manifest.Item{ID: uuid})
	}
	return e.capturePlan(ctx, items)
}

// Sync enables declared extensions and disables undeclared ones. An
// extension that is declared but not installed fails as an item: bootsync
// never downloads extensions.
func (e *Extensions) Sync(ctx context.Context) (engine.Plan, error) {
	declared, err := e.store.LoadMerged(e.id)
	if err != nil {
		return nil, err
	}
	state, err := e.observe(ctx)
	if err != nil {
		return nil, err
	}

	plan := engine.NewItemPlan(e.id)
	for _, uuid := range declared.IDs() {
		if state.isEnabled(uuid) {
			continue
		}
		if !state.installed[uuid] {
			plan.Add(engine.Step{
				ItemID: uuid,
				Action: engine.ActionAdd,
				Detail: "enable (not installed)",
				Apply: func(ctx context.Context) error {
					return engine.NewDomainError(fmt.Sprintf("extension %s is not installed", uuid), nil).
						WithSubsystem(e.id).
						WithItem(uuid).
						WithCode(engine.ErrCodeExternalState)
				},
			})
			continue
		}
		plan.Add(engine.Step{
			ItemID: uuid,
			Action: engine.ActionAdd,
			Detail: "enable",
			Apply: func(ctx context.Context) error {
				_, err := e.run(ctx, "gnome-extensions", "enable", uuid)
				return err
			},
		})
	}
	for _, uuid := range state.enabled {
		if declared.Has(uuid) {
			continue
		}
		plan.Add(engine.Step{
			ItemID: uuid,
			Action: engine.ActionRemove,
			Detail: "disable",
			Apply: func(ctx context.Context) error {
				_, err := e.run(ctx, "gnome-extensions", "disable", uuid)
				return err
			},
		})
	}
	return plan, nil
}

// Drift compares declared extensions against the enabled set.
func (e *Extensions) Drift(ctx context.Context) (*engine.DriftReport, error) {
	state, err := e.observe(ctx)
	if err != nil {
		return nil, err
	}
	observed := manifest.New()
	for _, uuid := range state.enabled {
		observed.Put(manifest.Item{ID: uuid})
	}
	return e.driftAgainst(ctx, observed)
}

// Staged is not applicable to a convergent subsystem.
func (e *Extensions) Staged(ctx context.Context) (*engine.StagedReport, error) {
	return nil, nil
}
