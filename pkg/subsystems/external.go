package subsystems

import (
	"context"
	"fmt"

	"github.com/wycats/bootsync/pkg/engine"
	"github.com/wycats/bootsync/pkg/manifest"
	"github.com/wycats/bootsync/pkg/subsystems/extern/wire"
)

// ExternalPlugin is the contract a hosted plugin satisfies. extern.Plugin
// implements it.
type ExternalPlugin interface {
	// Name returns the subsystem id the plugin registers under.
	Name() string

	// Tier returns the plugin's lifecycle model.
	Tier() engine.Tier

	// Phase returns the plugin's sync ordering bucket.
	Phase() engine.Phase

	// List reports the items currently present on the host.
	List(ctx context.Context) ([]manifest.Item, error)

	// Apply performs one action on one item.
	Apply(ctx context.Context, req wire.ApplyRequest) error
}

// External adapts a hosted plugin into a full subsystem. Observation comes
// from the plugin's list export and every planned change becomes one apply
// call, while manifest access, the capture filter, and baseline drift
// classification are the same machinery the builtins use.
type External struct {
	base
	plugin ExternalPlugin
}

// NewExternal wraps one plugin. Descriptor validation already restricted
// plugins to the convergent tier.
func NewExternal(opts Options, plugin ExternalPlugin) *External {
	return &External{
		base:   newBase(plugin.Name(), plugin.Phase(), opts),
		plugin: plugin,
	}
}

// Tier returns the plugin's declared lifecycle model.
func (e *External) Tier() engine.Tier { return e.plugin.Tier() }

func (e *External) observe(ctx context.Context) ([]manifest.Item, error) {
	items, err := e.plugin.List(ctx)
	if err != nil {
		return nil, engine.NewDomainError(fmt.Sprintf("plugin %s list failed", e.id), err).
			WithSubsystem(e.id).
			WithCode(engine.ErrCodeExternalState)
	}
	return items, nil
}

// Capture records plugin items missing from the manifest.
func (e *External) Capture(ctx context.Context) (engine.Plan, error) {
	observed, err := e.observe(ctx)
	if err != nil {
		return nil, err
	}
	return e.capturePlan(ctx, observed)
}

// Sync converges plugin state toward the manifest, one apply call per
// difference.
func (e *External) Sync(ctx context.Context) (engine.Plan, error) {
	declared, err := e.store.LoadMerged(e.id)
	if err != nil {
		return nil, err
	}
	observed, err := e.observe(ctx)
	if err != nil {
		return nil, err
	}

	plan := engine.NewItemPlan(e.id)
	diff := diffStates(declared, observedManifest(observed))
	for _, item := range diff.missing {
		e.addApplyStep(plan, item, engine.ActionAdd)
	}
	for _, pair := range diff.mismatch {
		e.addApplyStep(plan, pair.declared, engine.ActionUpdate)
	}
	for _, item := range diff.undeclared {
		e.addApplyStep(plan, item, engine.ActionRemove)
	}
	return plan, nil
}

// addApplyStep plans one plugin apply call. The plugin owns the action's
// meaning, so the step carries no extra detail.
func (e *External) addApplyStep(plan *engine.ItemPlan, item manifest.Item, action engine.Action) {
	plan.Add(engine.Step{
		ItemID: item.ID,
		Action: action,
		Attrs:  item.Attrs,
		Apply: func(ctx context.Context) error {
			return e.plugin.Apply(ctx, wire.ApplyRequest{
				ItemID: item.ID,
				Action: string(action),
				Attrs:  item.Attrs,
			})
		},
	})
}

// Drift compares manifest intent against plugin state.
func (e *External) Drift(ctx context.Context) (*engine.DriftReport, error) {
	observed, err := e.observe(ctx)
	if err != nil {
		return nil, err
	}
	return e.driftAgainst(ctx, observedManifest(observed))
}

// Staged is not applicable to convergent plugins.
func (e *External) Staged(ctx context.Context) (*engine.StagedReport, error) {
	return nil, nil
}
