package subsystems

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wycats/bootsync/pkg/engine"
	"github.com/wycats/bootsync/pkg/manifest"
)

// Settings reconciles dconf keys under a configured set of roots. Items
// are keyed by the absolute key path; attrs carry the GVariant text value.
type Settings struct {
	base
	roots []string
}

// NewSettings builds the settings subsystem over the given dconf roots.
// Roots are directory paths like /org/gnome/desktop/interface/.
func NewSettings(opts Options, roots []string) *Settings {
	normalized := make([]string, 0, len(roots))
	for _, root := range roots {
		if root == "" {
			continue
		}
		if !strings.HasSuffix(root, "/") {
			root += "/"
		}
		normalized = append(normalized, root)
	}
	return &Settings{
		base:  newBase("settings", engine.PhaseConfiguration, opts),
		roots: normalized,
	}
}

// Tier returns convergent: dconf keys write and reset at runtime.
func (s *Settings) Tier() engine.Tier { return engine.TierConvergent }

type settingsAttrs struct {
	Value string `json:"value"`
}

// observe dumps every configured root. dconf dump emits keyfile sections
// relative to the root: "[/]" holds keys directly under it.
func (s *Settings) observe(ctx context.Context) ([]manifest.Item, error) {
	var items []manifest.Item
	for _, root := range s.roots {
		res, err := s.run(ctx, "dconf", "dump", root)
		if err != nil {
			return nil, err
		}

		section := ""
		for _, line := range splitLines(res.Stdout) {
			if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
				section = strings.Trim(line, "[]")
				if section == "/" {
					section = ""
				}
				continue
			}
			idx := strings.Index(line, "=")
			if idx <= 0 {
				continue
			}
			key := strings.TrimSpace(line[:idx])
			value := line[idx+1:]
			id := root + key
			if section != "" {
				id = root + section + "/" + key
			}
			raw, err := json.Marshal(settingsAttrs{Value: value})
			if err != nil {
				return nil, engine.NewInternalError("failed to encode settings attrs", err)
			}
			items = append(items, manifest.Item{ID: id, Attrs: raw})
		}
	}
	return items, nil
}

// Capture records set keys missing from the manifest.
func (s *Settings) Capture(ctx context.Context) (engine.Plan, error) {
	observed, err := s.observe(ctx)
	if err != nil {
		return nil, err
	}
	return s.capturePlan(ctx, observed)
}

// Sync writes declared values and resets undeclared keys back to their
// schema defaults.
func (s *Settings) Sync(ctx context.Context) (engine.Plan, error) {
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
		s.addWriteStep(plan, item, engine.ActionAdd)
	}
	for _, pair := range diff.mismatch {
		s.addWriteStep(plan, pair.declared, engine.ActionUpdate)
	}
	for _, item := range diff.undeclared {
		key := item.ID
		plan.Add(engine.Step{
			ItemID: key,
			Action: engine.ActionRemove,
			Detail: "reset",
			Attrs:  item.Attrs,
			Apply: func(ctx context.Context) error {
				_, err := s.run(ctx, "dconf", "reset", key)
				return err
			},
		})
	}
	return plan, nil
}

func (s *Settings) addWriteStep(plan *engine.ItemPlan, item manifest.Item, action engine.Action) {
	key := item.ID
	var attrs settingsAttrs
	if err := json.Unmarshal(item.Attrs, &attrs); err != nil || attrs.Value == "" {
		plan.Add(engine.Step{
			ItemID: key,
			Action: action,
			Detail: "write",
			Attrs:  item.Attrs,
			Apply: func(ctx context.Context) error {
				return engine.NewValidationError(fmt.Sprintf("key %s declares no value", key), nil).
					WithSubsystem(s.id).
					WithItem(key)
			},
		})
		return
	}
	plan.Add(engine.Step{
		ItemID: key,
		Action: action,
		Detail: fmt.Sprintf("write %s", truncateValue(attrs.Value)),
		Attrs:  item.Attrs,
		Apply: func(ctx context.Context) error {
			_, err := s.run(ctx, "dconf", "write", key, attrs.Value)
			return err
		},
	})
}

// Drift compares declared keys against the dumped state.
func (s *Settings) Drift(ctx context.Context) (*engine.DriftReport, error) {
	observed, err := s.observe(ctx)
	if err != nil {
		return nil, err
	}
	return s.driftAgainst(ctx, observedManifest(observed))
}

// Staged is not applicable to a convergent subsystem.
func (s *Settings) Staged(ctx context.Context) (*engine.StagedReport, error) {
	return nil, nil
}

// truncateValue keeps plan descriptions readable for long GVariant text.
func truncateValue(value string) string {
	if len(value) > 40 {
		return value[:37] + "..."
	}
	return value
}
