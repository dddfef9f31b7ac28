package extern

import (
	"strings"
	"testing"

	"github.com/wycats/bootsync/pkg/engine"
)

func TestParseDescriptor(t *testing.T) {
	desc, err := ParseDescriptor([]byte("name: homebrew\ntier: convergent\nphase: packages\nmodule: homebrew.wasm\n"))
	if err != nil {
		t.Fatalf("ParseDescriptor: %v", err)
	}
	if desc.Name != "homebrew" {
		t.Errorf("name = %q", desc.Name)
	}
	if desc.EngineTier() != engine.TierConvergent {
		t.Errorf("tier = %q", desc.Tier)
	}
	if desc.EnginePhase() != engine.PhasePackages {
		t.Errorf("phase = %q", desc.Phase)
	}
	if desc.Module != "homebrew.wasm" {
		t.Errorf("module = %q", desc.Module)
	}
}

func TestParseDescriptorDefaults(t *testing.T) {
	desc, err := ParseDescriptor([]byte("name: homebrew\n"))
	if err != nil {
		t.Fatalf("ParseDescriptor: %v", err)
	}
	if desc.Tier != string(engine.TierConvergent) {
		t.Errorf("default tier = %q", desc.Tier)
	}
	if desc.EnginePhase() != engine.PhaseConfiguration {
		t.Errorf("default phase = %q", desc.Phase)
	}
	if desc.Module != "plugin.wasm" {
		t.Errorf("default module = %q", desc.Module)
	}
}

func TestParseDescriptorRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"not yaml", "{{{", "failed to parse"},
		{"missing name", "module: x.wasm\n", "has no name"},
		{"bad name", "name: Has Spaces\n", "invalid plugin name"},
		{"atomic tier", "name: ostree\ntier: atomic\n", "only convergent"},
		{"unknown tier", "name: x\ntier: weekly\n", "only convergent"},
		{"unknown phase", "name: x\nphase: someday\n", "invalid phase"},
		{"absolute module", "name: x\nmodule: /usr/lib/x.wasm\n", "must be relative"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseDescriptor([]byte(tc.yaml))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}
