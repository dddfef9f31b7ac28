package extern

import (
	"fmt"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/wycats/bootsync/pkg/engine"
)

// DescriptorFile is the well-known descriptor name inside a plugin
// directory.
const DescriptorFile = "plugin.yaml"

var pluginNameRE = regexp.MustCompile(`^[a-z][a-z0-9._-]*$`)

// Descriptor declares an external subsystem plugin: the id it registers
// under, where it slots into the engine, and the WASM module implementing
// it.
type Descriptor struct {
	// Name is the subsystem id. It must not collide with a builtin.
	Name string `yaml:"name"`

	// Tier is the lifecycle model. The plugin ABI only expresses list and
	// apply, so only convergent plugins can be hosted. Defaults to
	// convergent.
	Tier string `yaml:"tier"`

	// Phase is the sync ordering bucket. Defaults to configuration.
	Phase string `yaml:"phase"`

	// Module is the WASM module file, relative to the plugin directory.
	// Defaults to plugin.wasm.
	Module string `yaml:"module"`

	// Checksum is an optional sha256 hex digest of the module file.
	Checksum string `yaml:"checksum"`
}

// ParseDescriptor unmarshals and validates a plugin.yaml payload, filling
// in defaults for omitted fields.
func ParseDescriptor(data []byte) (*Descriptor, error) {
	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse plugin descriptor: %w", err)
	}
	d.applyDefaults()
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

func (d *Descriptor) applyDefaults() {
	if d.Tier == "" {
		d.Tier = string(engine.TierConvergent)
	}
	if d.Phase == "" {
		d.Phase = string(engine.PhaseConfiguration)
	}
	if d.Module == "" {
		d.Module = "plugin.wasm"
	}
}

// Validate checks the descriptor fields.
func (d *Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("plugin descriptor has no name")
	}
	if !pluginNameRE.MatchString(d.Name) {
		return fmt.Errorf("invalid plugin name %q", d.Name)
	}
	if engine.Tier(d.Tier) != engine.TierConvergent {
		return fmt.Errorf("plugin %s: unsupported tier %q, only convergent plugins can be hosted", d.Name, d.Tier)
	}
	if err := engine.Phase(d.Phase).Validate(); err != nil {
		return fmt.Errorf("plugin %s: %w", d.Name, err)
	}
	if filepath.IsAbs(d.Module) {
		return fmt.Errorf("plugin %s: module path must be relative to the plugin directory", d.Name)
	}
	return nil
}

// EngineTier returns the tier as the engine's enum.
func (d *Descriptor) EngineTier() engine.Tier { return engine.Tier(d.Tier) }

// EnginePhase returns the phase as the engine's enum.
func (d *Descriptor) EnginePhase() engine.Phase { return engine.Phase(d.Phase) }
