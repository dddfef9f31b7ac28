package subsystems

import (
	"fmt"

	"github.com/wycats/bootsync/pkg/manifest"
)

// flatpakSchema leaves origin optional; decoding defaults it to flathub.
const flatpakSchema = `{
	origin?: string & !=""
	branch?: string & !=""
}`

// distroboxSchema requires an image, since a container cannot be created
// without one.
const distroboxSchema = `{
	image: string & !=""
}`

// settingsSchema requires the GVariant text value to write.
const settingsSchema = `{
	value: string & !=""
}`

// shimsSchema requires a launch target and restricts kind to the two
// launchers a shim can forward into.
const shimsSchema = `{
	target: string & !=""
	kind:   "distrobox" | "flatpak"
}`

// RegisterSchemas installs the attribute schemas for every builtin
// subsystem that carries attrs. Extensions and OS image items have none,
// so they stay unconstrained beyond the manifest envelope.
func RegisterSchemas(reg *manifest.SchemaRegistry) error {
	schemas := []struct {
		subsystem string
		schema    string
	}{
		{"flatpak", flatpakSchema},
		{"distrobox", distroboxSchema},
		{"settings", settingsSchema},
		{"shims", shimsSchema},
	}
	for _, s := range schemas {
		if err := reg.RegisterItemSchema(s.subsystem, s.schema); err != nil {
			return fmt.Errorf("failed to register %s schema: %w", s.subsystem, err)
		}
	}
	return nil
}
