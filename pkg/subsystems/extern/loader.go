package extern

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wycats/bootsync/pkg/hostenv"
)

// LoadDir scans a plugin directory and instantiates every plugin found.
// Layout is <dir>/<name>/plugin.yaml next to the module file the
// descriptor names. A missing directory means no plugins. A broken plugin
// is logged and skipped so one bad install cannot take down the run.
func (h *Host) LoadDir(ctx context.Context, env hostenv.Environment, dir string) ([]*Plugin, error) {
	entries, err := env.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read plugin directory: %w", err)
	}

	var plugins []*Plugin
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		plugin, err := h.loadOne(ctx, env, filepath.Join(dir, entry.Name()))
		if err != nil {
			h.logger.WithField("plugin", entry.Name()).WithError(err).Warn("skipping plugin")
			continue
		}
		h.logger.WithField("plugin", plugin.Name()).
			WithField("phase", string(plugin.Phase())).
			Debug("loaded plugin")
		plugins = append(plugins, plugin)
	}
	return plugins, nil
}

func (h *Host) loadOne(ctx context.Context, env hostenv.Environment, dir string) (*Plugin, error) {
	data, err := env.ReadFile(filepath.Join(dir, DescriptorFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin descriptor: %w", err)
	}
	desc, err := ParseDescriptor(data)
	if err != nil {
		return nil, err
	}

	wasmModule, err := env.ReadFile(filepath.Join(dir, desc.Module))
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin module: %w", err)
	}
	if desc.Checksum != "" {
		sum := sha256.Sum256(wasmModule)
		if got := hex.EncodeToString(sum[:]); got != desc.Checksum {
			return nil, fmt.Errorf("module checksum mismatch: expected %s, got %s", desc.Checksum, got)
		}
	}

	return h.Load(ctx, *desc, wasmModule)
}
