package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/wycats/bootsync/pkg/hostenv"
)

// Path returns the default configuration file location.
func Path(env hostenv.Environment) (string, error) {
	cfgDir, err := env.ConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve config directory: %w", err)
	}
	return filepath.Join(cfgDir, "bootsync", "config.yaml"), nil
}

// Default returns the configuration with every field set to its default,
// derived from the host's XDG base directories.
func Default(env hostenv.Environment) (*Config, error) {
	cfgDir, err := env.ConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config directory: %w", err)
	}
	stateDir, err := env.StateDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve state directory: %w", err)
	}

	base := filepath.Join(cfgDir, "bootsync")

	home := env.Getenv("HOME")
	if home == "" {
		// ~/.config/bootsync -> ~
		home = filepath.Dir(cfgDir)
	}

	return &Config{
		ManifestDir: filepath.Join(base, "manifests"),
		StatePath:   filepath.Join(stateDir, "bootsync", "state.db"),
		Log: LogSettings{
			Level:  "info",
			Format: "console",
		},
		Tracing: TraceSettings{
			Enabled:      false,
			Exporter:     "none",
			SamplingRate: 1.0,
		},
		Metrics: MetricsSettings{
			ListenAddress: ":9184",
		},
		Capture: CaptureSettings{
			HooksPath:   filepath.Join(base, "hooks.star"),
			HookTimeout: 10 * time.Second,
		},
		Policy: PolicySettings{
			Enabled:          true,
			Dir:              filepath.Join(base, "policy"),
			MassRemovalShare: 0.5,
			MassRemovalMin:   3,
		},
		Review: ReviewSettings{
			Enabled: false,
			Remote:  "origin",
			Branch:  "main",
		},
		Watch: WatchSettings{
			Interval: 5 * time.Minute,
			Debounce: 2 * time.Second,
		},
		Subsystems: SubsystemSettings{
			Settings: DconfSettings{
				Roots: []string{
					"/org/gnome/desktop/interface/",
					"/org/gnome/desktop/wm/preferences/",
				},
			},
			Shims: ShimSettings{
				Dir: filepath.Join(home, ".local", "bin"),
			},
			PluginDir: filepath.Join(base, "plugins"),
		},
	}, nil
}

// Load reads the configuration from its default location. A missing file
// yields the defaults.
func Load(env hostenv.Environment) (*Config, error) {
	path, err := Path(env)
	if err != nil {
		return nil, err
	}
	return LoadPath(env, path)
}

// LoadPath reads the configuration from path, filling unset fields with
// defaults, applying environment overrides, and validating the result.
func LoadPath(env hostenv.Environment, path string) (*Config, error) {
	cfg, err := Default(env)
	if err != nil {
		return nil, err
	}

	data, err := env.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// Defaults only.
	case err != nil:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if level := env.Getenv("BOOTSYNC_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if format := env.Getenv("BOOTSYNC_LOG_FORMAT"); format != "" {
		cfg.Log.Format = format
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
