package config

import (
	"time"

	"github.com/wycats/bootsync/pkg/telemetry"
)

// Config is the bootsync tool configuration.
type Config struct {
	// ManifestDir is the directory holding user manifests. System manifests
	// live in its system/ subdirectory.
	ManifestDir string `yaml:"manifest_dir" validate:"required"`

	// StatePath is the SQLite state database path.
	StatePath string `yaml:"state_path" validate:"required"`

	// Log configures logging output.
	Log LogSettings `yaml:"log"`

	// Tracing configures the optional OpenTelemetry exporter.
	Tracing TraceSettings `yaml:"tracing"`

	// Metrics configures the Prometheus endpoint served by watch mode.
	Metrics MetricsSettings `yaml:"metrics"`

	// Capture configures capture behavior and hooks.
	Capture CaptureSettings `yaml:"capture"`

	// Policy configures the sync policy gate.
	Policy PolicySettings `yaml:"policy"`

	// Review configures publishing manifest changes for review.
	Review ReviewSettings `yaml:"review"`

	// Watch configures watch mode.
	Watch WatchSettings `yaml:"watch"`

	// Subsystems configures the built-in subsystems.
	Subsystems SubsystemSettings `yaml:"subsystems"`
}

// LogSettings configures structured logging.
type LogSettings struct {
	// Level sets the minimum log level.
	Level string `yaml:"level" validate:"required,oneof=trace debug info warn error fatal"`

	// Format is console or json.
	Format string `yaml:"format" validate:"required,oneof=console json"`
}

// TraceSettings configures distributed tracing.
type TraceSettings struct {
	Enabled bool `yaml:"enabled"`

	// Exporter is otlp, stdout, or none.
	Exporter string `yaml:"exporter" validate:"omitempty,oneof=otlp stdout none"`

	// Endpoint is the OTLP collector endpoint (host:port).
	Endpoint string `yaml:"endpoint"`

	// SamplingRate is the trace sampling rate.
	SamplingRate float64 `yaml:"sampling_rate" validate:"gte=0,lte=1"`
}

// MetricsSettings configures the metrics endpoint.
type MetricsSettings struct {
	// ListenAddress is where watch mode serves Prometheus metrics.
	ListenAddress string `yaml:"listen_address" validate:"required"`
}

// CaptureSettings configures capture behavior.
type CaptureSettings struct {
	// HooksPath is the Starlark hooks file. A missing file means no hooks.
	HooksPath string `yaml:"hooks_path" validate:"required"`

	// HookTimeout bounds one hook invocation.
	HookTimeout time.Duration `yaml:"hook_timeout" validate:"gt=0"`
}

// PolicySettings configures the sync policy gate.
type PolicySettings struct {
	Enabled bool `yaml:"enabled"`

	// Dir holds user .rego policy files, watched for changes.
	Dir string `yaml:"dir"`

	// MassRemovalShare is the fraction of a subsystem's manifest whose
	// removal in one sync trips the mass-removal policy.
	MassRemovalShare float64 `yaml:"mass_removal_share" validate:"gt=0,lte=1"`

	// MassRemovalMin is the minimum number of removals before the
	// mass-removal policy can trip.
	MassRemovalMin int `yaml:"mass_removal_min" validate:"gte=1"`
}

// ReviewSettings configures publishing manifest changes through git.
type ReviewSettings struct {
	Enabled bool `yaml:"enabled"`

	// Remote is the git remote to push to.
	Remote string `yaml:"remote"`

	// Branch is the branch to push.
	Branch string `yaml:"branch"`
}

// WatchSettings configures watch mode.
type WatchSettings struct {
	// Interval is the periodic drift evaluation interval.
	Interval time.Duration `yaml:"interval" validate:"gt=0"`

	// Debounce coalesces bursts of filesystem events.
	Debounce time.Duration `yaml:"debounce" validate:"gt=0"`
}

// SubsystemSettings configures the built-in subsystems.
type SubsystemSettings struct {
	// Disabled lists subsystem ids to leave unregistered.
	Disabled []string `yaml:"disabled"`

	// Settings configures the dconf settings subsystem.
	Settings DconfSettings `yaml:"settings"`

	// Shims configures the command-shim subsystem.
	Shims ShimSettings `yaml:"shims"`

	// PluginDir holds WASM plugin subsystems, one subdirectory each.
	PluginDir string `yaml:"plugin_dir"`
}

// DconfSettings configures which dconf roots are managed.
type DconfSettings struct {
	// Roots are dconf directory paths like /org/gnome/desktop/interface/.
	Roots []string `yaml:"roots"`
}

// ShimSettings configures the command-shim subsystem.
type ShimSettings struct {
	// Dir is the directory shim scripts are written to.
	Dir string `yaml:"dir" validate:"required"`
}

// Telemetry derives the telemetry configuration from the tool settings.
func (c *Config) Telemetry(version string) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.ServiceVersion = version
	tc.Logging.Level = c.Log.Level
	tc.Logging.Format = c.Log.Format
	tc.Tracing.Enabled = c.Tracing.Enabled
	tc.Tracing.Exporter = c.Tracing.Exporter
	tc.Tracing.Endpoint = c.Tracing.Endpoint
	tc.Tracing.SamplingRate = c.Tracing.SamplingRate
	tc.Metrics.ListenAddress = c.Metrics.ListenAddress
	return tc
}

// SubsystemEnabled reports whether a subsystem id should be registered.
func (c *Config) SubsystemEnabled(id string) bool {
	for _, disabled := range c.Subsystems.Disabled {
		if disabled == id {
			return false
		}
	}
	return true
}
