package commands

import (
	"context"
	"time"

	"github.com/wycats/bootsync/pkg/config"
	"github.com/wycats/bootsync/pkg/engine"
	"github.com/wycats/bootsync/pkg/hostenv"
	"github.com/wycats/bootsync/pkg/hostexec"
	"github.com/wycats/bootsync/pkg/manifest"
	"github.com/wycats/bootsync/pkg/policy"
	"github.com/wycats/bootsync/pkg/review"
	"github.com/wycats/bootsync/pkg/state"
	"github.com/wycats/bootsync/pkg/subsystems"
	"github.com/wycats/bootsync/pkg/subsystems/extern"
	"github.com/wycats/bootsync/pkg/telemetry"
)

// runtime holds the collaborators a command works with. newRuntime wires
// configuration, telemetry, and the state store; commands that reconcile
// call buildOrchestrator to put the runner, subsystems, and orchestrator
// on top.
type runtime struct {
	env   hostenv.Environment
	cfg   *config.Config
	tel   *telemetry.Telemetry
	store *state.Store

	manifests *manifest.FileStore
	registry  *engine.Registry
	orch      *engine.Orchestrator
	policy    *policy.Engine

	closers []closer
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// newRuntime loads configuration, starts telemetry, and opens the state
// store. Overrides run after the config file loads and before anything
// reads it.
func newRuntime(ctx context.Context, overrides ...func(*config.Config)) (*runtime, error) {
	env := hostenv.NewOS()

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadPath(env, configPath)
	} else {
		cfg, err = config.Load(env)
	}
	if err != nil {
		return nil, err
	}

	if manifestDir != "" {
		cfg.ManifestDir = manifestDir
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	for _, override := range overrides {
		override(cfg)
	}

	tel, err := telemetry.New(cfg.Telemetry(buildVersion))
	if err != nil {
		return nil, err
	}

	rt := &runtime{env: env, cfg: cfg, tel: tel}
	rt.deferClose("telemetry", tel.Shutdown)

	store, err := state.NewStore(state.Config{Path: cfg.StatePath})
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.deferClose("state store", func(context.Context) error { return store.Close() })
	if err := store.Init(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	rt.store = store

	// Remote runs key cache entries by the remote boot id; only a local
	// run can tell which of its own entries are stale.
	if remoteHost == "" {
		if purged, err := state.NewSessionCache(store, env).Purge(ctx); err != nil {
			tel.Logger.WithError(err).Warn("Failed to purge stale session cache")
		} else if purged > 0 {
			tel.Logger.WithField("entries", purged).Debug("Purged stale session cache entries")
		}
	}

	return rt, nil
}

// deferClose registers cleanup to run, in reverse order, when the command
// finishes.
func (rt *runtime) deferClose(name string, fn func(context.Context) error) {
	rt.closers = append(rt.closers, closer{name: name, fn: fn})
}

// Close releases everything newRuntime and buildOrchestrator opened.
func (rt *runtime) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(rt.closers) - 1; i >= 0; i-- {
		c := rt.closers[i]
		if err := c.fn(ctx); err != nil {
			rt.tel.Logger.WithError(err).Warnf("Failed to close %s", c.name)
		}
	}
}

// buildOrchestrator wires the manifest store, the command runner (local or
// remote), the subsystem registry, and the orchestrator. allowRemote lets
// a command opt out of the --host flag when its work is inherently local.
func (rt *runtime) buildOrchestrator(ctx context.Context, allowRemote bool) error {
	logger := rt.tel.Logger

	schemas, err := manifest.NewSchemaRegistry()
	if err != nil {
		return err
	}
	if err := subsystems.RegisterSchemas(schemas); err != nil {
		return err
	}
	rt.manifests = manifest.NewFileStore(rt.env, rt.cfg.ManifestDir, schemas)

	localExec := hostexec.NewInstrumentedRunner(
		hostexec.NewHostRunner(hostexec.NewLocalRunner()), logger, rt.tel.Metrics)

	runner := hostexec.Runner(localExec)
	sessionEnv := rt.env
	hostname, err := rt.env.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	cachePrefix := ""

	if allowRemote && remoteHost != "" {
		conn, err := rt.connectRemote(ctx)
		if err != nil {
			return err
		}
		runner = hostexec.NewInstrumentedRunner(conn.runner, logger, rt.tel.Metrics)
		sessionEnv = conn.env
		hostname = conn.env.hostname
		// Two hosts sharing one state database must never share a probe
		// cache entry.
		cachePrefix = hostname + "/"
	}

	hook, err := config.LoadCaptureHook(rt.env, rt.cfg.Capture.HooksPath, rt.cfg.Capture.HookTimeout)
	if err != nil {
		return err
	}
	var filter subsystems.CaptureFilter
	if hook != nil {
		filter = hook
	}

	opts := subsystems.Options{
		Manifests: rt.manifests,
		Runner:    runner,
		Logger:    logger,
		Filter:    filter,
		Baseline:  rt.store,
	}

	var cache subsystems.StatusCache = state.NewSessionCache(rt.store, sessionEnv)
	if cachePrefix != "" {
		cache = prefixedCache{inner: cache, prefix: cachePrefix}
	}

	registry := engine.NewRegistry()
	builtin := []engine.Subsystem{
		subsystems.NewDistrobox(opts),
		subsystems.NewOSImage(opts, cache),
		subsystems.NewFlatpak(opts),
		subsystems.NewExtensions(opts),
		subsystems.NewSettings(opts, rt.cfg.Subsystems.Settings.Roots),
		subsystems.NewShims(opts, rt.cfg.Subsystems.Shims.Dir),
	}
	for _, sub := range builtin {
		if !rt.cfg.SubsystemEnabled(sub.ID()) {
			logger.WithSubsystem(sub.ID()).Debug("Subsystem disabled by config")
			continue
		}
		if err := registry.Register(sub); err != nil {
			return err
		}
	}
	if err := rt.loadPlugins(ctx, registry, opts, runner); err != nil {
		return err
	}
	rt.registry = registry

	gate, err := rt.buildGate(ctx)
	if err != nil {
		return err
	}

	var publisher engine.Publisher
	if rt.cfg.Review.Enabled {
		// Manifests live on the controller, so review always runs git
		// locally, even when the subsystems run remotely.
		pub, err := review.NewGitPublisher(localExec, logger, review.Config{
			Dir:    rt.cfg.ManifestDir,
			Remote: rt.cfg.Review.Remote,
			Branch: rt.cfg.Review.Branch,
		})
		if err != nil {
			return err
		}
		publisher = pub
	}

	orch, err := engine.NewOrchestrator(engine.OrchestratorConfig{
		Registry:  registry,
		Logger:    logger,
		Store:     rt.store,
		Gate:      gate,
		Publisher: publisher,
		Metrics:   rt.tel.Metrics,
		Tracer:    rt.tel.Tracer,
		Events:    rt.tel.Events,
		Hostname:  hostname,
	})
	if err != nil {
		return err
	}
	rt.orch = orch
	return nil
}

// buildGate assembles the policy gate when enforcement is on, seeding the
// engine with the user policies found in the policy directory.
func (rt *runtime) buildGate(ctx context.Context) (engine.PlanGate, error) {
	if !rt.cfg.Policy.Enabled {
		return nil, nil
	}

	eng, err := policy.NewEngine(rt.tel.Logger, policy.Thresholds{
		MassRemovalShare: rt.cfg.Policy.MassRemovalShare,
		MassRemovalMin:   rt.cfg.Policy.MassRemovalMin,
	})
	if err != nil {
		return nil, err
	}

	if rt.cfg.Policy.Dir != "" {
		loader := policy.NewLoader(rt.tel.Logger)
		policies, err := loader.LoadDir(ctx, rt.cfg.Policy.Dir)
		if err != nil {
			return nil, err
		}
		if len(policies) > 0 {
			if err := eng.ReplaceUserPolicies(ctx, policies); err != nil {
				return nil, err
			}
		}
	}

	rt.policy = eng
	return eng, nil
}

// loadPlugins registers every WASM subsystem found under the plugin
// directory.
func (rt *runtime) loadPlugins(ctx context.Context, registry *engine.Registry, opts subsystems.Options, runner hostexec.Runner) error {
	dir := rt.cfg.Subsystems.PluginDir
	if dir == "" {
		return nil
	}

	host, err := extern.NewHost(ctx, runner, rt.tel.Logger, extern.HostConfig{})
	if err != nil {
		return err
	}
	rt.deferClose("plugin host", host.Close)

	plugins, err := host.LoadDir(ctx, rt.env, dir)
	if err != nil {
		return err
	}
	for _, plugin := range plugins {
		if !rt.cfg.SubsystemEnabled(plugin.Name()) {
			continue
		}
		if err := registry.Register(subsystems.NewExternal(opts, plugin)); err != nil {
			return err
		}
	}
	return nil
}

// prefixedCache namespaces session cache keys so probe output captured on
// one host is never read back for another.
type prefixedCache struct {
	inner  subsystems.StatusCache
	prefix string
}

func (c prefixedCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return c.inner.Get(ctx, c.prefix+key)
}

func (c prefixedCache) Put(ctx context.Context, key string, value []byte) error {
	return c.inner.Put(ctx, c.prefix+key, value)
}
