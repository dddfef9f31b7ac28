package commands

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/wycats/bootsync/pkg/config"
	"github.com/wycats/bootsync/pkg/engine"
	"github.com/wycats/bootsync/pkg/policy"
)

func newWatchCommand() *cobra.Command {
	var (
		interval    time.Duration
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Evaluate drift continuously",
		Long: `Run until interrupted, re-evaluating drift whenever the manifests
change and on a fixed interval.

This command:
  - Watches the manifest directory and re-evaluates after edits settle
  - Re-evaluates on the configured interval regardless of edits
  - Serves Prometheus metrics (drift gauges, run counters) over HTTP
  - Reloads user policies when files in the policy directory change

Results go to the log and the metrics endpoint; nothing is ever
executed. Stop with Ctrl-C.`,
		Example: `  # Watch with the configured interval
  bootsync watch

  # Tighter loop, metrics on a specific port
  bootsync watch --interval 1m --metrics-addr :9200`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx, func(cfg *config.Config) {
				if interval > 0 {
					cfg.Watch.Interval = interval
				}
				if metricsAddr != "" {
					cfg.Metrics.ListenAddress = metricsAddr
				}
			})
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.buildOrchestrator(ctx, true); err != nil {
				return err
			}

			logger := rt.tel.Logger.NewComponentLogger("watch")

			rt.tel.Metrics.Serve(func(err error) {
				logger.WithError(err).Error("Metrics endpoint failed")
			})

			if rt.policy != nil && rt.cfg.Policy.Dir != "" {
				loader := policy.NewLoader(rt.tel.Logger)
				err := loader.Watch(ctx, rt.cfg.Policy.Dir, func(policies []policy.Policy) error {
					return rt.policy.ReplaceUserPolicies(ctx, policies)
				})
				if err != nil {
					logger.WithError(err).Warn("Policy reload unavailable")
				} else {
					defer loader.StopWatching()
				}
			}

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return err
			}
			defer watcher.Close()
			for _, dir := range []string{rt.manifests.Dir(), filepath.Join(rt.manifests.Dir(), "system")} {
				if err := watcher.Add(dir); err != nil {
					logger.WithError(err).WithField("dir", dir).Warn("Cannot watch directory")
				}
			}

			evaluate := func() {
				sum, err := rt.orch.Drift(ctx, engine.Options{})
				if err != nil {
					logger.WithError(err).Error("Drift evaluation failed")
					return
				}
				for _, f := range sum.Failures {
					logger.WithSubsystem(f.Subsystem).WithError(f.Err).Error("Subsystem failed to report")
				}
				if !sum.HasDrift() {
					logger.Info("No drift")
					return
				}
				logger.WithField("entries", sum.TotalEntries()).Warn("Drift detected")
				for _, r := range sum.Reports {
					if r.HasDrift() {
						logger.WithSubsystem(r.Subsystem).WithField("entries", len(r.Entries)).Warn("Subsystem drifted")
					}
				}
			}

			logger.WithField("interval", rt.cfg.Watch.Interval.String()).Info("Watching for drift")
			evaluate()

			ticker := time.NewTicker(rt.cfg.Watch.Interval)
			defer ticker.Stop()

			// The debounce timer stays stopped until a manifest edit arms it.
			debounce := time.NewTimer(time.Hour)
			debounce.Stop()
			defer debounce.Stop()

			for {
				select {
				case <-ctx.Done():
					logger.Info("Watch stopped")
					return nil

				case ev, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					if !manifestEvent(ev) {
						continue
					}
					logger.WithField("path", ev.Name).Debug("Manifest changed")
					debounce.Reset(rt.cfg.Watch.Debounce)

				case <-debounce.C:
					logger.Info("Manifests changed, evaluating drift")
					evaluate()

				case <-ticker.C:
					evaluate()

				case werr, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					logger.WithError(werr).Warn("Watcher error")
				}
			}
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "periodic evaluation interval (default from config)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "metrics listen address (default from config)")

	return cmd
}

// manifestEvent reports whether a filesystem event touches a manifest file
// in a way that warrants re-evaluation.
func manifestEvent(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	return filepath.Ext(ev.Name) == ".json"
}
