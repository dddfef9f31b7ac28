package subsystems

import (
	"context"
	"encoding/json"

	"github.com/wycats/bootsync/pkg/engine"
	"github.com/wycats/bootsync/pkg/manifest"
)

// statusCacheKey holds the memoized rpm-ostree status document.
// Deployments only change through rpm-ostree itself, so one probe per
// boot is enough.
const statusCacheKey = "osimage/status"

// StatusCache is the boot-scoped cache the OS image subsystem memoizes
// status output in. state.SessionCache satisfies it.
type StatusCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

// OSImage reports on the rpm-ostree deployment. The tier is atomic:
// layered packages change by staging a new deployment, never in place,
// so only capture and staged apply.
type OSImage struct {
	base
	cache StatusCache
}

// NewOSImage builds the OS image subsystem. A nil cache disables
// memoization.
func NewOSImage(opts Options, cache StatusCache) *OSImage {
	return &OSImage{
		base:  newBase("osimage", engine.PhasePackages, opts),
		cache: cache,
	}
}

// Tier returns atomic.
func (o *OSImage) Tier() engine.Tier { return engine.TierAtomic }

// ostreeStatus mirrors the parts of rpm-ostree status --json the
// subsystem reads.
type ostreeStatus struct {
	Deployments []ostreeDeployment `json:"deployments"`
}

type ostreeDeployment struct {
	Booted            bool     `json:"booted"`
	Staged            bool     `json:"staged"`
	Checksum          string   `json:"checksum"`
	Version           string   `json:"version"`
	Origin            string   `json:"origin"`
	RequestedPackages []string `json:"requested-packages"`
	Packages          []string `json:"packages"`
	Pinned            bool     `json:"pinned"`
}

// layered returns the package set the deployment carries on top of the
// base image. rpm-ostree reports the requested set separately from the
// resolved one; the requested set is the declared intent.
func (d *ostreeDeployment) layered() []string {
	if len(d.RequestedPackages) > 0 {
		return d.RequestedPackages
	}
	return d.Packages
}

// status probes rpm-ostree, reading through the session cache when one
// is wired. Cache trouble degrades to a fresh probe, never to a failure.
func (o *OSImage) status(ctx context.Context) (*ostreeStatus, error) {
	if o.cache != nil {
		raw, ok, err := o.cache.Get(ctx, statusCacheKey)
		if err != nil {
			o.logger.WithError(err).Warn("session cache unavailable, probing rpm-ostree directly")
		} else if ok {
			var st ostreeStatus
			if err := json.Unmarshal(raw, &st); err == nil {
				o.logger.Debug("using cached rpm-ostree status")
				return &st, nil
			}
			o.logger.Warn("cached rpm-ostree status is unreadable, probing again")
		}
	}

	res, err := o.run(ctx, "rpm-ostree", "status", "--json")
	if err != nil {
		return nil, err
	}
	var st ostreeStatus
	if err := json.Unmarshal(res.Stdout, &st); err != nil {
		return nil, engine.NewDomainError("failed to decode rpm-ostree status", err).
			WithSubsystem(o.id).
			WithCode(engine.ErrCodeExternalState)
	}
	if o.cache != nil {
		if err := o.cache.Put(ctx, statusCacheKey, res.Stdout); err != nil {
			o.logger.WithError(err).Warn("failed to cache rpm-ostree status")
		}
	}
	return &st, nil
}

func (s *ostreeStatus) booted() *ostreeDeployment {
	for i := range s.Deployments {
		if s.Deployments[i].Booted {
			return &s.Deployments[i]
		}
	}
	return nil
}

func (s *ostreeStatus) pending() *ostreeDeployment {
	for i := range s.Deployments {
		if s.Deployments[i].Staged {
			return &s.Deployments[i]
		}
	}
	return nil
}

// Capture records layered packages from the booted deployment that the
// manifest does not declare.
func (o *OSImage) Capture(ctx context.Context) (engine.Plan, error) {
	st, err := o.status(ctx)
	if err != nil {
		return nil, err
	}
	booted := st.booted()
	if booted == nil {
		return nil, engine.NewDomainError("rpm-ostree reports no booted deployment", nil).
			WithSubsystem(o.id).
			WithCode(engine.ErrCodeExternalState)
	}

	var items []manifest.Item
	for _, pkg := range booted.layered() {
		items = append(items, manifest.Item{ID: pkg})
	}
	return o.capturePlan(ctx, items)
}

// Sync is not applicable to an atomic subsystem.
func (o *OSImage) Sync(ctx context.Context) (engine.Plan, error) {
	return nil, nil
}

// Drift is not applicable to an atomic subsystem.
func (o *OSImage) Drift(ctx context.Context) (*engine.DriftReport, error) {
	return nil, nil
}

// Staged compares the pending deployment against the booted one.
func (o *OSImage) Staged(ctx context.Context) (*engine.StagedReport, error) {
	st, err := o.status(ctx)
	if err != nil {
		return nil, err
	}

	report := &engine.StagedReport{Subsystem: o.id}
	pending := st.pending()
	if pending == nil {
		return report, nil
	}
	report.Pending = true

	booted := st.booted()
	if booted == nil {
		booted = &ostreeDeployment{}
	}

	if pending.Checksum != booted.Checksum || pending.Version != booted.Version {
		report.Entries = append(report.Entries, engine.StagedEntry{
			ItemID: "image",
			Kind:   engine.ChangeModified,
			From:   deploymentLabel(booted),
			To:     deploymentLabel(pending),
		})
	}

	bootedPkgs := packageSet(booted.layered())
	pendingPkgs := packageSet(pending.layered())
	for _, pkg := range pending.layered() {
		if _, ok := bootedPkgs[pkg]; !ok {
			report.Entries = append(report.Entries, engine.StagedEntry{
				ItemID: pkg,
				Kind:   engine.ChangeAdded,
				To:     "layered",
			})
		}
	}
	for _, pkg := range booted.layered() {
		if _, ok := pendingPkgs[pkg]; !ok {
			report.Entries = append(report.Entries, engine.StagedEntry{
				ItemID: pkg,
				Kind:   engine.ChangeRemoved,
				From:   "layered",
			})
		}
	}

	if pending.Pinned != booted.Pinned {
		report.Entries = append(report.Entries, engine.StagedEntry{
			ItemID: "pin",
			Kind:   engine.ChangeModified,
			From:   pinLabel(booted.Pinned),
			To:     pinLabel(pending.Pinned),
		})
	}

	return report, nil
}

func deploymentLabel(d *ostreeDeployment) string {
	if d.Version != "" {
		return d.Version
	}
	if len(d.Checksum) > 12 {
		return d.Checksum[:12]
	}
	if d.Checksum != "" {
		return d.Checksum
	}
	return "unknown"
}

func pinLabel(pinned bool) string {
	if pinned {
		return "pinned"
	}
	return "unpinned"
}

func packageSet(pkgs []string) map[string]struct{} {
	set := make(map[string]struct{}, len(pkgs))
	for _, pkg := range pkgs {
		set[pkg] = struct{}{}
	}
	return set
}
