package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wycats/bootsync/pkg/manifest"
)

// ChangeKind is the direction of a detected difference between two states.
type ChangeKind string

const (
	// ChangeAdded means the item exists on the right side only.
	ChangeAdded ChangeKind = "added"

	// ChangeRemoved means the item exists on the left side only.
	ChangeRemoved ChangeKind = "removed"

	// ChangeModified means the item exists on both sides with differing
	// attributes.
	ChangeModified ChangeKind = "modified"
)

// DriftOrigin classifies who moved: the runtime or the manifest.
type DriftOrigin string

const (
	// OriginLocal means external state changed after the last sync; the
	// manifest still matches the baseline.
	OriginLocal DriftOrigin = "local"

	// OriginUnsynced means the manifest changed after the last sync; the
	// runtime still matches the baseline.
	OriginUnsynced DriftOrigin = "unsynced"

	// OriginUnknown means no baseline exists or neither side matches it.
	OriginUnknown DriftOrigin = "unknown"
)

// DriftEntry is one detected difference between declared and observed
// state. Kind is read manifest-to-runtime: removed means declared but not
// observed, added means observed but not declared.
type DriftEntry struct {
	ItemID   string          `json:"item_id"`
	Kind     ChangeKind      `json:"kind"`
	Origin   DriftOrigin     `json:"origin"`
	Declared json.RawMessage `json:"declared,omitempty"`
	Observed json.RawMessage `json:"observed,omitempty"`
}

// DriftReport is the read-only comparison result for one subsystem.
type DriftReport struct {
	Subsystem string       `json:"subsystem"`
	Entries   []DriftEntry `json:"entries"`
	Baseline  bool         `json:"baseline"`
}

// HasDrift reports whether any difference was found.
func (r *DriftReport) HasDrift() bool {
	return len(r.Entries) > 0
}

// Describe renders one line per drift entry.
func (r *DriftReport) Describe() string {
	if !r.HasDrift() {
		return fmt.Sprintf("%s: in sync", r.Subsystem)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d drifted item(s)\n", r.Subsystem, len(r.Entries))
	for _, e := range r.Entries {
		fmt.Fprintf(&b, "  %s %s (%s)\n", e.Kind, e.ItemID, e.Origin)
	}
	return strings.TrimRight(b.String(), "\n")
}

// ClassifyDrift compares declared intent against observed runtime state,
// using the baseline snapshot to attribute each difference. A nil baseline
// degrades every origin to unknown. Neither input is modified.
func ClassifyDrift(subsystem string, declared, observed, baseline *manifest.Manifest) *DriftReport {
	report := &DriftReport{Subsystem: subsystem, Baseline: baseline != nil}
	for _, id := range declared.IDs() {
		want, _ := declared.Get(id)
		got, ok := observed.Get(id)
		if !ok {
			report.Entries = append(report.Entries, DriftEntry{
				ItemID:   id,
				Kind:     ChangeRemoved,
				Origin:   classifyRemoval(id, baseline),
				Declared: want.Attrs,
			})
			continue
		}
		if !manifest.AttrsEqual(want.Attrs, got.Attrs) {
			report.Entries = append(report.Entries, DriftEntry{
				ItemID:   id,
				Kind:     ChangeModified,
				Origin:   classifyModification(id, want.Attrs, got.Attrs, baseline),
				Declared: want.Attrs,
				Observed: got.Attrs,
			})
		}
	}
	for _, id := range observed.IDs() {
		if declared.Has(id) {
			continue
		}
		got, _ := observed.Get(id)
		report.Entries = append(report.Entries, DriftEntry{
			ItemID:   id,
			Kind:     ChangeAdded,
			Origin:   classifyAddition(id, baseline),
			Observed: got.Attrs,
		})
	}
	return report
}

// classifyRemoval attributes a declared-but-absent item. If the baseline
// holds the item it was synced once and later removed externally; if the
// baseline lacks it the declaration was never synced.
func classifyRemoval(id string, baseline *manifest.Manifest) DriftOrigin {
	if baseline == nil {
		return OriginUnknown
	}
	if baseline.Has(id) {
		return OriginLocal
	}
	return OriginUnsynced
}

// classifyAddition attributes an observed-but-undeclared item. If the
// baseline holds the item the manifest dropped it after the last sync; if
// the baseline lacks it something created it locally.
func classifyAddition(id string, baseline *manifest.Manifest) DriftOrigin {
	if baseline == nil {
		return OriginUnknown
	}
	if baseline.Has(id) {
		return OriginUnsynced
	}
	return OriginLocal
}

// classifyModification attributes an attribute mismatch by checking which
// side still agrees with the baseline.
func classifyModification(id string, declared, observed json.RawMessage, baseline *manifest.Manifest) DriftOrigin {
	if baseline == nil {
		return OriginUnknown
	}
	base, ok := baseline.Get(id)
	if !ok {
		return OriginUnknown
	}
	if manifest.AttrsEqual(base.Attrs, declared) {
		return OriginLocal
	}
	if manifest.AttrsEqual(base.Attrs, observed) {
		return OriginUnsynced
	}
	return OriginUnknown
}

// DriftSummary aggregates per-subsystem drift reports for one run.
type DriftSummary struct {
	Reports  []*DriftReport  `json:"reports"`
	Failures []DomainFailure `json:"failures,omitempty"`
}

// TotalEntries returns the number of drift entries across all reports.
func (s *DriftSummary) TotalEntries() int {
	n := 0
	for _, r := range s.Reports {
		n += len(r.Entries)
	}
	return n
}

// HasDrift reports whether any subsystem drifted.
func (s *DriftSummary) HasDrift() bool {
	return s.TotalEntries() > 0
}

// ExitCode maps the summary to the process exit code: 2 when any subsystem
// failed to report, 1 when drift was found, 0 when clean.
func (s *DriftSummary) ExitCode() int {
	if len(s.Failures) > 0 {
		return 2
	}
	if s.HasDrift() {
		return 1
	}
	return 0
}
