package engine

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/wycats/bootsync/pkg/manifest"
)

func mustManifest(t *testing.T, items ...manifest.Item) *manifest.Manifest {
	t.Helper()
	m, err := manifest.FromItems(items)
	if err != nil {
		t.Fatalf("FromItems: %v", err)
	}
	return m
}

func item(id, attrs string) manifest.Item {
	it := manifest.Item{ID: id}
	if attrs != "" {
		it.Attrs = json.RawMessage(attrs)
	}
	return it
}

func TestClassifyDriftKindsWithoutBaseline(t *testing.T) {
	declared := mustManifest(t,
		item("a", `{"v":1}`),
		item("b", ""),
	)
	observed := mustManifest(t,
		item("a", `{"v":2}`),
		item("d", ""),
	)

	report := ClassifyDrift("flatpak", declared, observed, nil)
	if report.Baseline {
		t.Error("no baseline was given")
	}
	if len(report.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %+v", report.Entries)
	}

	// Declared-side differences come first, in manifest order.
	if report.Entries[0].ItemID != "a" || report.Entries[0].Kind != ChangeModified {
		t.Errorf("entry 0: expected a modified, got %+v", report.Entries[0])
	}
	if report.Entries[1].ItemID != "b" || report.Entries[1].Kind != ChangeRemoved {
		t.Errorf("entry 1: expected b removed, got %+v", report.Entries[1])
	}
	if report.Entries[2].ItemID != "d" || report.Entries[2].Kind != ChangeAdded {
		t.Errorf("entry 2: expected d added, got %+v", report.Entries[2])
	}
	for _, e := range report.Entries {
		if e.Origin != OriginUnknown {
			t.Errorf("without a baseline every origin is unknown, got %+v", e)
		}
	}
}

func TestClassifyDriftOrigins(t *testing.T) {
	// Baseline is the state as of the last successful sync.
	baseline := mustManifest(t,
		item("removed-after-sync", ""),
		item("dropped-from-manifest", ""),
		item("edited-locally", `{"v":1}`),
		item("edited-in-manifest", `{"v":1}`),
		item("contested", `{"v":1}`),
	)
	declared := mustManifest(t,
		item("removed-after-sync", ""),
		item("never-synced", ""),
		item("edited-locally", `{"v":1}`),
		item("edited-in-manifest", `{"v":2}`),
		item("contested", `{"v":2}`),
	)
	observed := mustManifest(t,
		item("dropped-from-manifest", ""),
		item("installed-locally", ""),
		item("edited-locally", `{"v":2}`),
		item("edited-in-manifest", `{"v":1}`),
		item("contested", `{"v":3}`),
	)

	report := ClassifyDrift("flatpak", declared, observed, baseline)
	if !report.Baseline {
		t.Error("baseline was given")
	}

	got := make(map[string]DriftEntry)
	for _, e := range report.Entries {
		got[e.ItemID] = e
	}

	want := map[string]struct {
		kind   ChangeKind
		origin DriftOrigin
	}{
		// In baseline, declared, not observed: removed externally after sync.
		"removed-after-sync": {ChangeRemoved, OriginLocal},
		// Declared but never made it into a baseline: sync never ran.
		"never-synced": {ChangeRemoved, OriginUnsynced},
		// In baseline and observed but no longer declared: manifest moved.
		"dropped-from-manifest": {ChangeAdded, OriginUnsynced},
		// Observed only: someone installed it by hand.
		"installed-locally": {ChangeAdded, OriginLocal},
		// Declared matches baseline, runtime differs: local edit.
		"edited-locally": {ChangeModified, OriginLocal},
		// Runtime matches baseline, declared differs: manifest edit.
		"edited-in-manifest": {ChangeModified, OriginUnsynced},
		// All three disagree.
		"contested": {ChangeModified, OriginUnknown},
	}

	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %+v", len(want), report.Entries)
	}
	for id, w := range want {
		e, ok := got[id]
		if !ok {
			t.Errorf("missing entry for %s", id)
			continue
		}
		if e.Kind != w.kind || e.Origin != w.origin {
			t.Errorf("%s: expected %s/%s, got %s/%s", id, w.kind, w.origin, e.Kind, e.Origin)
		}
	}
}

func TestClassifyDriftIsReadOnly(t *testing.T) {
	declared := mustManifest(t, item("a", `{"v":1}`), item("b", ""))
	observed := mustManifest(t, item("b", ""), item("c", ""))

	beforeDeclared := declared.IDs()
	beforeObserved := observed.IDs()

	_ = ClassifyDrift("flatpak", declared, observed, nil)

	if !reflect.DeepEqual(declared.IDs(), beforeDeclared) {
		t.Error("declared manifest was modified")
	}
	if !reflect.DeepEqual(observed.IDs(), beforeObserved) {
		t.Error("observed manifest was modified")
	}
}

func TestDriftSummaryExitCodes(t *testing.T) {
	clean := &DriftSummary{Reports: []*DriftReport{{Subsystem: "flatpak"}}}
	if clean.ExitCode() != 0 {
		t.Errorf("clean summary: expected 0, got %d", clean.ExitCode())
	}

	drifted := &DriftSummary{Reports: []*DriftReport{
		{Subsystem: "flatpak", Entries: []DriftEntry{{ItemID: "a", Kind: ChangeAdded}}},
	}}
	if drifted.ExitCode() != 1 {
		t.Errorf("drifted summary: expected 1, got %d", drifted.ExitCode())
	}

	failed := &DriftSummary{
		Reports:  drifted.Reports,
		Failures: []DomainFailure{{Subsystem: "settings", Err: errors.New("dconf unavailable")}},
	}
	if failed.ExitCode() != 2 {
		t.Errorf("failed summary: expected 2, got %d", failed.ExitCode())
	}
}
