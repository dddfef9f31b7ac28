package subsystems

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/wycats/bootsync/pkg/hostenv"
	"github.com/wycats/bootsync/pkg/hostexec"
	"github.com/wycats/bootsync/pkg/manifest"
)

const manifestDir = "/home/test/.config/bootsync/manifests"

// fixture bundles the collaborators a subsystem needs in tests: an
// in-memory host, a manifest store over it, and a recording runner.
type fixture struct {
	env    *hostenv.Mem
	store  *manifest.FileStore
	runner *hostexec.RecordingRunner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	env := hostenv.NewMem()
	return &fixture{
		env:    env,
		store:  manifest.NewFileStore(env, manifestDir, nil),
		runner: hostexec.NewRecordingRunner(),
	}
}

func (f *fixture) options() Options {
	return Options{Manifests: f.store, Runner: f.runner}
}

// declare saves a user manifest for the subsystem.
func (f *fixture) declare(t *testing.T, subsystem string, items ...manifest.Item) {
	t.Helper()
	m := manifest.New()
	for _, it := range items {
		m.Put(it)
	}
	if err := f.store.SaveUser(subsystem, m); err != nil {
		t.Fatalf("SaveUser(%s) failed: %v", subsystem, err)
	}
}

func item(id, attrs string) manifest.Item {
	it := manifest.Item{ID: id}
	if attrs != "" {
		it.Attrs = json.RawMessage(attrs)
	}
	return it
}

type fakeFilter struct {
	drop map[string]bool
	err  error
}

func (f *fakeFilter) Keep(ctx context.Context, subsystem, id string, attrs json.RawMessage) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return !f.drop[id], nil
}

type fakeBaseline struct {
	snapshots map[string]*manifest.Manifest
	err       error
}

func (f *fakeBaseline) LoadBaseline(ctx context.Context, subsystem string) (*manifest.Manifest, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	snap, ok := f.snapshots[subsystem]
	return snap, ok, nil
}

func TestDiffStates(t *testing.T) {
	declared := manifest.New()
	declared.Put(item("a", `{"v":1}`))
	declared.Put(item("b", `{"v":1}`))
	declared.Put(item("c", ""))

	observed := manifest.New()
	observed.Put(item("b", `{"v":2}`))
	observed.Put(item("c", ""))
	observed.Put(item("d", `{"v":9}`))

	diff := diffStates(declared, observed)

	if len(diff.missing) != 1 || diff.missing[0].ID != "a" {
		t.Errorf("missing = %v, want [a]", diff.missing)
	}
	if len(diff.mismatch) != 1 || diff.mismatch[0].declared.ID != "b" {
		t.Errorf("mismatch = %v, want [b]", diff.mismatch)
	}
	if string(diff.mismatch[0].observed.Attrs) != `{"v":2}` {
		t.Errorf("mismatch observed attrs = %s", diff.mismatch[0].observed.Attrs)
	}
	if len(diff.undeclared) != 1 || diff.undeclared[0].ID != "d" {
		t.Errorf("undeclared = %v, want [d]", diff.undeclared)
	}
}

func TestDiffStatesEquivalentAttrs(t *testing.T) {
	declared := manifest.New()
	declared.Put(item("a", `{"x":1,"y":2}`))

	observed := manifest.New()
	observed.Put(item("a", `{ "y": 2, "x": 1 }`))

	diff := diffStates(declared, observed)
	if len(diff.missing)+len(diff.mismatch)+len(diff.undeclared) != 0 {
		t.Errorf("expected no differences, got %+v", diff)
	}
}

func TestObservedManifestLastWins(t *testing.T) {
	m := observedManifest([]manifest.Item{
		item("a", `{"v":1}`),
		item("a", `{"v":2}`),
	})
	if m.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", m.Len())
	}
	got, _ := m.Get("a")
	if string(got.Attrs) != `{"v":2}` {
		t.Errorf("attrs = %s, want last occurrence", got.Attrs)
	}
}

func TestSplitLines(t *testing.T) {
	lines := splitLines([]byte("one\r\n\ntwo\n   \nthree"))
	want := []string{"one", "two", "three"}
	if len(lines) != len(want) {
		t.Fatalf("splitLines returned %v, want %v", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}
