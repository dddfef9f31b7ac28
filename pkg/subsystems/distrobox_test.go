package subsystems

import (
	"context"
	"strings"
	"testing"

	"github.com/wycats/bootsync/pkg/engine"
)

const distroboxListCmd = "distrobox list --no-color"

func TestDistroboxObserve(t *testing.T) {
	f := newFixture(t)
	f.runner.StubOutput(distroboxListCmd,
		"ID           | NAME        | STATUS     | IMAGE\n"+
			"a1b2c3d4e5f6 | dev         | Up 2 hours | quay.io/fedora/fedora-toolbox:41\n"+
			"f6e5d4c3b2a1 | ubuntu-box  | Created    | docker.io/library/ubuntu:24.04\n")

	d := NewDistrobox(f.options())
	items, err := d.observe(context.Background())
	if err != nil {
		t.Fatalf("observe failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("observed %d items, want 2 (header must be skipped)", len(items))
	}
	if items[0].ID != "dev" || string(items[0].Attrs) != `{"image":"quay.io/fedora/fedora-toolbox:41"}` {
		t.Errorf("item 0 = %s %s", items[0].ID, items[0].Attrs)
	}
	if items[1].ID != "ubuntu-box" {
		t.Errorf("item 1 = %s", items[1].ID)
	}
}

func TestDistroboxSyncPlan(t *testing.T) {
	f := newFixture(t)
	f.declare(t, "distrobox",
		item("dev", `{"image":"quay.io/fedora/fedora-toolbox:41"}`),
		item("fresh", `{"image":"quay.io/fedora/fedora-toolbox:42"}`),
		item("legacy", `{"image":"docker.io/library/debian:13"}`),
	)
	f.runner.StubOutput(distroboxListCmd,
		"ID | NAME   | STATUS | IMAGE\n"+
			"a1 | dev    | Up     | quay.io/fedora/fedora-toolbox:41\n"+
			"a2 | legacy | Up     | docker.io/library/debian:12\n"+
			"a3 | stray  | Up     | docker.io/library/alpine:3\n")
	f.runner.StubOutput("distrobox create -n fresh -i quay.io/fedora/fedora-toolbox:42 -Y", "")
	f.runner.StubOutput("distrobox rm -f legacy", "")
	f.runner.StubOutput("distrobox create -n legacy -i docker.io/library/debian:13 -Y", "")
	f.runner.StubOutput("distrobox rm -f stray", "")

	d := NewDistrobox(f.options())
	plan, err := d.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	actions := plan.Actions()
	if len(actions) != 3 {
		t.Fatalf("planned %d actions, want 3: %s", len(actions), plan.Describe())
	}
	if actions[0].ItemID != "fresh" || actions[0].Action != engine.ActionAdd {
		t.Errorf("action 0 = %+v", actions[0])
	}
	if actions[1].ItemID != "legacy" || actions[1].Action != engine.ActionUpdate {
		t.Errorf("action 1 = %+v", actions[1])
	}
	if actions[2].ItemID != "stray" || actions[2].Action != engine.ActionRemove {
		t.Errorf("action 2 = %+v", actions[2])
	}

	outcomes := plan.Execute(context.Background())
	for _, o := range outcomes {
		if o.Status != engine.OutcomeSucceeded {
			t.Errorf("outcome %s = %s: %v", o.ItemID, o.Status, o.Err)
		}
	}

	// Recreation must drop the old container before creating the new one.
	lines := f.runner.CallLines()
	rm, create := -1, -1
	for i, line := range lines {
		if line == "distrobox rm -f legacy" {
			rm = i
		}
		if strings.HasPrefix(line, "distrobox create -n legacy") {
			create = i
		}
	}
	if rm == -1 || create == -1 || rm > create {
		t.Errorf("recreate order wrong: %v", lines)
	}
}

func TestDistroboxMissingImage(t *testing.T) {
	f := newFixture(t)
	f.declare(t, "distrobox", item("noimg", ""))
	f.runner.StubOutput(distroboxListCmd, "")

	d := NewDistrobox(f.options())
	plan, err := d.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	outcomes := plan.Execute(context.Background())
	if len(outcomes) != 1 || outcomes[0].Status != engine.OutcomeFailed {
		t.Fatalf("outcomes = %+v", outcomes)
	}
	if !strings.Contains(outcomes[0].Err.Error(), "declares no image") {
		t.Errorf("err = %v", outcomes[0].Err)
	}
	if f.runner.Called("distrobox create") {
		t.Error("create must not run for a container without an image")
	}
}
