package subsystems

import (
	"context"
	"strings"
	"testing"

	"github.com/wycats/bootsync/pkg/engine"
)

const (
	extListCmd    = "gnome-extensions list"
	extEnabledCmd = "gnome-extensions list --enabled"
)

func TestExtensionsCaptureEnabledOnly(t *testing.T) {
	f := newFixture(t)
	f.declare(t, "extensions", item("dash-to-dock@micxgx.gmail.com", ""))
	f.runner.StubOutput(extListCmd,
		"dash-to-dock@micxgx.gmail.com\ncaffeine@patapon.info\nblur-my-shell@aunetx\n")
	f.runner.StubOutput(extEnabledCmd,
		"dash-to-dock@micxgx.gmail.com\nblur-my-shell@aunetx\n")

	e := NewExtensions(f.options())
	plan, err := e.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}

	actions := plan.Actions()
	if len(actions) != 1 || actions[0].ItemID != "blur-my-shell@aunetx" {
		t.Fatalf("planned %v, want only the enabled undeclared extension", actions)
	}

	outcomes := plan.Execute(context.Background())
	if outcomes[0].Status != engine.OutcomeSucceeded {
		t.Fatalf("outcome = %+v", outcomes[0])
	}
	user, err := f.store.LoadUser("extensions")
	if err != nil {
		t.Fatalf("LoadUser failed: %v", err)
	}
	if !user.Has("blur-my-shell@aunetx") {
		t.Errorf("user manifest ids = %v", user.IDs())
	}
	if user.Has("caffeine@patapon.info") {
		t.Error("capture recorded an extension that is merely installed")
	}
}

func TestExtensionsSyncPlan(t *testing.T) {
	f := newFixture(t)
	f.declare(t, "extensions",
		item("dash-to-dock@micxgx.gmail.com", ""),
		item("caffeine@patapon.info", ""),
		item("missing@example.org", ""),
	)
	f.runner.StubOutput(extListCmd,
		"dash-to-dock@micxgx.gmail.com\ncaffeine@patapon.info\nblur-my-shell@aunetx\n")
	f.runner.StubOutput(extEnabledCmd,
		"dash-to-dock@micxgx.gmail.com\nblur-my-shell@aunetx\n")
	f.runner.StubOutput("gnome-extensions enable caffeine@patapon.info", "")
	f.runner.StubOutput("gnome-extensions disable blur-my-shell@aunetx", "")

	e := NewExtensions(f.options())
	plan, err := e.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	actions := plan.Actions()
	if len(actions) != 3 {
		t.Fatalf("planned %d actions, want 3: %s", len(actions), plan.Describe())
	}
	if actions[0].ItemID != "caffeine@patapon.info" || actions[0].Action != engine.ActionAdd {
		t.Errorf("action 0 = %+v", actions[0])
	}
	if actions[1].ItemID != "missing@example.org" || actions[1].Detail != "enable (not installed)" {
		t.Errorf("action 1 = %+v", actions[1])
	}
	if actions[2].ItemID != "blur-my-shell@aunetx" || actions[2].Action != engine.ActionRemove {
		t.Errorf("action 2 = %+v", actions[2])
	}

	outcomes := plan.Execute(context.Background())
	if outcomes[0].Status != engine.OutcomeSucceeded {
		t.Errorf("enable outcome = %+v", outcomes[0])
	}
	if outcomes[1].Status != engine.OutcomeFailed {
		t.Errorf("uninstalled extension outcome = %+v, want failed", outcomes[1])
	}
	if outcomes[1].Err == nil || !strings.Contains(outcomes[1].Err.Error(), "not installed") {
		t.Errorf("err = %v", outcomes[1].Err)
	}
	if outcomes[2].Status != engine.OutcomeSucceeded {
		t.Errorf("disable outcome after a failed sibling = %+v", outcomes[2])
	}
}

func TestExtensionsDrift(t *testing.T) {
	f := newFixture(t)
	f.declare(t, "extensions",
		item("dash-to-dock@micxgx.gmail.com", ""),
		item("caffeine@patapon.info", ""),
	)
	f.runner.StubOutput(extListCmd, "dash-to-dock@micxgx.gmail.com\nblur-my-shell@aunetx\n")
	f.runner.StubOutput(extEnabledCmd, "dash-to-dock@micxgx.gmail.com\nblur-my-shell@aunetx\n")

	ext := NewExtensions(f.options())
	report, err := ext.Drift(context.Background())
	if err != nil {
		t.Fatalf("Drift failed: %v", err)
	}

	got := make(map[string]engine.DriftEntry)
	for _, entry := range report.Entries {
		got[entry.ItemID] = entry
	}
	if len(got) != 2 {
		t.Fatalf("entries = %+v", report.Entries)
	}
	if e := got["caffeine@patapon.info"]; e.Kind != engine.ChangeRemoved || e.Origin != engine.OriginUnknown {
		t.Errorf("caffeine entry = %+v", e)
	}
	if e := got["blur-my-shell@aunetx"]; e.Kind != engine.ChangeAdded {
		t.Errorf("blur-my-shell entry = %+v", e)
	}
}
