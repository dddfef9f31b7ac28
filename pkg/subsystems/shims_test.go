package subsystems

import (
	"context"
	"strings"
	"testing"

	"github.com/wycats/bootsync/pkg/engine"
	"github.com/wycats/bootsync/pkg/hostexec"
)

const shimsBinDir = "/home/test/.local/bin"

func shimScanCmd() string {
	return "sh -c grep -H '^# bootsync-shim:' '" + shimsBinDir + "'/* 2>/dev/null"
}

func shimWriteCmd(name string) string {
	quoted := "'" + shimsBinDir + "/" + name + "'"
	return "sh -c cat > " + quoted + " && chmod 755 " + quoted
}

func TestShimsObserve(t *testing.T) {
	f := newFixture(t)
	f.runner.StubOutput(shimScanCmd(),
		shimsBinDir+`/dev-code:# bootsync-shim: {"target":"dev","kind":"distrobox"}`+"\n"+
			shimsBinDir+`/spotify:# bootsync-shim: {"target":"com.spotify.Client","kind":"flatpak"}`+"\n"+
			shimsBinDir+`/broken:# bootsync-shim: {nope`+"\n")

	s := NewShims(f.options(), shimsBinDir)
	items, err := s.observe(context.Background())
	if err != nil {
		t.Fatalf("observe failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("observed %d items, want 2 (unreadable marker must be skipped)", len(items))
	}
	if items[0].ID != "dev-code" || string(items[0].Attrs) != `{"target":"dev","kind":"distrobox"}` {
		t.Errorf("item 0 = %s %s", items[0].ID, items[0].Attrs)
	}
	if items[1].ID != "spotify" || string(items[1].Attrs) != `{"target":"com.spotify.Client","kind":"flatpak"}` {
		t.Errorf("item 1 = %s %s", items[1].ID, items[1].Attrs)
	}
}

func TestShimsObserveEmptyDirectory(t *testing.T) {
	f := newFixture(t)
	// grep exits 1 when no file carries the marker.
	f.runner.Stub(shimScanCmd(), &hostexec.Result{ExitCode: 1})

	s := NewShims(f.options(), shimsBinDir)
	items, err := s.observe(context.Background())
	if err != nil {
		t.Fatalf("observe failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("observed %d items, want none", len(items))
	}
}

func TestShimsObserveScanError(t *testing.T) {
	f := newFixture(t)
	f.runner.Stub(shimScanCmd(), &hostexec.Result{
		ExitCode: 2,
		Stderr:   []byte("grep: " + shimsBinDir + ": Permission denied"),
	})

	s := NewShims(f.options(), shimsBinDir)
	_, err := s.observe(context.Background())
	if err == nil {
		t.Fatal("expected an error for grep exit codes above 1")
	}
	if !strings.Contains(err.Error(), "shim scan failed") {
		t.Errorf("err = %v", err)
	}
}

func TestShimsSyncCreatesAndRemoves(t *testing.T) {
	f := newFixture(t)
	f.declare(t, "shims", item("dev-code", `{"target":"dev","kind":"distrobox"}`))
	f.runner.StubOutput(shimScanCmd(),
		shimsBinDir+`/old-tool:# bootsync-shim: {"target":"org.old.Tool","kind":"flatpak"}`+"\n")
	f.runner.StubOutput(shimWriteCmd("dev-code"), "")
	f.runner.StubOutput("rm -f "+shimsBinDir+"/old-tool", "")

	s := NewShims(f.options(), shimsBinDir)
	plan, err := s.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	actions := plan.Actions()
	if len(actions) != 2 {
		t.Fatalf("planned %d actions, want 2: %s", len(actions), plan.Describe())
	}
	if actions[0].ItemID != "dev-code" || actions[0].Action != engine.ActionAdd {
		t.Errorf("action 0 = %+v", actions[0])
	}
	if actions[1].ItemID != "old-tool" || actions[1].Action != engine.ActionRemove {
		t.Errorf("action 1 = %+v", actions[1])
	}

	outcomes := plan.Execute(context.Background())
	for _, o := range outcomes {
		if o.Status != engine.OutcomeSucceeded {
			t.Errorf("outcome %s = %s: %v", o.ItemID, o.Status, o.Err)
		}
	}

	var script string
	for _, call := range f.runner.Calls {
		if call.Program == "sh" && len(call.Args) == 2 && strings.HasPrefix(call.Args[1], "cat > ") {
			script = string(call.Stdin)
		}
	}
	if script == "" {
		t.Fatal("no launcher was written")
	}
	if !strings.HasPrefix(script, "#!/bin/sh\n") {
		t.Errorf("script = %q", script)
	}
	if !strings.Contains(script, `# bootsync-shim: {"target":"dev","kind":"distrobox"}`) {
		t.Errorf("script marker missing: %q", script)
	}
	if !strings.Contains(script, `exec distrobox enter dev -- dev-code "$@"`) {
		t.Errorf("script launch line missing: %q", script)
	}
}

func TestShimsRoundTrip(t *testing.T) {
	f := newFixture(t)
	// Declared attrs use a different key order than the marker encodes.
	f.declare(t, "shims", item("spotify", `{"kind":"flatpak","target":"com.spotify.Client"}`))
	f.runner.StubOutput(shimScanCmd(),
		shimsBinDir+`/spotify:# bootsync-shim: {"target":"com.spotify.Client","kind":"flatpak"}`+"\n")

	s := NewShims(f.options(), shimsBinDir)
	plan, err := s.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if !plan.IsEmpty() {
		t.Errorf("expected no changes, got %s", plan.Describe())
	}
}

func TestShimsInvalidDeclarations(t *testing.T) {
	f := newFixture(t)
	f.declare(t, "shims",
		item("no-target", `{"kind":"distrobox"}`),
		item("weird", `{"target":"x","kind":"qemu"}`),
	)
	f.runner.Stub(shimScanCmd(), &hostexec.Result{ExitCode: 1})

	s := NewShims(f.options(), shimsBinDir)
	plan, err := s.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	outcomes := plan.Execute(context.Background())
	if len(outcomes) != 2 {
		t.Fatalf("outcomes = %+v", outcomes)
	}
	if outcomes[0].Status != engine.OutcomeFailed || !strings.Contains(outcomes[0].Err.Error(), "declares no target") {
		t.Errorf("outcome 0 = %+v", outcomes[0])
	}
	if outcomes[1].Status != engine.OutcomeFailed || !strings.Contains(outcomes[1].Err.Error(), "unknown kind") {
		t.Errorf("outcome 1 = %+v", outcomes[1])
	}
}

func TestShimScript(t *testing.T) {
	script, err := shimScript("dev-code", shimAttrs{Target: "dev", Kind: "distrobox"})
	if err != nil {
		t.Fatalf("shimScript failed: %v", err)
	}
	want := "#!/bin/sh\n" +
		`# bootsync-shim: {"target":"dev","kind":"distrobox"}` + "\n" +
		`exec distrobox enter dev -- dev-code "$@"` + "\n"
	if script != want {
		t.Errorf("script = %q, want %q", script, want)
	}

	script, err = shimScript("maps", shimAttrs{Target: "org.gnome.Maps", Kind: "flatpak"})
	if err != nil {
		t.Fatalf("shimScript failed: %v", err)
	}
	if !strings.Contains(script, `exec flatpak run org.gnome.Maps "$@"`) {
		t.Errorf("flatpak script = %q", script)
	}

	if _, err := shimScript("x", shimAttrs{Target: "y", Kind: "qemu"}); err == nil {
		t.Error("expected an error for an unknown kind")
	}
}
