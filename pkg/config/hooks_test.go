package config

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/wycats/bootsync/pkg/hostenv"
)

const hooksPath = "/home/test/.config/bootsync/hooks.star"

func loadHook(t *testing.T, script string, timeout time.Duration) *CaptureHook {
	t.Helper()
	env := hostenv.NewMem()
	env.AddFile(hooksPath, []byte(script))

	hook, err := LoadCaptureHook(env, hooksPath, timeout)
	if err != nil {
		t.Fatalf("failed to load hook: %v", err)
	}
	if hook == nil {
		t.Fatal("expected a hook")
	}
	return hook
}

func TestLoadCaptureHookMissingFile(t *testing.T) {
	env := hostenv.NewMem()

	hook, err := LoadCaptureHook(env, hooksPath, 0)
	if err != nil {
		t.Fatalf("a missing file must not be an error: %v", err)
	}
	if hook != nil {
		t.Fatal("expected no hook for a missing file")
	}
}

func TestLoadCaptureHookWithoutFunction(t *testing.T) {
	env := hostenv.NewMem()
	env.AddFile(hooksPath, []byte("some_other_setting = 42\n"))

	hook, err := LoadCaptureHook(env, hooksPath, 0)
	if err != nil {
		t.Fatalf("a file without the function must not be an error: %v", err)
	}
	if hook != nil {
		t.Fatal("expected no hook when capture_filter is undefined")
	}
}

func TestLoadCaptureHookBadSyntax(t *testing.T) {
	env := hostenv.NewMem()
	env.AddFile(hooksPath, []byte("def capture_filter(\n"))

	if _, err := LoadCaptureHook(env, hooksPath, 0); err == nil {
		t.Fatal("expected a load error for bad syntax")
	}
}

func TestLoadCaptureHookNotCallable(t *testing.T) {
	env := hostenv.NewMem()
	env.AddFile(hooksPath, []byte("capture_filter = 42\n"))

	if _, err := LoadCaptureHook(env, hooksPath, 0); err == nil {
		t.Fatal("expected an error when capture_filter is not callable")
	}
}

func TestCaptureHookKeep(t *testing.T) {
	hook := loadHook(t, `
def capture_filter(subsystem, id, attrs):
    if subsystem == "flatpak" and id.startswith("com.example."):
        return False
    if attrs.get("origin") == "unstable":
        return False
    return True
`, 5*time.Second)

	ctx := context.Background()
	tests := []struct {
		name      string
		subsystem string
		id        string
		attrs     string
		want      bool
	}{
		{
			name:      "plain item kept",
			subsystem: "flatpak",
			id:        "org.gnome.Maps",
			attrs:     `{"origin":"flathub"}`,
			want:      true,
		},
		{
			name:      "rejected by id prefix",
			subsystem: "flatpak",
			id:        "com.example.Internal",
			attrs:     `{"origin":"flathub"}`,
			want:      false,
		},
		{
			name:      "rejected by attr",
			subsystem: "flatpak",
			id:        "org.gnome.Boxes",
			attrs:     `{"origin":"unstable"}`,
			want:      false,
		},
		{
			name:      "prefix only applies to flatpak",
			subsystem: "distrobox",
			id:        "com.example.Internal",
			attrs:     `{}`,
			want:      true,
		},
		{
			name:      "nil attrs read as empty dict",
			subsystem: "settings",
			id:        "/org/gnome/desktop/interface/clock-show-seconds",
			attrs:     "",
			want:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attrs json.RawMessage
			if tt.attrs != "" {
				attrs = json.RawMessage(tt.attrs)
			}
			got, err := hook.Keep(ctx, tt.subsystem, tt.id, attrs)
			if err != nil {
				t.Fatalf("keep failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected keep=%v, got %v", tt.want, got)
			}
		})
	}
}

func TestCaptureHookFailurePropagates(t *testing.T) {
	hook := loadHook(t, `
def capture_filter(subsystem, id, attrs):
    fail("rejected on principle")
`, 5*time.Second)

	_, err := hook.Keep(context.Background(), "flatpak", "org.gnome.Maps", nil)
	if err == nil {
		t.Fatal("expected the failure to propagate")
	}
	if !strings.Contains(err.Error(), "rejected on principle") {
		t.Errorf("expected the hook message in the error, got %v", err)
	}
}

func TestCaptureHookRequiresBool(t *testing.T) {
	hook := loadHook(t, `
def capture_filter(subsystem, id, attrs):
    return "yes"
`, 5*time.Second)

	_, err := hook.Keep(context.Background(), "flatpak", "org.gnome.Maps", nil)
	if err == nil {
		t.Fatal("expected an error for a non-bool return")
	}
	if !strings.Contains(err.Error(), "bool") {
		t.Errorf("error should name the expected type, got %v", err)
	}
}

func TestCaptureHookTimeout(t *testing.T) {
	hook := loadHook(t, `
def capture_filter(subsystem, id, attrs):
    n = 0
    for i in range(1000000000):
        n += i
    return True
`, 100*time.Millisecond)

	_, err := hook.Keep(context.Background(), "flatpak", "org.gnome.Maps", nil)
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("expected a timeout error, got %v", err)
	}
}
