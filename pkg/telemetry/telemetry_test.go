package telemetry

import (
	"context"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	cfg.Logging.Level = "loud"
	if err := cfg.Validate(); err == nil {
		t.Error("expected invalid log level to fail validation")
	}

	cfg = DefaultConfig()
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "jaegerish"
	if err := cfg.Validate(); err == nil {
		t.Error("expected invalid exporter to fail validation")
	}

	cfg = DefaultConfig()
	cfg.Tracing.SamplingRate = 1.5
	if err := cfg.Validate(); err == nil {
		t.Error("expected out-of-range sampling rate to fail validation")
	}
}

func TestEventPublisherSynchronousOrder(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true})
	if err != nil {
		t.Fatalf("NewEventPublisher: %v", err)
	}

	var got []string
	ep.Subscribe(func(e Event) {
		got = append(got, e.Type)
	}, nil)

	if err := ep.PublishRunStarted("run-1", "sync"); err != nil {
		t.Fatalf("PublishRunStarted: %v", err)
	}
	if err := ep.PublishItemApplied("run-1", "flatpak", "org.gnome.Maps", "add"); err != nil {
		t.Fatalf("PublishItemApplied: %v", err)
	}
	if err := ep.PublishRunCompleted("run-1", "sync", 0, time.Second); err != nil {
		t.Fatalf("PublishRunCompleted: %v", err)
	}

	want := []string{EventTypeRunStarted, EventTypeItemApplied, EventTypeRunCompleted}
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestEventPublisherFilters(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true})
	if err != nil {
		t.Fatalf("NewEventPublisher: %v", err)
	}

	var errorsOnly []Event
	ep.Subscribe(func(e Event) {
		errorsOnly = append(errorsOnly, e)
	}, FilterByLevel(EventLevelError))

	var flatpakOnly []Event
	ep.Subscribe(func(e Event) {
		flatpakOnly = append(flatpakOnly, e)
	}, FilterBySubsystem("flatpak"))

	_ = ep.PublishItemApplied("run-1", "flatpak", "org.gnome.Maps", "add")
	_ = ep.PublishItemFailed("run-1", "distrobox", "dev", "command failed")
	_ = ep.PublishDriftDetected("settings", 3)

	if len(errorsOnly) != 1 || errorsOnly[0].Type != EventTypeItemFailed {
		t.Errorf("level filter delivered %d events, expected 1 item.failed", len(errorsOnly))
	}
	if len(flatpakOnly) != 1 || flatpakOnly[0].ItemID != "org.gnome.Maps" {
		t.Errorf("subsystem filter delivered %d events, expected 1 flatpak event", len(flatpakOnly))
	}
}

func TestEventPublisherDisabled(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewEventPublisher: %v", err)
	}

	delivered := false
	ep.Subscribe(func(Event) { delivered = true }, nil)

	if err := ep.PublishRunStarted("run-1", "capture"); err != nil {
		t.Fatalf("publish on disabled publisher should be a no-op, got: %v", err)
	}
	if delivered {
		t.Error("disabled publisher should not deliver events")
	}
	if err := ep.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown on disabled publisher: %v", err)
	}
}

func TestMetricsDisabledIsNoop(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	// None of these should panic on the no-op collector.
	m.RecordRunStarted("sync")
	m.RecordRunCompleted("sync", "succeeded", time.Second)
	m.RecordItem("sync", "flatpak", "succeeded")
	m.RecordSubsystemFailure("drift", "settings")
	m.SetDriftEntries("settings", "local", 2)
	m.SetStagedChanges("osimage", 1)
	m.RecordCommand("flatpak", 50*time.Millisecond, true)
}

func TestMetricsEnabledRegisters(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "bootsync"})
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	m.RecordRunStarted("capture")
	m.RecordRunCompleted("capture", "succeeded", 2*time.Second)
	m.RecordItem("capture", "flatpak", "succeeded")

	if m.Handler() == nil {
		t.Fatal("expected a metrics handler")
	}
}

func TestNewTelemetry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = false

	tel, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	}()

	ctx := tel.WithContext(context.Background())
	if FromTelemetryContext(ctx) != tel {
		t.Error("expected telemetry instance from context")
	}
	if FromContext(ctx) != tel.Logger {
		t.Error("expected logger from context")
	}
}
