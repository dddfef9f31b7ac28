package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// appendStep builds a step whose apply and record calls append markers to
// the shared log, so tests can assert exact execution interleaving.
func appendStep(log *[]string, itemID string, action Action, applyErr, recordErr error) Step {
	return Step{
		ItemID: itemID,
		Action: action,
		Apply: func(ctx context.Context) error {
			*log = append(*log, "apply:"+itemID)
			return applyErr
		},
		Record: func(ctx context.Context) error {
			*log = append(*log, "record:"+itemID)
			return recordErr
		},
	}
}

func TestItemPlanDescribeIsPure(t *testing.T) {
	var log []string
	plan := NewItemPlan("flatpak")
	plan.Add(appendStep(&log, "org.gnome.Maps", ActionAdd, nil, nil))
	plan.Add(appendStep(&log, "org.gnome.Weather", ActionRemove, nil, nil))

	desc := plan.Describe()
	if len(log) != 0 {
		t.Fatalf("Describe must not execute anything, saw %v", log)
	}
	if !strings.Contains(desc, "add org.gnome.Maps") {
		t.Errorf("expected add line in description, got: %s", desc)
	}
	if !strings.Contains(desc, "remove org.gnome.Weather") {
		t.Errorf("expected remove line in description, got: %s", desc)
	}
	if plan.IsEmpty() {
		t.Error("plan with steps must not be empty")
	}
	if NewItemPlan("flatpak").Describe() != "flatpak: no changes" {
		t.Error("empty plan description mismatch")
	}
}

func TestItemPlanRecordFollowsEachApply(t *testing.T) {
	var log []string
	plan := NewItemPlan("flatpak")
	plan.Add(appendStep(&log, "a", ActionAdd, nil, nil))
	plan.Add(appendStep(&log, "b", ActionAdd, nil, nil))

	outcomes := plan.Execute(context.Background())

	want := []string{"apply:a", "record:a", "apply:b", "record:b"}
	if len(log) != len(want) {
		t.Fatalf("expected %v, got %v", want, log)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, log)
		}
	}
	for _, o := range outcomes {
		if o.Status != OutcomeSucceeded {
			t.Errorf("item %s: expected succeeded, got %s", o.ItemID, o.Status)
		}
	}
}

func TestItemPlanFailureIsolation(t *testing.T) {
	var log []string
	boom := errors.New("boom")
	plan := NewItemPlan("flatpak")
	plan.Add(appendStep(&log, "a", ActionAdd, nil, nil))
	plan.Add(appendStep(&log, "b", ActionAdd, boom, nil))
	plan.Add(appendStep(&log, "c", ActionAdd, nil, nil))

	outcomes := plan.Execute(context.Background())

	if len(outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(outcomes))
	}
	if outcomes[0].Status != OutcomeSucceeded || outcomes[2].Status != OutcomeSucceeded {
		t.Errorf("items around the failure should still succeed: %v", outcomes)
	}
	if outcomes[1].Status != OutcomeFailed {
		t.Fatalf("expected item b to fail, got %s", outcomes[1].Status)
	}

	var engErr *Error
	if !errors.As(outcomes[1].Err, &engErr) {
		t.Fatalf("expected engine error, got %T", outcomes[1].Err)
	}
	if engErr.Kind != ErrorKindItem || engErr.Subsystem != "flatpak" || engErr.Item != "b" {
		t.Errorf("expected item error with context, got %+v", engErr)
	}
	if !errors.Is(outcomes[1].Err, boom) {
		t.Error("expected the cause to be preserved")
	}

	// The failed item's record must not have run; later items ran fully.
	want := []string{"apply:a", "record:a", "apply:b", "apply:c", "record:c"}
	if len(log) != len(want) {
		t.Fatalf("expected %v, got %v", want, log)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, log)
		}
	}
}

func TestItemPlanRecordFailure(t *testing.T) {
	var log []string
	plan := NewItemPlan("flatpak")
	plan.Add(appendStep(&log, "a", ActionAdd, nil, errors.New("disk full")))

	outcomes := plan.Execute(context.Background())
	if outcomes[0].Status != OutcomeFailed {
		t.Fatalf("expected record failure to fail the item, got %s", outcomes[0].Status)
	}
	var engErr *Error
	if !errors.As(outcomes[0].Err, &engErr) || engErr.Code != ErrCodeManifest {
		t.Errorf("expected manifest error code, got %v", outcomes[0].Err)
	}
}

func TestItemPlanCancellation(t *testing.T) {
	var log []string
	plan := NewItemPlan("flatpak")
	plan.Add(appendStep(&log, "a", ActionAdd, nil, nil))
	plan.Add(appendStep(&log, "b", ActionAdd, nil, nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes := plan.Execute(ctx)
	if len(log) != 0 {
		t.Fatalf("canceled context must not execute steps, saw %v", log)
	}
	for _, o := range outcomes {
		if o.Status != OutcomeSkipped {
			t.Errorf("item %s: expected skipped, got %s", o.ItemID, o.Status)
		}
	}
}

func TestCompositePlanIsEmpty(t *testing.T) {
	comp := NewCompositePlan(OperationSync)
	if !comp.IsEmpty() {
		t.Error("composite with no children must be empty")
	}

	comp.AddChild(NewItemPlan("flatpak"))
	if !comp.IsEmpty() {
		t.Error("composite of empty children must be empty")
	}

	var log []string
	nonEmpty := NewItemPlan("settings")
	nonEmpty.Add(appendStep(&log, "key", ActionUpdate, nil, nil))
	comp.AddChild(nonEmpty)
	if comp.IsEmpty() {
		t.Error("composite with a non-empty child must not be empty")
	}

	// Planning failures show up in the description but not in emptiness.
	failed := NewCompositePlan(OperationSync)
	failed.AddFailure("distrobox", errors.New("podman unavailable"))
	if !failed.IsEmpty() {
		t.Error("failures alone must not make a composite non-empty")
	}
	if !strings.Contains(failed.Describe(), "podman unavailable") {
		t.Errorf("expected failure in description, got: %s", failed.Describe())
	}
}

func TestCompositePlanSubsystemIsolation(t *testing.T) {
	var log []string
	first := NewItemPlan("flatpak")
	first.Add(appendStep(&log, "a", ActionAdd, errors.New("boom"), nil))

	second := NewItemPlan("settings")
	second.Add(appendStep(&log, "key", ActionUpdate, nil, nil))

	comp := NewCompositePlan(OperationSync)
	comp.AddChild(first)
	comp.AddChild(second)

	results := comp.Execute(context.Background())
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Subsystem != "flatpak" || results[1].Subsystem != "settings" {
		t.Errorf("results out of order: %+v", results)
	}
	if results[0].Outcomes[0].Status != OutcomeFailed {
		t.Error("expected flatpak item to fail")
	}
	if results[1].Outcomes[0].Status != OutcomeSucceeded {
		t.Error("a failing subsystem must not stop the next one")
	}
}
