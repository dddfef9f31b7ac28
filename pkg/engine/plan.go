package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Action is the kind of change a plan step makes.
type Action string

const (
	// ActionAdd introduces an item (install, record, create).
	ActionAdd Action = "add"

	// ActionRemove deletes an item.
	ActionRemove Action = "remove"

	// ActionUpdate changes an existing item's attributes.
	ActionUpdate Action = "update"
)

// OutcomeStatus is the terminal state of one executed plan step.
type OutcomeStatus string

const (
	// OutcomeSucceeded means the step applied and was recorded.
	OutcomeSucceeded OutcomeStatus = "succeeded"

	// OutcomeFailed means the step's apply or record returned an error.
	OutcomeFailed OutcomeStatus = "failed"

	// OutcomeSkipped means execution stopped before reaching the step.
	OutcomeSkipped OutcomeStatus = "skipped"
)

// PlannedAction is the inspectable description of one step, available
// before execution for policy checks and dry-run output.
type PlannedAction struct {
	ItemID string          `json:"item_id"`
	Action Action          `json:"action"`
	Detail string          `json:"detail,omitempty"`
	Attrs  json.RawMessage `json:"attrs,omitempty"`
}

// ItemOutcome is the result of executing one step.
type ItemOutcome struct {
	ItemID string        `json:"item_id"`
	Action Action        `json:"action"`
	Status OutcomeStatus `json:"status"`
	Err    error         `json:"-"`
}

// MarshalJSON flattens Err into a string so serialized reports keep the
// failure message.
func (o ItemOutcome) MarshalJSON() ([]byte, error) {
	out := struct {
		ItemID string        `json:"item_id"`
		Action Action        `json:"action"`
		Status OutcomeStatus `json:"status"`
		Error  string        `json:"error,omitempty"`
	}{ItemID: o.ItemID, Action: o.Action, Status: o.Status}
	if o.Err != nil {
		out.Error = o.Err.Error()
	}
	return json.Marshal(out)
}

// Plan is an ordered set of item-level steps for one subsystem. Describe
// and IsEmpty are pure; only Execute touches external state.
type Plan interface {
	// Subsystem returns the owning subsystem id.
	Subsystem() string

	// IsEmpty reports whether the plan contains no steps.
	IsEmpty() bool

	// Actions returns the planned steps in execution order.
	Actions() []PlannedAction

	// Describe renders a human-readable summary without side effects.
	Describe() string

	// Execute runs each step in order. One step failing is recorded and
	// execution continues with the next step; the error never escapes as a
	// return value. The outcome slice always has one entry per step.
	Execute(ctx context.Context) []ItemOutcome
}

// Step is one unit of work inside an ItemPlan. Apply performs the external
// change; Record persists the change into durable state (the manifest) and
// runs only after Apply succeeds. Either func may be nil.
type Step struct {
	ItemID string
	Action Action
	Detail string
	Attrs  json.RawMessage
	Apply  func(ctx context.Context) error
	Record func(ctx context.Context) error
}

// ItemPlan is the standard Plan implementation: a flat ordered step list
// for one subsystem.
type ItemPlan struct {
	subsystem string
	steps     []Step
}

// NewItemPlan returns an empty plan for the subsystem.
func NewItemPlan(subsystem string) *ItemPlan {
	return &ItemPlan{subsystem: subsystem}
}

// Add appends a step.
func (p *ItemPlan) Add(step Step) {
	p.steps = append(p.steps, step)
}

// Subsystem returns the owning subsystem id.
func (p *ItemPlan) Subsystem() string {
	return p.subsystem
}

// IsEmpty reports whether the plan contains no steps.
func (p *ItemPlan) IsEmpty() bool {
	return len(p.steps) == 0
}

// Len returns the number of steps.
func (p *ItemPlan) Len() int {
	return len(p.steps)
}

// Actions returns the planned steps in execution order.
func (p *ItemPlan) Actions() []PlannedAction {
	out := make([]PlannedAction, 0, len(p.steps))
	for _, s := range p.steps {
		out = append(out, PlannedAction{ItemID: s.ItemID, Action: s.Action, Detail: s.Detail, Attrs: s.Attrs})
	}
	return out
}

// Describe renders one line per step.
func (p *ItemPlan) Describe() string {
	if p.IsEmpty() {
		return fmt.Sprintf("%s: no changes", p.subsystem)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d change(s)\n", p.subsystem, len(p.steps))
	for _, s := range p.steps {
		if s.Detail != "" {
			fmt.Fprintf(&b, "  %s %s (%s)\n", s.Action, s.ItemID, s.Detail)
		} else {
			fmt.Fprintf(&b, "  %s %s\n", s.Action, s.ItemID)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// Execute runs the steps in order. A failed step is recorded as failed and
// the remaining steps still run. Context cancellation marks every step not
// yet started as skipped. Record runs only after Apply succeeds, so a crash
// between items leaves exactly the completed items durably recorded.
func (p *ItemPlan) Execute(ctx context.Context) []ItemOutcome {
	outcomes := make([]ItemOutcome, 0, len(p.steps))
	canceled := false
	for _, s := range p.steps {
		if canceled || ctx.Err() != nil {
			canceled = true
			outcomes = append(outcomes, ItemOutcome{ItemID: s.ItemID, Action: s.Action, Status: OutcomeSkipped, Err: ctx.Err()})
			continue
		}
		outcome := ItemOutcome{ItemID: s.ItemID, Action: s.Action, Status: OutcomeSucceeded}
		if s.Apply != nil {
			if err := s.Apply(ctx); err != nil {
				outcome.Status = OutcomeFailed
				outcome.Err = NewItemError(fmt.Sprintf("%s %s failed", s.Action, s.ItemID), err).
					WithSubsystem(p.subsystem).
					WithItem(s.ItemID)
				outcomes = append(outcomes, outcome)
				continue
			}
		}
		if s.Record != nil {
			if err := s.Record(ctx); err != nil {
				outcome.Status = OutcomeFailed
				outcome.Err = NewItemError(fmt.Sprintf("recording %s %s failed", s.Action, s.ItemID), err).
					WithSubsystem(p.subsystem).
					WithItem(s.ItemID).
					WithCode(ErrCodeManifest)
				outcomes = append(outcomes, outcome)
				continue
			}
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}
