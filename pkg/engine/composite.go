package engine

import (
	"context"
	"encoding/json"
	"strings"
)

// DomainFailure records a subsystem whose planning (or report building)
// failed as a whole. The failure is carried alongside the surviving plans
// so one broken subsystem never aborts the others.
type DomainFailure struct {
	Subsystem string `json:"subsystem"`
	Err       error  `json:"-"`
}

// MarshalJSON flattens Err into a string so serialized reports keep the
// failure message.
func (f DomainFailure) MarshalJSON() ([]byte, error) {
	out := struct {
		Subsystem string `json:"subsystem"`
		Error     string `json:"error,omitempty"`
	}{Subsystem: f.Subsystem}
	if f.Err != nil {
		out.Error = f.Err.Error()
	}
	return json.Marshal(out)
}

// SubsystemResult is the executed outcome set for one child plan.
type SubsystemResult struct {
	Subsystem string        `json:"subsystem"`
	Outcomes  []ItemOutcome `json:"outcomes"`
}

// CompositePlan aggregates per-subsystem plans for one operation run,
// preserving the order planning produced them in.
type CompositePlan struct {
	operation Operation
	children  []Plan
	failures  []DomainFailure
}

// NewCompositePlan returns an empty composite for the operation.
func NewCompositePlan(op Operation) *CompositePlan {
	return &CompositePlan{operation: op}
}

// Operation returns the operation this composite was planned for.
func (c *CompositePlan) Operation() Operation {
	return c.operation
}

// AddChild appends a subsystem plan.
func (c *CompositePlan) AddChild(plan Plan) {
	c.children = append(c.children, plan)
}

// AddFailure records a subsystem whose planning failed.
func (c *CompositePlan) AddFailure(subsystem string, err error) {
	c.failures = append(c.failures, DomainFailure{Subsystem: subsystem, Err: err})
}

// Children returns the child plans in planning order.
func (c *CompositePlan) Children() []Plan {
	return c.children
}

// Failures returns the subsystems whose planning failed.
func (c *CompositePlan) Failures() []DomainFailure {
	return c.failures
}

// IsEmpty reports whether every child plan is empty. Planning failures do
// not make a composite non-empty; they are surfaced separately.
func (c *CompositePlan) IsEmpty() bool {
	for _, child := range c.children {
		if !child.IsEmpty() {
			return false
		}
	}
	return true
}

// Describe renders every non-empty child description plus planning failures.
func (c *CompositePlan) Describe() string {
	var parts []string
	for _, child := range c.children {
		if !child.IsEmpty() {
			parts = append(parts, child.Describe())
		}
	}
	for _, f := range c.failures {
		parts = append(parts, f.Subsystem+": planning failed: "+f.Err.Error())
	}
	if len(parts) == 0 {
		return "no changes"
	}
	return strings.Join(parts, "\n")
}

// Execute runs the child plans in order. A child with failing steps does
// not stop the children after it; context cancellation shows up as skipped
// outcomes inside each remaining child.
func (c *CompositePlan) Execute(ctx context.Context) []SubsystemResult {
	results := make([]SubsystemResult, 0, len(c.children))
	for _, child := range c.children {
		results = append(results, SubsystemResult{
			Subsystem: child.Subsystem(),
			Outcomes:  child.Execute(ctx),
		})
	}
	return results
}
