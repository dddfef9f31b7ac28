package engine

import (
	"fmt"
	"strings"
	"time"
)

// Report is the full result of one capture or sync run.
type Report struct {
	RunID      string            `json:"run_id"`
	Operation  Operation         `json:"operation"`
	Hostname   string            `json:"hostname"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	DryRun     bool              `json:"dry_run"`
	Declined   bool              `json:"declined"`
	Plan       *CompositePlan    `json:"-"`
	Results    []SubsystemResult `json:"results"`
	Failures   []DomainFailure   `json:"failures,omitempty"`
}

// Succeeded returns the number of successful item outcomes.
func (r *Report) Succeeded() int { return r.countStatus(OutcomeSucceeded) }

// Failed returns the number of failed item outcomes.
func (r *Report) Failed() int { return r.countStatus(OutcomeFailed) }

// Skipped returns the number of skipped item outcomes.
func (r *Report) Skipped() int { return r.countStatus(OutcomeSkipped) }

func (r *Report) countStatus(status OutcomeStatus) int {
	n := 0
	for _, res := range r.Results {
		for _, o := range res.Outcomes {
			if o.Status == status {
				n++
			}
		}
	}
	return n
}

// HasFailures reports whether any item failed or any subsystem's planning
// failed.
func (r *Report) HasFailures() bool {
	return r.Failed() > 0 || len(r.Failures) > 0
}

// ExitCode maps the report to the process exit code: 2 when anything
// failed, 1 when the user declined the plan, 0 otherwise.
func (r *Report) ExitCode() int {
	if r.HasFailures() {
		return 2
	}
	if r.Declined {
		return 1
	}
	return 0
}

// Duration returns the wall-clock time the run took.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Describe renders a one-paragraph summary of the run.
func (r *Report) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d succeeded, %d failed, %d skipped", r.Operation, r.Succeeded(), r.Failed(), r.Skipped())
	if r.DryRun {
		b.WriteString(" (dry run)")
	}
	if r.Declined {
		b.WriteString(" (declined)")
	}
	for _, f := range r.Failures {
		fmt.Fprintf(&b, "\n%s: %v", f.Subsystem, f.Err)
	}
	for _, res := range r.Results {
		for _, o := range res.Outcomes {
			if o.Status == OutcomeFailed {
				fmt.Fprintf(&b, "\n%s/%s: %v", res.Subsystem, o.ItemID, o.Err)
			}
		}
	}
	return b.String()
}

// RunRecord is the persistence-ready view of one run, flattened so every
// operation (capture, sync, drift, staged) shares one history shape.
type RunRecord struct {
	ID         string          `json:"id"`
	Operation  Operation       `json:"operation"`
	Hostname   string          `json:"hostname"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	DryRun     bool            `json:"dry_run"`
	ExitCode   int             `json:"exit_code"`
	Items      []RunItemRecord `json:"items"`
}

// RunItemRecord is one row of run history: an executed step, a drift
// entry, or a staged difference.
type RunItemRecord struct {
	Subsystem string `json:"subsystem"`
	ItemID    string `json:"item_id,omitempty"`
	Action    string `json:"action,omitempty"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// Record flattens an execution report into its history shape.
func (r *Report) Record() *RunRecord {
	rec := &RunRecord{
		ID:         r.RunID,
		Operation:  r.Operation,
		Hostname:   r.Hostname,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		DryRun:     r.DryRun,
		ExitCode:   r.ExitCode(),
	}
	for _, res := range r.Results {
		for _, o := range res.Outcomes {
			item := RunItemRecord{
				Subsystem: res.Subsystem,
				ItemID:    o.ItemID,
				Action:    string(o.Action),
				Status:    string(o.Status),
			}
			if o.Err != nil {
				item.Error = o.Err.Error()
			}
			rec.Items = append(rec.Items, item)
		}
	}
	for _, f := range r.Failures {
		rec.Items = append(rec.Items, RunItemRecord{
			Subsystem: f.Subsystem,
			Status:    "failed",
			Error:     f.Err.Error(),
		})
	}
	return rec
}

// Record flattens a drift summary into its history shape. Origin becomes
// the per-item status so history queries can separate local edits from
// unsynced declarations.
func (s *DriftSummary) Record(id, hostname string, startedAt, finishedAt time.Time) *RunRecord {
	rec := &RunRecord{
		ID:         id,
		Operation:  OperationDrift,
		Hostname:   hostname,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		ExitCode:   s.ExitCode(),
	}
	for _, r := range s.Reports {
		for _, e := range r.Entries {
			rec.Items = append(rec.Items, RunItemRecord{
				Subsystem: r.Subsystem,
				ItemID:    e.ItemID,
				Action:    string(e.Kind),
				Status:    string(e.Origin),
			})
		}
	}
	for _, f := range s.Failures {
		rec.Items = append(rec.Items, RunItemRecord{
			Subsystem: f.Subsystem,
			Status:    "failed",
			Error:     f.Err.Error(),
		})
	}
	return rec
}

// Record flattens a staged summary into its history shape.
func (s *StagedSummary) Record(id, hostname string, startedAt, finishedAt time.Time) *RunRecord {
	rec := &RunRecord{
		ID:         id,
		Operation:  OperationStaged,
		Hostname:   hostname,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		ExitCode:   s.ExitCode(),
	}
	for _, r := range s.Reports {
		for _, e := range r.Entries {
			rec.Items = append(rec.Items, RunItemRecord{
				Subsystem: r.Subsystem,
				ItemID:    e.ItemID,
				Action:    string(e.Kind),
				Status:    "pending",
			})
		}
	}
	for _, f := range s.Failures {
		rec.Items = append(rec.Items, RunItemRecord{
			Subsystem: f.Subsystem,
			Status:    "failed",
			Error:     f.Err.Error(),
		})
	}
	return rec
}
