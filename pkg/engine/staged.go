package engine

import (
	"fmt"
	"strings"
)

// StagedEntry is one difference between a staged artifact and the active
// one. Kind is read active-to-staged: added means new in the staged
// artifact, removed means dropped from it.
type StagedEntry struct {
	ItemID string     `json:"item_id"`
	Kind   ChangeKind `json:"kind"`
	From   string     `json:"from,omitempty"`
	To     string     `json:"to,omitempty"`
}

// StagedReport is the pending-versus-active comparison for one atomic
// subsystem. Pending is false when no staged artifact exists; Entries is
// then empty.
type StagedReport struct {
	Subsystem string        `json:"subsystem"`
	Pending   bool          `json:"pending"`
	Entries   []StagedEntry `json:"entries"`
}

// HasChanges reports whether a staged artifact exists and differs from the
// active one.
func (r *StagedReport) HasChanges() bool {
	return r.Pending && len(r.Entries) > 0
}

// Describe renders one line per staged entry.
func (r *StagedReport) Describe() string {
	if !r.Pending {
		return fmt.Sprintf("%s: nothing staged", r.Subsystem)
	}
	if len(r.Entries) == 0 {
		return fmt.Sprintf("%s: staged artifact matches active", r.Subsystem)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d staged change(s)\n", r.Subsystem, len(r.Entries))
	for _, e := range r.Entries {
		switch e.Kind {
		case ChangeModified:
			fmt.Fprintf(&b, "  %s %s (%s -> %s)\n", e.Kind, e.ItemID, e.From, e.To)
		case ChangeAdded:
			fmt.Fprintf(&b, "  %s %s (%s)\n", e.Kind, e.ItemID, e.To)
		case ChangeRemoved:
			fmt.Fprintf(&b, "  %s %s (%s)\n", e.Kind, e.ItemID, e.From)
		default:
			fmt.Fprintf(&b, "  %s %s\n", e.Kind, e.ItemID)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// StagedSummary aggregates per-subsystem staged reports for one run.
type StagedSummary struct {
	Reports  []*StagedReport `json:"reports"`
	Failures []DomainFailure `json:"failures,omitempty"`
}

// HasChanges reports whether any subsystem has pending differences.
func (s *StagedSummary) HasChanges() bool {
	for _, r := range s.Reports {
		if r.HasChanges() {
			return true
		}
	}
	return false
}

// ExitCode maps the summary to the process exit code: 2 when any subsystem
// failed to report, 1 when staged changes are pending, 0 when nothing is
// staged or staged matches active.
func (s *StagedSummary) ExitCode() int {
	if len(s.Failures) > 0 {
		return 2
	}
	if s.HasChanges() {
		return 1
	}
	return 0
}
