package policy

// Severity classifies how a violation affects the sync gate verdict.
type Severity string

const (
	// SeverityInfo is advisory only.
	SeverityInfo Severity = "info"

	// SeverityWarning is logged but never blocks a run.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the run.
	SeverityError Severity = "error"

	// SeverityCritical blocks the run.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether the severity denies a sync plan.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is a single Rego rule set evaluated against sync plans.
type Policy struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Rego        string   `json:"rego"`
	Severity    Severity `json:"severity,omitempty"`
	Enabled     bool     `json:"enabled"`
	Tags        []string `json:"tags,omitempty"`

	// Source is the file the policy was loaded from. Empty for builtins.
	Source string `json:"source,omitempty"`
}

// Violation is one deny result produced by a policy.
type Violation struct {
	Policy    string   `json:"policy"`
	Subsystem string   `json:"subsystem,omitempty"`
	Message   string   `json:"message"`
	Severity  Severity `json:"severity"`
}

// Thresholds tune the builtin mass-removal rule. They are published to
// policies as the data.bootsync.config document.
type Thresholds struct {
	// MassRemovalShare is the fraction of a subsystem's declared items
	// above which a removal plan is denied.
	MassRemovalShare float64

	// MassRemovalMin is the smallest removal count the rule fires on.
	MassRemovalMin int
}

// DefaultThresholds deny plans removing more than half of a subsystem's
// declared items, three removals minimum.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MassRemovalShare: 0.5,
		MassRemovalMin:   3,
	}
}
