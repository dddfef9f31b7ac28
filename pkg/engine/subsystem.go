package engine

import (
	"context"
	"fmt"

	"github.com/wycats/bootsync/pkg/manifest"
)

// Tier describes the lifecycle model of a subsystem's external state.
type Tier string

const (
	// TierAtomic means state is bound to an immutable, rebuild-requiring
	// artifact (an OS image deployment). No sync is possible; only capture
	// and staged apply.
	TierAtomic Tier = "atomic"

	// TierConvergent means state lives in a mutable runtime that can be
	// nudged toward the manifest. All of capture, sync, and drift apply.
	TierConvergent Tier = "convergent"
)

// Validate checks that the tier is a known value.
func (t Tier) Validate() error {
	switch t {
	case TierAtomic, TierConvergent:
		return nil
	default:
		return fmt.Errorf("invalid tier: %s", t)
	}
}

// SupportsCapture reports whether the tier participates in capture. Both
// tiers do: atomic state still yields manifest additions (layered packages).
func (t Tier) SupportsCapture() bool {
	return t == TierAtomic || t == TierConvergent
}

// SupportsSync reports whether the tier participates in sync.
func (t Tier) SupportsSync() bool {
	return t == TierConvergent
}

// SupportsDrift reports whether the tier participates in drift detection.
func (t Tier) SupportsDrift() bool {
	return t == TierConvergent
}

// SupportsStaged reports whether the tier participates in staged comparison.
func (t Tier) SupportsStaged() bool {
	return t == TierAtomic
}

// Phase is the ordering bucket a subsystem executes in. Sync visits phases
// in ascending order; capture visits them in descending order.
type Phase string

const (
	// PhaseInfrastructure runs first on sync: containers and other substrate
	// later phases depend on.
	PhaseInfrastructure Phase = "infrastructure"

	// PhasePackages runs second on sync: application and package sets.
	PhasePackages Phase = "packages"

	// PhaseConfiguration runs last on sync: settings and glue that reference
	// the previous phases.
	PhaseConfiguration Phase = "configuration"
)

// Validate checks that the phase is a known value.
func (p Phase) Validate() error {
	switch p {
	case PhaseInfrastructure, PhasePackages, PhaseConfiguration:
		return nil
	default:
		return fmt.Errorf("invalid phase: %s", p)
	}
}

// Order returns the phase's position in the total order. Unknown phases sort
// last.
func (p Phase) Order() int {
	switch p {
	case PhaseInfrastructure:
		return 0
	case PhasePackages:
		return 1
	case PhaseConfiguration:
		return 2
	default:
		return 3
	}
}

// Operation is one of the four orchestrator operations.
type Operation string

const (
	// OperationCapture converges runtime state into the user manifest
	// (additions only).
	OperationCapture Operation = "capture"

	// OperationSync converges external state toward the manifest.
	OperationSync Operation = "sync"

	// OperationDrift compares manifest, runtime, and baseline read-only.
	OperationDrift Operation = "drift"

	// OperationStaged compares a pending artifact against the active one.
	OperationStaged Operation = "staged"
)

// Validate checks that the operation is a known value.
func (o Operation) Validate() error {
	switch o {
	case OperationCapture, OperationSync, OperationDrift, OperationStaged:
		return nil
	default:
		return fmt.Errorf("invalid operation: %s", o)
	}
}

// Mutates reports whether the operation can change manifests or external
// state. Drift and staged are read-only by construction.
func (o Operation) Mutates() bool {
	return o == OperationCapture || o == OperationSync
}

// Subsystem is the contract a configuration domain implements to join the
// reconciliation engine. Capability methods return (nil, nil) when the
// subsystem's tier does not apply; a tier mismatch is a static property,
// never a runtime fault.
type Subsystem interface {
	// ID returns the stable short name used for filtering and reporting.
	ID() string

	// Tier returns the subsystem's lifecycle model.
	Tier() Tier

	// Phase returns the subsystem's execution ordering bucket.
	Phase() Phase

	// Manifest loads the merged (system + user) declared state.
	Manifest(ctx context.Context) (*manifest.Manifest, error)

	// Capture diffs current external state against the manifest and returns
	// a plan recording additions into the user manifest. Items missing
	// externally are never auto-removed by capture. Returns (nil, nil) when
	// nothing supports capture here.
	Capture(ctx context.Context) (Plan, error)

	// Sync diffs the manifest against external state and returns a plan that
	// mutates external state to match. Returns (nil, nil) on atomic tiers.
	Sync(ctx context.Context) (Plan, error)

	// Drift compares manifest intent, current external state, and the
	// baseline (when one exists) without side effects. Returns (nil, nil) on
	// atomic tiers.
	Drift(ctx context.Context) (*DriftReport, error)

	// Staged compares a pending, not-yet-active artifact against the active
	// one, independent of any manifest. Returns (nil, nil) on convergent
	// tiers.
	Staged(ctx context.Context) (*StagedReport, error)
}

// BaselineSource supplies the last-applied snapshot for a subsystem.
// Implementations return ok=false when no baseline has been taken; drift
// then degrades to a two-way comparison.
type BaselineSource interface {
	LoadBaseline(ctx context.Context, subsystem string) (*manifest.Manifest, bool, error)
}
