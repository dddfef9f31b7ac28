// Package engine provides the core types and operations of the bootsync
// reconciliation engine.
//
// # Overview
//
// bootsync keeps a Linux workstation's installed state aligned with ordered,
// per-subsystem manifests. The engine runs four operations over a registry
// of subsystems:
//
//  1. Capture - read runtime state and record additions into the manifests
//  2. Sync - converge runtime state toward the manifests
//  3. Drift - compare manifests, runtime, and baselines without side effects
//  4. Staged - compare a pending artifact against the active one
//
// # Core Domain Types
//
//   - Subsystem: one configuration domain (flatpaks, containers, settings)
//   - Tier: the lifecycle model (atomic or convergent) deciding which
//     operations apply
//   - Phase: the ordering bucket (infrastructure, packages, configuration)
//   - Registry: ordered subsystem collection deriving per-operation views
//   - Plan / ItemPlan: ordered item-level steps for one subsystem
//   - CompositePlan: per-run aggregation of subsystem plans
//   - Report, DriftSummary, StagedSummary: per-operation results with exit
//     code mapping
//
// # Execution Model
//
// Everything is synchronous and single-threaded: one subsystem at a time in
// phase order, one item at a time in manifest order. Failure isolation is
// layered. A failing item is recorded in its outcome and the remaining
// items still run; a subsystem whose planning fails is recorded as a
// DomainFailure and the remaining subsystems still run. Durable recording
// happens immediately after each successful item, so an interrupted run
// leaves exactly the completed items recorded.
//
// # Collaborator Interfaces
//
//   - StateStore: run history and baseline snapshots
//   - PlanGate: policy veto over a sync plan before execution
//   - Publisher: pushes captured manifest changes somewhere reviewable
//   - BaselineSource: read access to baselines for drift classification
//
// # Error Classification
//
// Errors carry a kind deciding how they propagate:
//
//   - validation: rejected input, fails the invocation before any work
//   - domain: one subsystem broke as a whole, siblings continue
//   - item: one item broke, siblings continue
//   - state: history or baseline persistence broke, downgraded to warnings
//   - internal: bugs and unexpected conditions
//
// A capability that does not apply to a subsystem's tier is not an error at
// all: the subsystem answers with (nil, nil) and the orchestrator moves on.
package engine
