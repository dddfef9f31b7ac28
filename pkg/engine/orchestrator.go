package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/wycats/bootsync/pkg/manifest"
	"github.com/wycats/bootsync/pkg/telemetry"
)

// StateStore persists run history and sync baselines. Implementations live
// outside the engine; the orchestrator treats persistence failures as
// warnings, never as run failures.
type StateStore interface {
	// RecordRun appends one run to the history.
	RecordRun(ctx context.Context, rec *RunRecord) error

	// SaveBaseline replaces the baseline snapshot for a subsystem.
	SaveBaseline(ctx context.Context, subsystem string, m *manifest.Manifest, runID string) error

	// LoadBaseline returns the baseline snapshot for a subsystem, with
	// ok=false when none has been taken.
	LoadBaseline(ctx context.Context, subsystem string) (*manifest.Manifest, bool, error)
}

// GateInput is the policy-visible view of one subsystem's sync plan.
type GateInput struct {
	Subsystem string          `json:"subsystem"`
	Declared  int             `json:"declared"`
	Actions   []PlannedAction `json:"actions"`
}

// GateDecision is the policy verdict over a whole sync run.
type GateDecision struct {
	Allowed bool     `json:"allowed"`
	Reasons []string `json:"reasons,omitempty"`
}

// PlanGate evaluates a sync plan before anything executes. A denial stops
// the entire run with nothing applied.
type PlanGate interface {
	EvaluateSync(ctx context.Context, inputs []GateInput) (*GateDecision, error)
}

// Publisher receives completed capture runs so manifest changes can be
// pushed somewhere reviewable.
type Publisher interface {
	PublishRun(ctx context.Context, report *Report) error
}

// Options narrows and shapes one orchestrator run.
type Options struct {
	// Only restricts the run to these subsystem ids. Empty means all.
	Only []string

	// Exclude removes these subsystem ids from the run.
	Exclude []string

	// DryRun plans without executing.
	DryRun bool

	// Confirm, when set, is called with the plan description before a
	// non-empty plan executes. Returning false declines the run.
	Confirm func(summary string) (bool, error)
}

// OrchestratorConfig wires the orchestrator's collaborators. Registry is
// required; everything else may be nil.
type OrchestratorConfig struct {
	Registry  *Registry
	Logger    *telemetry.Logger
	Store     StateStore
	Gate      PlanGate
	Publisher Publisher
	Metrics   *telemetry.Metrics
	Tracer    *telemetry.Tracer
	Events    *telemetry.EventPublisher
	Hostname  string
}

// Orchestrator runs the four reconciliation operations across the
// registered subsystems, one subsystem at a time, one item at a time.
type Orchestrator struct {
	registry  *Registry
	logger    *telemetry.Logger
	store     StateStore
	gate      PlanGate
	publisher Publisher
	metrics   *telemetry.Metrics
	tracer    *telemetry.Tracer
	events    *telemetry.EventPublisher
	hostname  string
}

// NewOrchestrator creates an orchestrator from the config.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Registry == nil {
		return nil, NewValidationError("registry is required", nil)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.FromContext(context.Background())
	}
	return &Orchestrator{
		registry:  cfg.Registry,
		logger:    logger.NewComponentLogger("orchestrator"),
		store:     cfg.Store,
		gate:      cfg.Gate,
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
		tracer:    cfg.Tracer,
		events:    cfg.Events,
		hostname:  cfg.Hostname,
	}, nil
}

// Capture converges runtime state into the user manifests. Each subsystem
// plans the additions it observed; execution records every addition into
// the manifest immediately after it succeeds. Nothing is ever removed from
// a manifest by capture.
func (o *Orchestrator) Capture(ctx context.Context, opts Options) (*Report, error) {
	subs, err := o.registry.Select(OperationCapture, opts.Only, opts.Exclude)
	if err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	logger := o.logger.WithRunID(runID).WithOperation(string(OperationCapture))
	ctx, span := o.startSpan(ctx, OperationCapture, runID)

	o.metrics.RecordRunStarted(string(OperationCapture))
	o.publishEvent(func() error { return o.events.PublishRunStarted(runID, string(OperationCapture)) })

	report := &Report{
		RunID:     runID,
		Operation: OperationCapture,
		Hostname:  o.hostname,
		StartedAt: time.Now(),
		DryRun:    opts.DryRun,
	}

	composite := NewCompositePlan(OperationCapture)
	for _, sub := range subs {
		plan, err := sub.Capture(ctx)
		if err != nil {
			logger.WithSubsystem(sub.ID()).WithError(err).Error("capture planning failed")
			composite.AddFailure(sub.ID(), err)
			o.metrics.RecordSubsystemFailure(string(OperationCapture), sub.ID())
			continue
		}
		if plan == nil {
			logger.WithSubsystem(sub.ID()).Debug("capture not applicable")
			continue
		}
		composite.AddChild(plan)
	}
	report.Plan = composite
	report.Failures = composite.Failures()

	if done, err := o.preparePlan(report, composite, opts, logger); done || err != nil {
		o.finishRun(span, logger, report)
		return report, err
	}

	report.Results = composite.Execute(ctx)
	report.FinishedAt = time.Now()
	o.recordItems(report)

	o.recordHistory(ctx, logger, report.Record())

	if o.publisher != nil && report.Succeeded() > 0 {
		if err := o.publisher.PublishRun(ctx, report); err != nil {
			logger.WithError(err).Warn("publishing captured manifests failed")
		}
	}

	o.finishRun(span, logger, report)
	return report, nil
}

// Sync converges external state toward the manifests. The policy gate sees
// the full plan before anything executes; a denial aborts the run with
// nothing applied, and a dry run downgrades it to a warning so the preview
// still shows the whole plan. After execution every subsystem whose plan
// fully succeeded gets a fresh baseline snapshot.
func (o *Orchestrator) Sync(ctx context.Context, opts Options) (*Report, error) {
	subs, err := o.registry.Select(OperationSync, opts.Only, opts.Exclude)
	if err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	logger := o.logger.WithRunID(runID).WithOperation(string(OperationSync))
	ctx, span := o.startSpan(ctx, OperationSync, runID)

	o.metrics.RecordRunStarted(string(OperationSync))
	o.publishEvent(func() error { return o.events.PublishRunStarted(runID, string(OperationSync)) })

	report := &Report{
		RunID:     runID,
		Operation: OperationSync,
		Hostname:  o.hostname,
		StartedAt: time.Now(),
		DryRun:    opts.DryRun,
	}

	composite := NewCompositePlan(OperationSync)
	declared := make(map[string]*manifest.Manifest)
	for _, sub := range subs {
		plan, err := sub.Sync(ctx)
		if err != nil {
			logger.WithSubsystem(sub.ID()).WithError(err).Error("sync planning failed")
			composite.AddFailure(sub.ID(), err)
			o.metrics.RecordSubsystemFailure(string(OperationSync), sub.ID())
			continue
		}
		if plan == nil {
			logger.WithSubsystem(sub.ID()).Debug("sync not applicable")
			continue
		}
		composite.AddChild(plan)

		m, err := sub.Manifest(ctx)
		if err != nil {
			logger.WithSubsystem(sub.ID()).WithError(err).Warn("loading declared manifest failed")
			continue
		}
		declared[sub.ID()] = m
	}
	report.Plan = composite
	report.Failures = composite.Failures()

	if o.gate != nil {
		if err := o.evaluateGate(ctx, runID, composite, declared, logger); err != nil {
			if opts.DryRun {
				logger.WithError(err).Warn("policy gate would deny this plan")
			} else {
				o.metrics.RecordRunCompleted(string(OperationSync), "denied", time.Since(report.StartedAt))
				telemetry.RecordError(span, err)
				span.End()
				return nil, err
			}
		}
	}

	if done, err := o.preparePlan(report, composite, opts, logger); done || err != nil {
		o.finishRun(span, logger, report)
		return report, err
	}

	report.Results = composite.Execute(ctx)
	report.FinishedAt = time.Now()
	o.recordItems(report)

	o.saveBaselines(ctx, report, declared, logger)
	o.recordHistory(ctx, logger, report.Record())

	o.finishRun(span, logger, report)
	return report, nil
}

// Drift compares manifests, runtime state, and baselines without side
// effects. One subsystem failing to report never hides the others.
func (o *Orchestrator) Drift(ctx context.Context, opts Options) (*DriftSummary, error) {
	subs, err := o.registry.Select(OperationDrift, opts.Only, opts.Exclude)
	if err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	logger := o.logger.WithRunID(runID).WithOperation(string(OperationDrift))
	ctx, span := o.startSpan(ctx, OperationDrift, runID)
	startedAt := time.Now()

	o.metrics.RecordRunStarted(string(OperationDrift))

	summary := &DriftSummary{}
	for _, sub := range subs {
		rep, err := sub.Drift(ctx)
		if err != nil {
			logger.WithSubsystem(sub.ID()).WithError(err).Error("drift check failed")
			summary.Failures = append(summary.Failures, DomainFailure{Subsystem: sub.ID(), Err: err})
			o.metrics.RecordSubsystemFailure(string(OperationDrift), sub.ID())
			continue
		}
		if rep == nil {
			logger.WithSubsystem(sub.ID()).Debug("drift not applicable")
			continue
		}
		summary.Reports = append(summary.Reports, rep)

		byOrigin := make(map[DriftOrigin]int)
		for _, e := range rep.Entries {
			byOrigin[e.Origin]++
		}
		for _, origin := range []DriftOrigin{OriginLocal, OriginUnsynced, OriginUnknown} {
			o.metrics.SetDriftEntries(rep.Subsystem, string(origin), byOrigin[origin])
		}
		if rep.HasDrift() {
			o.publishEvent(func() error { return o.events.PublishDriftDetected(rep.Subsystem, len(rep.Entries)) })
		}
	}

	finishedAt := time.Now()
	o.recordHistory(ctx, logger, summary.Record(runID, o.hostname, startedAt, finishedAt))
	o.metrics.RecordRunCompleted(string(OperationDrift), driftStatus(summary), finishedAt.Sub(startedAt))

	logger.WithField("entries", summary.TotalEntries()).
		WithField("exit_code", summary.ExitCode()).
		Info("drift check finished")
	span.End()
	return summary, nil
}

// Staged compares pending artifacts against active ones for the atomic
// subsystems, independent of any manifest.
func (o *Orchestrator) Staged(ctx context.Context, opts Options) (*StagedSummary, error) {
	subs, err := o.registry.Select(OperationStaged, opts.Only, opts.Exclude)
	if err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	logger := o.logger.WithRunID(runID).WithOperation(string(OperationStaged))
	ctx, span := o.startSpan(ctx, OperationStaged, runID)
	startedAt := time.Now()

	o.metrics.RecordRunStarted(string(OperationStaged))

	summary := &StagedSummary{}
	for _, sub := range subs {
		rep, err := sub.Staged(ctx)
		if err != nil {
			logger.WithSubsystem(sub.ID()).WithError(err).Error("staged check failed")
			summary.Failures = append(summary.Failures, DomainFailure{Subsystem: sub.ID(), Err: err})
			o.metrics.RecordSubsystemFailure(string(OperationStaged), sub.ID())
			continue
		}
		if rep == nil {
			logger.WithSubsystem(sub.ID()).Debug("staged not applicable")
			continue
		}
		summary.Reports = append(summary.Reports, rep)
		o.metrics.SetStagedChanges(rep.Subsystem, len(rep.Entries))
	}

	finishedAt := time.Now()
	o.recordHistory(ctx, logger, summary.Record(runID, o.hostname, startedAt, finishedAt))
	o.metrics.RecordRunCompleted(string(OperationStaged), stagedStatus(summary), finishedAt.Sub(startedAt))

	logger.WithField("exit_code", summary.ExitCode()).Info("staged check finished")
	span.End()
	return summary, nil
}

// preparePlan handles the dry-run and confirmation stops shared by capture
// and sync. It returns done=true when the run should stop before executing.
func (o *Orchestrator) preparePlan(report *Report, composite *CompositePlan, opts Options, logger *telemetry.Logger) (bool, error) {
	if opts.DryRun {
		report.FinishedAt = time.Now()
		logger.Info("dry run, nothing executed")
		return true, nil
	}
	if opts.Confirm != nil && !composite.IsEmpty() {
		ok, err := opts.Confirm(composite.Describe())
		if err != nil {
			report.FinishedAt = time.Now()
			return true, NewInternalError("confirmation failed", err)
		}
		if !ok {
			report.Declined = true
			report.FinishedAt = time.Now()
			logger.Info("plan declined")
			return true, nil
		}
	}
	return false, nil
}

// evaluateGate runs the policy gate over the planned sync and turns a
// denial into a fail-fast error before anything executes.
func (o *Orchestrator) evaluateGate(ctx context.Context, runID string, composite *CompositePlan, declared map[string]*manifest.Manifest, logger *telemetry.Logger) error {
	inputs := make([]GateInput, 0, len(composite.Children()))
	for _, child := range composite.Children() {
		count := 0
		if m, ok := declared[child.Subsystem()]; ok {
			count = m.Len()
		}
		inputs = append(inputs, GateInput{
			Subsystem: child.Subsystem(),
			Declared:  count,
			Actions:   child.Actions(),
		})
	}

	decision, err := o.gate.EvaluateSync(ctx, inputs)
	if err != nil {
		return NewInternalError("policy evaluation failed", err)
	}
	if !decision.Allowed {
		logger.WithField("reasons", decision.Reasons).Error("sync denied by policy")
		o.publishEvent(func() error { return o.events.PublishPolicyDenied(runID, decision.Reasons) })
		return NewValidationError(
			fmt.Sprintf("sync denied by policy: %s", strings.Join(decision.Reasons, "; ")),
			nil,
		).WithCode(ErrCodePolicyDenied)
	}
	return nil
}

// saveBaselines snapshots the declared manifest for every subsystem whose
// sync plan fully succeeded. Partially failed subsystems keep their old
// baseline so the next drift run still shows what never converged.
func (o *Orchestrator) saveBaselines(ctx context.Context, report *Report, declared map[string]*manifest.Manifest, logger *telemetry.Logger) {
	if o.store == nil {
		return
	}
	for _, res := range report.Results {
		m, ok := declared[res.Subsystem]
		if !ok {
			continue
		}
		clean := true
		for _, out := range res.Outcomes {
			if out.Status != OutcomeSucceeded {
				clean = false
				break
			}
		}
		if !clean {
			continue
		}
		if err := o.store.SaveBaseline(ctx, res.Subsystem, m, report.RunID); err != nil {
			logger.WithSubsystem(res.Subsystem).WithError(err).Warn("saving baseline failed")
		}
	}
}

// recordItems feeds per-item metrics and events from an executed report.
func (o *Orchestrator) recordItems(report *Report) {
	for _, res := range report.Results {
		for _, out := range res.Outcomes {
			o.metrics.RecordItem(string(report.Operation), res.Subsystem, string(out.Status))
			switch out.Status {
			case OutcomeSucceeded:
				o.publishEvent(func() error {
					return o.events.PublishItemApplied(report.RunID, res.Subsystem, out.ItemID, string(out.Action))
				})
			case OutcomeFailed:
				o.publishEvent(func() error {
					return o.events.PublishItemFailed(report.RunID, res.Subsystem, out.ItemID, out.Err.Error())
				})
			}
		}
	}
}

// recordHistory persists the run record, downgrading store failures to
// warnings so history problems never fail a run.
func (o *Orchestrator) recordHistory(ctx context.Context, logger *telemetry.Logger, rec *RunRecord) {
	if o.store == nil || rec == nil {
		return
	}
	if err := o.store.RecordRun(ctx, rec); err != nil {
		logger.WithError(err).Warn("recording run history failed")
	}
}

// finishRun emits the closing telemetry for a capture or sync run.
func (o *Orchestrator) finishRun(span trace.Span, logger *telemetry.Logger, report *Report) {
	if report.FinishedAt.IsZero() {
		report.FinishedAt = time.Now()
	}
	status := runStatus(report)
	o.metrics.RecordRunCompleted(string(report.Operation), status, report.Duration())
	o.publishEvent(func() error {
		return o.events.PublishRunCompleted(report.RunID, string(report.Operation), report.ExitCode(), report.Duration())
	})
	logger.WithField("succeeded", report.Succeeded()).
		WithField("failed", report.Failed()).
		WithField("skipped", report.Skipped()).
		WithField("exit_code", report.ExitCode()).
		Info("run finished")
	if report.HasFailures() {
		telemetry.RecordError(span, fmt.Errorf("%d item(s) failed", report.Failed()+len(report.Failures)))
	} else {
		telemetry.RecordSuccess(span)
	}
	span.End()
}

// startSpan opens the run-level trace span, degrading to a no-op span when
// tracing is not configured.
func (o *Orchestrator) startSpan(ctx context.Context, op Operation, runID string) (context.Context, trace.Span) {
	if o.tracer == nil {
		return ctx, trace.SpanFromContext(context.Background())
	}
	return o.tracer.StartRunSpan(ctx, string(op), runID)
}

// publishEvent swallows event-bus errors; a full buffer must never affect
// a run.
func (o *Orchestrator) publishEvent(fn func() error) {
	if o.events == nil {
		return
	}
	_ = fn()
}

func runStatus(report *Report) string {
	switch {
	case report.DryRun:
		return "dry_run"
	case report.Declined:
		return "declined"
	case report.HasFailures():
		return "failed"
	default:
		return "succeeded"
	}
}

func driftStatus(summary *DriftSummary) string {
	switch {
	case len(summary.Failures) > 0:
		return "failed"
	case summary.HasDrift():
		return "drift"
	default:
		return "clean"
	}
}

func stagedStatus(summary *StagedSummary) string {
	switch {
	case len(summary.Failures) > 0:
		return "failed"
	case summary.HasChanges():
		return "pending"
	default:
		return "clean"
	}
}
