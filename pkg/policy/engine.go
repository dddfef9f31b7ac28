package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"

	"github.com/wycats/bootsync/pkg/engine"
	"github.com/wycats/bootsync/pkg/telemetry"
)

// Engine evaluates Rego policies over sync plans. It implements the
// engine.PlanGate port.
type Engine struct {
	mu         sync.RWMutex
	policies   map[string]*compiledPolicy
	store      storage.Store
	thresholds Thresholds
	logger     *telemetry.Logger
}

// compiledPolicy pairs a policy with its prepared deny query.
type compiledPolicy struct {
	policy  *Policy
	query   rego.PreparedEvalQuery
	builtin bool
}

// NewEngine builds an engine with the builtin policies compiled in.
// Zero threshold fields fall back to DefaultThresholds. Logger may be nil.
func NewEngine(logger *telemetry.Logger, thresholds Thresholds) (*Engine, error) {
	if logger == nil {
		logger = telemetry.FromContext(context.Background())
	}
	defaults := DefaultThresholds()
	if thresholds.MassRemovalShare <= 0 {
		thresholds.MassRemovalShare = defaults.MassRemovalShare
	}
	if thresholds.MassRemovalMin <= 0 {
		thresholds.MassRemovalMin = defaults.MassRemovalMin
	}

	e := &Engine{
		policies:   make(map[string]*compiledPolicy),
		thresholds: thresholds,
		logger:     logger.NewComponentLogger("policy"),
		store: inmem.NewFromObject(map[string]interface{}{
			"bootsync": map[string]interface{}{
				"config": map[string]interface{}{
					"mass_removal_share": thresholds.MassRemovalShare,
					"mass_removal_min":   thresholds.MassRemovalMin,
				},
			},
		}),
	}

	for _, p := range BuiltinPolicies() {
		cp, err := e.compile(context.Background(), p)
		if err != nil {
			return nil, fmt.Errorf("failed to compile builtin policy %s: %w", p.Name, err)
		}
		cp.builtin = true
		e.policies[p.Name] = cp
	}
	e.logger.WithField("count", len(e.policies)).Debugf("builtin policies compiled")

	return e, nil
}

// AddPolicy compiles and registers a user policy. Builtin names are
// reserved.
func (e *Engine) AddPolicy(ctx context.Context, p Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.policies[p.Name]; ok && existing.builtin {
		return fmt.Errorf("policy %s is builtin and cannot be replaced", p.Name)
	}
	cp, err := e.compile(ctx, p)
	if err != nil {
		return err
	}
	e.policies[p.Name] = cp
	e.logger.WithField("policy", p.Name).Debugf("policy compiled")
	return nil
}

// ReplaceUserPolicies swaps the full set of non-builtin policies. All
// incoming policies compile before any existing one is dropped, so a bad
// batch leaves the engine unchanged.
func (e *Engine) ReplaceUserPolicies(ctx context.Context, policies []Policy) error {
	staged := make(map[string]*compiledPolicy, len(policies))
	for _, p := range policies {
		cp, err := e.compile(ctx, p)
		if err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", p.Name, err)
		}
		staged[p.Name] = cp
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for name, cp := range e.policies {
		if !cp.builtin {
			delete(e.policies, name)
		}
	}
	for name, cp := range staged {
		if existing, ok := e.policies[name]; ok && existing.builtin {
			e.logger.WithField("policy", name).Warnf("ignoring user policy shadowing a builtin")
			continue
		}
		e.policies[name] = cp
	}
	e.logger.WithField("count", len(staged)).Debugf("user policies replaced")
	return nil
}

// Get returns a registered policy by name.
func (e *Engine) Get(name string) (*Policy, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, ok := e.policies[name]
	if !ok {
		return nil, false
	}
	return cp.policy, true
}

// List returns all registered policies sorted by name.
func (e *Engine) List() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		out = append(out, *cp.policy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// EvaluateSync runs every enabled policy over the plan. Violations at
// error or critical severity deny the run; warnings and infos are logged.
// A policy that fails to evaluate is logged and skipped, so the returned
// error is always nil and the verdict rests on the policies that ran.
func (e *Engine) EvaluateSync(ctx context.Context, inputs []engine.GateInput) (*engine.GateDecision, error) {
	input := buildSyncInput(inputs)

	e.mu.RLock()
	ordered := make([]*compiledPolicy, 0, len(e.policies))
	for _, cp := range e.policies {
		if cp.policy.Enabled {
			ordered = append(ordered, cp)
		}
	}
	e.mu.RUnlock()
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].policy.Name < ordered[j].policy.Name })

	var reasons []string
	for _, cp := range ordered {
		violations, err := e.evaluate(ctx, cp, input)
		if err != nil {
			e.logger.WithError(err).Warnf("policy %s evaluation failed", cp.policy.Name)
			continue
		}
		for _, v := range violations {
			if v.Severity.Blocking() {
				reasons = append(reasons, fmt.Sprintf("%s: %s", v.Policy, v.Message))
				continue
			}
			log := e.logger.WithField("policy", v.Policy)
			if v.Subsystem != "" {
				log = log.WithSubsystem(v.Subsystem)
			}
			if v.Severity == SeverityInfo {
				log.Infof("%s", v.Message)
			} else {
				log.Warnf("%s", v.Message)
			}
		}
	}

	if len(reasons) > 0 {
		e.logger.WithField("violations", len(reasons)).Warnf("sync plan denied by policy")
	}
	return &engine.GateDecision{
		Allowed: len(reasons) == 0,
		Reasons: reasons,
	}, nil
}

// compile parses the policy and prepares its deny query against the
// config store.
func (e *Engine) compile(ctx context.Context, p Policy) (*compiledPolicy, error) {
	if strings.TrimSpace(p.Rego) == "" {
		return nil, fmt.Errorf("policy %s has no rego source", p.Name)
	}
	if _, err := ast.ParseModule(p.Name, p.Rego); err != nil {
		return nil, fmt.Errorf("failed to parse policy %s: %w", p.Name, err)
	}

	// Strict builtin errors keep a faulty rule from silently evaluating
	// to undefined. The failure surfaces in the run log instead.
	pkg := extractPackageName(p.Rego)
	query, err := rego.New(
		rego.Module(p.Name, p.Rego),
		rego.Store(e.store),
		rego.Query(fmt.Sprintf("data.%s.deny", pkg)),
		rego.StrictBuiltinErrors(true),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare policy %s: %w", p.Name, err)
	}

	policy := p
	return &compiledPolicy{policy: &policy, query: query}, nil
}

// evaluate runs one prepared deny query and decodes its violations.
func (e *Engine) evaluate(ctx context.Context, cp *compiledPolicy, input map[string]interface{}) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, err
	}

	var violations []Violation
	for _, result := range results {
		for _, expr := range result.Expressions {
			denySet, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, d := range denySet {
				violations = append(violations, decodeViolation(cp.policy, d))
			}
		}
	}
	return violations, nil
}

// decodeViolation turns one deny result into a Violation. Results may be
// bare strings or objects carrying message, severity and subsystem keys;
// missing severities fall back to the policy's own.
func decodeViolation(p *Policy, raw interface{}) Violation {
	v := Violation{
		Policy:   p.Name,
		Severity: p.Severity,
	}
	if v.Severity == "" {
		v.Severity = SeverityWarning
	}

	switch value := raw.(type) {
	case string:
		v.Message = value
	case map[string]interface{}:
		if msg, ok := value["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := value["severity"].(string); ok {
			v.Severity = Severity(sev)
		}
		if sub, ok := value["subsystem"].(string); ok {
			v.Subsystem = sub
		}
	default:
		v.Message = fmt.Sprintf("%v", raw)
	}
	return v
}

// extractPackageName pulls the package path out of Rego source.
func extractPackageName(source string) string {
	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "bootsync.policies"
}

// buildSyncInput shapes the gate inputs into the policy input document.
// Counts per action kind are precomputed so rules stay arithmetic-free.
func buildSyncInput(inputs []engine.GateInput) map[string]interface{} {
	subsystems := make([]interface{}, 0, len(inputs))
	for _, in := range inputs {
		var removals, additions, updates int
		actions := make([]interface{}, 0, len(in.Actions))
		for _, a := range in.Actions {
			switch a.Action {
			case engine.ActionAdd:
				additions++
			case engine.ActionRemove:
				removals++
			case engine.ActionUpdate:
				updates++
			}
			var attrs interface{}
			if len(a.Attrs) > 0 {
				if err := json.Unmarshal(a.Attrs, &attrs); err != nil {
					attrs = nil
				}
			}
			actions = append(actions, map[string]interface{}{
				"item_id": a.ItemID,
				"action":  string(a.Action),
				"detail":  a.Detail,
				"attrs":   attrs,
			})
		}
		subsystems = append(subsystems, map[string]interface{}{
			"subsystem": in.Subsystem,
			"declared":  in.Declared,
			"actions":   actions,
			"removals":  removals,
			"additions": additions,
			"updates":   updates,
		})
	}
	return map[string]interface{}{
		"operation":  "sync",
		"subsystems": subsystems,
	}
}
