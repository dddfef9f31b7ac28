package engine

import (
	"fmt"
	"sort"
)

// Registry holds the known subsystems in registration order and derives the
// per-operation execution views.
type Registry struct {
	order []string
	subs  map[string]Subsystem
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{subs: make(map[string]Subsystem)}
}

// Register adds a subsystem. IDs must be unique; tier and phase must be
// valid values.
func (r *Registry) Register(sub Subsystem) error {
	id := sub.ID()
	if id == "" {
		return NewValidationError("subsystem id must not be empty", nil)
	}
	if err := sub.Tier().Validate(); err != nil {
		return NewValidationError(fmt.Sprintf("subsystem %s: %v", id, err), nil).WithSubsystem(id)
	}
	if err := sub.Phase().Validate(); err != nil {
		return NewValidationError(fmt.Sprintf("subsystem %s: %v", id, err), nil).WithSubsystem(id)
	}
	if _, exists := r.subs[id]; exists {
		return NewValidationError(fmt.Sprintf("subsystem already registered: %s", id), nil).
			WithSubsystem(id).
			WithCode(ErrCodeDuplicateSubsystem)
	}
	r.order = append(r.order, id)
	r.subs[id] = sub
	return nil
}

// Get returns the subsystem with the given id.
func (r *Registry) Get(id string) (Subsystem, bool) {
	sub, ok := r.subs[id]
	return sub, ok
}

// Len returns the number of registered subsystems.
func (r *Registry) Len() int {
	return len(r.order)
}

// IDs returns the subsystem ids in registration order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// All returns every subsystem in registration order.
func (r *Registry) All() []Subsystem {
	out := make([]Subsystem, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.subs[id])
	}
	return out
}

// Filtered narrows the registry to the requested ids. An empty only list
// means all subsystems; exclude is applied after. Any unknown id in either
// list fails the whole call before any subsystem work starts.
func (r *Registry) Filtered(only, exclude []string) ([]Subsystem, error) {
	for _, id := range append(append([]string{}, only...), exclude...) {
		if _, ok := r.subs[id]; !ok {
			return nil, NewValidationError(fmt.Sprintf("unknown subsystem: %s", id), nil).
				WithSubsystem(id).
				WithCode(ErrCodeUnknownSubsystem)
		}
	}
	excluded := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}
	wanted := make(map[string]bool, len(only))
	for _, id := range only {
		wanted[id] = true
	}
	var out []Subsystem
	for _, id := range r.order {
		if excluded[id] {
			continue
		}
		if len(only) > 0 && !wanted[id] {
			continue
		}
		out = append(out, r.subs[id])
	}
	return out, nil
}

// ForSync returns the convergent subsystems in ascending phase order.
// Registration order breaks ties within a phase.
func (r *Registry) ForSync() []Subsystem {
	var out []Subsystem
	for _, id := range r.order {
		if r.subs[id].Tier().SupportsSync() {
			out = append(out, r.subs[id])
		}
	}
	sortByPhase(out, true)
	return out
}

// ForCapture returns the capture-capable subsystems in descending phase
// order, mirroring sync so captured state is read leaves-first.
func (r *Registry) ForCapture() []Subsystem {
	var out []Subsystem
	for _, id := range r.order {
		if r.subs[id].Tier().SupportsCapture() {
			out = append(out, r.subs[id])
		}
	}
	sortByPhase(out, false)
	return out
}

// ForDrift returns the drift-capable subsystems in the same order sync
// would visit them.
func (r *Registry) ForDrift() []Subsystem {
	var out []Subsystem
	for _, id := range r.order {
		if r.subs[id].Tier().SupportsDrift() {
			out = append(out, r.subs[id])
		}
	}
	sortByPhase(out, true)
	return out
}

// ForStaged returns the atomic subsystems in registration order.
func (r *Registry) ForStaged() []Subsystem {
	var out []Subsystem
	for _, id := range r.order {
		if r.subs[id].Tier().SupportsStaged() {
			out = append(out, r.subs[id])
		}
	}
	return out
}

// Select composes the user filter with the operation's execution view: the
// result is the operation's ordered subsystem list narrowed to the filter.
// Unknown filter ids fail fast even when the named subsystem would not have
// participated in the operation.
func (r *Registry) Select(op Operation, only, exclude []string) ([]Subsystem, error) {
	if err := op.Validate(); err != nil {
		return nil, NewValidationError(err.Error(), nil)
	}
	filtered, err := r.Filtered(only, exclude)
	if err != nil {
		return nil, err
	}
	allowed := make(map[string]bool, len(filtered))
	for _, sub := range filtered {
		allowed[sub.ID()] = true
	}
	var view []Subsystem
	switch op {
	case OperationCapture:
		view = r.ForCapture()
	case OperationSync:
		view = r.ForSync()
	case OperationDrift:
		view = r.ForDrift()
	case OperationStaged:
		view = r.ForStaged()
	}
	var out []Subsystem
	for _, sub := range view {
		if allowed[sub.ID()] {
			out = append(out, sub)
		}
	}
	return out, nil
}

func sortByPhase(subs []Subsystem, ascending bool) {
	sort.SliceStable(subs, func(i, j int) bool {
		a, b := subs[i].Phase().Order(), subs[j].Phase().Order()
		if ascending {
			return a < b
		}
		return a > b
	})
}
