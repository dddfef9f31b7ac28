// Package manifest implements the declared-state model: an ordered collection
// of items per subsystem, split into a read-only system seed and an
// authoritative user variant, merged with user precedence. Manifests persist
// as JSON files written atomically; an optional CUE schema registry validates
// them on load and save.
package manifest

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// FormatVersion is the manifest file format version this build reads and
// writes.
const FormatVersion = 1

// Item is one declared entry in a subsystem's manifest.
type Item struct {
	// ID identifies the item uniquely within its subsystem.
	ID string `json:"id"`

	// Attrs holds subsystem-specific attributes as a JSON object.
	Attrs json.RawMessage `json:"attrs,omitempty"`
}

// Manifest is an ordered mapping from item id to item. Insertion order is
// preserved; replacing an existing id keeps its original position.
type Manifest struct {
	order []string
	items map[string]Item
}

// New creates an empty manifest.
func New() *Manifest {
	return &Manifest{items: make(map[string]Item)}
}

// FromItems builds a manifest from a slice, rejecting duplicate ids.
func FromItems(items []Item) (*Manifest, error) {
	m := New()
	for _, item := range items {
		if item.ID == "" {
			return nil, fmt.Errorf("item with empty id")
		}
		if m.Has(item.ID) {
			return nil, fmt.Errorf("duplicate item id %q", item.ID)
		}
		m.Put(item)
	}
	return m, nil
}

// Len returns the number of items.
func (m *Manifest) Len() int {
	return len(m.order)
}

// Has reports whether an id is present.
func (m *Manifest) Has(id string) bool {
	_, ok := m.items[id]
	return ok
}

// Get returns the item for an id.
func (m *Manifest) Get(id string) (Item, bool) {
	item, ok := m.items[id]
	return item, ok
}

// Put inserts an item, or replaces it in place if the id already exists.
func (m *Manifest) Put(item Item) {
	if _, ok := m.items[item.ID]; !ok {
		m.order = append(m.order, item.ID)
	}
	m.items[item.ID] = item
}

// Remove deletes an item and reports whether it was present.
func (m *Manifest) Remove(id string) bool {
	if _, ok := m.items[id]; !ok {
		return false
	}
	delete(m.items, id)
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true
}

// IDs returns the item ids in order.
func (m *Manifest) IDs() []string {
	return append([]string(nil), m.order...)
}

// Items returns the items in order.
func (m *Manifest) Items() []Item {
	items := make([]Item, 0, len(m.order))
	for _, id := range m.order {
		items = append(items, m.items[id])
	}
	return items
}

// Clone returns an independent copy.
func (m *Manifest) Clone() *Manifest {
	c := New()
	for _, item := range m.Items() {
		c.Put(item)
	}
	return c
}

// Merge combines a system manifest with a user manifest. For any id present
// in both, the user value wins; system-only and user-only ids are retained.
// Output order is system order followed by user-only ids in user order. Merge
// is pure: neither input is modified, and merging the same inputs always
// yields the same result.
func Merge(system, user *Manifest) *Manifest {
	merged := New()
	if system != nil {
		for _, item := range system.Items() {
			if user != nil {
				if override, ok := user.Get(item.ID); ok {
					merged.Put(override)
					continue
				}
			}
			merged.Put(item)
		}
	}
	if user != nil {
		for _, item := range user.Items() {
			if !merged.Has(item.ID) {
				merged.Put(item)
			}
		}
	}
	return merged
}

// AttrsEqual compares two attribute blobs structurally, ignoring key order
// and whitespace. Nil and empty objects compare equal.
func AttrsEqual(a, b json.RawMessage) bool {
	av, aok := decodeAttrs(a)
	bv, bok := decodeAttrs(b)
	if !aok || !bok {
		// Malformed attrs never compare equal to anything but themselves.
		return string(a) == string(b)
	}
	return reflect.DeepEqual(av, bv)
}

func decodeAttrs(raw json.RawMessage) (any, bool) {
	if len(raw) == 0 {
		return map[string]any{}, true
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	if v == nil {
		return map[string]any{}, true
	}
	return v, true
}
