package manifest

import (
	"encoding/json"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cuejson "cuelang.org/go/encoding/json"
)

// envelopeSchema constrains the manifest file shape shared by every
// subsystem.
const envelopeSchema = `{
	version:   int & >=1
	subsystem: string & =~"^[a-z][a-z0-9-]*$"
	items: [...{
		id:     string & !=""
		attrs?: {...}
	}]
}`

// SchemaRegistry validates manifest files with CUE. The envelope schema is
// built in; subsystems register schemas for their item attributes.
type SchemaRegistry struct {
	ctx   *cue.Context
	attrs map[string]cue.Value
	mu    sync.RWMutex

	envelope cue.Value
}

// NewSchemaRegistry creates a registry with the builtin envelope schema
// compiled.
func NewSchemaRegistry() (*SchemaRegistry, error) {
	ctx := cuecontext.New()
	env := ctx.CompileString(envelopeSchema)
	if env.Err() != nil {
		return nil, fmt.Errorf("failed to compile envelope schema: %w", env.Err())
	}
	return &SchemaRegistry{
		ctx:      ctx,
		attrs:    make(map[string]cue.Value),
		envelope: env,
	}, nil
}

// RegisterItemSchema compiles and stores the attribute schema for one
// subsystem. Registering again replaces the previous schema.
func (r *SchemaRegistry) RegisterItemSchema(subsystem, schemaDef string) error {
	schema := r.ctx.CompileString(schemaDef)
	if schema.Err() != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", subsystem, schema.Err())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.attrs[subsystem] = schema
	return nil
}

// HasItemSchema reports whether an attribute schema is registered for a
// subsystem.
func (r *SchemaRegistry) HasItemSchema(subsystem string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.attrs[subsystem]
	return ok
}

// ValidateEnvelope checks a raw manifest file against the envelope schema
// and, when one is registered, each item's attrs against the subsystem's
// attribute schema.
func (r *SchemaRegistry) ValidateEnvelope(subsystem string, data []byte) error {
	if err := r.validateJSON(r.envelope, "manifest", data); err != nil {
		return fmt.Errorf("envelope validation failed: %w", err)
	}

	r.mu.RLock()
	attrSchema, ok := r.attrs[subsystem]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	var doc struct {
		Items []Item `json:"items"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("manifest is not a JSON object: %w", err)
	}
	for _, item := range doc.Items {
		if err := r.validateJSON(attrSchema, "attrs", attrsOrEmpty(item.Attrs)); err != nil {
			return fmt.Errorf("item %q: %w", item.ID, err)
		}
	}
	return nil
}

// ValidateItemAttrs checks a single item's attributes against the
// subsystem's registered schema. With no schema registered it always passes.
func (r *SchemaRegistry) ValidateItemAttrs(subsystem, id string, attrs json.RawMessage) error {
	r.mu.RLock()
	attrSchema, ok := r.attrs[subsystem]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	if err := r.validateJSON(attrSchema, "attrs", attrsOrEmpty(attrs)); err != nil {
		return fmt.Errorf("item %q: %w", id, err)
	}
	return nil
}

// validateJSON parses raw JSON with CUE's own decoder (so integral numbers
// stay ints), unifies it with a schema, and demands a concrete, error-free
// result.
func (r *SchemaRegistry) validateJSON(schema cue.Value, name string, data []byte) error {
	expr, err := cuejson.Extract(name, data)
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	val := r.ctx.BuildExpr(expr)
	if val.Err() != nil {
		return val.Err()
	}
	unified := schema.Unify(val)
	if unified.Err() != nil {
		return unified.Err()
	}
	return unified.Validate(cue.Concrete(true))
}

func attrsOrEmpty(attrs json.RawMessage) []byte {
	if len(attrs) == 0 {
		return []byte("{}")
	}
	return attrs
}
