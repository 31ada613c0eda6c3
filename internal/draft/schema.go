package draft

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/kangrianai89/catatan/internal/apperr"
)

// Record is a snapshot of the editable fields of one entity. Values are
// kept in their JSON-decoded form (string, float64, bool, []any,
// map[string]any) so a stored record compares deep-equal to what was set.
type Record map[string]any

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out, err := normalizeRecord(r)
	if err != nil {
		// Records only ever hold normalized values, which always re-encode.
		panic(fmt.Sprintf("draft: clone record: %v", err))
	}
	return out
}

// String returns the string value of field name, or "".
func (r Record) String(name string) string {
	s, _ := r[name].(string)
	return s
}

// Scope selects the lifetime of the store a kind drafts into.
type Scope string

const (
	// ScopeSession drafts end with the client's browsing session.
	ScopeSession Scope = "session"
	// ScopeDurable drafts survive until explicitly discarded.
	ScopeDurable Scope = "durable"
)

// Field describes one draftable field.
type Field struct {
	Name string
	// Empty is the kind-specific default, in normalized form.
	Empty any
	// IsEmpty overrides the default comparison against Empty.
	IsEmpty func(v any) bool
	// Rules are checked on save, not on autosave.
	Rules []validation.Rule
}

func (f Field) empty(v any) bool {
	if f.IsEmpty != nil {
		return f.IsEmpty(v)
	}
	return reflect.DeepEqual(v, f.Empty)
}

// Schema lists the draftable fields of a kind.
type Schema struct {
	Kind   Kind
	Scope  Scope
	Fields []Field
}

func (s *Schema) field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// EmptyRecord returns a record holding every field's empty default.
func (s *Schema) EmptyRecord() Record {
	r := make(Record, len(s.Fields))
	for _, f := range s.Fields {
		r[f.Name] = f.Empty
	}
	return r.Clone()
}

// Normalize returns r restricted to the schema: values normalized, missing
// fields filled with defaults. Unknown fields are rejected.
func (s *Schema) Normalize(r Record) (Record, error) {
	for name := range r {
		if _, ok := s.field(name); !ok {
			return nil, fmt.Errorf("%w: %s has no field %q", apperr.ErrInvalid, s.Kind, name)
		}
	}
	out, err := normalizeRecord(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalid, err)
	}
	if out == nil {
		out = make(Record, len(s.Fields))
	}
	for _, f := range s.Fields {
		if _, ok := out[f.Name]; !ok {
			out[f.Name] = f.Empty
		}
	}
	return out.Clone(), nil
}

// Merge applies patch on top of base, both interpreted with the schema.
func (s *Schema) Merge(base, patch Record) (Record, error) {
	out := make(Record, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return s.Normalize(out)
}

// Meaningful reports whether any field differs from its empty default.
func (s *Schema) Meaningful(r Record) bool {
	for _, f := range s.Fields {
		v, ok := r[f.Name]
		if !ok {
			continue
		}
		if !f.empty(v) {
			return true
		}
	}
	return false
}

// Validate runs the save-time rules of every field.
func (s *Schema) Validate(r Record) error {
	errs := validation.Errors{}
	for _, f := range s.Fields {
		if len(f.Rules) == 0 {
			continue
		}
		if err := validation.Validate(r[f.Name], f.Rules...); err != nil {
			errs[f.Name] = err
		}
	}
	return errs.Filter()
}

// Registry maps kinds to schemas.
type Registry struct {
	mu      sync.RWMutex
	schemas map[Kind]*Schema
}

// NewRegistry returns a registry holding the given schemas.
func NewRegistry(schemas ...*Schema) (*Registry, error) {
	r := &Registry{schemas: make(map[Kind]*Schema)}
	for _, s := range schemas {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds s. Kinds are unique and every kind needs at least one field.
func (r *Registry) Register(s *Schema) error {
	if s == nil || s.Kind == "" {
		return fmt.Errorf("draft: schema without kind")
	}
	if len(s.Fields) == 0 {
		return fmt.Errorf("draft: schema %s has no fields", s.Kind)
	}
	if s.Scope != ScopeSession && s.Scope != ScopeDurable {
		return fmt.Errorf("draft: schema %s: unknown scope %q", s.Kind, s.Scope)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.schemas[s.Kind]; dup {
		return fmt.Errorf("draft: kind %s: %w", s.Kind, apperr.ErrAlreadyExists)
	}
	r.schemas[s.Kind] = s
	return nil
}

// Lookup returns the schema registered for kind.
func (r *Registry) Lookup(kind Kind) (*Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown kind %q", apperr.ErrInvalid, kind)
	}
	return s, nil
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Kind, 0, len(r.schemas))
	for k := range r.schemas {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func normalizeRecord(r Record) (Record, error) {
	if r == nil {
		return nil, nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	var out Record
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
