// Package domain defines the entity types, identifiers, and payload shapes
// shared by the normalized entity store and its manager.
package domain

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"strconv"
)

// EntityType identifies a branch of the normalized store.
type EntityType string

// Supported entity type identifiers. Each one owns exactly one store branch.
const (
	// EntityPage identifies a content page.
	EntityPage EntityType = "page"
	// EntityFolder identifies a folder in the content tree.
	EntityFolder EntityType = "folder"
	// EntityNode identifies a root node (channel or master node).
	EntityNode EntityType = "node"
	// EntityForm identifies a form record.
	EntityForm EntityType = "form"
	// EntityImage identifies an image file.
	EntityImage EntityType = "image"
	// EntityFile identifies a generic file.
	EntityFile EntityType = "file"
	// EntityTemplate identifies a page template.
	EntityTemplate EntityType = "template"
	// EntityUser identifies a user account.
	EntityUser EntityType = "user"
	// EntityGroup identifies a user group.
	EntityGroup EntityType = "group"
	// EntityMessage identifies an inbox message.
	EntityMessage EntityType = "message"
)

var knownTypes = []EntityType{
	EntityPage,
	EntityFolder,
	EntityNode,
	EntityForm,
	EntityImage,
	EntityFile,
	EntityTemplate,
	EntityUser,
	EntityGroup,
	EntityMessage,
}

// EntityTypes returns every supported entity type in a stable order.
func EntityTypes() []EntityType {
	out := make([]EntityType, len(knownTypes))
	copy(out, knownTypes)
	return out
}

// Known reports whether t names an existing store branch.
func (t EntityType) Known() bool {
	for _, k := range knownTypes {
		if k == t {
			return true
		}
	}
	return false
}

// ErrUnknownBranch is returned when an operation references an entity type
// that has no branch in the store.
type ErrUnknownBranch struct {
	Type EntityType
}

func (e ErrUnknownBranch) Error() string {
	return fmt.Sprintf("entity branch %q does not exist", string(e.Type))
}

// CheckType returns ErrUnknownBranch when t is not a supported entity type.
func CheckType(t EntityType) error {
	if !t.Known() {
		return ErrUnknownBranch{Type: t}
	}
	return nil
}

// ID is the identity of an entity within its branch. Numeric backend ids are
// carried in their decimal string form.
type ID string

// IDFrom converts a raw id value (string or integral number) into an ID.
func IDFrom(v any) (ID, bool) {
	switch id := v.(type) {
	case ID:
		return id, id != ""
	case string:
		return ID(id), id != ""
	case int:
		return ID(strconv.Itoa(id)), true
	case int32:
		return ID(strconv.FormatInt(int64(id), 10)), true
	case int64:
		return ID(strconv.FormatInt(id, 10)), true
	case uint64:
		return ID(strconv.FormatUint(id, 10)), true
	case float64:
		if id != math.Trunc(id) || math.IsInf(id, 0) {
			return "", false
		}
		return ID(strconv.FormatInt(int64(id), 10)), true
	case json.Number:
		if _, err := id.Int64(); err != nil {
			return "", false
		}
		return ID(id.String()), true
	default:
		return "", false
	}
}

// Raw is an entity in its nested (graph-shaped) form, as delivered by the
// backend API or produced by denormalization.
type Raw = map[string]any

// Entity is a flat, normalized record. References to other entities are
// stored as bare ids in Fields. Entities held by the store are immutable:
// every change produces a new *Entity, so pointer equality is change
// detection.
type Entity struct {
	ID     ID
	Type   EntityType
	Fields map[string]any
	// Normalized is set once the entity has passed through a Normalizer.
	// It is carried across merges and ignored by Equal.
	Normalized bool
}

// NewEntity builds an entity that has not been marked as normalized.
func NewEntity(t EntityType, id ID, fields map[string]any) *Entity {
	if fields == nil {
		fields = map[string]any{}
	}
	return &Entity{ID: id, Type: t, Fields: fields}
}

// Get returns the value of a top-level field.
func (e *Entity) Get(key string) (any, bool) {
	if e == nil {
		return nil, false
	}
	v, ok := e.Fields[key]
	return v, ok
}

// With returns a copy of e with fields replaced. The receiver is not modified.
func (e *Entity) With(fields map[string]any) *Entity {
	cp := *e
	cp.Fields = fields
	return &cp
}

// Equal compares identity and field values, ignoring the Normalized marker.
func (e *Entity) Equal(o *Entity) bool {
	if e == o {
		return true
	}
	if e == nil || o == nil {
		return false
	}
	if e.ID != o.ID || e.Type != o.Type {
		return false
	}
	return maps.EqualFunc(e.Fields, o.Fields, ValuesEqual)
}

// Raw returns the entity as a flat raw object including its id and type.
func (e *Entity) Raw() Raw {
	out := make(Raw, len(e.Fields)+2)
	for k, v := range e.Fields {
		out[k] = v
	}
	out["id"] = string(e.ID)
	out["type"] = string(e.Type)
	return out
}

// EntitySet holds normalized entities grouped by type. Order within a type is
// significant: it is the insertion order new entities receive in a branch.
type EntitySet map[EntityType][]*Entity

// Len returns the number of entities across all types.
func (s EntitySet) Len() int {
	n := 0
	for _, list := range s {
		n += len(list)
	}
	return n
}

// Add appends entities of type t.
func (s EntitySet) Add(t EntityType, entities ...*Entity) {
	s[t] = append(s[t], entities...)
}

// Normalized is the output of Normalizer.Normalize.
type Normalized struct {
	Entities EntitySet
	// Result lists the ids of the top-level input entities in input order.
	Result []ID
}

// Normalizer converts nested raw entities to their flat normalized form and
// back. Implementations must be deterministic and must not mutate inputs.
type Normalizer interface {
	Normalize(t EntityType, raws []Raw) (Normalized, error)
	// Denormalize rebuilds the nested form of entity, resolving references
	// against the entities supplied by lookup.
	Denormalize(t EntityType, entity *Entity, lookup EntityLookup) Raw
}

// EntityLookup resolves normalized entities by type and id.
type EntityLookup interface {
	Lookup(t EntityType, id ID) (*Entity, bool)
}
