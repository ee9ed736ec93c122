// Package normalizer implements domain.Normalizer from a declarative schema
// of entity relations.
package normalizer

import (
	"errors"
	"fmt"

	"entitystore/pkg/domain"
)

// ErrMissingID is returned when a raw entity has no usable id.
var ErrMissingID = errors.New("raw entity has no id")

// Relation declares that Field of an entity references entities of Target.
type Relation struct {
	Field  string
	Target domain.EntityType
	Many   bool
}

// Schema lists the relations of each entity type. Types without relations
// are stored as flat entities.
type Schema map[domain.EntityType][]Relation

// DefaultSchema describes the relations between the content types.
func DefaultSchema() Schema {
	return Schema{
		domain.EntityPage: {
			{Field: "folder", Target: domain.EntityFolder},
			{Field: "template", Target: domain.EntityTemplate},
			{Field: "creator", Target: domain.EntityUser},
			{Field: "editor", Target: domain.EntityUser},
			{Field: "languageVariants", Target: domain.EntityPage, Many: true},
		},
		domain.EntityFolder: {
			{Field: "mother", Target: domain.EntityFolder},
			{Field: "node", Target: domain.EntityNode},
			{Field: "creator", Target: domain.EntityUser},
			{Field: "editor", Target: domain.EntityUser},
		},
		domain.EntityNode: {
			{Field: "folder", Target: domain.EntityFolder},
		},
		domain.EntityForm: {
			{Field: "folder", Target: domain.EntityFolder},
			{Field: "creator", Target: domain.EntityUser},
		},
		domain.EntityImage: {
			{Field: "folder", Target: domain.EntityFolder},
			{Field: "creator", Target: domain.EntityUser},
		},
		domain.EntityFile: {
			{Field: "folder", Target: domain.EntityFolder},
			{Field: "creator", Target: domain.EntityUser},
		},
		domain.EntityTemplate: {
			{Field: "folder", Target: domain.EntityFolder},
		},
		domain.EntityUser: {
			{Field: "groups", Target: domain.EntityGroup, Many: true},
		},
		domain.EntityGroup: {
			{Field: "children", Target: domain.EntityGroup, Many: true},
		},
		domain.EntityMessage: {
			{Field: "sender", Target: domain.EntityUser},
		},
	}
}

// SchemaNormalizer normalizes raw entity graphs according to a Schema.
type SchemaNormalizer struct {
	schema Schema
}

var _ domain.Normalizer = (*SchemaNormalizer)(nil)

// New returns a normalizer for schema.
func New(schema Schema) *SchemaNormalizer {
	return &SchemaNormalizer{schema: schema}
}

// Normalize flattens raws of type t and every nested entity they reference.
func (n *SchemaNormalizer) Normalize(t domain.EntityType, raws []domain.Raw) (domain.Normalized, error) {
	if err := domain.CheckType(t); err != nil {
		return domain.Normalized{}, err
	}
	out := domain.Normalized{Entities: domain.EntitySet{}}
	for i, raw := range raws {
		if raw == nil {
			continue
		}
		id, err := n.visit(t, raw, out.Entities)
		if err != nil {
			return domain.Normalized{}, fmt.Errorf("normalize %s[%d]: %w", t, i, err)
		}
		out.Result = append(out.Result, id)
	}
	return out, nil
}

func (n *SchemaNormalizer) visit(t domain.EntityType, raw domain.Raw, out domain.EntitySet) (domain.ID, error) {
	id, ok := domain.IDFrom(raw["id"])
	if !ok {
		return "", fmt.Errorf("%w (type %s)", ErrMissingID, t)
	}
	fields := make(map[string]any, len(raw))
	for k, v := range raw {
		if k == "id" || k == "type" {
			continue
		}
		fields[k] = v
	}
	for _, rel := range n.schema[t] {
		v, present := fields[rel.Field]
		if !present || v == nil {
			continue
		}
		ref, err := n.reference(rel, v, out)
		if err != nil {
			return "", fmt.Errorf("%s.%s: %w", t, rel.Field, err)
		}
		fields[rel.Field] = ref
	}
	entity := domain.NewEntity(t, id, fields)
	entity.Normalized = true
	out.Add(t, entity)
	return id, nil
}

func (n *SchemaNormalizer) reference(rel Relation, v any, out domain.EntitySet) (any, error) {
	if !rel.Many {
		return n.single(rel.Target, v, out)
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a list of %s references, got %T", rel.Target, v)
	}
	ids := make([]any, 0, len(list))
	for _, item := range list {
		ref, err := n.single(rel.Target, item, out)
		if err != nil {
			return nil, err
		}
		ids = append(ids, ref)
	}
	return ids, nil
}

func (n *SchemaNormalizer) single(target domain.EntityType, v any, out domain.EntitySet) (any, error) {
	if nested, ok := v.(map[string]any); ok {
		id, err := n.visit(target, nested, out)
		if err != nil {
			return nil, err
		}
		return string(id), nil
	}
	id, ok := domain.IDFrom(v)
	if !ok {
		return nil, fmt.Errorf("invalid %s reference %v", target, v)
	}
	return string(id), nil
}

// Denormalize rebuilds the nested form of entity. References that cannot be
// resolved through lookup, and references that would form a cycle, are left
// as ids.
func (n *SchemaNormalizer) Denormalize(t domain.EntityType, entity *domain.Entity, lookup domain.EntityLookup) domain.Raw {
	if entity == nil {
		return nil
	}
	return n.expand(t, entity, lookup, map[string]struct{}{})
}

func (n *SchemaNormalizer) expand(t domain.EntityType, entity *domain.Entity, lookup domain.EntityLookup, path map[string]struct{}) domain.Raw {
	key := string(t) + ":" + string(entity.ID)
	path[key] = struct{}{}
	defer delete(path, key)

	raw := entity.Raw()
	for _, rel := range n.schema[t] {
		v, ok := raw[rel.Field]
		if !ok || v == nil {
			continue
		}
		if !rel.Many {
			raw[rel.Field] = n.resolve(rel.Target, v, lookup, path)
			continue
		}
		list, ok := v.([]any)
		if !ok {
			continue
		}
		resolved := make([]any, len(list))
		for i, item := range list {
			resolved[i] = n.resolve(rel.Target, item, lookup, path)
		}
		raw[rel.Field] = resolved
	}
	return raw
}

func (n *SchemaNormalizer) resolve(target domain.EntityType, ref any, lookup domain.EntityLookup, path map[string]struct{}) any {
	id, ok := domain.IDFrom(ref)
	if !ok {
		return ref
	}
	if _, cyclic := path[string(target)+":"+string(id)]; cyclic {
		return ref
	}
	e, found := lookup.Lookup(target, id)
	if !found {
		return ref
	}
	return n.expand(target, e, lookup, path)
}
