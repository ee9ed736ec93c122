package entitystore

import (
	"sort"

	"entitystore/pkg/domain"
)

// Action is a closed set of store transitions. Only the types declared in
// this file implement it.
type Action interface {
	// Name identifies the action in logs and metrics.
	Name() string
	isAction()
}

// AddEntities inserts new entities and shallow-merges known ones.
type AddEntities struct {
	Entities domain.EntitySet
}

// UpdateEntities deep-merges into existing entities. Entities that are not
// in the store are ignored.
type UpdateEntities struct {
	Entities domain.EntitySet
}

// DeleteEntities removes the listed ids from one branch.
type DeleteEntities struct {
	Type domain.EntityType
	IDs  []domain.ID
}

// DeleteAllEntitiesInBranch empties one branch.
type DeleteAllEntitiesInBranch struct {
	Type domain.EntityType
}

// ClearAllEntities empties every branch.
type ClearAllEntities struct{}

func (AddEntities) Name() string               { return "add_entities" }
func (UpdateEntities) Name() string            { return "update_entities" }
func (DeleteEntities) Name() string            { return "delete_entities" }
func (DeleteAllEntitiesInBranch) Name() string { return "delete_all_entities_in_branch" }
func (ClearAllEntities) Name() string          { return "clear_all_entities" }

func (AddEntities) isAction()               {}
func (UpdateEntities) isAction()            {}
func (DeleteEntities) isAction()            {}
func (DeleteAllEntitiesInBranch) isAction() {}
func (ClearAllEntities) isAction()          {}

// Reduce applies action to state. It returns state itself when the action
// changes nothing, and an error without any partial effect when the action
// names an unknown branch.
func Reduce(state *State, action Action) (*State, error) {
	switch a := action.(type) {
	case AddEntities:
		return mergeEntities(state, a.Entities, shallowMerge, true)
	case UpdateEntities:
		return mergeEntities(state, a.Entities, deepMerge, false)
	case DeleteEntities:
		return deleteEntities(state, a.Type, a.IDs)
	case DeleteAllEntitiesInBranch:
		return clearBranch(state, a.Type)
	case ClearAllEntities:
		return clearAll(state), nil
	default:
		// Unreachable: Action is sealed.
		return state, nil
	}
}

func sortedTypes(set domain.EntitySet) []domain.EntityType {
	types := make([]domain.EntityType, 0, len(set))
	for t := range set {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

func mergeEntities(state *State, set domain.EntitySet, merge func(existing, update *domain.Entity) *domain.Entity, create bool) (*State, error) {
	types := sortedTypes(set)
	for _, t := range types {
		if _, err := state.Branch(t); err != nil {
			return state, err
		}
	}

	next := state.edit()
	for _, t := range types {
		edit := newBranchEdit(next.branch(t))
		for _, update := range set[t] {
			if update == nil {
				continue
			}
			existing, ok := edit.get(update.ID)
			if !ok {
				if create {
					edit.set(update.ID, withType(update, t))
				}
				continue
			}
			if merged := merge(existing, update); merged != existing {
				edit.set(update.ID, merged)
			}
		}
		next.replace(t, edit.result())
	}
	return next.result(), nil
}

func withType(e *domain.Entity, t domain.EntityType) *domain.Entity {
	if e.Type == t {
		return e
	}
	cp := *e
	cp.Type = t
	return &cp
}

func deleteEntities(state *State, t domain.EntityType, ids []domain.ID) (*State, error) {
	base, err := state.Branch(t)
	if err != nil {
		return state, err
	}
	edit := newBranchEdit(base)
	for _, id := range ids {
		edit.remove(id)
	}
	next := state.edit()
	next.replace(t, edit.result())
	return next.result(), nil
}

func clearBranch(state *State, t domain.EntityType) (*State, error) {
	base, err := state.Branch(t)
	if err != nil {
		return state, err
	}
	if base.Len() == 0 {
		return state, nil
	}
	next := state.edit()
	next.replace(t, emptyBranch)
	return next.result(), nil
}

func clearAll(state *State) *State {
	next := state.edit()
	for t, b := range state.branches {
		if b.Len() > 0 {
			next.replace(t, emptyBranch)
		}
	}
	return next.result()
}
