// Package entitystore implements the normalized entity store: an immutable,
// branch-per-type state value, the actions that transform it, and a Store
// that dispatches actions and publishes state changes.
//
// Every transformation shares structure with the previous state. Branches
// and entities that an action does not change keep their pointer identity,
// so consumers detect changes with ==.
package entitystore

import (
	"iter"

	"entitystore/pkg/domain"
)

// Branch holds all entities of one type in insertion order. A Branch is
// never modified after construction.
type Branch struct {
	ids  []domain.ID
	byID map[domain.ID]*domain.Entity
}

var emptyBranch = &Branch{byID: map[domain.ID]*domain.Entity{}}

// Get returns the entity with the given id.
func (b *Branch) Get(id domain.ID) (*domain.Entity, bool) {
	e, ok := b.byID[id]
	return e, ok
}

// Len returns the number of entities in the branch.
func (b *Branch) Len() int { return len(b.ids) }

// IDs returns the entity ids in insertion order.
func (b *Branch) IDs() []domain.ID {
	out := make([]domain.ID, len(b.ids))
	copy(out, b.ids)
	return out
}

// Entities returns the entities in insertion order.
func (b *Branch) Entities() []*domain.Entity {
	out := make([]*domain.Entity, len(b.ids))
	for i, id := range b.ids {
		out[i] = b.byID[id]
	}
	return out
}

// All iterates entities in insertion order.
func (b *Branch) All() iter.Seq2[domain.ID, *domain.Entity] {
	return func(yield func(domain.ID, *domain.Entity) bool) {
		for _, id := range b.ids {
			if !yield(id, b.byID[id]) {
				return
			}
		}
	}
}

// branchEdit accumulates changes against a base branch and copies the base
// only on the first write.
type branchEdit struct {
	base    *Branch
	ids     []domain.ID
	byID    map[domain.ID]*domain.Entity
	removed map[domain.ID]struct{}
}

func newBranchEdit(base *Branch) *branchEdit {
	return &branchEdit{base: base}
}

func (e *branchEdit) get(id domain.ID) (*domain.Entity, bool) {
	if e.byID != nil {
		ent, ok := e.byID[id]
		return ent, ok
	}
	return e.base.Get(id)
}

func (e *branchEdit) ensureCopy() {
	if e.byID != nil {
		return
	}
	e.byID = make(map[domain.ID]*domain.Entity, len(e.base.byID)+1)
	for id, ent := range e.base.byID {
		e.byID[id] = ent
	}
	e.ids = append(make([]domain.ID, 0, len(e.base.ids)+1), e.base.ids...)
}

func (e *branchEdit) set(id domain.ID, ent *domain.Entity) {
	e.ensureCopy()
	if _, exists := e.byID[id]; !exists {
		if _, wasRemoved := e.removed[id]; wasRemoved {
			delete(e.removed, id)
			e.ids = removeID(e.ids, id)
		}
		e.ids = append(e.ids, id)
	}
	e.byID[id] = ent
}

func (e *branchEdit) remove(id domain.ID) {
	if _, ok := e.get(id); !ok {
		return
	}
	e.ensureCopy()
	delete(e.byID, id)
	if e.removed == nil {
		e.removed = make(map[domain.ID]struct{})
	}
	e.removed[id] = struct{}{}
}

// result returns the base branch when nothing was written.
func (e *branchEdit) result() *Branch {
	if e.byID == nil {
		return e.base
	}
	ids := e.ids
	if len(e.removed) > 0 {
		kept := make([]domain.ID, 0, len(ids))
		for _, id := range ids {
			if _, gone := e.removed[id]; !gone {
				kept = append(kept, id)
			}
		}
		ids = kept
	}
	return &Branch{ids: ids, byID: e.byID}
}

func removeID(ids []domain.ID, id domain.ID) []domain.ID {
	for i, existing := range ids {
		if existing == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}

// State is the whole normalized store: one Branch per entity type.
type State struct {
	branches map[domain.EntityType]*Branch
}

// NewState returns a state with an empty branch for every entity type.
func NewState() *State {
	s := &State{branches: make(map[domain.EntityType]*Branch, len(domain.EntityTypes()))}
	for _, t := range domain.EntityTypes() {
		s.branches[t] = emptyBranch
	}
	return s
}

// Branch returns the branch for t or ErrUnknownBranch.
func (s *State) Branch(t domain.EntityType) (*Branch, error) {
	b, ok := s.branches[t]
	if !ok {
		return nil, domain.ErrUnknownBranch{Type: t}
	}
	return b, nil
}

// Lookup implements domain.EntityLookup.
func (s *State) Lookup(t domain.EntityType, id domain.ID) (*domain.Entity, bool) {
	b, ok := s.branches[t]
	if !ok {
		return nil, false
	}
	return b.Get(id)
}

// Len returns the number of entities across all branches.
func (s *State) Len() int {
	n := 0
	for _, b := range s.branches {
		n += b.Len()
	}
	return n
}

// stateEdit collects replaced branches and builds a new State only when at
// least one branch changed.
type stateEdit struct {
	base     *State
	branches map[domain.EntityType]*Branch
}

func (s *State) edit() *stateEdit {
	return &stateEdit{base: s}
}

func (e *stateEdit) branch(t domain.EntityType) *Branch {
	if b, ok := e.branches[t]; ok {
		return b
	}
	return e.base.branches[t]
}

func (e *stateEdit) replace(t domain.EntityType, b *Branch) {
	if b == e.branch(t) {
		return
	}
	if e.branches == nil {
		e.branches = make(map[domain.EntityType]*Branch)
	}
	e.branches[t] = b
}

func (e *stateEdit) result() *State {
	if len(e.branches) == 0 {
		return e.base
	}
	next := &State{branches: make(map[domain.EntityType]*Branch, len(e.base.branches))}
	for t, b := range e.base.branches {
		next.branches[t] = b
	}
	changed := false
	for t, b := range e.branches {
		if next.branches[t] != b {
			next.branches[t] = b
			changed = true
		}
	}
	if !changed {
		return e.base
	}
	return next
}
