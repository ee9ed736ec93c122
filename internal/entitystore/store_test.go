package entitystore

import (
	"errors"
	"testing"

	"entitystore/pkg/domain"

	"github.com/google/go-cmp/cmp"
)

func page(id string, fields map[string]any) *domain.Entity {
	e := domain.NewEntity(domain.EntityPage, domain.ID(id), fields)
	e.Normalized = true
	return e
}

func folder(id string, fields map[string]any) *domain.Entity {
	e := domain.NewEntity(domain.EntityFolder, domain.ID(id), fields)
	e.Normalized = true
	return e
}

func seededStore(t *testing.T) *Store {
	t.Helper()
	store := NewStore()
	err := store.Dispatch(AddEntities{Entities: domain.EntitySet{
		domain.EntityPage: {
			page("1", map[string]any{"name": "Home", "folder": "10", "versions": []any{"v1", "v2"}, "meta": map[string]any{"a": 1, "b": 2}}),
			page("2", map[string]any{"name": "About", "folder": "10"}),
		},
		domain.EntityFolder: {
			folder("10", map[string]any{"name": "Root"}),
		},
	}})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return store
}

func mustBranch(t *testing.T, s *State, typ domain.EntityType) *Branch {
	t.Helper()
	b, err := s.Branch(typ)
	if err != nil {
		t.Fatalf("branch %s: %v", typ, err)
	}
	return b
}

func mustGet(t *testing.T, s *State, typ domain.EntityType, id string) *domain.Entity {
	t.Helper()
	e, ok := mustBranch(t, s, typ).Get(domain.ID(id))
	if !ok {
		t.Fatalf("expected %s %s", typ, id)
	}
	return e
}

func TestAddEntitiesIdempotentMerge(t *testing.T) {
	store := seededStore(t)
	before := store.State()
	err := store.Dispatch(AddEntities{Entities: domain.EntitySet{
		domain.EntityPage: {page("1", map[string]any{"name": "Home", "versions": []any{"v1", "v2"}, "meta": map[string]any{"a": 1, "b": 2}})},
	}})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if store.State() != before {
		t.Fatalf("expected identical payload to keep the store reference")
	}
}

func TestAddEntitiesReferenceStability(t *testing.T) {
	store := seededStore(t)
	before := store.State()
	home := mustGet(t, before, domain.EntityPage, "1")
	about := mustGet(t, before, domain.EntityPage, "2")
	folders := mustBranch(t, before, domain.EntityFolder)

	if err := store.Dispatch(AddEntities{Entities: domain.EntitySet{
		domain.EntityPage: {page("2", map[string]any{"name": "About us"})},
	}}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	after := store.State()
	if after == before {
		t.Fatalf("expected a new state")
	}
	if mustGet(t, after, domain.EntityPage, "1") != home {
		t.Fatalf("untouched entity lost its reference")
	}
	if mustBranch(t, after, domain.EntityFolder) != folders {
		t.Fatalf("untouched branch lost its reference")
	}
	updated := mustGet(t, after, domain.EntityPage, "2")
	if updated == about {
		t.Fatalf("changed entity kept its reference")
	}
	want := map[string]any{"name": "About us", "folder": "10"}
	if diff := cmp.Diff(want, updated.Fields); diff != "" {
		t.Fatalf("shallow merge should keep unknown keys (-want +got):\n%s", diff)
	}
	if !updated.Normalized {
		t.Fatalf("expected normalized marker to survive merge")
	}
}

func TestAddEntitiesShallowMergeReplacesNestedObjects(t *testing.T) {
	store := seededStore(t)
	if err := store.Dispatch(AddEntities{Entities: domain.EntitySet{
		domain.EntityPage: {page("1", map[string]any{"meta": map[string]any{"a": 5}})},
	}}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	got := mustGet(t, store.State(), domain.EntityPage, "1").Fields["meta"]
	if diff := cmp.Diff(map[string]any{"a": 5}, got); diff != "" {
		t.Fatalf("unexpected meta (-want +got):\n%s", diff)
	}
}

func TestAddEntitiesInsertionOrder(t *testing.T) {
	store := seededStore(t)
	if err := store.Dispatch(AddEntities{Entities: domain.EntitySet{
		domain.EntityPage: {page("9", nil), page("3", nil)},
	}}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	got := mustBranch(t, store.State(), domain.EntityPage).IDs()
	if diff := cmp.Diff([]domain.ID{"1", "2", "9", "3"}, got); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
}

func TestUpdateEntitiesReplacesArrays(t *testing.T) {
	store := seededStore(t)
	before := mustGet(t, store.State(), domain.EntityPage, "1")
	if err := store.Dispatch(UpdateEntities{Entities: domain.EntitySet{
		domain.EntityPage: {page("1", map[string]any{"versions": []any{}})},
	}}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	after := mustGet(t, store.State(), domain.EntityPage, "1")
	if after == before {
		t.Fatalf("expected entity reference to change")
	}
	if versions := after.Fields["versions"].([]any); len(versions) != 0 {
		t.Fatalf("expected versions to be replaced, got %v", versions)
	}
}

func TestUpdateEntitiesDeepMergesObjects(t *testing.T) {
	store := seededStore(t)
	if err := store.Dispatch(UpdateEntities{Entities: domain.EntitySet{
		domain.EntityPage: {page("1", map[string]any{"meta": map[string]any{"b": 3, "c": 4}})},
	}}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	got := mustGet(t, store.State(), domain.EntityPage, "1").Fields["meta"]
	if diff := cmp.Diff(map[string]any{"a": 1, "b": 3, "c": 4}, got); diff != "" {
		t.Fatalf("unexpected meta (-want +got):\n%s", diff)
	}
}

func TestUpdateEntitiesNoChangeKeepsReferences(t *testing.T) {
	store := seededStore(t)
	before := store.State()
	if err := store.Dispatch(UpdateEntities{Entities: domain.EntitySet{
		domain.EntityPage: {page("1", map[string]any{"versions": []any{"v1", "v2"}, "meta": map[string]any{"a": 1}})},
	}}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if store.State() != before {
		t.Fatalf("expected no-op update to keep the store reference")
	}
}

func TestUpdateEntitiesIgnoresMissing(t *testing.T) {
	store := seededStore(t)
	before := store.State()
	if err := store.Dispatch(UpdateEntities{Entities: domain.EntitySet{
		domain.EntityPage: {page("404", map[string]any{"name": "ghost"})},
	}}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if store.State() != before {
		t.Fatalf("update must never create entities")
	}
}

func TestDeleteEntitiesOrderIndependent(t *testing.T) {
	a := seededStore(t)
	b := seededStore(t)
	folders := mustBranch(t, a.State(), domain.EntityFolder)
	if err := a.Dispatch(DeleteEntities{Type: domain.EntityPage, IDs: []domain.ID{"1", "2", "missing"}}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := b.Dispatch(DeleteEntities{Type: domain.EntityPage, IDs: []domain.ID{"2", "1"}}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	pa := mustBranch(t, a.State(), domain.EntityPage)
	pb := mustBranch(t, b.State(), domain.EntityPage)
	if pa.Len() != 0 || pb.Len() != 0 {
		t.Fatalf("expected empty branches, got %d and %d", pa.Len(), pb.Len())
	}
	if mustBranch(t, a.State(), domain.EntityFolder) != folders {
		t.Fatalf("other branches must keep their reference")
	}
}

func TestDeleteMissingIsNoop(t *testing.T) {
	store := seededStore(t)
	before := store.State()
	if err := store.Dispatch(DeleteEntities{Type: domain.EntityPage, IDs: []domain.ID{"missing"}}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if store.State() != before {
		t.Fatalf("deleting absent ids must not change the store")
	}
}

func TestDeleteAllAndClear(t *testing.T) {
	store := seededStore(t)
	if err := store.Dispatch(DeleteAllEntitiesInBranch{Type: domain.EntityPage}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if mustBranch(t, store.State(), domain.EntityPage).Len() != 0 {
		t.Fatalf("expected page branch to be empty")
	}
	if mustBranch(t, store.State(), domain.EntityFolder).Len() != 1 {
		t.Fatalf("expected folder branch to be untouched")
	}
	if err := store.Dispatch(ClearAllEntities{}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	cleared := store.State()
	if cleared.Len() != 0 {
		t.Fatalf("expected empty store, got %d entities", cleared.Len())
	}
	if err := store.Dispatch(ClearAllEntities{}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if store.State() != cleared {
		t.Fatalf("clearing an empty store must keep its reference")
	}
}

func TestUnknownBranchFailsWithoutPartialWrite(t *testing.T) {
	store := seededStore(t)
	before := store.State()
	err := store.Dispatch(
		AddEntities{Entities: domain.EntitySet{domain.EntityPage: {page("5", nil)}}},
		DeleteEntities{Type: "spaceship", IDs: []domain.ID{"1"}},
	)
	var unknown domain.ErrUnknownBranch
	if !errors.As(err, &unknown) || unknown.Type != "spaceship" {
		t.Fatalf("expected ErrUnknownBranch, got %v", err)
	}
	if store.State() != before {
		t.Fatalf("failed dispatch must not commit partial state")
	}
	if _, err := before.Branch("spaceship"); err == nil {
		t.Fatalf("expected branch lookup error")
	}
}

func TestSubscribeAndSelect(t *testing.T) {
	store := seededStore(t)
	var versions []uint64
	unsubscribe := store.Subscribe(func(_ *State, v uint64) { versions = append(versions, v) })

	var seen []*domain.Entity
	obs := Select(store, func(s *State) *domain.Entity {
		e, _ := s.Lookup(domain.EntityPage, "1")
		return e
	}, func(a, b *domain.Entity) bool { return a == b })
	sub := obs.Subscribe(func(e *domain.Entity) { seen = append(seen, e) })

	// sibling and other-branch changes must not re-emit
	if err := store.Dispatch(AddEntities{Entities: domain.EntitySet{domain.EntityPage: {page("2", map[string]any{"name": "x"})}}}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := store.Dispatch(AddEntities{Entities: domain.EntitySet{domain.EntityFolder: {folder("11", nil)}}}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := store.Dispatch(AddEntities{Entities: domain.EntitySet{domain.EntityPage: {page("1", map[string]any{"name": "y"})}}}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	sub.Unsubscribe()
	unsubscribe()

	if len(seen) != 2 || seen[1].Fields["name"] != "y" {
		t.Fatalf("expected initial value and one change, got %d emissions", len(seen))
	}
	if diff := cmp.Diff([]uint64{1, 2, 3, 4}, versions); diff != "" {
		t.Fatalf("unexpected versions (-want +got):\n%s", diff)
	}
	if store.Listeners() != 0 {
		t.Fatalf("expected all listeners to be removed")
	}
}
