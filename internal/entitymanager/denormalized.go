package entitymanager

import (
	"sync"

	"entitystore/internal/entitystore"
	"entitystore/internal/reactive"
	"entitystore/pkg/domain"

	"github.com/google/uuid"
)

type cacheEntry struct {
	source *domain.Entity
	value  domain.Raw
}

// listCache backs the denormalized list observable of one entity type. An
// entry is reused while the stored entity keeps the same reference. Entries
// for deleted entities are dropped after the eviction delay unless the
// entity returns first; the whole cache is dropped once the list has had no
// subscribers for the eviction delay.
type listCache struct {
	m          *Manager
	typ        domain.EntityType
	observable *reactive.Observable[[]domain.Raw]

	mu        sync.Mutex
	entries   map[domain.ID]cacheEntry
	deletions map[domain.ID]Timer
	connected bool
	branch    *entitystore.Branch
	version   uint64

	evictGen   uint64
	evictTimer Timer
}

// WatchDenormalizedEntitiesList returns the shared observable of the
// denormalized entities of type t in branch order. Every caller receives the
// same observable, so later subscribers reuse the cached values.
func (m *Manager) WatchDenormalizedEntitiesList(t domain.EntityType) (*reactive.Observable[[]domain.Raw], error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	if err := domain.CheckType(t); err != nil {
		return nil, err
	}
	return m.listCache(t).observable, nil
}

// CacheSize returns the number of cached denormalized entries of type t.
func (m *Manager) CacheSize(t domain.EntityType) int {
	m.mu.Lock()
	lc, ok := m.lists[t]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return len(lc.entries)
}

func (m *Manager) listCache(t domain.EntityType) *listCache {
	m.mu.Lock()
	defer m.mu.Unlock()
	if lc, ok := m.lists[t]; ok {
		return lc
	}
	lc := &listCache{
		m:         m,
		typ:       t,
		entries:   make(map[domain.ID]cacheEntry),
		deletions: make(map[domain.ID]Timer),
	}
	lc.observable = reactive.New(lc.connect, sameRaws)
	m.lists[t] = lc
	return lc
}

func (lc *listCache) connect(emit reactive.EmitFunc[[]domain.Raw]) func() {
	conn := uuid.NewString()
	lc.mu.Lock()
	lc.connected = true
	lc.branch = nil
	lc.version = 0
	if lc.evictTimer != nil {
		lc.evictTimer.Stop()
		lc.evictTimer = nil
	}
	lc.evictGen++
	cached := len(lc.entries)
	lc.mu.Unlock()
	lc.m.logger.Debug("denormalized list connected", "type", string(lc.typ), "connection", conn, "cached", cached)

	unsubscribe := lc.m.store.Subscribe(func(s *entitystore.State, version uint64) {
		if list, ok := lc.update(s, version); ok {
			emit(list, version)
		}
	})
	return func() {
		unsubscribe()
		lc.disconnect()
		lc.m.logger.Debug("denormalized list disconnected", "type", string(lc.typ), "connection", conn)
	}
}

// update recomputes the list for state. Only entities whose reference
// changed since they were cached are denormalized again.
func (lc *listCache) update(s *entitystore.State, version uint64) ([]domain.Raw, bool) {
	branch, err := s.Branch(lc.typ)
	if err != nil {
		return nil, false
	}
	typ := string(lc.typ)

	lc.mu.Lock()
	defer lc.mu.Unlock()
	if !lc.connected || branch == lc.branch || (lc.branch != nil && version < lc.version) {
		return nil, false
	}

	list := make([]domain.Raw, 0, branch.Len())
	for id, e := range branch.All() {
		if timer, ok := lc.deletions[id]; ok {
			timer.Stop()
			delete(lc.deletions, id)
		}
		if entry, ok := lc.entries[id]; ok && entry.source == e {
			lc.m.metrics.CacheHit(typ)
			list = append(list, entry.value)
			continue
		}
		lc.m.metrics.CacheMiss(typ)
		lc.m.metrics.Denormalized(typ)
		value := lc.m.normalizer.Denormalize(lc.typ, e, s)
		lc.entries[id] = cacheEntry{source: e, value: value}
		list = append(list, value)
	}
	for id := range lc.entries {
		if _, ok := branch.Get(id); ok {
			continue
		}
		if _, pending := lc.deletions[id]; pending {
			continue
		}
		lc.deletions[id] = lc.m.clock.AfterFunc(lc.m.evictionDelay, func() { lc.evictEntry(id) })
	}
	lc.branch = branch
	lc.version = version
	return list, true
}

func (lc *listCache) evictEntry(id domain.ID) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if _, ok := lc.deletions[id]; !ok {
		return
	}
	delete(lc.deletions, id)
	if lc.branch != nil {
		if _, back := lc.branch.Get(id); back {
			return
		}
	}
	if _, ok := lc.entries[id]; ok {
		delete(lc.entries, id)
		lc.m.metrics.CacheEvicted(string(lc.typ), 1)
	}
}

func (lc *listCache) disconnect() {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.connected = false
	lc.branch = nil
	if lc.evictTimer != nil {
		lc.evictTimer.Stop()
	}
	lc.evictGen++
	gen := lc.evictGen
	lc.evictTimer = lc.m.clock.AfterFunc(lc.m.evictionDelay, func() { lc.evictAll(gen) })
}

func (lc *listCache) evictAll(gen uint64) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if gen != lc.evictGen || lc.connected {
		return
	}
	lc.evictTimer = nil
	for id, timer := range lc.deletions {
		timer.Stop()
		delete(lc.deletions, id)
	}
	if n := len(lc.entries); n > 0 {
		lc.entries = make(map[domain.ID]cacheEntry)
		lc.m.metrics.CacheEvicted(string(lc.typ), n)
		lc.m.logger.Debug("denormalized cache evicted", "type", string(lc.typ), "entries", n)
	}
}

func (lc *listCache) stopTimers() {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.evictTimer != nil {
		lc.evictTimer.Stop()
		lc.evictTimer = nil
	}
	lc.evictGen++
	for id, timer := range lc.deletions {
		timer.Stop()
		delete(lc.deletions, id)
	}
}

func sameRaws(a, b []domain.Raw) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !domain.SameValue(a[i], b[i]) {
			return false
		}
	}
	return true
}
