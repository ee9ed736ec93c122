// Package entitymanager is the public facade over the normalized entity
// store. It normalizes incoming raw entities (inline for small batches, on a
// worker for large ones), applies them to the store in call order, and
// exposes observables of single entities and of normalized or denormalized
// entity lists. Denormalized lists are cached per entity and shared between
// subscribers.
package entitymanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"entitystore/internal/entitystore"
	"entitystore/internal/logging"
	"entitystore/internal/metrics"
	"entitystore/internal/reactive"
	"entitystore/internal/worker"
	"entitystore/pkg/domain"

	"golang.org/x/sync/singleflight"
)

var (
	// ErrNotInitialized is returned by operations called before Start.
	ErrNotInitialized = errors.New("entity manager not initialized")
	// ErrClosed is returned by operations called after Stop.
	ErrClosed = errors.New("entity manager closed")
)

const (
	defaultMaxSyncBatch  = 100
	defaultEvictionDelay = 5 * time.Second
)

type lifecycle int

const (
	stateNew lifecycle = iota
	stateRunning
	stateStopped
)

// Manager coordinates the store, the normalizer, the worker and the
// denormalized caches. Use New, then Start before any other call.
type Manager struct {
	store      *entitystore.Store
	normalizer domain.Normalizer
	clock      Clock
	logger     logging.Logger
	metrics    metrics.Recorder

	maxSyncBatch  int
	evictionDelay time.Duration

	worker     Worker
	workerOpts worker.Options
	seq        *sequencer
	failures   chan worker.Response

	flight singleflight.Group

	mu    sync.Mutex
	state lifecycle
	lists map[domain.EntityType]*listCache

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a manager around store and normalizer. A nil store gets a
// fresh empty one.
func New(store *entitystore.Store, n domain.Normalizer, opts ...Option) *Manager {
	if store == nil {
		store = entitystore.NewStore()
	}
	m := &Manager{
		store:         store,
		normalizer:    n,
		clock:         systemClock{},
		logger:        logging.Noop(),
		metrics:       metrics.Noop(),
		maxSyncBatch:  defaultMaxSyncBatch,
		evictionDelay: defaultEvictionDelay,
		seq:           newSequencer(),
		failures:      make(chan worker.Response),
		lists:         make(map[domain.EntityType]*listCache),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.worker == nil {
		m.workerOpts.Logger = m.logger
		m.worker = worker.NewPool(n, m.workerOpts)
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m
}

// Store returns the underlying store.
func (m *Manager) Store() *entitystore.Store { return m.store }

// Start launches the worker and the goroutine that applies its results.
// Calling Start on a running manager is a no-op.
func (m *Manager) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case stateRunning:
		return nil
	case stateStopped:
		return ErrClosed
	}
	m.state = stateRunning
	m.worker.Start()
	m.wg.Add(1)
	go m.consume()
	m.logger.Info("entity manager started", "max_sync_batch", m.maxSyncBatch, "eviction_delay", m.evictionDelay)
	return nil
}

// Stop halts the worker, fails every batch still waiting with ErrClosed and
// cancels pending cache evictions.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.state != stateRunning {
		m.state = stateStopped
		m.mu.Unlock()
		m.cancel()
		return nil
	}
	m.state = stateStopped
	lists := make([]*listCache, 0, len(m.lists))
	for _, lc := range m.lists {
		lists = append(lists, lc)
	}
	m.mu.Unlock()

	m.cancel()
	werr := m.worker.Stop(ctx)

	// A ticket is either released by consume or returned here, never both.
	for _, t := range m.seq.close(ErrClosed) {
		m.metrics.InFlight(-1)
		t.done <- ErrClosed
	}
	for _, lc := range lists {
		lc.stopTimers()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	m.logger.Info("entity manager stopped")
	return werr
}

func (m *Manager) ready() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case stateNew:
		return ErrNotInitialized
	case stateStopped:
		return ErrClosed
	}
	return nil
}

// GetEntity returns an observable of one entity. It emits nil while the
// entity is absent and re-emits only when the stored reference changes.
func (m *Manager) GetEntity(t domain.EntityType, id domain.ID) (*reactive.Observable[*domain.Entity], error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	if err := domain.CheckType(t); err != nil {
		return nil, err
	}
	return entitystore.Select(m.store, func(s *entitystore.State) *domain.Entity {
		e, _ := s.Lookup(t, id)
		return e
	}, func(a, b *domain.Entity) bool { return a == b }), nil
}

// GetEntitySnapshot returns the current stored entity without subscribing.
func (m *Manager) GetEntitySnapshot(t domain.EntityType, id domain.ID) (*domain.Entity, bool, error) {
	if err := m.ready(); err != nil {
		return nil, false, err
	}
	if err := domain.CheckType(t); err != nil {
		return nil, false, err
	}
	e, ok := m.store.State().Lookup(t, id)
	return e, ok, nil
}

// WatchNormalizedEntitiesList returns an observable of the normalized
// entities of one branch in insertion order. It re-emits only when the
// branch itself changes.
func (m *Manager) WatchNormalizedEntitiesList(t domain.EntityType) (*reactive.Observable[[]*domain.Entity], error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	if err := domain.CheckType(t); err != nil {
		return nil, err
	}
	return reactive.New(func(emit reactive.EmitFunc[[]*domain.Entity]) func() {
		var (
			mu   sync.Mutex
			last *entitystore.Branch
			seen uint64
		)
		return m.store.Subscribe(func(s *entitystore.State, version uint64) {
			branch, err := s.Branch(t)
			if err != nil {
				return
			}
			mu.Lock()
			if (last != nil && version < seen) || branch == last {
				mu.Unlock()
				return
			}
			last, seen = branch, version
			mu.Unlock()
			emit(branch.Entities(), version)
		})
	}, nil), nil
}

// DenormalizeEntity expands entity against the current store state. It does
// not consult or populate the denormalized cache. Concurrent calls for the
// same entity and state share one computation and its result, which callers
// must treat as read-only.
func (m *Manager) DenormalizeEntity(t domain.EntityType, entity *domain.Entity) (domain.Raw, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	if err := domain.CheckType(t); err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, nil
	}
	state := m.store.State()
	key := fmt.Sprintf("%s/%p/%p", t, entity, state)
	v, err, _ := m.flight.Do(key, func() (any, error) {
		m.metrics.Denormalized(string(t))
		return m.normalizer.Denormalize(t, entity, state), nil
	})
	if err != nil {
		return nil, err
	}
	raw, _ := v.(domain.Raw)
	return raw, nil
}

// AddEntity normalizes one raw entity inline and applies it. A nil raw is a
// no-op.
func (m *Manager) AddEntity(t domain.EntityType, raw domain.Raw) error {
	if err := m.ready(); err != nil {
		return err
	}
	if err := domain.CheckType(t); err != nil {
		return err
	}
	if raw == nil {
		return nil
	}
	return m.addSync(t, []domain.Raw{raw})
}

// AddEntities normalizes raws and applies them to the store. Batches up to
// the sync threshold are handled on the caller's goroutine; larger ones are
// handed to the worker and applied in the order AddEntities was called,
// regardless of the order the worker finishes them. A failing batch
// returns its error to this caller only and writes nothing. Cancelling ctx
// stops the wait but not the batch.
func (m *Manager) AddEntities(ctx context.Context, t domain.EntityType, raws []domain.Raw) error {
	if err := m.ready(); err != nil {
		return err
	}
	if err := domain.CheckType(t); err != nil {
		return err
	}
	if len(raws) == 0 {
		return nil
	}
	if len(raws) <= m.maxSyncBatch {
		return m.addSync(t, raws)
	}
	return m.addAsync(ctx, t, raws)
}

func (m *Manager) addSync(t domain.EntityType, raws []domain.Raw) (err error) {
	started := m.clock.Now()
	defer func() {
		m.metrics.BatchApplied(string(t), metrics.ModeSync, len(raws), err, m.clock.Now().Sub(started))
	}()
	normalized, err := m.normalizeInline(t, raws)
	if err != nil {
		return fmt.Errorf("add %d %s entities: %w", len(raws), t, err)
	}
	return m.store.Dispatch(entitystore.AddEntities{Entities: normalized.Entities})
}

func (m *Manager) normalizeInline(t domain.EntityType, raws []domain.Raw) (out domain.Normalized, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("normalizer panicked: %v", r)
		}
	}()
	return m.normalizer.Normalize(t, raws)
}

func (m *Manager) addAsync(ctx context.Context, t domain.EntityType, raws []domain.Raw) error {
	tk, err := m.seq.issue(t, len(raws), m.clock.Now())
	if err != nil {
		return err
	}
	m.metrics.InFlight(1)
	m.logger.Debug("batch submitted to worker", "request", tk.id, "type", string(t), "entities", len(raws))

	if err := m.worker.Submit(ctx, worker.Request{ID: tk.id, Type: t, Raws: raws}); err != nil {
		// Release the slot so later requests are not held back.
		select {
		case m.failures <- worker.Response{RequestID: tk.id, Type: t, Err: err}:
		case <-m.ctx.Done():
		}
	}

	select {
	case err := <-tk.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) consume() {
	defer m.wg.Done()
	responses := m.worker.Responses()
	for {
		select {
		case <-m.ctx.Done():
			return
		case resp := <-responses:
			m.release(m.seq.complete(resp))
		case resp := <-m.failures:
			m.release(m.seq.complete(resp))
		}
	}
}

// release applies ready tickets in order. It only runs on the consume
// goroutine, so dispatches from worker batches never interleave.
func (m *Manager) release(ready []*ticket) {
	for _, tk := range ready {
		err := m.apply(tk)
		m.metrics.InFlight(-1)
		m.metrics.BatchApplied(string(tk.typ), metrics.ModeWorker, tk.size, err, m.clock.Now().Sub(tk.started))
		tk.done <- err
	}
}

func (m *Manager) apply(tk *ticket) error {
	resp := tk.resp
	if resp.Err != nil {
		m.logger.Warn("worker batch failed", "request", tk.id, "type", string(tk.typ), "error", resp.Err)
		return fmt.Errorf("add %d %s entities (request %d): %w", tk.size, tk.typ, tk.id, resp.Err)
	}
	if err := m.store.Dispatch(entitystore.AddEntities{Entities: resp.Result.Entities}); err != nil {
		m.logger.Warn("worker batch rejected by store", "request", tk.id, "type", string(tk.typ), "error", err)
		return err
	}
	m.logger.Debug("worker batch applied", "request", tk.id, "type", string(tk.typ), "entities", resp.Result.Entities.Len())
	return nil
}

// Pending returns the number of worker batches not yet applied.
func (m *Manager) Pending() int { return m.seq.waiting() }

// UpdateEntities deep-merges entities into existing ones of type t. Entities
// not in the store are ignored.
func (m *Manager) UpdateEntities(t domain.EntityType, entities ...*domain.Entity) error {
	if err := m.ready(); err != nil {
		return err
	}
	if err := domain.CheckType(t); err != nil {
		return err
	}
	if len(entities) == 0 {
		return nil
	}
	set := domain.EntitySet{}
	set.Add(t, entities...)
	return m.store.Dispatch(entitystore.UpdateEntities{Entities: set})
}

// DeleteEntities removes ids from the branch of t. A nil ids slice is a
// no-op; unknown ids are ignored.
func (m *Manager) DeleteEntities(t domain.EntityType, ids []domain.ID) error {
	if err := m.ready(); err != nil {
		return err
	}
	if err := domain.CheckType(t); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	return m.store.Dispatch(entitystore.DeleteEntities{Type: t, IDs: ids})
}

// DeleteAllEntitiesInBranch empties the branch of t.
func (m *Manager) DeleteAllEntitiesInBranch(t domain.EntityType) error {
	if err := m.ready(); err != nil {
		return err
	}
	if err := domain.CheckType(t); err != nil {
		return err
	}
	return m.store.Dispatch(entitystore.DeleteAllEntitiesInBranch{Type: t})
}

// ClearAll empties every branch.
func (m *Manager) ClearAll() error {
	if err := m.ready(); err != nil {
		return err
	}
	return m.store.Dispatch(entitystore.ClearAllEntities{})
}
