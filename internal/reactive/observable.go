// Package reactive provides multicast, push-based observables that replay
// their latest value to new subscribers.
//
// An Observable is connected to its source when the first subscriber arrives
// and disconnected when the last one leaves. Every value carries a source
// version; values older than the latest one seen are dropped, so sources may
// deliver from several goroutines without regressing observers.
//
// Callbacks are never called while a lock is held, so they may subscribe,
// unsubscribe, or trigger new emissions. A value emitted from inside a
// callback is queued and delivered after that callback returns.
package reactive

import (
	"sort"
	"sync"
)

// EmitFunc pushes a value with its source version into an observable.
type EmitFunc[T any] func(value T, version uint64)

// ConnectFunc attaches an observable to its source and returns the function
// that detaches it. The source should emit its current value during connect.
type ConnectFunc[T any] func(emit EmitFunc[T]) (disconnect func())

// Observable is a ref-counted multicast view over a source.
type Observable[T any] struct {
	connect ConnectFunc[T]
	equal   func(a, b T) bool

	mu         sync.Mutex
	subs       map[uint64]*subscriber[T]
	nextID     uint64
	disconnect func()
	connected  bool
	gen        uint64
	version    uint64
	seq        uint64
	latest     T
	hasLatest  bool
	queue      []delivery[T]
	draining   bool
}

type delivery[T any] struct {
	gen    uint64
	seq    uint64
	value  T
	target *subscriber[T] // nil delivers to every subscriber
}

type subscriber[T any] struct {
	id   uint64
	fn   func(T)
	seen uint64 // owned by the draining goroutine
}

// New constructs an observable. When equal is nil every value is delivered.
func New[T any](connect ConnectFunc[T], equal func(a, b T) bool) *Observable[T] {
	return &Observable[T]{
		connect: connect,
		equal:   equal,
		subs:    make(map[uint64]*subscriber[T]),
	}
}

// Subscription detaches a subscriber from its observable.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Unsubscribe stops delivery. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

// Subscribe registers fn and delivers the current value to it immediately.
func (o *Observable[T]) Subscribe(fn func(T)) *Subscription {
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	sub := &subscriber[T]{id: id, fn: fn}
	o.subs[id] = sub
	first := !o.connected
	gen := o.gen
	if first {
		o.connected = true
		o.gen++
		gen = o.gen
		o.version = 0
		o.hasLatest = false
	}
	o.mu.Unlock()

	if first {
		disconnect := o.connect(func(v T, version uint64) { o.emit(gen, version, v) })
		o.mu.Lock()
		if o.gen == gen {
			o.disconnect, disconnect = disconnect, nil
		}
		o.mu.Unlock()
		if disconnect != nil {
			disconnect()
		}
	} else {
		o.replay(sub)
	}

	return &Subscription{cancel: func() { o.unsubscribe(id) }}
}

// Current returns the latest value if the observable is connected.
func (o *Observable[T]) Current() (T, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.latest, o.hasLatest
}

// Subscribers returns the number of active subscribers.
func (o *Observable[T]) Subscribers() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.subs)
}

func (o *Observable[T]) unsubscribe(id uint64) {
	o.mu.Lock()
	if _, ok := o.subs[id]; !ok {
		o.mu.Unlock()
		return
	}
	delete(o.subs, id)
	var disconnect func()
	if len(o.subs) == 0 {
		disconnect = o.disconnect
		o.disconnect = nil
		o.connected = false
		o.gen++
		o.hasLatest = false
		var zero T
		o.latest = zero
	}
	o.mu.Unlock()
	if disconnect != nil {
		disconnect()
	}
}

func (o *Observable[T]) emit(gen, version uint64, v T) {
	o.mu.Lock()
	if gen != o.gen || version < o.version {
		o.mu.Unlock()
		return
	}
	o.version = version
	if o.hasLatest && o.equal != nil && o.equal(o.latest, v) {
		o.mu.Unlock()
		return
	}
	o.seq++
	o.latest = v
	o.hasLatest = true
	o.queue = append(o.queue, delivery[T]{gen: gen, seq: o.seq, value: v})
	o.drainLocked()
}

func (o *Observable[T]) replay(sub *subscriber[T]) {
	o.mu.Lock()
	if !o.hasLatest {
		o.mu.Unlock()
		return
	}
	o.queue = append(o.queue, delivery[T]{gen: o.gen, seq: o.seq, value: o.latest, target: sub})
	o.drainLocked()
}

// drainLocked delivers queued values in order and releases o.mu. Only one
// goroutine drains at a time; values queued by a callback, or by another
// goroutine while a drain is running, are delivered by the running drain
// once the current callback returns.
func (o *Observable[T]) drainLocked() {
	if o.draining {
		o.mu.Unlock()
		return
	}
	o.draining = true
	finished := false
	defer func() {
		if !finished {
			o.mu.Lock()
			o.draining = false
			o.queue = nil
			o.mu.Unlock()
		}
	}()

	for len(o.queue) > 0 {
		d := o.queue[0]
		o.queue[0] = delivery[T]{}
		o.queue = o.queue[1:]
		if d.gen != o.gen {
			continue
		}
		var targets []*subscriber[T]
		if d.target != nil {
			targets = []*subscriber[T]{d.target}
		} else {
			ids := make([]uint64, 0, len(o.subs))
			for id := range o.subs {
				ids = append(ids, id)
			}
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
			targets = make([]*subscriber[T], 0, len(ids))
			for _, id := range ids {
				targets = append(targets, o.subs[id])
			}
		}
		o.mu.Unlock()

		for _, sub := range targets {
			if !o.active(sub) || sub.seen >= d.seq {
				continue
			}
			sub.seen = d.seq
			sub.fn(d.value)
		}

		o.mu.Lock()
	}
	o.queue = nil
	o.draining = false
	finished = true
	o.mu.Unlock()
}

// active reports whether sub is still registered; a subscriber removed by an
// earlier callback in the same emission must not be called.
func (o *Observable[T]) active(sub *subscriber[T]) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.subs[sub.id] == sub
}
