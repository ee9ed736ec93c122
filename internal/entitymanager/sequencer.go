package entitymanager

import (
	"sync"
	"time"

	"entitystore/internal/worker"
	"entitystore/pkg/domain"
)

// ticket tracks one worker request from issue until it is applied.
type ticket struct {
	id      uint64
	typ     domain.EntityType
	size    int
	started time.Time
	done    chan error

	resp *worker.Response
}

// sequencer issues request ids and releases completed requests strictly in
// issue order. A request whose response is missing holds back every later
// one; a failed request is released with its error.
type sequencer struct {
	mu      sync.Mutex
	next    uint64
	head    uint64
	pending map[uint64]*ticket
	closed  error
}

func newSequencer() *sequencer {
	return &sequencer{pending: make(map[uint64]*ticket)}
}

func (s *sequencer) issue(typ domain.EntityType, size int, started time.Time) (*ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed != nil {
		return nil, s.closed
	}
	t := &ticket{
		id:      s.next,
		typ:     typ,
		size:    size,
		started: started,
		done:    make(chan error, 1),
	}
	s.pending[t.id] = t
	s.next++
	return t, nil
}

// complete records resp and returns the tickets that are now releasable, in
// order. Responses for unknown ids are ignored.
func (s *sequencer) complete(resp worker.Response) []*ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.pending[resp.RequestID]
	if !ok || t.resp != nil {
		return nil
	}
	t.resp = &resp

	var ready []*ticket
	for {
		head, ok := s.pending[s.head]
		if !ok || head.resp == nil {
			break
		}
		delete(s.pending, s.head)
		s.head++
		ready = append(ready, head)
	}
	return ready
}

// waiting returns the number of issued requests not yet released.
func (s *sequencer) waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// close resolves every pending ticket with err and rejects new issues.
func (s *sequencer) close(err error) []*ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed != nil {
		return nil
	}
	s.closed = err
	out := make([]*ticket, 0, len(s.pending))
	for id := s.head; id < s.next; id++ {
		if t, ok := s.pending[id]; ok {
			out = append(out, t)
		}
	}
	s.pending = map[uint64]*ticket{}
	return out
}
