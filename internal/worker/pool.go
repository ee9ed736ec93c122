// Package worker runs entity normalization off the caller's goroutine.
//
// Requests are processed by a fixed number of goroutines, so responses may be
// produced in a different order than requests were submitted. Each response
// carries the id of its request; ordering is the consumer's concern.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"entitystore/internal/logging"
	"entitystore/pkg/domain"
)

var (
	// ErrStopped is returned when submitting to a pool that is not running.
	ErrStopped = errors.New("normalization worker stopped")
	// ErrQueueFull is returned by TrySubmit when the queue has no capacity.
	ErrQueueFull = errors.New("normalization queue full")
)

// Request asks the pool to normalize a batch of raw entities.
type Request struct {
	ID   uint64
	Type domain.EntityType
	Raws []domain.Raw
}

// Response is the outcome of one Request. Exactly one of Result and Err is
// meaningful.
type Response struct {
	RequestID uint64
	Type      domain.EntityType
	Result    domain.Normalized
	Err       error
	Duration  time.Duration
}

// Options tunes a Pool.
type Options struct {
	Concurrency int
	QueueSize   int
	Logger      logging.Logger
}

const (
	defaultConcurrency = 2
	defaultQueueSize   = 32
)

// Pool normalizes requests on background goroutines.
type Pool struct {
	normalizer domain.Normalizer
	logger     logging.Logger
	workers    int

	queue     chan Request
	responses chan Response

	mu      sync.Mutex
	started bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool constructs a pool. Call Start before submitting.
func NewPool(n domain.Normalizer, opts Options) *Pool {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = logging.Noop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		normalizer: n,
		logger:     opts.Logger,
		workers:    opts.Concurrency,
		queue:      make(chan Request, opts.QueueSize),
		responses:  make(chan Response, opts.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start launches the worker goroutines. Calling Start twice is a no-op.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.ctx.Err() != nil {
		return
	}
	p.started = true
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.loop(i)
	}
}

// Stop signals the workers to halt and waits for them to exit. Requests still
// queued are dropped.
func (p *Pool) Stop(ctx context.Context) error {
	p.cancel()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Responses delivers completed requests.
func (p *Pool) Responses() <-chan Response {
	return p.responses
}

// Submit queues req, blocking while the queue is full.
func (p *Pool) Submit(ctx context.Context, req Request) error {
	if p.ctx.Err() != nil {
		return ErrStopped
	}
	select {
	case p.queue <- req:
		return nil
	case <-p.ctx.Done():
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySubmit queues req without blocking.
func (p *Pool) TrySubmit(req Request) error {
	if p.ctx.Err() != nil {
		return ErrStopped
	}
	select {
	case p.queue <- req:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *Pool) loop(worker int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case req := <-p.queue:
			resp := p.process(req)
			p.logger.Debug("normalization finished", "worker", worker, "request", req.ID, "type", string(req.Type), "entities", len(req.Raws), "duration", resp.Duration)
			select {
			case p.responses <- resp:
			case <-p.ctx.Done():
				return
			}
		}
	}
}

func (p *Pool) process(req Request) (resp Response) {
	started := time.Now()
	resp = Response{RequestID: req.ID, Type: req.Type}
	defer func() {
		if r := recover(); r != nil {
			resp.Err = fmt.Errorf("normalizer panicked: %v", r)
			resp.Result = domain.Normalized{}
		}
		resp.Duration = time.Since(started)
	}()
	result, err := p.normalizer.Normalize(req.Type, req.Raws)
	if err != nil {
		resp.Err = err
		return resp
	}
	resp.Result = result
	return resp
}
