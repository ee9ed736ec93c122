package entitymanager

import (
	"context"
	"time"

	"entitystore/internal/config"
	"entitystore/internal/logging"
	"entitystore/internal/metrics"
	"entitystore/internal/worker"
)

// Clock abstracts time so eviction can be driven by a virtual clock in tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop prevents the call if it has not run yet and reports whether it did.
	Stop() bool
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Worker normalizes large batches off the caller's goroutine. *worker.Pool
// is the default implementation.
type Worker interface {
	Start()
	Submit(ctx context.Context, req worker.Request) error
	Responses() <-chan worker.Response
	Stop(ctx context.Context) error
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source used for eviction timers and metrics.
func WithClock(c Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(m *Manager) {
		if r != nil {
			m.metrics = r
		}
	}
}

// WithMaxSyncBatchSize sets the largest batch normalized on the caller's
// goroutine. Larger batches go to the worker.
func WithMaxSyncBatchSize(n int) Option {
	return func(m *Manager) {
		if n >= 0 {
			m.maxSyncBatch = n
		}
	}
}

// WithEvictionDelay sets how long denormalized cache entries outlive their
// last subscriber or their source entity.
func WithEvictionDelay(d time.Duration) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.evictionDelay = d
		}
	}
}

// WithWorker replaces the default worker pool.
func WithWorker(w Worker) Option {
	return func(m *Manager) {
		if w != nil {
			m.worker = w
		}
	}
}

// WithConfig applies loaded configuration. The worker pool settings only
// take effect when no explicit worker is supplied.
func WithConfig(cfg config.Config) Option {
	return func(m *Manager) {
		m.maxSyncBatch = cfg.MaxSyncBatchSize
		m.evictionDelay = cfg.EvictionDelay
		m.workerOpts.Concurrency = cfg.WorkerConcurrency
		m.workerOpts.QueueSize = cfg.WorkerQueueSize
	}
}
