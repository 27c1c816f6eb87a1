// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardline Contributors

// Package persist writes directory changes behind to a backing store.
package persist

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/wardline/wardline/internal/identity"
	"github.com/wardline/wardline/pkg/errutil"
)

// Defaults for Writer options.
const (
	DefaultBuffer     = 1024
	DefaultMaxRetries = 5
	DefaultBackoff    = 50 * time.Millisecond
	DefaultTimeout    = 5 * time.Second
)

// Write outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeDropped = "dropped"
)

// Writes counts change writes by kind and outcome.
// Use RegisterMetrics to register this with a Prometheus registry.
var Writes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "wardline_persist_writes_total",
		Help: "Total number of directory changes written to the store by kind and outcome",
	},
	[]string{"kind", "outcome"},
)

// QueueDepth reports changes waiting to be written.
var QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "wardline_persist_queue_depth",
	Help: "Number of directory changes waiting to be written",
})

// RegisterMetrics registers persistence metrics with the given registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Writes)
	reg.MustRegister(QueueDepth)
}

// Store is the part of identity.Store the writer applies changes to.
type Store interface {
	Insert(ctx context.Context, account *identity.Account) error
	Update(ctx context.Context, account *identity.Account) error
	Delete(ctx context.Context, id ulid.ULID) error
}

// Writer is an identity.Recorder that applies changes to a Store from a
// single goroutine, in the order they were recorded. Record never blocks:
// the queue grows past its buffer and a warning is logged when it does.
type Writer struct {
	store      Store
	logger     *slog.Logger
	buffer     int
	maxRetries uint64
	backoff    time.Duration
	timeout    time.Duration

	mu      sync.Mutex
	closed  bool
	started bool
	queue   []identity.Change
	wake    chan struct{}
	done    chan struct{}
}

var _ identity.Recorder = (*Writer)(nil)

// Option configures a Writer.
type Option func(*Writer)

// WithBuffer sets the initial queue capacity. A backlog warning is logged
// each time the queue reaches it.
func WithBuffer(n int) Option {
	return func(w *Writer) {
		if n > 0 {
			w.buffer = n
		}
	}
}

// WithRetry sets the retry budget and base backoff for transient failures.
func WithRetry(maxRetries uint64, backoff time.Duration) Option {
	return func(w *Writer) {
		w.maxRetries = maxRetries
		if backoff > 0 {
			w.backoff = backoff
		}
	}
}

// WithTimeout bounds each store call.
func WithTimeout(d time.Duration) Option {
	return func(w *Writer) {
		if d > 0 {
			w.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Writer) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWriter creates a Writer. Call Start before recording changes.
func NewWriter(store Store, opts ...Option) (*Writer, error) {
	if store == nil {
		return nil, oops.Code("PERSIST_INVALID_CONFIG").Errorf("store is required")
	}
	w := &Writer{
		store:      store,
		logger:     slog.New(slog.DiscardHandler),
		buffer:     DefaultBuffer,
		maxRetries: DefaultMaxRetries,
		backoff:    DefaultBackoff,
		timeout:    DefaultTimeout,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.queue = make([]identity.Change, 0, w.buffer)
	return w, nil
}

// Start launches the write loop.
func (w *Writer) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return oops.Code("PERSIST_CLOSED").Errorf("writer is closed")
	}
	if w.started {
		return oops.Code("PERSIST_ALREADY_STARTED").Errorf("writer already started")
	}
	w.started = true
	go w.run()
	return nil
}

// Record queues c. Changes recorded after Close are dropped.
func (w *Writer) Record(c identity.Change) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		Writes.WithLabelValues(c.Kind.String(), OutcomeDropped).Inc()
		w.logger.Warn("change recorded after writer closed",
			"kind", c.Kind.String(),
			"account_id", c.Account.ID.String(),
		)
		return
	}
	w.queue = append(w.queue, c)
	pending := len(w.queue)
	QueueDepth.Inc()
	w.mu.Unlock()

	if pending%w.buffer == 0 {
		w.logger.Warn("persistence backlog growing", "pending", pending)
	}
	w.signal()
}

// Close stops accepting changes and waits until queued ones are written or
// ctx is done.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		if !w.started {
			w.started = true
			go w.run()
		}
	}
	w.mu.Unlock()
	w.signal()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.mu.Lock()
		pending := len(w.queue)
		w.mu.Unlock()
		return oops.Code("PERSIST_CLOSE_TIMEOUT").
			With("pending", pending).
			Wrap(ctx.Err())
	}
}

func (w *Writer) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// next pops the oldest queued change, waiting for one if the queue is
// empty. It reports false once the writer is closed and drained.
func (w *Writer) next() (identity.Change, bool) {
	for {
		w.mu.Lock()
		if len(w.queue) > 0 {
			c := w.queue[0]
			w.queue[0] = identity.Change{}
			w.queue = w.queue[1:]
			if len(w.queue) == 0 {
				w.queue = w.queue[:0:0]
			}
			w.mu.Unlock()
			return c, true
		}
		closed := w.closed
		w.mu.Unlock()
		if closed {
			return identity.Change{}, false
		}
		<-w.wake
	}
}

func (w *Writer) run() {
	defer close(w.done)
	for {
		c, ok := w.next()
		if !ok {
			return
		}
		QueueDepth.Dec()
		if err := w.apply(c); err != nil {
			Writes.WithLabelValues(c.Kind.String(), OutcomeFailure).Inc()
			errutil.LogError(w.logger, "failed to persist directory change", err,
				"kind", c.Kind.String(),
				"account_id", c.Account.ID.String(),
			)
			continue
		}
		Writes.WithLabelValues(c.Kind.String(), OutcomeSuccess).Inc()
	}
}

// apply writes one change, retrying failures other than not-found and
// duplicate username.
func (w *Writer) apply(c identity.Change) error {
	b := retry.WithMaxRetries(w.maxRetries, retry.NewExponential(w.backoff))
	return retry.Do(context.Background(), b, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, w.timeout)
		defer cancel()

		err := w.write(ctx, c)
		if err == nil || permanent(err) {
			return err
		}
		return retry.RetryableError(err)
	})
}

func (w *Writer) write(ctx context.Context, c identity.Change) error {
	switch c.Kind {
	case identity.ChangeCreated:
		return w.store.Insert(ctx, c.Account)
	case identity.ChangeUpdated:
		return w.store.Update(ctx, c.Account)
	case identity.ChangeDeleted:
		err := w.store.Delete(ctx, c.Account.ID)
		if errors.Is(err, identity.ErrNotFound) {
			return nil
		}
		return err
	default:
		return oops.Code("PERSIST_UNKNOWN_CHANGE").With("kind", int(c.Kind)).Errorf("unknown change kind")
	}
}

func permanent(err error) bool {
	return errors.Is(err, identity.ErrNotFound) ||
		errors.Is(err, identity.ErrDuplicateUsername) ||
		errutil.Code(err) == "PERSIST_UNKNOWN_CHANGE"
}
