package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"elogbook-sso/internal/auth"
	"elogbook-sso/internal/logger"

	"github.com/cenkalti/backoff/v5"
)

const (
	defaultBuffer   = 256
	defaultMaxTries = 5
	persistTimeout  = 10 * time.Second
)

// Writer persists entries on a background goroutine with retries.
// Record never blocks: when the buffer is full the entry is dropped and logged.
type Writer struct {
	repo     Repository
	entries  chan Entry
	done     chan struct{}
	maxTries uint
	backoff  func() backoff.BackOff

	mu     sync.RWMutex
	closed bool
}

type WriterOption func(*Writer)

func WithMaxTries(n uint) WriterOption {
	return func(w *Writer) { w.maxTries = n }
}

// WithBackOff overrides the retry schedule; tests use a zero-delay one.
func WithBackOff(fn func() backoff.BackOff) WriterOption {
	return func(w *Writer) { w.backoff = fn }
}

func NewWriter(repo Repository, buffer int, opts ...WriterOption) *Writer {
	if buffer <= 0 {
		buffer = defaultBuffer
	}

	w := &Writer{
		repo:     repo,
		entries:  make(chan Entry, buffer),
		done:     make(chan struct{}),
		maxTries: defaultMaxTries,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(w)
	}

	go w.run()
	return w
}

func (w *Writer) Record(_ context.Context, e Entry) {
	if len(e.ChangedFields) == 0 {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		logger.Warn("audit entry after close dropped", map[string]any{
			"component":  "audit",
			"account_id": e.AccountID.String(),
		})
		return
	}

	select {
	case w.entries <- e:
	default:
		logger.Warn("audit buffer full, entry dropped", map[string]any{
			"component":  "audit",
			"account_id": e.AccountID.String(),
			"provider":   e.Provider,
		})
	}
}

func (w *Writer) run() {
	defer close(w.done)
	for e := range w.entries {
		w.persist(e)
	}
}

func (w *Writer) persist(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, w.repo.Append(ctx, e)
	},
		backoff.WithBackOff(w.backoff()),
		backoff.WithMaxTries(w.maxTries),
	)
	if err != nil {
		logger.Error("audit write failed", map[string]any{
			"component":  "audit",
			"account_id": e.AccountID.String(),
			"provider":   e.Provider,
			"error":      fmt.Errorf("%w: %v", auth.ErrAuditPersistence, err).Error(),
		})
	}
}

// Close stops accepting entries and waits for queued ones to be written.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.entries)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
