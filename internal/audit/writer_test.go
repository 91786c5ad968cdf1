package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func zeroBackOff() backoff.BackOff { return &backoff.ZeroBackOff{} }

// flakyRepo fails the first n appends.
type flakyRepo struct {
	*MemoryRepository
	mu       sync.Mutex
	failures int
	calls    int
}

func (r *flakyRepo) Append(ctx context.Context, e Entry) error {
	r.mu.Lock()
	r.calls++
	fail := r.calls <= r.failures
	r.mu.Unlock()
	if fail {
		return errors.New("db unavailable")
	}
	return r.MemoryRepository.Append(ctx, e)
}

// blockingRepo holds every append until release is closed.
type blockingRepo struct {
	*MemoryRepository
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (r *blockingRepo) Append(ctx context.Context, e Entry) error {
	r.once.Do(func() { close(r.started) })
	<-r.release
	return r.MemoryRepository.Append(ctx, e)
}

func entry(id uuid.UUID) Entry {
	return Entry{
		AccountID:     id,
		Provider:      "microsoft",
		ChangedFields: Changes{"first_name": {"", "Jane"}},
	}
}

func closeWriter(t *testing.T, w *Writer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, w.Close(ctx))
}

func TestWriter_PersistsAndDrainsOnClose(t *testing.T) {
	repo := NewMemoryRepository()
	w := NewWriter(repo, 16)
	id := uuid.New()

	for i := 0; i < 5; i++ {
		w.Record(context.Background(), entry(id))
	}
	closeWriter(t, w)

	got, err := repo.ListByAccount(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, got, 5)
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestWriter_RetriesTransientFailures(t *testing.T) {
	repo := &flakyRepo{MemoryRepository: NewMemoryRepository(), failures: 2}
	w := NewWriter(repo, 4, WithBackOff(zeroBackOff), WithMaxTries(5))
	id := uuid.New()

	w.Record(context.Background(), entry(id))
	closeWriter(t, w)

	got, _ := repo.ListByAccount(context.Background(), id)
	assert.Len(t, got, 1)
	assert.Equal(t, 3, repo.calls)
}

func TestWriter_GivesUpAfterMaxTries(t *testing.T) {
	repo := &flakyRepo{MemoryRepository: NewMemoryRepository(), failures: 100}
	w := NewWriter(repo, 4, WithBackOff(zeroBackOff), WithMaxTries(3))
	id := uuid.New()

	w.Record(context.Background(), entry(id))
	closeWriter(t, w)

	got, _ := repo.ListByAccount(context.Background(), id)
	assert.Empty(t, got)
	assert.Equal(t, 3, repo.calls)
}

func TestWriter_SkipsEmptyChanges(t *testing.T) {
	repo := NewMemoryRepository()
	w := NewWriter(repo, 4)
	id := uuid.New()

	w.Record(context.Background(), Entry{AccountID: id, Provider: "oidc", ChangedFields: Changes{}})
	closeWriter(t, w)

	got, _ := repo.ListByAccount(context.Background(), id)
	assert.Empty(t, got)
}

func TestWriter_DropsWhenFullWithoutBlocking(t *testing.T) {
	repo := &blockingRepo{
		MemoryRepository: NewMemoryRepository(),
		started:          make(chan struct{}),
		release:          make(chan struct{}),
	}
	w := NewWriter(repo, 1)
	id := uuid.New()

	w.Record(context.Background(), entry(id))
	<-repo.started // worker holds the first entry

	w.Record(context.Background(), entry(id)) // fills the buffer
	w.Record(context.Background(), entry(id)) // dropped

	close(repo.release)
	closeWriter(t, w)

	got, _ := repo.ListByAccount(context.Background(), id)
	assert.Len(t, got, 2)
}

func TestWriter_RecordAfterCloseIsDropped(t *testing.T) {
	repo := NewMemoryRepository()
	w := NewWriter(repo, 4)
	closeWriter(t, w)

	id := uuid.New()
	assert.NotPanics(t, func() { w.Record(context.Background(), entry(id)) })

	got, _ := repo.ListByAccount(context.Background(), id)
	assert.Empty(t, got)

	// idempotent
	closeWriter(t, w)
}

func TestChanges_Set(t *testing.T) {
	c := Changes{}
	assert.False(t, c.Set("email", "a@x.com", "a@x.com"))
	assert.True(t, c.Set("email", "A@x.com", "a@x.com"))
	assert.Equal(t, [2]string{"A@x.com", "a@x.com"}, c["email"])
	assert.Len(t, c, 1)
}
