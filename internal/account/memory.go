package account

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository for tests and local runs.
type MemoryRepository struct {
	mu         sync.Mutex
	accounts   map[uuid.UUID]Account
	identities map[string]Identity

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts:   map[uuid.UUID]Account{},
		identities: map[string]Identity{},
		locks:      map[string]*sync.Mutex{},
	}
}

func foldEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (r *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (r *MemoryRepository) FindActiveByEmail(_ context.Context, email string) (*Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	want := foldEmail(email)
	for _, a := range r.accounts {
		if !a.IsDeleted() && foldEmail(a.Email) == want {
			return &a, nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) UsernameExists(_ context.Context, username string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.accounts {
		if a.Username == username {
			return true, nil
		}
	}
	return false, nil
}

// conflicts reports whether a would break email or username uniqueness.
// Caller holds r.mu.
func (r *MemoryRepository) conflicts(a *Account) bool {
	for id, other := range r.accounts {
		if id == a.ID {
			continue
		}
		if other.Username == a.Username {
			return true
		}
		if !a.IsDeleted() && !other.IsDeleted() && foldEmail(other.Email) == foldEmail(a.Email) {
			return true
		}
	}
	return false
}

func (r *MemoryRepository) Create(_ context.Context, a *Account) error {
	a.normalize()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.accounts[a.ID]; exists || r.conflicts(a) {
		return ErrDuplicate
	}
	r.accounts[a.ID] = *a
	return nil
}

func (r *MemoryRepository) Update(_ context.Context, a *Account) error {
	a.normalize()
	a.UpdatedAt = time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[a.ID]; !ok {
		return ErrNotFound
	}
	if r.conflicts(a) {
		return ErrDuplicate
	}
	r.accounts[a.ID] = *a
	return nil
}

func identityKey(provider, subject string) string {
	return provider + "\x00" + subject
}

func (r *MemoryRepository) LinkIdentity(_ context.Context, id Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := identityKey(id.Provider, id.ProviderUserID)
	if _, ok := r.identities[key]; !ok {
		r.identities[key] = id
	}
	return nil
}

func (r *MemoryRepository) ListIdentities(_ context.Context, accountID uuid.UUID) ([]Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Identity
	for _, id := range r.identities {
		if id.AccountID == accountID {
			out = append(out, id)
		}
	}
	return out, nil
}

func (r *MemoryRepository) WithEmailLock(_ context.Context, email string, fn func(Repository) error) error {
	key := foldEmail(email)

	r.locksMu.Lock()
	l, ok := r.locks[key]
	if !ok {
		l = &sync.Mutex{}
		r.locks[key] = l
	}
	r.locksMu.Unlock()

	l.Lock()
	defer l.Unlock()

	return fn(r)
}

// Count returns the number of stored accounts, deleted ones included.
func (r *MemoryRepository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.accounts)
}
