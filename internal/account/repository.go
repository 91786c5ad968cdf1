package account

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists accounts. Lookups return nil, nil when nothing matches.
// FindActiveByEmail is the only email lookup; deleted accounts are reachable
// by id alone.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)
	FindActiveByEmail(ctx context.Context, email string) (*Account, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	Create(ctx context.Context, a *Account) error
	Update(ctx context.Context, a *Account) error

	// LinkIdentity is a no-op when the identity is already linked.
	LinkIdentity(ctx context.Context, id Identity) error
	ListIdentities(ctx context.Context, accountID uuid.UUID) ([]Identity, error)

	// WithEmailLock serializes callers working on the same case-folded email.
	// fn receives a repository bound to the locked scope.
	WithEmailLock(ctx context.Context, email string, fn func(Repository) error) error
}
