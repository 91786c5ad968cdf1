package account

import (
	"context"
	"fmt"
	"time"

	"elogbook-sso/internal/audit"
	"elogbook-sso/internal/logger"

	"github.com/google/uuid"
)

// SessionRevoker deletes all sessions of an account.
type SessionRevoker interface {
	RevokeAll(ctx context.Context, accountID string) (int, error)
}

// Service applies administrative changes. Role changes and deletions revoke
// sessions before returning.
type Service struct {
	repo    Repository
	revoker SessionRevoker
	audit   audit.Recorder
	now     func() time.Time
}

func NewService(repo Repository, revoker SessionRevoker, recorder audit.Recorder) *Service {
	return &Service{
		repo:    repo,
		revoker: revoker,
		audit:   recorder,
		now:     time.Now,
	}
}

const adminProvider = "admin"

func (s *Service) load(ctx context.Context, id uuid.UUID) (*Account, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrNotFound
	}
	return a, nil
}

func (s *Service) UpdateRole(ctx context.Context, id uuid.UUID, role Role) (*Account, error) {
	a, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.IsSuperuser && role != RoleAdmin {
		return nil, ErrSuperuserRole
	}

	prev := a.Role
	if !RoleChanged(&prev, role) {
		return a, nil
	}

	a.Role = role
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}

	if _, err := s.revoker.RevokeAll(ctx, a.ID.String()); err != nil {
		return nil, fmt.Errorf("account: role updated but revocation failed: %w", err)
	}

	s.audit.Record(ctx, audit.Entry{
		AccountID:     a.ID,
		Provider:      adminProvider,
		ChangedFields: audit.Changes{"role": {prev.String(), role.String()}},
		Timestamp:     s.now().UTC(),
	})

	logger.Info("account role updated", map[string]any{
		"component":  "account",
		"account_id": a.ID.String(),
		"old_role":   prev.String(),
		"new_role":   role.String(),
	})

	return a, nil
}

func (s *Service) SoftDelete(ctx context.Context, id uuid.UUID, by string) error {
	a, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if a.IsDeleted() {
		return ErrAlreadyDeleted
	}

	at := s.now().UTC()
	a.Status = Deleted{At: at, By: by}
	if err := s.repo.Update(ctx, a); err != nil {
		return err
	}

	if _, err := s.revoker.RevokeAll(ctx, a.ID.String()); err != nil {
		return fmt.Errorf("account: deleted but revocation failed: %w", err)
	}

	s.audit.Record(ctx, audit.Entry{
		AccountID:     a.ID,
		Provider:      adminProvider,
		ChangedFields: audit.Changes{"status": {"active", "deleted"}},
		Timestamp:     at,
	})

	return nil
}

// Restore reactivates a soft-deleted account. It fails with ErrDuplicate if
// another active account took the email meanwhile.
func (s *Service) Restore(ctx context.Context, id uuid.UUID) (*Account, error) {
	a, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !a.IsDeleted() {
		return a, nil
	}

	a.Status = Active{}
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.Entry{
		AccountID:     a.ID,
		Provider:      adminProvider,
		ChangedFields: audit.Changes{"status": {"deleted", "active"}},
		Timestamp:     s.now().UTC(),
	})

	return a, nil
}
