package session

import (
	"context"
	"fmt"

	"elogbook-sso/internal/logger"
)

// Revoker force-logs-out an account by deleting every session that
// references it. It runs synchronously so the caller's privilege change is
// effective once it returns.
type Revoker struct {
	store Store
}

func NewRevoker(store Store) *Revoker {
	return &Revoker{store: store}
}

func (r *Revoker) RevokeAll(ctx context.Context, accountID string) (int, error) {
	ids, err := r.store.FindByAccount(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("session: scan for account %s: %w", accountID, err)
	}

	revoked := 0
	for _, id := range ids {
		if err := r.store.Delete(ctx, id); err != nil {
			return revoked, fmt.Errorf("session: revoke: %w", err)
		}
		revoked++
	}

	logger.Info("sessions revoked", map[string]any{
		"component":  "session",
		"account_id": accountID,
		"count":      revoked,
	})

	return revoked, nil
}
