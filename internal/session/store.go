package session

import (
	"context"
	"time"
)

// Session is the server-side record that an account is signed in.
// It stores only a pointer to the account, never its role.
type Session struct {
	SessionID string            `json:"session_id"`
	AccountID string            `json:"account_id"`
	IssuedAt  time.Time         `json:"issued_at"`
	ExpiresAt time.Time         `json:"expires_at"`
	Payload   map[string]string `json:"payload,omitempty"`
}

// Store defines how sessions are stored and retrieved.
// Get returns nil, nil for a missing session.
type Store interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, sessionID string) (*Session, error)
	Delete(ctx context.Context, sessionID string) error

	// FindByAccount scans every live session and returns the ids of those
	// referencing accountID.
	FindByAccount(ctx context.Context, accountID string) ([]string, error)
}

func validate(s Session) error {
	if s.SessionID == "" || s.AccountID == "" {
		return errMissingIDs
	}
	if !s.ExpiresAt.After(time.Now()) {
		return errExpired
	}
	return nil
}
