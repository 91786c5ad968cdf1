// Package audit records account changes made during sign-in and by admins.
// Writing is best-effort: failures are logged and never reach the caller.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Changes maps a field name to its [old, new] values.
type Changes map[string][2]string

// Set stages a change when old and new differ and reports whether it did.
func (c Changes) Set(field, old, new string) bool {
	if old == new {
		return false
	}
	c[field] = [2]string{old, new}
	return true
}

type Entry struct {
	AccountID     uuid.UUID
	Provider      string
	ChangedFields Changes
	Timestamp     time.Time
}

type Repository interface {
	Append(ctx context.Context, e Entry) error
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]Entry, error)
}

// Recorder accepts entries without reporting failure.
type Recorder interface {
	Record(ctx context.Context, e Entry)
}
