// Package pending keeps in-flight login state across the provider redirect.
//
// Each state lives in two places: an HMAC-signed flow cookie on the browser and
// a durable row keyed by state id. The cookie is the fast path; the row covers
// browsers that drop the cookie on the cross-site hop. A state is valid for the
// store's TTL and can be consumed once.
package pending

import (
	"context"
	"time"
)

const ProcessLogin = "login"

type Payload struct {
	ProcessKind  string `json:"process"`
	Provider     string `json:"provider"`
	CodeVerifier string `json:"code_verifier,omitempty"`
	Next         string `json:"next,omitempty"`
	Popup        bool   `json:"popup,omitempty"`
}

type Record struct {
	StateID   string
	Payload   Payload
	CreatedAt time.Time
}

// Repository is the durable side table. Get and Take return nil, nil when
// the state does not exist.
type Repository interface {
	Save(ctx context.Context, rec Record) error
	Get(ctx context.Context, stateID string) (*Record, error)

	// Take deletes the state and returns what was deleted.
	Take(ctx context.Context, stateID string) (*Record, error)

	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
