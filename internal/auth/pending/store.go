package pending

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"elogbook-sso/internal/auth"
	"elogbook-sso/internal/logger"
	"elogbook-sso/internal/utils"
)

const DefaultTTL = 10 * time.Minute

type Store struct {
	repo   Repository
	signer signer
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

type Option func(*Store)

// WithClock replaces time.Now; used by tests to age states.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(repo Repository, secret []byte, ttl time.Duration, secureCookie bool, opts ...Option) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &Store{
		repo:   repo,
		signer: signer{key: secret},
		ttl:    ttl,
		secure: secureCookie,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) expired(createdAt time.Time) bool {
	return s.now().Sub(createdAt) > s.ttl
}

// Flow returns the request's flow: a repaired one from the context if present,
// else the cookie copy. A missing or tampered cookie yields an empty flow.
func (s *Store) Flow(r *http.Request) Flow {
	if f, ok := flowFromContext(r.Context()); ok {
		return f
	}
	return s.readCookie(r)
}

// Initiate creates a new state, writes it to the flow cookie and to the
// durable table, and returns its id. A durable write failure is logged only.
func (s *Store) Initiate(ctx context.Context, w http.ResponseWriter, r *http.Request, p Payload) (string, error) {
	stateID, err := utils.RandomToken(32)
	if err != nil {
		return "", err
	}
	if p.ProcessKind == "" {
		p.ProcessKind = ProcessLogin
	}

	now := s.now().UTC()
	fields := map[string]any{
		"component": "pending",
		"provider":  p.Provider,
		"popup":     p.Popup,
	}

	durable := true
	if err := s.repo.Save(ctx, Record{StateID: stateID, Payload: p, CreatedAt: now}); err != nil {
		durable = false
		fields["error"] = err.Error()
		logger.Error("durable state write failed, relying on cookie", fields)
	}

	if n, err := s.repo.DeleteCreatedBefore(ctx, now.Add(-s.ttl)); err != nil {
		logger.Warn("expired state purge failed", map[string]any{
			"component": "pending",
			"error":     err.Error(),
		})
	} else if n > 0 {
		logger.Debug("expired states purged", map[string]any{
			"component": "pending",
			"count":     n,
		})
	}

	flow := s.readCookie(r)
	flow.prune(now.Add(-s.ttl))
	flow.States[stateID] = Entry{Payload: p, CreatedAt: now, Durable: durable}
	flow.prune(now.Add(-s.ttl))

	if err := s.writeCookie(w, flow); err != nil {
		return "", err
	}

	return stateID, nil
}

// Restore reads a durable state without consuming it.
func (s *Store) Restore(ctx context.Context, stateID string) (*Record, error) {
	if stateID == "" {
		return nil, auth.ErrStateNotFoundOrExpired
	}

	rec, err := s.repo.Get(ctx, stateID)
	if err != nil {
		return nil, fmt.Errorf("pending: restore: %w", err)
	}
	if rec == nil || s.expired(rec.CreatedAt) {
		return nil, auth.ErrStateNotFoundOrExpired
	}
	return rec, nil
}

// Consume returns the payload for stateID and removes it from both stores.
// When the durable row was written at initiation it must still exist, which
// makes a replayed cookie useless after the first callback.
func (s *Store) Consume(ctx context.Context, w http.ResponseWriter, r *http.Request, stateID string) (Payload, error) {
	if stateID == "" {
		return Payload{}, auth.ErrStateNotFoundOrExpired
	}

	flow := s.Flow(r)
	entry, inFlow := flow.States[stateID]

	rec, err := s.repo.Take(ctx, stateID)
	if err != nil {
		return Payload{}, fmt.Errorf("pending: consume: %w", err)
	}

	if inFlow {
		delete(flow.States, stateID)
		if err := s.writeCookie(w, flow); err != nil {
			logger.Warn("flow cookie rewrite failed", map[string]any{
				"component": "pending",
				"error":     err.Error(),
			})
		}
	}

	switch {
	case inFlow && entry.Durable && rec == nil:
		return Payload{}, auth.ErrStateNotFoundOrExpired
	case inFlow:
		if s.expired(entry.CreatedAt) {
			return Payload{}, auth.ErrStateNotFoundOrExpired
		}
		return entry.Payload, nil
	case rec != nil:
		if s.expired(rec.CreatedAt) {
			return Payload{}, auth.ErrStateNotFoundOrExpired
		}
		return rec.Payload, nil
	default:
		return Payload{}, auth.ErrStateNotFoundOrExpired
	}
}
