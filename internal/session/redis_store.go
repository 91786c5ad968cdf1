package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"elogbook-sso/internal/logger"

	"github.com/redis/go-redis/v9"
)

var (
	errMissingIDs = errors.New("session: missing session_id or account_id")
	errExpired    = errors.New("session: expires_at must be in the future")
)

const scanBatch = 200

type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "session:",
	}
}

func (r *RedisStore) key(sessionID string) string {
	return r.prefix + sessionID
}

func (r *RedisStore) Create(ctx context.Context, s Session) error {
	if err := validate(s); err != nil {
		return err
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("session: failed to marshal: %w", err)
	}

	return r.client.Set(ctx, r.key(s.SessionID), data, time.Until(s.ExpiresAt)).Err()
}

func (r *RedisStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	val, err := r.client.Get(ctx, r.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var s Session
	if err := json.Unmarshal(val, &s); err != nil {
		return nil, fmt.Errorf("session: failed to unmarshal: %w", err)
	}

	return &s, nil
}

func (r *RedisStore) Delete(ctx context.Context, sessionID string) error {
	return r.client.Del(ctx, r.key(sessionID)).Err()
}

func (r *RedisStore) FindByAccount(ctx context.Context, accountID string) ([]string, error) {
	var ids []string

	iter := r.client.Scan(ctx, 0, r.prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()

		val, err := r.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // expired between SCAN and GET
		}
		if err != nil {
			return nil, err
		}

		var s Session
		if err := json.Unmarshal(val, &s); err != nil {
			logger.Warn("skipping malformed session", map[string]any{
				"component": "session",
				"key":       key,
			})
			continue
		}

		if s.AccountID == accountID {
			ids = append(ids, s.SessionID)
		}
	}

	return ids, iter.Err()
}
