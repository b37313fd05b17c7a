package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shop-lifecycle-layer/internal/domain"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

const sessionKeyTemplate = "shopify_session_%s"

// RedisStore implements ports.SessionStore on redis, using the key TTL for
// row expiry.
type RedisStore struct {
	cli *redis.Client
}

// NewRedisStore creates a redis-backed session store.
func NewRedisStore(cli *redis.Client) *RedisStore {
	return &RedisStore{cli: cli}
}

// Save upserts the session under its id, expiring it at expiresAt.
func (s *RedisStore) Save(ctx context.Context, sessionID string, sess *domain.Session, expiresAt time.Time) (bool, error) {
	payload, err := json.Marshal(sess)
	if err != nil {
		return false, fmt.Errorf("failed to serialize session: %w", err)
	}

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		// Already expired; storing it would be a row nothing can read.
		return false, nil
	}

	if err := s.cli.Set(ctx, sessionKey(sessionID), payload, ttl).Err(); err != nil {
		return false, fmt.Errorf("failed to save session: %w", err)
	}
	return true, nil
}

// Get returns the stored session, or nil when missing or expired.
func (s *RedisStore) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	out := s.cli.Get(ctx, sessionKey(sessionID))
	if err := out.Err(); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var sess domain.Session
	if err := json.Unmarshal([]byte(out.Val()), &sess); err != nil {
		return nil, fmt.Errorf("failed to deserialize session: %w", err)
	}
	return &sess, nil
}

// Delete removes the session and reports whether a row existed.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) (bool, error) {
	out := s.cli.Del(ctx, sessionKey(sessionID))
	if err := out.Err(); err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}
	return out.Val() > 0, nil
}

func sessionKey(id string) string {
	return fmt.Sprintf(sessionKeyTemplate, id)
}
