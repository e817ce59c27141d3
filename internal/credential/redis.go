package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// writeLockTTL bounds how long a Set holds its per-key write lock, so a
// crashed writer can't wedge future writes to the same (orgID, providerID)
// pair forever.
const writeLockTTL = 5 * time.Second

// RedisStore is a Store backed by Redis, for multi-instance deployments
// where MemoryStore's in-process map wouldn't be shared across replicas.
// Writes for the same (orgID, providerID) key are serialized with a
// SetNX-based lock (§5: "writes are serialized per (organization,
// provider)"), the same distributed-lock-primitive use of SetNX the
// pack's Redis cache wrapper exposes.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore builds a RedisStore. prefix namespaces keys so multiple
// gateway deployments can share one Redis instance without collision.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "llmgateway"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) orgKeyName(orgID, providerID string) string {
	return fmt.Sprintf("%s:cred:%s:%s", s.prefix, orgID, providerID)
}

func (s *RedisStore) platformKeyName(providerID string) string {
	return fmt.Sprintf("%s:cred:platform:%s", s.prefix, providerID)
}

func (s *RedisStore) lockKeyName(orgID, providerID string) string {
	return fmt.Sprintf("%s:cred:lock:%s:%s", s.prefix, orgID, providerID)
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, orgID, providerID string) (string, bool, error) {
	val, err := s.client.Get(ctx, s.orgKeyName(orgID, providerID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("credential: redis get: %w", err)
	}
	return val, true, nil
}

// Set implements Store, serializing concurrent writers for the same key
// behind a short-lived SetNX lock: a writer that loses the race waits for
// the lock to clear and retries once, rather than racing the actual value
// write.
func (s *RedisStore) Set(ctx context.Context, orgID, providerID, key string) error {
	lockKey := s.lockKeyName(orgID, providerID)

	acquired, err := s.client.SetNX(ctx, lockKey, "1", writeLockTTL).Result()
	if err != nil {
		return fmt.Errorf("credential: redis lock: %w", err)
	}
	if !acquired {
		select {
		case <-time.After(writeLockTTL):
		case <-ctx.Done():
			return ctx.Err()
		}
		acquired, err = s.client.SetNX(ctx, lockKey, "1", writeLockTTL).Result()
		if err != nil {
			return fmt.Errorf("credential: redis lock retry: %w", err)
		}
		if !acquired {
			return fmt.Errorf("credential: could not acquire write lock for %s/%s", orgID, providerID)
		}
	}
	defer s.client.Del(ctx, lockKey)

	if err := s.client.Set(ctx, s.orgKeyName(orgID, providerID), key, 0).Err(); err != nil {
		return fmt.Errorf("credential: redis set: %w", err)
	}
	return nil
}

// PlatformKey implements Store.
func (s *RedisStore) PlatformKey(ctx context.Context, providerID string) (string, bool, error) {
	val, err := s.client.Get(ctx, s.platformKeyName(providerID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("credential: redis get platform key: %w", err)
	}
	return val, true, nil
}

// SetPlatformKey stores the platform-owned fallback key for providerID.
func (s *RedisStore) SetPlatformKey(ctx context.Context, providerID, key string) error {
	if err := s.client.Set(ctx, s.platformKeyName(providerID), key, 0).Err(); err != nil {
		return fmt.Errorf("credential: redis set platform key: %w", err)
	}
	return nil
}
