package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis, suitable for multi-replica
// deployments where the proxy cannot keep the mapping in process memory.
//
// Two keys are written per mapping: a forward key (caller -> session) and a
// reverse key (session -> caller). The reverse key makes HasSession a single
// EXISTS instead of a scan.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	mu     sync.RWMutex
	closed bool
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// Prefix is the key prefix (default: "agentgate:").
	Prefix string
	// TTL is the mapping expiry (0 = never expire).
	TTL time.Duration
	// PoolSize is the connection pool size (default: 10).
	PoolSize int
}

// NewRedisStore creates a Redis-backed store and verifies connectivity.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisStoreFromClient(client, cfg.Prefix, cfg.TTL), nil
}

// NewRedisStoreFromClient creates a store from an existing client.
// Useful for testing with miniredis.
func NewRedisStoreFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "agentgate:"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *RedisStore) callerKey(callerKey string) string {
	return s.prefix + "caller:" + callerKey
}

func (s *RedisStore) sessionKey(sessionID string) string {
	return s.prefix + "session:" + sessionID
}

func (s *RedisStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Get returns the session id tracked for the caller key.
func (s *RedisStore) Get(ctx context.Context, callerKey string) (string, bool, error) {
	if err := s.checkOpen(); err != nil {
		return "", false, err
	}
	v, err := s.client.Get(ctx, s.callerKey(callerKey)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	return v, true, nil
}

// Set records or overwrites the mapping for the caller key.
func (s *RedisStore) Set(ctx context.Context, callerKey, sessionID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	old, _, err := s.Get(ctx, callerKey)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	if old != "" && old != sessionID {
		pipe.Del(ctx, s.sessionKey(old))
	}
	pipe.Set(ctx, s.callerKey(callerKey), sessionID, s.ttl)
	pipe.Set(ctx, s.sessionKey(sessionID), callerKey, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// GetOrSet stores sessionID only if the caller key is untracked.
func (s *RedisStore) GetOrSet(ctx context.Context, callerKey, sessionID string) (string, bool, error) {
	if err := s.checkOpen(); err != nil {
		return "", false, err
	}
	ok, err := s.client.SetNX(ctx, s.callerKey(callerKey), sessionID, s.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("redis setnx: %w", err)
	}
	if ok {
		if err := s.client.Set(ctx, s.sessionKey(sessionID), callerKey, s.ttl).Err(); err != nil {
			return "", false, fmt.Errorf("redis set reverse: %w", err)
		}
		return sessionID, false, nil
	}
	v, err := s.client.Get(ctx, s.callerKey(callerKey)).Result()
	if errors.Is(err, redis.Nil) {
		// The winner expired between SETNX and GET. Claim the key.
		if err := s.Set(ctx, callerKey, sessionID); err != nil {
			return "", false, err
		}
		return sessionID, false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	return v, true, nil
}

// Delete removes the mapping for the caller key.
func (s *RedisStore) Delete(ctx context.Context, callerKey string) (string, bool, error) {
	if err := s.checkOpen(); err != nil {
		return "", false, err
	}
	v, found, err := s.Get(ctx, callerKey)
	if err != nil || !found {
		return "", false, err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.callerKey(callerKey))
	pipe.Del(ctx, s.sessionKey(v))
	if _, err := pipe.Exec(ctx); err != nil {
		return "", false, fmt.Errorf("redis delete: %w", err)
	}
	return v, true, nil
}

// HasSession reports whether sessionID is a tracked value.
func (s *RedisStore) HasSession(ctx context.Context, sessionID string) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	n, err := s.client.Exists(ctx, s.sessionKey(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// Snapshot returns a copy of the current mapping.
func (s *RedisStore) Snapshot(ctx context.Context) (map[string]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	out := make(map[string]string)
	iter := s.client.Scan(ctx, 0, s.prefix+"caller:*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		v, err := s.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis get: %w", err)
		}
		out[key[len(s.prefix+"caller:"):]] = v
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return out, nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}
