package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/celebrum-forecast/internal/models"
)

// ErrCacheMiss is returned by a ParameterStore that holds no live entry for the key
var ErrCacheMiss = errors.New("cache miss")

// ParameterStore is the durable tier of the parameter cache
type ParameterStore interface {
	LoadParameters(ctx context.Context, model models.ModelName, fingerprint string) (*models.ModelParameters, error)
	SaveParameters(ctx context.Context, params *models.ModelParameters) error
}

// parameterEntry is the Redis value with its own expiry metadata
type parameterEntry struct {
	Params    models.ModelParameters `json:"params"`
	CachedAt  time.Time              `json:"cached_at"`
	ExpiresAt time.Time              `json:"expires_at"`
}

// StoreStats tracks durable tier activity
type StoreStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Sets   int64 `json:"sets"`
	Errors int64 `json:"errors"`
}

// RedisParameterStore keeps fitted parameters in Redis under model_params:{model}:{fingerprint}
type RedisParameterStore struct {
	redis  *redis.Client
	ttl    time.Duration
	prefix string
	logger *logrus.Logger

	mu    sync.RWMutex
	stats StoreStats
}

// NewRedisParameterStore creates a Redis-backed parameter store
func NewRedisParameterStore(client *redis.Client, ttl time.Duration, logger *logrus.Logger) *RedisParameterStore {
	if logger == nil {
		logger = logrus.New()
	}
	return &RedisParameterStore{
		redis:  client,
		ttl:    ttl,
		prefix: "model_params:",
		logger: logger,
	}
}

func (s *RedisParameterStore) key(model models.ModelName, fingerprint string) string {
	return s.prefix + string(model) + ":" + fingerprint
}

// LoadParameters returns ErrCacheMiss for absent or expired entries
func (s *RedisParameterStore) LoadParameters(ctx context.Context, model models.ModelName, fingerprint string) (*models.ModelParameters, error) {
	key := s.key(model, fingerprint)
	data, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		s.count(func(st *StoreStats) { st.Misses++ })
		return nil, ErrCacheMiss
	}
	if err != nil {
		s.count(func(st *StoreStats) { st.Errors++ })
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}

	var entry parameterEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		s.count(func(st *StoreStats) { st.Errors++ })
		return nil, fmt.Errorf("failed to decode %s: %w", key, err)
	}

	if time.Now().After(entry.ExpiresAt) {
		if err := s.redis.Del(ctx, key).Err(); err != nil {
			s.logger.WithError(err).WithField("key", key).Warn("Failed to delete expired parameters")
		}
		s.count(func(st *StoreStats) { st.Misses++ })
		return nil, ErrCacheMiss
	}

	s.count(func(st *StoreStats) { st.Hits++ })
	return &entry.Params, nil
}

// SaveParameters writes the entry with the store TTL
func (s *RedisParameterStore) SaveParameters(ctx context.Context, params *models.ModelParameters) error {
	now := time.Now()
	entry := parameterEntry{
		Params:    *params,
		CachedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		s.count(func(st *StoreStats) { st.Errors++ })
		return fmt.Errorf("failed to encode %s parameters: %w", params.Model, err)
	}

	key := s.key(params.Model, params.Fingerprint)
	if err := s.redis.Set(ctx, key, data, s.ttl).Err(); err != nil {
		s.count(func(st *StoreStats) { st.Errors++ })
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	s.count(func(st *StoreStats) { st.Sets++ })
	return nil
}

// Clear removes every stored parameter set
func (s *RedisParameterStore) Clear(ctx context.Context) error {
	var keys []string
	iter := s.redis.Scan(ctx, 0, s.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("error scanning parameter keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("error clearing parameters: %w", err)
	}
	s.logger.WithField("count", len(keys)).Info("Cleared stored model parameters")
	return nil
}

// Stats returns a snapshot of the counters
func (s *RedisParameterStore) Stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

func (s *RedisParameterStore) count(update func(*StoreStats)) {
	s.mu.Lock()
	update(&s.stats)
	s.mu.Unlock()
}
