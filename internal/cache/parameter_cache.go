// Package cache holds fitted model parameters keyed by model name and data fingerprint.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/celebrum-forecast/internal/models"
)

// Cache tiers reported to the recorder
const (
	TierMemory  = "memory"
	TierDurable = "durable"
)

// Recorder receives cache lookup outcomes
type Recorder interface {
	RecordCacheLookup(tier string, hit bool)
}

// Config bounds the memory tier
type Config struct {
	TTL        time.Duration
	MaxEntries int
}

// DefaultConfig returns a 24h TTL with a 200 entry ceiling
func DefaultConfig() Config {
	return Config{TTL: 24 * time.Hour, MaxEntries: 200}
}

type memoryEntry struct {
	params    *models.ModelParameters
	expiresAt time.Time
}

// ModelParameterCache is a two tier cache: an LRU in memory backed by an optional durable store.
// Entries are immutable once stored.
type ModelParameterCache struct {
	memory   *lru.Cache[string, *memoryEntry]
	store    ParameterStore
	ttl      time.Duration
	max      int
	recorder Recorder
	logger   *logrus.Logger
	now      func() time.Time

	mu      sync.Mutex
	evicted int64
}

// NewModelParameterCache creates the cache; store and recorder may be nil
func NewModelParameterCache(cfg Config, store ParameterStore, recorder Recorder, logger *logrus.Logger) (*ModelParameterCache, error) {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultConfig().MaxEntries
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	if logger == nil {
		logger = logrus.New()
	}
	c := &ModelParameterCache{
		store:    store,
		ttl:      cfg.TTL,
		max:      cfg.MaxEntries,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
	memory, err := lru.NewWithEvict[string, *memoryEntry](cfg.MaxEntries, func(string, *memoryEntry) {
		c.mu.Lock()
		c.evicted++
		c.mu.Unlock()
	})
	if err != nil {
		return nil, err
	}
	c.memory = memory
	return c, nil
}

func cacheKey(model models.ModelName, fingerprint string) string {
	return string(model) + ":" + fingerprint
}

// Get looks in memory first, then in the durable store; durable hits are promoted
func (c *ModelParameterCache) Get(ctx context.Context, model models.ModelName, fingerprint string) (*models.ModelParameters, bool) {
	key := cacheKey(model, fingerprint)
	if entry, ok := c.memory.Get(key); ok {
		if c.now().Before(entry.expiresAt) {
			c.record(TierMemory, true)
			return entry.params, true
		}
		c.memory.Remove(key)
	}
	c.record(TierMemory, false)

	if c.store == nil {
		return nil, false
	}
	params, err := c.store.LoadParameters(ctx, model, fingerprint)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			c.logger.WithError(err).WithFields(logrus.Fields{
				"model":       model,
				"fingerprint": fingerprint,
			}).Warn("Durable parameter cache read failed")
		}
		c.record(TierDurable, false)
		return nil, false
	}
	expiresAt := params.TrainedAt.Add(c.ttl)
	if !c.now().Before(expiresAt) || params.Payload == nil {
		c.record(TierDurable, false)
		return nil, false
	}
	c.record(TierDurable, true)
	c.memory.Add(key, &memoryEntry{params: params, expiresAt: expiresAt})
	return params, true
}

// Put stores params in both tiers and runs Cleanup; durable failures are logged and swallowed
func (c *ModelParameterCache) Put(ctx context.Context, params *models.ModelParameters) {
	if params == nil {
		return
	}
	c.memory.Add(cacheKey(params.Model, params.Fingerprint), &memoryEntry{
		params:    params,
		expiresAt: params.TrainedAt.Add(c.ttl),
	})
	if c.store != nil {
		if err := c.store.SaveParameters(ctx, params); err != nil {
			c.logger.WithError(err).WithField("model", params.Model).Warn("Durable parameter cache write failed")
		}
	}
	c.Cleanup()
}

// Cleanup purges expired memory entries and trims to the entry ceiling
func (c *ModelParameterCache) Cleanup() int {
	removed := 0
	now := c.now()
	for _, key := range c.memory.Keys() {
		if entry, ok := c.memory.Peek(key); ok && !now.Before(entry.expiresAt) {
			c.memory.Remove(key)
			removed++
		}
	}
	for c.memory.Len() > c.max {
		c.memory.RemoveOldest()
		removed++
	}
	if removed > 0 {
		c.logger.WithField("removed", removed).Debug("Parameter cache cleanup")
	}
	return removed
}

// Len returns the number of memory entries
func (c *ModelParameterCache) Len() int {
	return c.memory.Len()
}

// Evictions returns how many entries have left the memory tier
func (c *ModelParameterCache) Evictions() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evicted
}

func (c *ModelParameterCache) record(tier string, hit bool) {
	if c.recorder != nil {
		c.recorder.RecordCacheLookup(tier, hit)
	}
}
