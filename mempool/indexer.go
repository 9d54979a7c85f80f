package mempool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
)

type SeenCacheConfig struct {
	MaxSize       int
	EvictionTime  time.Duration
	PruneInterval time.Duration
}

// SeenCache remembers recently observed transaction hashes so duplicate
// feed deliveries are processed once. Entries expire after EvictionTime or
// when the LRU is full, whichever comes first.
type SeenCache struct {
	config *SeenCacheConfig
	logger *zap.Logger
	cache  *lru.Cache
	mu     sync.Mutex
	now    func() time.Time
}

func NewSeenCache(config *SeenCacheConfig, logger *zap.Logger) (*SeenCache, error) {
	cache, err := lru.New(config.MaxSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	return &SeenCache{
		config: config,
		logger: logger,
		cache:  cache,
		now:    time.Now,
	}, nil
}

// MarkSeen records hash and reports whether it was already present.
func (c *SeenCache) MarkSeen(hash common.Hash) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if value, ok := c.cache.Peek(hash); ok {
		if ts, ok := value.(time.Time); ok && now.Sub(ts) <= c.config.EvictionTime {
			return true
		}
	}
	c.cache.Add(hash, now)
	return false
}

func (c *SeenCache) Len() int {
	return c.cache.Len()
}

// Prune removes expired entries and returns how many were dropped.
func (c *SeenCache) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	pruned := 0
	for _, key := range c.cache.Keys() {
		if value, ok := c.cache.Peek(key); ok {
			if ts, ok := value.(time.Time); ok && now.Sub(ts) > c.config.EvictionTime {
				c.cache.Remove(key)
				pruned++
			}
		}
	}
	return pruned
}

func (c *SeenCache) StartPruning(ctx context.Context) {
	ticker := time.NewTicker(c.config.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Prune(); n > 0 {
				c.logger.Debug("Pruned seen transactions", zap.Int("count", n), zap.Int("remaining", c.Len()))
			}
		}
	}
}
