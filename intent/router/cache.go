package router

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hrygo/opsintent/core"
	"github.com/hrygo/opsintent/internal/lru"
)

// DecisionCache memoizes full routing decisions per input text. Repeated
// queries skip the tier cascade entirely; LLM-layer results get a longer TTL
// because they are the expensive ones to recompute.
type DecisionCache struct {
	cache        *lru.Cache[string, *core.RoutingDecision]
	defaultTTL   time.Duration
	llmResultTTL time.Duration
}

// CacheConfig configures the decision cache.
type CacheConfig struct {
	Capacity     int           // default 500
	DefaultTTL   time.Duration // default 5min
	LLMResultTTL time.Duration // default 30min
}

// NewDecisionCache creates a decision cache.
func NewDecisionCache(cfg CacheConfig) *DecisionCache {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 500
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}
	if cfg.LLMResultTTL <= 0 {
		cfg.LLMResultTTL = 30 * time.Minute
	}
	return &DecisionCache{
		cache:        lru.New[string, *core.RoutingDecision](cfg.Capacity, cfg.DefaultTTL),
		defaultTTL:   cfg.DefaultTTL,
		llmResultTTL: cfg.LLMResultTTL,
	}
}

// Get returns a copy of the cached decision for input, if any.
func (c *DecisionCache) Get(input string) (*core.RoutingDecision, bool) {
	d, ok := c.cache.Get(hashKey(input))
	if !ok {
		return nil, false
	}
	return d.Clone(), true
}

// Set stores a copy of the decision for input.
func (c *DecisionCache) Set(input string, decision *core.RoutingDecision) {
	ttl := c.defaultTTL
	if decision.LayerUsed == core.LayerLLM {
		ttl = c.llmResultTTL
	}
	c.cache.Set(hashKey(input), decision.Clone(), ttl)
}

// Clear drops all cached decisions (used on config reload).
func (c *DecisionCache) Clear() {
	c.cache.Clear()
}

// hashKey creates a stable hash key for input.
func hashKey(input string) string {
	hash := sha256.Sum256([]byte(input))
	return "route:" + hex.EncodeToString(hash[:8])
}
