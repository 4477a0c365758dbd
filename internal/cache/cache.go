package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/vasool/internal/domain"
)

// DefaultLocalTTL caps how long a protocol snapshot lives in the local tier.
const DefaultLocalTTL = 5 * time.Minute

// New creates a cache from configuration.
//
//	memory          -> LRUCache
//	redis           -> RedisCache
//	redis+two-phase -> TwoPhaseCache (LRU in front of Redis)
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory", "":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// byteStore is the raw key/value surface both tiers provide.
type byteStore interface {
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error
}

func loadProtocol(ctx context.Context, s byteStore, tenantID string) (*domain.Protocol, error) {
	data, err := s.Get(ctx, tenantID, domain.ProtocolCacheKey)
	if err != nil || data == nil {
		return nil, err
	}

	var p domain.Protocol
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("corrupt protocol snapshot for %s: %w", tenantID, err)
	}
	return &p, nil
}

func storeProtocol(ctx context.Context, s byteStore, tenantID string, p *domain.Protocol, ttl time.Duration) error {
	if p == nil {
		return fmt.Errorf("%w: protocol is required", domain.ErrInvalidInput)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.Set(ctx, tenantID, domain.ProtocolCacheKey, data, ttl)
}

// TwoPhaseCache reads through a local LRU to Redis. Writes go to both.
type TwoPhaseCache struct {
	local  *LRUCache
	remote *RedisCache
	l1TTL  time.Duration
}

// NewTwoPhaseCache creates a two-phase cache with LRU + Redis.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}
	return newTwoPhase(NewLRUCache(cfg.LocalMaxSize), remote, cfg.LocalTTL), nil
}

func newTwoPhase(local *LRUCache, remote *RedisCache, l1TTL time.Duration) *TwoPhaseCache {
	if l1TTL <= 0 {
		l1TTL = DefaultLocalTTL
	}
	return &TwoPhaseCache{local: local, remote: remote, l1TTL: l1TTL}
}

func (c *TwoPhaseCache) localTTL(ttl time.Duration) time.Duration {
	if ttl > 0 && ttl < c.l1TTL {
		return ttl
	}
	return c.l1TTL
}

// Get checks L1, then L2, warming L1 on an L2 hit.
func (c *TwoPhaseCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	val, err := c.local.Get(ctx, tenantID, key)
	if err != nil || val != nil {
		return val, err
	}

	val, err = c.remote.Get(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		_ = c.local.Set(ctx, tenantID, key, val, c.l1TTL)
	}
	return val, nil
}

// Set writes to both tiers; L1 never outlives l1TTL.
func (c *TwoPhaseCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if err := c.local.Set(ctx, tenantID, key, value, c.localTTL(ttl)); err != nil {
		return err
	}
	return c.remote.Set(ctx, tenantID, key, value, ttl)
}

// Delete removes from both tiers.
func (c *TwoPhaseCache) Delete(ctx context.Context, tenantID string, key string) error {
	if err := c.local.Delete(ctx, tenantID, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, tenantID, key)
}

func (c *TwoPhaseCache) GetProtocol(ctx context.Context, tenantID string) (*domain.Protocol, error) {
	return loadProtocol(ctx, c, tenantID)
}

func (c *TwoPhaseCache) SetProtocol(ctx context.Context, tenantID string, p *domain.Protocol, ttl time.Duration) error {
	return storeProtocol(ctx, c, tenantID, p, ttl)
}

// IncrementCounter always goes to Redis so reminder suppression holds across nodes.
func (c *TwoPhaseCache) IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error) {
	return c.remote.IncrementCounter(ctx, tenantID, key, window)
}

func (c *TwoPhaseCache) ResetCounter(ctx context.Context, tenantID string, key string) error {
	return c.remote.ResetCounter(ctx, tenantID, key)
}

// Ping checks both tiers.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("L1 ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close closes both tiers.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats returns L1 statistics.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.local.Stats()
}
