// Package cache holds per-tenant protocol snapshots and reminder
// suppression counters for Vasool.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opensource-finance/vasool/internal/domain"
)

// DefaultLocalMaxSize is used when no capacity is configured.
const DefaultLocalMaxSize = 10000

// LRUCache is an in-process cache with TTL and least-recently-used eviction.
// It serves the community tier and the L1 side of TwoPhaseCache.
type LRUCache struct {
	mu       sync.RWMutex
	maxSize  int
	items    map[string]*list.Element
	order    *list.List
	counters map[string]*counter
	now      func() time.Time
}

type entry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

type counter struct {
	n         int64
	expiresAt time.Time
}

// NewLRUCache creates an LRU cache holding at most maxSize entries.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = DefaultLocalMaxSize
	}
	return &LRUCache{
		maxSize:  maxSize,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		counters: make(map[string]*counter),
		now:      time.Now,
	}
}

func scopedKey(tenantID, key string) (string, error) {
	if tenantID == "" {
		return "", fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}
	return tenantID + ":" + key, nil
}

// Get returns nil, nil on a miss or an expired entry.
func (c *LRUCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	k, err := scopedKey(tenantID, key)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[k]
	if !ok {
		return nil, nil
	}
	e := elem.Value.(*entry)
	if !c.now().Before(e.expiresAt) {
		c.remove(elem)
		return nil, nil
	}

	c.order.MoveToFront(elem)
	return e.value, nil
}

// Set stores value until ttl elapses, evicting the least recently used
// entries beyond capacity.
func (c *LRUCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	k, err := scopedKey(tenantID, key)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(ttl)
	if elem, ok := c.items[k]; ok {
		e := elem.Value.(*entry)
		e.value = value
		e.expiresAt = expiresAt
		c.order.MoveToFront(elem)
		return nil
	}

	c.items[k] = c.order.PushFront(&entry{key: k, value: value, expiresAt: expiresAt})
	for c.order.Len() > c.maxSize {
		c.remove(c.order.Back())
	}
	return nil
}

// Delete removes a key. Missing keys are not an error.
func (c *LRUCache) Delete(ctx context.Context, tenantID string, key string) error {
	k, err := scopedKey(tenantID, key)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[k]; ok {
		c.remove(elem)
	}
	return nil
}

// GetProtocol returns the cached protocol snapshot, or nil on a miss.
func (c *LRUCache) GetProtocol(ctx context.Context, tenantID string) (*domain.Protocol, error) {
	return loadProtocol(ctx, c, tenantID)
}

// SetProtocol caches a protocol snapshot.
func (c *LRUCache) SetProtocol(ctx context.Context, tenantID string, p *domain.Protocol, ttl time.Duration) error {
	return storeProtocol(ctx, c, tenantID, p, ttl)
}

// IncrementCounter counts hits within a fixed window that starts at the
// first increment.
func (c *LRUCache) IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error) {
	k, err := scopedKey(tenantID, "counter:"+key)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	ctr, ok := c.counters[k]
	if !ok || !now.Before(ctr.expiresAt) {
		c.counters[k] = &counter{n: 1, expiresAt: now.Add(window)}
		c.pruneCounters(now)
		return 1, nil
	}

	ctr.n++
	return ctr.n, nil
}

// ResetCounter forgets a counter window.
func (c *LRUCache) ResetCounter(ctx context.Context, tenantID string, key string) error {
	k, err := scopedKey(tenantID, "counter:"+key)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counters, k)
	return nil
}

// pruneCounters drops expired windows once the map outgrows capacity.
func (c *LRUCache) pruneCounters(now time.Time) {
	if len(c.counters) <= c.maxSize {
		return
	}
	for k, ctr := range c.counters {
		if !now.Before(ctr.expiresAt) {
			delete(c.counters, k)
		}
	}
}

func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close empties the cache.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.counters = make(map[string]*counter)
	return nil
}

// Stats returns the current entry count and capacity.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.order.Len(), c.maxSize
}

func (c *LRUCache) remove(elem *list.Element) {
	if elem == nil {
		return
	}
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*entry).key)
}
