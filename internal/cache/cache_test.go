package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/vasool/internal/domain"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newClockedCache(size int) (*LRUCache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 11, 14, 9, 0, 0, 0, time.UTC)}
	c := NewLRUCache(size)
	c.now = clock.now
	return c, clock
}

func TestLRUCache(t *testing.T) {
	cache, clock := newClockedCache(100)
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("SetAndGet", func(t *testing.T) {
		if err := cache.Set(ctx, tenantID, "key1", []byte("value1"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, tenantID, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, tenantID, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, "key2", []byte("value2"), time.Minute)

		if err := cache.Delete(ctx, tenantID, "key2"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if val, _ := cache.Get(ctx, tenantID, "key2"); val != nil {
			t.Error("expected nil after delete")
		}
		if err := cache.Delete(ctx, tenantID, "key2"); err != nil {
			t.Errorf("deleting a missing key should not fail: %v", err)
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, "expiring", []byte("temp"), 10*time.Second)

		if val, _ := cache.Get(ctx, tenantID, "expiring"); val == nil {
			t.Error("expected value before expiration")
		}

		clock.advance(10 * time.Second)

		if val, _ := cache.Get(ctx, tenantID, "expiring"); val != nil {
			t.Error("expected nil after expiration")
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		small, _ := newClockedCache(3)

		_ = small.Set(ctx, tenantID, "a", []byte("1"), time.Minute)
		_ = small.Set(ctx, tenantID, "b", []byte("2"), time.Minute)
		_ = small.Set(ctx, tenantID, "c", []byte("3"), time.Minute)
		_, _ = small.Get(ctx, tenantID, "a")
		_ = small.Set(ctx, tenantID, "d", []byte("4"), time.Minute)

		if val, _ := small.Get(ctx, tenantID, "b"); val != nil {
			t.Error("expected 'b' to be evicted")
		}
		if val, _ := small.Get(ctx, tenantID, "a"); val == nil {
			t.Error("expected 'a' to still exist")
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_ = cache.Set(ctx, "tenant-001", "shared-key", []byte("tenant1-value"), time.Minute)
		_ = cache.Set(ctx, "tenant-002", "shared-key", []byte("tenant2-value"), time.Minute)

		val1, _ := cache.Get(ctx, "tenant-001", "shared-key")
		val2, _ := cache.Get(ctx, "tenant-002", "shared-key")

		if string(val1) != "tenant1-value" {
			t.Errorf("expected 'tenant1-value', got '%s'", string(val1))
		}
		if string(val2) != "tenant2-value" {
			t.Errorf("expected 'tenant2-value', got '%s'", string(val2))
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if err := cache.Set(ctx, "", "key", []byte("value"), time.Minute); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		if _, err := cache.Get(ctx, "", "key"); err == nil {
			t.Error("expected error for empty tenantID")
		}
		if _, err := cache.IncrementCounter(ctx, "", "k", time.Minute); err == nil {
			t.Error("expected error for empty tenantID")
		}
	})

	t.Run("IncrementCounter", func(t *testing.T) {
		window := 24 * time.Hour
		key := "reminder:acme corp:2"

		if n, err := cache.IncrementCounter(ctx, tenantID, key, window); err != nil || n != 1 {
			t.Fatalf("expected count 1, got %d (%v)", n, err)
		}
		if n, _ := cache.IncrementCounter(ctx, tenantID, key, window); n != 2 {
			t.Errorf("expected count 2, got %d", n)
		}
		if n, _ := cache.IncrementCounter(ctx, "tenant-002", key, window); n != 1 {
			t.Errorf("expected independent count for other tenant, got %d", n)
		}

		clock.advance(window)

		if n, _ := cache.IncrementCounter(ctx, tenantID, key, window); n != 1 {
			t.Errorf("expected count 1 after window reset, got %d", n)
		}

		if err := cache.ResetCounter(ctx, tenantID, key); err != nil {
			t.Fatalf("ResetCounter failed: %v", err)
		}
		if n, _ := cache.IncrementCounter(ctx, tenantID, key, window); n != 1 {
			t.Errorf("expected count 1 after reset, got %d", n)
		}
		if n, _ := cache.IncrementCounter(ctx, "tenant-002", key, window); n != 2 {
			t.Errorf("expected reset to leave other tenants alone, got %d", n)
		}
	})

	t.Run("ProtocolSnapshot", func(t *testing.T) {
		if p, err := cache.GetProtocol(ctx, tenantID); err != nil || p != nil {
			t.Fatalf("expected miss, got %v (%v)", p, err)
		}

		p := domain.DefaultProtocol()
		p.Stages[0].Days = 3
		if err := cache.SetProtocol(ctx, tenantID, p, time.Minute); err != nil {
			t.Fatalf("SetProtocol failed: %v", err)
		}

		got, err := cache.GetProtocol(ctx, tenantID)
		if err != nil {
			t.Fatalf("GetProtocol failed: %v", err)
		}
		if got.Days(domain.Stage1) != 3 {
			t.Errorf("expected level1Days 3, got %d", got.Days(domain.Stage1))
		}
		if !got.RiskHighAmount.Equal(p.RiskHighAmount) {
			t.Errorf("expected %s, got %s", p.RiskHighAmount, got.RiskHighAmount)
		}

		if err := cache.Delete(ctx, tenantID, domain.ProtocolCacheKey); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if got, _ := cache.GetProtocol(ctx, tenantID); got != nil {
			t.Error("expected protocol invalidated")
		}
	})

	t.Run("CorruptProtocol", func(t *testing.T) {
		_ = cache.Set(ctx, "tenant-bad", domain.ProtocolCacheKey, []byte("{not json"), time.Minute)
		if _, err := cache.GetProtocol(ctx, "tenant-bad"); err == nil {
			t.Error("expected error for corrupt snapshot")
		}
	})

	t.Run("NilProtocol", func(t *testing.T) {
		if err := cache.SetProtocol(ctx, tenantID, nil, time.Minute); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		statsCache := NewLRUCache(50)
		_ = statsCache.Set(ctx, tenantID, "k1", []byte("v1"), time.Minute)
		_ = statsCache.Set(ctx, tenantID, "k2", []byte("v2"), time.Minute)

		size, capacity := statsCache.Stats()
		if size != 2 {
			t.Errorf("expected size 2, got %d", size)
		}
		if capacity != 50 {
			t.Errorf("expected capacity 50, got %d", capacity)
		}
	})

	t.Run("Close", func(t *testing.T) {
		testCache := NewLRUCache(10)
		_ = testCache.Set(ctx, tenantID, "k", []byte("v"), time.Minute)

		if err := testCache.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
		if val, _ := testCache.Get(ctx, tenantID, "k"); val != nil {
			t.Error("expected cache to be cleared after close")
		}
	})
}

func TestPruneCounters(t *testing.T) {
	c, clock := newClockedCache(2)
	ctx := context.Background()

	_, _ = c.IncrementCounter(ctx, "t", "a", time.Minute)
	_, _ = c.IncrementCounter(ctx, "t", "b", time.Minute)
	clock.advance(2 * time.Minute)
	_, _ = c.IncrementCounter(ctx, "t", "c", time.Minute)

	if len(c.counters) != 1 {
		t.Errorf("expected expired counters pruned, got %d", len(c.counters))
	}
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		cache, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer cache.Close()

		if _, ok := cache.(*LRUCache); !ok {
			t.Error("expected LRUCache for memory type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})

	t.Run("LocalTTLCap", func(t *testing.T) {
		c := newTwoPhase(NewLRUCache(10), nil, 0)
		if c.l1TTL != DefaultLocalTTL {
			t.Errorf("expected default L1 TTL, got %v", c.l1TTL)
		}
		if got := c.localTTL(time.Hour); got != DefaultLocalTTL {
			t.Errorf("expected L1 TTL capped at %v, got %v", DefaultLocalTTL, got)
		}
		if got := c.localTTL(time.Second); got != time.Second {
			t.Errorf("expected shorter TTL kept, got %v", got)
		}
	})
}
