// Package protocol is the single read and write path for a tenant's
// escalation protocol.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/vasool/internal/bus"
	"github.com/opensource-finance/vasool/internal/domain"
)

// DefaultCacheTTL is used when the store is built without a TTL.
const DefaultCacheTTL = 5 * time.Minute

// Committed is the payload published on domain.TopicProtocolCommitted.
type Committed struct {
	TenantID string           `json:"tenantId"`
	Protocol *domain.Protocol `json:"protocol"`
	At       time.Time        `json:"committedAt"`
}

// Store reads protocols through the cache and commits them to the repository.
// Cache and bus are optional.
type Store struct {
	repo  domain.Repository
	cache domain.Cache
	bus   domain.EventBus
	ttl   time.Duration
}

// NewStore creates a protocol store.
func NewStore(repo domain.Repository, cache domain.Cache, eventBus domain.EventBus, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Store{repo: repo, cache: cache, bus: eventBus, ttl: ttl}
}

// Get returns a private copy of the tenant's protocol. Tenants that never
// committed one get the defaults.
func (s *Store) Get(ctx context.Context, tenantID string) (*domain.Protocol, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	if s.cache != nil {
		p, err := s.cache.GetProtocol(ctx, tenantID)
		if err != nil {
			slog.Warn("protocol cache read failed", "tenant_id", tenantID, "error", err)
		} else if p != nil {
			return p, nil
		}
	}

	p, err := s.repo.GetProtocol(ctx, tenantID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.DefaultProtocol(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load protocol: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.SetProtocol(ctx, tenantID, p, s.ttl); err != nil {
			slog.Warn("protocol cache write failed", "tenant_id", tenantID, "error", err)
		}
	}
	return p.Clone(), nil
}

// Commit validates and persists p, then invalidates the cached snapshot
// and announces the change.
func (s *Store) Commit(ctx context.Context, tenantID string, p *domain.Protocol) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}
	if p == nil {
		return fmt.Errorf("%w: protocol is required", domain.ErrInvalidProtocol)
	}
	if err := p.Validate(); err != nil {
		return err
	}

	snapshot := p.Clone()
	if err := s.repo.SaveProtocol(ctx, tenantID, snapshot); err != nil {
		return fmt.Errorf("failed to save protocol: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Delete(ctx, tenantID, domain.ProtocolCacheKey); err != nil {
			slog.Warn("protocol cache invalidation failed", "tenant_id", tenantID, "error", err)
		}
	}

	if s.bus != nil {
		event := Committed{TenantID: tenantID, Protocol: snapshot, At: time.Now().UTC()}
		if err := bus.PublishJSON(ctx, s.bus, tenantID, domain.TopicProtocolCommitted, event); err != nil {
			slog.Warn("protocol commit event not published", "tenant_id", tenantID, "error", err)
		}
	}

	slog.Info("protocol committed",
		"tenant_id", tenantID,
		"level1_days", snapshot.Days(domain.Stage1),
		"level4_days", snapshot.Days(domain.Stage4),
	)
	return nil
}

// Reset commits the default protocol.
func (s *Store) Reset(ctx context.Context, tenantID string) (*domain.Protocol, error) {
	p := domain.DefaultProtocol()
	if err := s.Commit(ctx, tenantID, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Update loads the current protocol, applies edit to a copy and commits it.
func (s *Store) Update(ctx context.Context, tenantID string, edit func(*domain.Protocol) error) (*domain.Protocol, error) {
	p, err := s.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if err := edit(p); err != nil {
		return nil, err
	}
	if err := s.Commit(ctx, tenantID, p); err != nil {
		return nil, err
	}
	return p, nil
}
