// Package cadence counts how often a customer has been contacted.
package cadence

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/vasool/internal/domain"
	"github.com/opensource-finance/vasool/internal/rules"
)

// Service counts recent follow-ups per customer.
type Service struct {
	repo domain.Repository
	now  func() time.Time
}

// NewService creates a new cadence service.
func NewService(repo domain.Repository) *Service {
	return &Service{
		repo: repo,
		now:  time.Now,
	}
}

// RecentContacts returns the number of follow-ups sent to a customer within
// window. The customer is identified by normalized name so virtual customers
// are counted too.
func (s *Service) RecentContacts(ctx context.Context, tenantID, nameKey string, window time.Duration) (int64, error) {
	if tenantID == "" || nameKey == "" {
		return 0, fmt.Errorf("%w: tenantID and customer are required", domain.ErrInvalidInput)
	}
	if s.repo == nil {
		return 0, fmt.Errorf("no data source available")
	}

	since := s.now().Add(-window)
	followUps, err := s.repo.ListFollowUpsByCustomer(ctx, tenantID, nameKey, since)
	if err != nil {
		return 0, fmt.Errorf("failed to list follow-ups: %w", err)
	}
	return int64(len(followUps)), nil
}

// LastContact returns the most recent follow-up for a customer within window,
// or nil when there is none.
func (s *Service) LastContact(ctx context.Context, tenantID, nameKey string, window time.Duration) (*domain.FollowUp, error) {
	followUps, err := s.repo.ListFollowUpsByCustomer(ctx, tenantID, nameKey, s.now().Add(-window))
	if err != nil {
		return nil, fmt.Errorf("failed to list follow-ups: %w", err)
	}

	var last *domain.FollowUp
	for _, f := range followUps {
		if last == nil || f.SentAt.After(last.SentAt) {
			last = f
		}
	}
	return last, nil
}

// ContactCounter returns the counter the policy engine uses for recent_contacts.
func (s *Service) ContactCounter() rules.ContactCounter {
	return s.RecentContacts
}
