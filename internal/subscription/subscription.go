// Package subscription resolves a caller's tier and message allowance.
package subscription

import (
	"context"

	"github.com/ashureev/pilotchat/internal/domain"
	"github.com/ashureev/pilotchat/internal/quota"
)

// Default daily allowances.
const (
	DefaultFreeMessagesPerDay = 25
	DefaultProMessagesPerDay  = 250
)

// Service looks up and consumes a caller's daily allowance.
type Service interface {
	Lookup(ctx context.Context, id domain.UserIdentity) (domain.Subscription, error)
	TryConsume(ctx context.Context, id domain.UserIdentity) (bool, error)
}

// Limits configures the per-tier daily allowance.
type Limits struct {
	FreePerDay int
	ProPerDay  int
}

// InMemory keeps allowances in a process-local quota.Store. Users listed as
// pro get the pro allowance; everyone else, including anonymous callers who
// all share one key, gets the free allowance.
type InMemory struct {
	quotas *quota.Store
	limits Limits
	pro    map[string]struct{}
}

// NewInMemory creates an in-memory subscription service.
func NewInMemory(quotas *quota.Store, limits Limits, proUserIDs []string) *InMemory {
	if limits.FreePerDay <= 0 {
		limits.FreePerDay = DefaultFreeMessagesPerDay
	}
	if limits.ProPerDay <= 0 {
		limits.ProPerDay = DefaultProMessagesPerDay
	}
	pro := make(map[string]struct{}, len(proUserIDs))
	for _, id := range proUserIDs {
		if id != "" {
			pro[id] = struct{}{}
		}
	}
	return &InMemory{quotas: quotas, limits: limits, pro: pro}
}

func (s *InMemory) tier(id domain.UserIdentity) domain.Tier {
	if id.UserID == nil {
		return domain.TierFree
	}
	if _, ok := s.pro[*id.UserID]; ok {
		return domain.TierPro
	}
	return domain.TierFree
}

func (s *InMemory) limit(tier domain.Tier) int {
	if tier == domain.TierPro {
		return s.limits.ProPerDay
	}
	return s.limits.FreePerDay
}

// Lookup returns the caller's subscription, creating a fresh quota record
// when none exists or the previous one expired.
func (s *InMemory) Lookup(_ context.Context, id domain.UserIdentity) (domain.Subscription, error) {
	tier := s.tier(id)
	rec := s.quotas.GetOrCreate(id.QuotaKey(), s.limit(tier))
	end := rec.ResetsAt
	return domain.Subscription{
		Tier:              tier,
		IsActive:          true,
		RemainingMessages: rec.Remaining,
		CurrentPeriodEnd:  &end,
	}, nil
}

// TryConsume takes one message from the caller's allowance.
func (s *InMemory) TryConsume(_ context.Context, id domain.UserIdentity) (bool, error) {
	return s.quotas.TryConsume(id.QuotaKey(), s.limit(s.tier(id))), nil
}
