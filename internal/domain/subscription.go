package domain

import (
	"time"
)

// Tier is the subscription level that selects a daily message allotment.
type Tier string

const (
	// TierFree is the default tier.
	TierFree Tier = "free"
	// TierPro is the paid tier.
	TierPro Tier = "pro"
)

// QuotaRecord tracks the remaining messages of one user until ResetsAt.
type QuotaRecord struct {
	Remaining int       `json:"remaining"`
	ResetsAt  time.Time `json:"resets_at"`
}

// Expired reports whether the record must be replaced at now.
func (q QuotaRecord) Expired(now time.Time) bool {
	return !now.Before(q.ResetsAt)
}

// Subscription summarizes what a user may do right now.
type Subscription struct {
	Tier              Tier       `json:"tier"`
	IsActive          bool       `json:"is_active"`
	RemainingMessages int        `json:"remaining_messages"`
	CurrentPeriodEnd  *time.Time `json:"current_period_end,omitempty"`
}

// CanSend reports whether another message may be sent.
func (s Subscription) CanSend() bool {
	return s.IsActive && s.RemainingMessages > 0
}
