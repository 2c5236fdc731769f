// Package quota tracks per-user daily message allotments.
package quota

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/pilotchat/internal/domain"
)

// DefaultWindow is the lifetime of a fresh quota record.
const DefaultWindow = 24 * time.Hour

// Clock returns the current time.
type Clock func() time.Time

// Store holds one quota record per user key. Every mutation is a
// compare-and-swap on the key's record pointer, so concurrent requests for the
// same user never lose a decrement and Remaining never goes below zero.
type Store struct {
	entries sync.Map // key -> *atomic.Pointer[domain.QuotaRecord]
	now     Clock
	window  time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.now = c
		}
	}
}

// WithWindow overrides the reset window.
func WithWindow(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.window = d
		}
	}
}

// NewStore creates an empty quota store.
func NewStore(opts ...Option) *Store {
	s := &Store{now: time.Now, window: DefaultWindow}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// tombstone marks a slot that the sweeper is removing. Operations that observe
// it drop the slot and start over on a new one.
var tombstone = &domain.QuotaRecord{}

func (s *Store) slot(key string) *atomic.Pointer[domain.QuotaRecord] {
	if v, ok := s.entries.Load(key); ok {
		return v.(*atomic.Pointer[domain.QuotaRecord])
	}
	v, _ := s.entries.LoadOrStore(key, new(atomic.Pointer[domain.QuotaRecord]))
	return v.(*atomic.Pointer[domain.QuotaRecord])
}

func (s *Store) fresh(limit int, now time.Time) *domain.QuotaRecord {
	if limit < 0 {
		limit = 0
	}
	return &domain.QuotaRecord{Remaining: limit, ResetsAt: now.Add(s.window)}
}

// current returns the live slot and record for key, creating or replacing the
// record when it is missing or expired.
func (s *Store) current(key string, limit int) (*atomic.Pointer[domain.QuotaRecord], *domain.QuotaRecord) {
	for {
		p := s.slot(key)
		rec := p.Load()
		if rec == tombstone {
			s.entries.CompareAndDelete(key, p)
			continue
		}
		now := s.now()
		if rec != nil && !rec.Expired(now) {
			return p, rec
		}
		next := s.fresh(limit, now)
		if p.CompareAndSwap(rec, next) {
			return p, next
		}
	}
}

// GetOrCreate returns the record for key, initializing it with limit messages
// when absent or expired.
func (s *Store) GetOrCreate(key string, limit int) domain.QuotaRecord {
	_, rec := s.current(key, limit)
	return *rec
}

// TryConsume decrements the record for key by one. It returns false without
// changing anything when no messages remain.
func (s *Store) TryConsume(key string, limit int) bool {
	for {
		p, rec := s.current(key, limit)
		if rec.Remaining <= 0 {
			return false
		}
		next := &domain.QuotaRecord{Remaining: rec.Remaining - 1, ResetsAt: rec.ResetsAt}
		if p.CompareAndSwap(rec, next) {
			return true
		}
	}
}

// Sweep drops records that expired before now and returns how many were removed.
// A dropped record is indistinguishable from an expired one: both are replaced
// by a full allotment on next access.
func (s *Store) Sweep(now time.Time) int {
	removed := 0
	s.entries.Range(func(k, v any) bool {
		p := v.(*atomic.Pointer[domain.QuotaRecord])
		rec := p.Load()
		if rec != nil && rec != tombstone && !rec.Expired(now) {
			return true
		}
		if rec == tombstone || p.CompareAndSwap(rec, tombstone) {
			if s.entries.CompareAndDelete(k, v) {
				removed++
			}
		}
		return true
	})
	return removed
}

// Len returns the number of tracked keys.
func (s *Store) Len() int {
	n := 0
	s.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
