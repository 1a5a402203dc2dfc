package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Compile-time interface check.
var _ Store = (*Spooled)(nil)

// SpoolOption configures a [Spooled] store.
type SpoolOption func(*Spooled)

// WithBreaker sets how many consecutive primary failures open the breaker
// and how long it stays open. Defaults: 3 failures, 30s.
func WithBreaker(maxFailures int, cooldown time.Duration) SpoolOption {
	return func(s *Spooled) { s.breaker = newBreaker(s.name, maxFailures, cooldown) }
}

// WithSpoolLimit caps the number of records held while the primary is
// unavailable. The oldest records are dropped first. Default: 1000.
func WithSpoolLimit(n int) SpoolOption {
	return func(s *Spooled) {
		if n > 0 {
			s.limit = n
		}
	}
}

// Spooled wraps a primary store with a circuit breaker and an in-memory
// spool. Records that cannot be written to the primary are kept in the spool
// and replayed, oldest first, after the next successful write.
type Spooled struct {
	name    string
	primary Store
	breaker *breaker
	limit   int

	mu    sync.Mutex
	spool []Record
}

// NewSpooled returns a Spooled store in front of primary. name labels logs.
func NewSpooled(name string, primary Store, opts ...SpoolOption) *Spooled {
	s := &Spooled{name: name, primary: primary, limit: 1000}
	s.breaker = newBreaker(name, 0, 0)
	for _, o := range opts {
		o(s)
	}
	return s
}

// Save writes r to the primary, or spools it when the primary fails or the
// breaker is open. Spooling is not an error.
func (s *Spooled) Save(ctx context.Context, r Record) error {
	err := s.breaker.do(func() error { return s.primary.Save(ctx, r) })
	if err != nil {
		s.push(r)
		if !errors.Is(err, ErrCircuitOpen) {
			slog.Warn("activity: primary save failed, record spooled", "store", s.name, "id", r.ID, "err", err)
		}
		return nil
	}
	return s.Flush(ctx)
}

// Flush replays spooled records to the primary. It stops at the first
// failure and keeps the remaining records.
func (s *Spooled) Flush(ctx context.Context) error {
	for {
		s.mu.Lock()
		if len(s.spool) == 0 {
			s.mu.Unlock()
			return nil
		}
		next := s.spool[0]
		s.mu.Unlock()

		if err := s.breaker.do(func() error { return s.primary.Save(ctx, next) }); err != nil {
			return fmt.Errorf("activity: flush %s: %w", s.name, err)
		}

		s.mu.Lock()
		if len(s.spool) > 0 && s.spool[0].ID == next.ID {
			s.spool = s.spool[1:]
		}
		s.mu.Unlock()
	}
}

// Recent merges the primary's records with the spooled ones, newest first.
// When the primary is unavailable only spooled records are returned.
func (s *Spooled) Recent(ctx context.Context, limit int) ([]Record, error) {
	var out []Record
	err := s.breaker.do(func() error {
		recs, err := s.primary.Recent(ctx, limit)
		out = recs
		return err
	})
	if err != nil && !errors.Is(err, ErrCircuitOpen) {
		slog.Warn("activity: primary recent failed", "store", s.name, "err", err)
	}

	s.mu.Lock()
	for _, r := range s.spool {
		if !slices.ContainsFunc(out, func(x Record) bool { return x.ID == r.ID }) {
			out = append(out, r)
		}
	}
	s.mu.Unlock()

	slices.SortStableFunc(out, func(a, b Record) int { return b.EndedAt.Compare(a.EndedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Pending returns the number of spooled records.
func (s *Spooled) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.spool)
}

// Ping reports an error while the breaker is open, so readiness reflects a
// lost database before the next write.
func (s *Spooled) Ping(ctx context.Context) error {
	if st := s.breaker.current(); st == breakerOpen {
		return fmt.Errorf("activity: %s breaker %s, %d records spooled", s.name, st, s.Pending())
	}
	if p, ok := s.primary.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (s *Spooled) push(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spool = append(s.spool, r)
	if over := len(s.spool) - s.limit; over > 0 {
		slog.Warn("activity: spool full, dropping oldest records", "store", s.name, "dropped", over)
		s.spool = slices.Delete(s.spool, 0, over)
	}
}
