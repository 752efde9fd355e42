package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps consumption records in an in-process map. Suitable for
// single-instance deployments; the mutex covers only the map mutation,
// never any I/O.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

type entry struct {
	remaining    int
	resetAt      time.Time
	blockedUntil time.Time // zero when not blocked
}

func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

// NewMemoryStoreWithClock injects the clock, for deterministic tests.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*entry),
		now:     now,
	}
}

func (s *MemoryStore) Consume(ctx context.Context, key string, p Policy) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.entries[key]
	if ok && e.expired(now) {
		delete(s.entries, key)
		ok = false
	}

	if !ok {
		e = &entry{
			remaining: p.Points - 1,
			resetAt:   now.Add(p.Window),
		}
		s.entries[key] = e
		return &Result{Allowed: true, Remaining: e.remaining, ResetAt: e.resetAt}, nil
	}

	if !e.blockedUntil.IsZero() && now.Before(e.blockedUntil) {
		return &Result{
			Remaining:  e.remaining,
			ResetAt:    e.resetAt,
			RetryAfter: ceilSeconds(e.blockedUntil.Sub(now)),
		}, nil
	}

	if e.remaining > 0 {
		e.remaining--
		return &Result{Allowed: true, Remaining: e.remaining, ResetAt: e.resetAt}, nil
	}

	e.blockedUntil = now.Add(p.Block)
	return &Result{
		ResetAt:    e.resetAt,
		RetryAfter: ceilSeconds(p.Block),
	}, nil
}

// expired reports whether the record's lifetime has passed: the block end
// when blocked, the window end otherwise.
func (e *entry) expired(now time.Time) bool {
	if !e.blockedUntil.IsZero() {
		return !now.Before(e.blockedUntil)
	}
	return !now.Before(e.resetAt)
}

// Sweep drops expired records. Called periodically by the janitor; safe to
// call at any time.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// StartJanitor sweeps expired records on the given interval until the
// returned stop function is called.
func (s *MemoryStore) StartJanitor(interval time.Duration) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-done:
				return
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

func ceilSeconds(d time.Duration) time.Duration {
	secs := d / time.Second
	if d%time.Second != 0 {
		secs++
	}
	return secs * time.Second
}
