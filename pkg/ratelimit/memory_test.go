package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock for deterministic window tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryStore_SequentialExhaustion(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStoreWithClock(clock.Now)
	policy := Policy{Points: 3, Window: 60 * time.Second, Block: 60 * time.Second}

	for i := 0; i < 3; i++ {
		res, err := store.Consume(context.Background(), "tenant-1", policy)
		if err != nil {
			t.Fatalf("call %d: unexpected error: %v", i+1, err)
		}
		if !res.Allowed {
			t.Fatalf("call %d: expected allowed", i+1)
		}
		if res.Remaining != 2-i {
			t.Errorf("call %d: expected remaining %d, got %d", i+1, 2-i, res.Remaining)
		}
	}

	res, err := store.Consume(context.Background(), "tenant-1", policy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Allowed {
		t.Fatal("4th call: expected blocked")
	}
	if res.RetryAfter != 60*time.Second {
		t.Errorf("expected retry after 60s, got %v", res.RetryAfter)
	}
}

func TestMemoryStore_BlockedUntilExactly(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStoreWithClock(clock.Now)
	policy := Policy{Points: 1, Window: 60 * time.Second, Block: 30 * time.Second}

	if res, _ := store.Consume(context.Background(), "k", policy); !res.Allowed {
		t.Fatal("first call should be allowed")
	}
	if res, _ := store.Consume(context.Background(), "k", policy); res.Allowed {
		t.Fatal("second call should block")
	}

	// No success strictly before blockedUntil
	clock.Advance(30*time.Second - time.Millisecond)
	res, _ := store.Consume(context.Background(), "k", policy)
	if res.Allowed {
		t.Fatal("expected still blocked just before blockedUntil")
	}
	if res.RetryAfter != time.Second {
		t.Errorf("expected sub-second remainder rounded up to 1s, got %v", res.RetryAfter)
	}

	// Success at/after blockedUntil
	clock.Advance(time.Millisecond)
	res, _ = store.Consume(context.Background(), "k", policy)
	if !res.Allowed {
		t.Fatal("expected allowed at blockedUntil")
	}
}

func TestMemoryStore_WindowReset(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStoreWithClock(clock.Now)
	policy := Policy{Points: 2, Window: 10 * time.Second, Block: time.Minute}

	store.Consume(context.Background(), "k", policy)
	store.Consume(context.Background(), "k", policy)

	clock.Advance(10 * time.Second)
	res, _ := store.Consume(context.Background(), "k", policy)
	if !res.Allowed {
		t.Fatal("expected fresh window after reset")
	}
	if res.Remaining != 1 {
		t.Errorf("expected full fresh budget minus one, got %d", res.Remaining)
	}
}

func TestMemoryStore_MonotonicRemaining(t *testing.T) {
	store := NewMemoryStore()
	policy := Policy{Points: 10, Window: time.Minute, Block: time.Minute}

	prev := policy.Points
	for i := 0; i < 10; i++ {
		res, err := store.Consume(context.Background(), "k", policy)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Remaining != prev-1 {
			t.Fatalf("call %d: expected remaining %d, got %d", i+1, prev-1, res.Remaining)
		}
		if res.Remaining < 0 {
			t.Fatalf("remaining went negative: %d", res.Remaining)
		}
		prev = res.Remaining
	}
}

func TestMemoryStore_ConcurrentConsume(t *testing.T) {
	const points = 50
	const extra = 20

	store := NewMemoryStore()
	policy := Policy{Points: points, Window: time.Minute, Block: time.Minute}

	var wg sync.WaitGroup
	results := make(chan bool, points+extra)
	for i := 0; i < points+extra; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := store.Consume(context.Background(), "shared", policy)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			results <- res.Allowed
		}()
	}
	wg.Wait()
	close(results)

	allowed := 0
	for ok := range results {
		if ok {
			allowed++
		}
	}
	if allowed != points {
		t.Errorf("expected exactly %d allowed, got %d", points, allowed)
	}
}

func TestMemoryStore_Sweep(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStoreWithClock(clock.Now)
	policy := Policy{Points: 1, Window: 10 * time.Second, Block: 5 * time.Second}

	store.Consume(context.Background(), "a", policy)
	store.Consume(context.Background(), "b", policy)

	if removed := store.Sweep(); removed != 0 {
		t.Errorf("expected nothing swept while live, got %d", removed)
	}

	clock.Advance(11 * time.Second)
	if removed := store.Sweep(); removed != 2 {
		t.Errorf("expected 2 swept after window, got %d", removed)
	}
}
