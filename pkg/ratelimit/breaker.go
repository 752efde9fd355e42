package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerStore wraps a Store with a circuit breaker so a flapping backend
// is shed fast instead of every request waiting out its timeout. An open
// breaker surfaces as ErrStoreUnavailable, which the Limiter treats the
// same as any other store failure.
type BreakerStore struct {
	inner Store
	cb    *gobreaker.CircuitBreaker
}

func NewBreakerStore(inner Store) *BreakerStore {
	settings := gobreaker.Settings{
		Name:        "window-store",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &BreakerStore{
		inner: inner,
		cb:    gobreaker.NewCircuitBreaker(settings),
	}
}

func (s *BreakerStore) Consume(ctx context.Context, key string, p Policy) (*Result, error) {
	raw, err := s.cb.Execute(func() (interface{}, error) {
		return s.inner.Consume(ctx, key, p)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrStoreUnavailable
		}
		return nil, err
	}
	return raw.(*Result), nil
}
