package ratelimit

import (
	"context"
	"time"
)

// Limiter checks and decrements a caller's point budget against a Store.
// Store calls carry a bounded timeout; on store failure the limiter fails
// OPEN — availability of the product wins over strict limiting — and
// returns both a synthetic allowed Result and the error so callers can
// log and count the degradation.
type Limiter struct {
	store   Store
	timeout time.Duration
}

func NewLimiter(store Store, timeout time.Duration) *Limiter {
	return &Limiter{store: store, timeout: timeout}
}

func (l *Limiter) Consume(ctx context.Context, key string, p Policy) (*Result, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	res, err := l.store.Consume(ctx, key, p)
	if err != nil {
		return &Result{
			Allowed:   true,
			Remaining: p.Points - 1,
			ResetAt:   time.Now().Add(p.Window),
		}, err
	}
	return res, nil
}
