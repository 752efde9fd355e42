package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable reports that the window store could not be reached.
// Callers decide fail-open vs fail-closed; the Limiter fails open.
var ErrStoreUnavailable = errors.New("window store unavailable")

// Policy describes a consumable budget: Points per Window, with a Block
// cooldown applied once the budget is exhausted. Policies are values and
// are never mutated after resolution.
type Policy struct {
	Points int
	Window time.Duration
	Block  time.Duration
}

// Result is the outcome of a single consume call.
type Result struct {
	Allowed    bool
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration // zero when Allowed
}

// Store tracks per-key consumption records with expiry. Consume is a single
// atomic read-modify-write: two concurrent callers on the same key must
// never both observe the last remaining point.
type Store interface {
	Consume(ctx context.Context, key string, p Policy) (*Result, error)
}
