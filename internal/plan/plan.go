package plan

import (
	"context"
	"errors"
	"time"
)

var ErrTenantNotFound = errors.New("tenant not found")

// Tenant is the authoritative subscription record. Both rate-limit tier
// scaling and quota ceilings derive from the one Plan field here, so the
// two admission checks can never disagree about what a tenant is on.
type Tenant struct {
	ID            string
	Name          string
	Plan          string
	TrialActive   bool
	QuotaOverride bool // operator-set; suspends quota enforcement only
	CreatedAt     time.Time
}

// Event is a fire-and-forget notification persisted to the event log.
type Event struct {
	ID        string
	Type      string
	TenantID  string
	Payload   map[string]any
	CreatedAt time.Time
}

type Store interface {
	GetTenant(ctx context.Context, tenantID string) (*Tenant, error)
	// GetUsage returns the cumulative counter for a metric; a counter
	// that was never written reads as zero.
	GetUsage(ctx context.Context, tenantID, metric string) (int64, error)
	// AddUsage atomically increments a counter and returns the new value.
	// Only metered operations call this; the admission layer itself never
	// writes usage.
	AddUsage(ctx context.Context, tenantID, metric string, delta int64) (int64, error)
	// ResetUsage zeroes a counter. Admin action only.
	ResetUsage(ctx context.Context, tenantID, metric string) error
	SetOverride(ctx context.Context, tenantID string, active bool) error
	RecordEvent(ctx context.Context, event *Event) error
}
