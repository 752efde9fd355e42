package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brandforge/api/internal/events"
	"github.com/brandforge/api/internal/plan"
)

// EventUsageLimitReached is emitted once per denied quota check.
const EventUsageLimitReached = "usage-limit-reached"

// Configuration errors: the plan or metric is not in the quota table.
// Distinct from transient store errors, and both fail closed.
var (
	ErrUnknownPlan   = errors.New("unknown plan")
	ErrUnknownMetric = errors.New("unknown metric")
)

// QuotaDecision is the outcome of a cumulative-usage check.
type QuotaDecision struct {
	Allowed bool
	Current int64
	Ceiling int64
}

// DefaultPlanLimits is the built-in plan→metric→ceiling table, overridable
// from the policy file at startup.
func DefaultPlanLimits() map[string]map[string]int64 {
	return map[string]map[string]int64{
		"basic": {
			"ai_tokens": 100_000,
			"scans":     50,
			"emails":    500,
		},
		"pro": {
			"ai_tokens": 1_000_000,
			"scans":     500,
			"emails":    5_000,
		},
		"enterprise": {
			"ai_tokens": 10_000_000,
			"scans":     5_000,
			"emails":    50_000,
		},
	}
}

// QuotaEnforcer blocks requests whose cumulative usage has reached the
// plan ceiling. It only reads usage; increments belong to the metered
// operations, so this check is side-effect-light and safe to call
// speculatively.
type QuotaEnforcer struct {
	store    plan.Store
	notifier events.Notifier
	limits   map[string]map[string]int64
}

func NewQuotaEnforcer(store plan.Store, notifier events.Notifier, limits map[string]map[string]int64) *QuotaEnforcer {
	if limits == nil {
		limits = DefaultPlanLimits()
	}
	return &QuotaEnforcer{store: store, notifier: notifier, limits: limits}
}

// Check decides whether the tenant may use the metric. The tenant record
// is the one resolved by auth, so plan and override come from the same
// lookup the tier adjuster used. Returned errors mean the check could not
// be made (transient or config); callers deny on error.
func (q *QuotaEnforcer) Check(ctx context.Context, tenant *plan.Tenant, metric string) (*QuotaDecision, error) {
	// An active override always admits. Usage and ceiling are still
	// reported when available, for observability.
	if tenant.QuotaOverride {
		current, err := q.store.GetUsage(ctx, tenant.ID, metric)
		if err != nil {
			current = 0
		}
		ceiling := q.limits[tenant.Plan][metric]
		return &QuotaDecision{Allowed: true, Current: current, Ceiling: ceiling}, nil
	}

	metrics, ok := q.limits[tenant.Plan]
	if !ok {
		return &QuotaDecision{}, fmt.Errorf("%w: %q", ErrUnknownPlan, tenant.Plan)
	}
	ceiling, ok := metrics[metric]
	if !ok {
		return &QuotaDecision{}, fmt.Errorf("%w: %q for plan %q", ErrUnknownMetric, metric, tenant.Plan)
	}

	current, err := q.store.GetUsage(ctx, tenant.ID, metric)
	if err != nil {
		return &QuotaDecision{Ceiling: ceiling}, fmt.Errorf("usage lookup failed: %w", err)
	}

	if current >= ceiling {
		q.notifier.Emit(EventUsageLimitReached, tenant.ID, map[string]any{
			"metric":    metric,
			"current":   current,
			"ceiling":   ceiling,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return &QuotaDecision{Allowed: false, Current: current, Ceiling: ceiling}, nil
	}

	return &QuotaDecision{Allowed: true, Current: current, Ceiling: ceiling}, nil
}

// IsConfigError distinguishes quota-table misconfiguration from transient
// store failures; both deny, but they are logged differently.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrUnknownPlan) || errors.Is(err, ErrUnknownMetric)
}
