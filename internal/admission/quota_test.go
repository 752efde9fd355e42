package admission

import (
	"context"
	"errors"
	"testing"

	"github.com/brandforge/api/internal/plan"
)

// Mock plan store
type mockPlanStore struct {
	getUsageFunc func(ctx context.Context, tenantID, metric string) (int64, error)
}

func (m *mockPlanStore) GetTenant(ctx context.Context, tenantID string) (*plan.Tenant, error) {
	return nil, plan.ErrTenantNotFound
}

func (m *mockPlanStore) GetUsage(ctx context.Context, tenantID, metric string) (int64, error) {
	if m.getUsageFunc != nil {
		return m.getUsageFunc(ctx, tenantID, metric)
	}
	return 0, nil
}

func (m *mockPlanStore) AddUsage(ctx context.Context, tenantID, metric string, delta int64) (int64, error) {
	return delta, nil
}

func (m *mockPlanStore) ResetUsage(ctx context.Context, tenantID, metric string) error {
	return nil
}

func (m *mockPlanStore) SetOverride(ctx context.Context, tenantID string, active bool) error {
	return nil
}

func (m *mockPlanStore) RecordEvent(ctx context.Context, event *plan.Event) error {
	return nil
}

// Mock notifier
type mockNotifier struct {
	events []string
}

func (m *mockNotifier) Emit(eventType, tenantID string, payload map[string]any) {
	m.events = append(m.events, eventType)
}

func basicTenant() *plan.Tenant {
	return &plan.Tenant{ID: "t-1", Plan: "basic"}
}

func TestQuota_UnderLimit(t *testing.T) {
	store := &mockPlanStore{
		getUsageFunc: func(ctx context.Context, tenantID, metric string) (int64, error) {
			return 99_999, nil
		},
	}
	notifier := &mockNotifier{}
	q := NewQuotaEnforcer(store, notifier, nil)

	decision, err := q.Check(context.Background(), basicTenant(), "ai_tokens")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Allowed {
		t.Error("expected allowed under ceiling")
	}
	if decision.Current != 99_999 || decision.Ceiling != 100_000 {
		t.Errorf("unexpected decision: %+v", decision)
	}
	if len(notifier.events) != 0 {
		t.Errorf("no event expected under ceiling, got %v", notifier.events)
	}
}

func TestQuota_AtCeilingEmitsEventPerCheck(t *testing.T) {
	store := &mockPlanStore{
		getUsageFunc: func(ctx context.Context, tenantID, metric string) (int64, error) {
			return 100_000, nil
		},
	}
	notifier := &mockNotifier{}
	q := NewQuotaEnforcer(store, notifier, nil)

	for i := 0; i < 2; i++ {
		decision, err := q.Check(context.Background(), basicTenant(), "ai_tokens")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if decision.Allowed {
			t.Fatal("expected denied at ceiling")
		}
	}

	if len(notifier.events) != 2 {
		t.Fatalf("expected exactly one event per check, got %d", len(notifier.events))
	}
	if notifier.events[0] != EventUsageLimitReached {
		t.Errorf("unexpected event type %q", notifier.events[0])
	}
}

func TestQuota_OverridePrecedence(t *testing.T) {
	store := &mockPlanStore{
		getUsageFunc: func(ctx context.Context, tenantID, metric string) (int64, error) {
			return 250_000, nil
		},
	}
	notifier := &mockNotifier{}
	q := NewQuotaEnforcer(store, notifier, nil)

	tenant := basicTenant()
	tenant.QuotaOverride = true

	decision, err := q.Check(context.Background(), tenant, "ai_tokens")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Allowed {
		t.Error("active override must always admit")
	}
	if decision.Current != 250_000 {
		t.Errorf("override path should still report usage, got %d", decision.Current)
	}
	if len(notifier.events) != 0 {
		t.Errorf("override path must not emit overage events, got %v", notifier.events)
	}

	// Deactivating the override while over the ceiling blocks again.
	tenant.QuotaOverride = false
	decision, err = q.Check(context.Background(), tenant, "ai_tokens")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Allowed {
		t.Error("expected denied once override is inactive")
	}
}

func TestQuota_UnknownPlanIsConfigError(t *testing.T) {
	q := NewQuotaEnforcer(&mockPlanStore{}, &mockNotifier{}, nil)

	tenant := &plan.Tenant{ID: "t-1", Plan: "legacy-gold"}
	decision, err := q.Check(context.Background(), tenant, "ai_tokens")
	if !errors.Is(err, ErrUnknownPlan) {
		t.Fatalf("expected ErrUnknownPlan, got %v", err)
	}
	if decision.Allowed {
		t.Error("config errors must fail closed")
	}
	if !IsConfigError(err) {
		t.Error("expected IsConfigError to report true")
	}
}

func TestQuota_UnknownMetricIsConfigError(t *testing.T) {
	q := NewQuotaEnforcer(&mockPlanStore{}, &mockNotifier{}, nil)

	_, err := q.Check(context.Background(), basicTenant(), "holograms")
	if !errors.Is(err, ErrUnknownMetric) {
		t.Fatalf("expected ErrUnknownMetric, got %v", err)
	}
}

func TestQuota_StoreErrorFailsClosed(t *testing.T) {
	storeErr := errors.New("connection reset")
	store := &mockPlanStore{
		getUsageFunc: func(ctx context.Context, tenantID, metric string) (int64, error) {
			return 0, storeErr
		},
	}
	q := NewQuotaEnforcer(store, &mockNotifier{}, nil)

	decision, err := q.Check(context.Background(), basicTenant(), "ai_tokens")
	if !errors.Is(err, storeErr) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
	if decision.Allowed {
		t.Error("transient store errors must fail closed for quota")
	}
	if IsConfigError(err) {
		t.Error("transient error must not classify as config error")
	}
}

func TestQuota_OverrideSurvivesUsageLookupFailure(t *testing.T) {
	store := &mockPlanStore{
		getUsageFunc: func(ctx context.Context, tenantID, metric string) (int64, error) {
			return 0, errors.New("timeout")
		},
	}
	q := NewQuotaEnforcer(store, &mockNotifier{}, nil)

	tenant := basicTenant()
	tenant.QuotaOverride = true

	decision, err := q.Check(context.Background(), tenant, "ai_tokens")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Allowed {
		t.Error("an overridden tenant is never blocked by quota enforcement")
	}
}
