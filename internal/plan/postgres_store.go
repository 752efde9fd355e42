package plan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetTenant(ctx context.Context, tenantID string) (*Tenant, error) {
	query := `
		SELECT id, name, plan, trial_active, quota_override, created_at
		FROM tenants
		WHERE id = $1
	`

	var t Tenant
	err := s.db.QueryRow(ctx, query, tenantID).Scan(
		&t.ID, &t.Name, &t.Plan, &t.TrialActive, &t.QuotaOverride, &t.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	return &t, nil
}

func (s *PostgresStore) GetUsage(ctx context.Context, tenantID, metric string) (int64, error) {
	query := `
		SELECT value FROM usage_counters
		WHERE tenant_id = $1 AND metric = $2
	`

	var value int64
	err := s.db.QueryRow(ctx, query, tenantID, metric).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get usage: %w", err)
	}

	return value, nil
}

func (s *PostgresStore) AddUsage(ctx context.Context, tenantID, metric string, delta int64) (int64, error) {
	// Single upsert so concurrent metered operations never lose an
	// increment to a read-then-write race.
	query := `
		INSERT INTO usage_counters (tenant_id, metric, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, metric)
		DO UPDATE SET value = usage_counters.value + EXCLUDED.value
		RETURNING value
	`

	var value int64
	err := s.db.QueryRow(ctx, query, tenantID, metric, delta).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("failed to add usage: %w", err)
	}

	return value, nil
}

func (s *PostgresStore) ResetUsage(ctx context.Context, tenantID, metric string) error {
	query := `UPDATE usage_counters SET value = 0 WHERE tenant_id = $1 AND metric = $2`
	if _, err := s.db.Exec(ctx, query, tenantID, metric); err != nil {
		return fmt.Errorf("failed to reset usage: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetOverride(ctx context.Context, tenantID string, active bool) error {
	query := `UPDATE tenants SET quota_override = $2 WHERE id = $1`
	tag, err := s.db.Exec(ctx, query, tenantID, active)
	if err != nil {
		return fmt.Errorf("failed to set override: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrTenantNotFound
	}

	return nil
}

func (s *PostgresStore) RecordEvent(ctx context.Context, event *Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode event payload: %w", err)
	}

	query := `
		INSERT INTO events (id, type, tenant_id, payload)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`

	err = s.db.QueryRow(ctx, query, event.ID, event.Type, event.TenantID, payload).Scan(&event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}

	return nil
}
