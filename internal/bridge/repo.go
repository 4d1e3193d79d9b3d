package bridge

import (
	"context"
	"database/sql"
	"time"
)

// SQLRouteRepo persists forwarding rules in Postgres.
//
// Assumed table:
//   bridge_routes (id, tenant_id, agent_id, local_number, caller_pattern,
//                  target, active, created_at)
type SQLRouteRepo struct {
	db *sql.DB
}

func NewSQLRouteRepo(db *sql.DB) *SQLRouteRepo { return &SQLRouteRepo{db: db} }

func (r *SQLRouteRepo) Insert(ctx context.Context, rt Route) error {
	const q = `
INSERT INTO bridge_routes (id, tenant_id, agent_id, local_number, caller_pattern, target, active, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`
	_, err := r.db.ExecContext(ctx, q,
		rt.ID, rt.TenantID, rt.AgentID, rt.LocalNumber, rt.CallerPattern, rt.Target, rt.Active, rt.CreatedAt)
	return err
}

func (r *SQLRouteRepo) ListActiveByLocalNumber(ctx context.Context, localNumber string) ([]Route, error) {
	const q = `
SELECT id, tenant_id, agent_id, local_number, caller_pattern, target, active, created_at
FROM bridge_routes
WHERE local_number = $1 AND active = TRUE
ORDER BY created_at DESC
`
	return r.scanRoutes(ctx, q, localNumber)
}

func (r *SQLRouteRepo) ListByTenant(ctx context.Context, tenantID string) ([]Route, error) {
	const q = `
SELECT id, tenant_id, agent_id, local_number, caller_pattern, target, active, created_at
FROM bridge_routes
WHERE tenant_id = $1
ORDER BY created_at DESC
`
	return r.scanRoutes(ctx, q, tenantID)
}

func (r *SQLRouteRepo) scanRoutes(ctx context.Context, q string, arg any) ([]Route, error) {
	rows, err := r.db.QueryContext(ctx, q, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Route
	for rows.Next() {
		var rt Route
		if err := rows.Scan(&rt.ID, &rt.TenantID, &rt.AgentID, &rt.LocalNumber, &rt.CallerPattern, &rt.Target, &rt.Active, &rt.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rt)
	}
	return out, rows.Err()
}

func (r *SQLRouteRepo) Deactivate(ctx context.Context, id string) error {
	const q = `UPDATE bridge_routes SET active = FALSE WHERE id = $1`
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// SQLRecordRepo persists bridged-call records in Postgres.
//
// Assumed table:
//   bridge_call_records (id, route_id, tenant_id, from_addr, to_addr,
//                        target, provider_call_id, linked_call_id, status,
//                        duration, created_at, updated_at)
type SQLRecordRepo struct {
	db *sql.DB
}

func NewSQLRecordRepo(db *sql.DB) *SQLRecordRepo { return &SQLRecordRepo{db: db} }

func (r *SQLRecordRepo) Insert(ctx context.Context, rec CallRecord) error {
	const q = `
INSERT INTO bridge_call_records (id, route_id, tenant_id, from_addr, to_addr, target, provider_call_id, linked_call_id, status, duration, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
`
	_, err := r.db.ExecContext(ctx, q,
		rec.ID, rec.RouteID, rec.TenantID, rec.From, rec.To, rec.Target,
		rec.ProviderCallID, rec.LinkedCallID, rec.Status, rec.DurationSeconds,
		rec.CreatedAt, rec.UpdatedAt)
	return err
}

func (r *SQLRecordRepo) FindByProviderCallID(ctx context.Context, providerCallID string) (CallRecord, error) {
	const q = `
SELECT id, route_id, tenant_id, from_addr, to_addr, target, provider_call_id, linked_call_id, status, duration, created_at, updated_at
FROM bridge_call_records
WHERE provider_call_id = $1
`
	var rec CallRecord
	err := r.db.QueryRowContext(ctx, q, providerCallID).Scan(
		&rec.ID, &rec.RouteID, &rec.TenantID, &rec.From, &rec.To, &rec.Target,
		&rec.ProviderCallID, &rec.LinkedCallID, &rec.Status, &rec.DurationSeconds,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return CallRecord{}, ErrNotFound
	}
	return rec, err
}

func (r *SQLRecordRepo) UpdateStatus(ctx context.Context, providerCallID string, status CallStatus, durationSeconds int, linkedCallID string, at time.Time) error {
	const q = `
UPDATE bridge_call_records
SET status = $2,
    duration = GREATEST(duration, $3),
    linked_call_id = COALESCE(NULLIF($4, ''), linked_call_id),
    updated_at = $5
WHERE provider_call_id = $1
`
	res, err := r.db.ExecContext(ctx, q, providerCallID, status, durationSeconds, linkedCallID, at)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
