package quota

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("quota: not found")
	ErrInvalidArgument = errors.New("quota: invalid argument")
)

// Ledger is the append-only usage store. Counters are always derived from
// range queries over these rows, never maintained separately; one source of
// truth beats a fast drifting cache. Each check is O(events-in-window) on
// the store side, which an index on (agent_id, created_at) keeps cheap.
type Ledger interface {
	Append(ctx context.Context, rec UsageRecord) error

	// BackfillCost sets the final provider-reported cost once.
	BackfillCost(ctx context.Context, id string, costMinor int64, currency string) error

	CountSince(ctx context.Context, agentID string, since time.Time) (int64, error)
	SumCostSince(ctx context.Context, agentID string, since time.Time) (int64, error)
	CountToTargetSince(ctx context.Context, agentID, target string, since time.Time) (int64, error)

	ListSince(ctx context.Context, agentID string, since time.Time) ([]UsageRecord, error)
}

// LimitsRepo resolves effective limits: agent-specific row first, tenant
// default as fallback.
type LimitsRepo interface {
	EffectiveLimits(ctx context.Context, tenantID, agentID string) (Limits, error)
	UpsertAgentLimits(ctx context.Context, l Limits) error
	UpsertTenantDefaults(ctx context.Context, l Limits) error
}

// SQLLedger stores usage in Postgres.
//
// Assumed table:
//   usage_records (id, agent_id, tenant_id, action, channel, target,
//                  cost_minor, currency, external_ref, backfilled_at,
//                  created_at)
// with an index on (agent_id, created_at) and (agent_id, target, created_at).
type SQLLedger struct {
	db *sql.DB
}

func NewSQLLedger(db *sql.DB) *SQLLedger { return &SQLLedger{db: db} }

func (l *SQLLedger) Append(ctx context.Context, rec UsageRecord) error {
	if rec.ID == "" || rec.AgentID == "" || rec.TenantID == "" {
		return ErrInvalidArgument
	}
	const q = `
INSERT INTO usage_records (
  id, agent_id, tenant_id, action, channel, target, cost_minor, currency, external_ref, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
`
	_, err := l.db.ExecContext(ctx, q,
		rec.ID,
		rec.AgentID,
		rec.TenantID,
		rec.Action,
		rec.Channel,
		rec.Target,
		rec.CostMinor,
		rec.Currency,
		rec.ExternalRef,
		rec.CreatedAt,
	)
	return err
}

func (l *SQLLedger) BackfillCost(ctx context.Context, id string, costMinor int64, currency string) error {
	// The backfilled_at marker admits exactly one update per row,
	// including rows appended with a nonzero estimated cost.
	const q = `
UPDATE usage_records SET cost_minor = $2, currency = $3, backfilled_at = NOW()
WHERE id = $1 AND backfilled_at IS NULL
`
	res, err := l.db.ExecContext(ctx, q, id, costMinor, currency)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (l *SQLLedger) CountSince(ctx context.Context, agentID string, since time.Time) (int64, error) {
	const q = `SELECT COUNT(*) FROM usage_records WHERE agent_id = $1 AND created_at >= $2`
	var n int64
	err := l.db.QueryRowContext(ctx, q, agentID, since).Scan(&n)
	return n, err
}

func (l *SQLLedger) SumCostSince(ctx context.Context, agentID string, since time.Time) (int64, error) {
	const q = `SELECT COALESCE(SUM(cost_minor), 0) FROM usage_records WHERE agent_id = $1 AND created_at >= $2`
	var n int64
	err := l.db.QueryRowContext(ctx, q, agentID, since).Scan(&n)
	return n, err
}

func (l *SQLLedger) CountToTargetSince(ctx context.Context, agentID, target string, since time.Time) (int64, error) {
	const q = `
SELECT COUNT(*) FROM usage_records
WHERE agent_id = $1 AND target = $2 AND created_at >= $3
`
	var n int64
	err := l.db.QueryRowContext(ctx, q, agentID, target, since).Scan(&n)
	return n, err
}

func (l *SQLLedger) ListSince(ctx context.Context, agentID string, since time.Time) ([]UsageRecord, error) {
	const q = `
SELECT id, agent_id, tenant_id, action, channel, target, cost_minor, currency, external_ref, backfilled_at, created_at
FROM usage_records
WHERE agent_id = $1 AND created_at >= $2
ORDER BY created_at
`
	rows, err := l.db.QueryContext(ctx, q, agentID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UsageRecord
	for rows.Next() {
		var r UsageRecord
		if err := rows.Scan(
			&r.ID,
			&r.AgentID,
			&r.TenantID,
			&r.Action,
			&r.Channel,
			&r.Target,
			&r.CostMinor,
			&r.Currency,
			&r.ExternalRef,
			&r.BackfilledAt,
			&r.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SQLLimitsRepo stores limits in Postgres.
//
// Assumed table:
//   quota_limits (tenant_id, agent_id NULLABLE-as-empty, max_actions_per_minute, ...,
//                 updated_at, PRIMARY KEY (tenant_id, agent_id))
// The tenant default row uses agent_id = ''.
type SQLLimitsRepo struct {
	db *sql.DB
}

func NewSQLLimitsRepo(db *sql.DB) *SQLLimitsRepo { return &SQLLimitsRepo{db: db} }

const limitsColumns = `
tenant_id, agent_id, max_actions_per_minute, max_actions_per_hour, max_actions_per_day,
max_spend_per_day_minor, max_spend_per_month_minor, max_per_target_per_day, updated_at
`

func (r *SQLLimitsRepo) EffectiveLimits(ctx context.Context, tenantID, agentID string) (Limits, error) {
	// Agent row wins; tenant default (agent_id = '') is the fallback.
	const q = `
SELECT ` + limitsColumns + `
FROM quota_limits
WHERE tenant_id = $1 AND agent_id IN ($2, '')
ORDER BY agent_id DESC
LIMIT 1
`
	var l Limits
	err := r.db.QueryRowContext(ctx, q, tenantID, agentID).Scan(
		&l.TenantID,
		&l.AgentID,
		&l.MaxActionsPerMinute,
		&l.MaxActionsPerHour,
		&l.MaxActionsPerDay,
		&l.MaxSpendPerDayMinor,
		&l.MaxSpendPerMonthMinor,
		&l.MaxPerTargetPerDay,
		&l.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Limits{TenantID: tenantID}, nil
		}
		return Limits{}, err
	}
	return l, nil
}

func (r *SQLLimitsRepo) UpsertAgentLimits(ctx context.Context, l Limits) error {
	if l.TenantID == "" || l.AgentID == "" {
		return ErrInvalidArgument
	}
	return r.upsert(ctx, l)
}

func (r *SQLLimitsRepo) UpsertTenantDefaults(ctx context.Context, l Limits) error {
	if l.TenantID == "" {
		return ErrInvalidArgument
	}
	l.AgentID = ""
	return r.upsert(ctx, l)
}

func (r *SQLLimitsRepo) upsert(ctx context.Context, l Limits) error {
	const q = `
INSERT INTO quota_limits (` + limitsColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (tenant_id, agent_id)
DO UPDATE SET max_actions_per_minute = EXCLUDED.max_actions_per_minute,
              max_actions_per_hour = EXCLUDED.max_actions_per_hour,
              max_actions_per_day = EXCLUDED.max_actions_per_day,
              max_spend_per_day_minor = EXCLUDED.max_spend_per_day_minor,
              max_spend_per_month_minor = EXCLUDED.max_spend_per_month_minor,
              max_per_target_per_day = EXCLUDED.max_per_target_per_day,
              updated_at = EXCLUDED.updated_at
`
	_, err := r.db.ExecContext(ctx, q,
		l.TenantID,
		l.AgentID,
		l.MaxActionsPerMinute,
		l.MaxActionsPerHour,
		l.MaxActionsPerDay,
		l.MaxSpendPerDayMinor,
		l.MaxSpendPerMonthMinor,
		l.MaxPerTargetPerDay,
		l.UpdatedAt,
	)
	return err
}
