package deadletter

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("deadletter: not found")
	ErrInvalidArgument = errors.New("deadletter: invalid argument")
)

// Store is the persistence contract for dead letters.
type Store interface {
	Enqueue(ctx context.Context, e Entry) error
	// ListPending returns the agent's pending entries oldest-first (FIFO).
	ListPending(ctx context.Context, agentID string) ([]Entry, error)
	Acknowledge(ctx context.Context, id string, at time.Time) error
	CountPending(ctx context.Context, agentID string) (int64, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// SQLStore persists dead letters in Postgres.
//
// Assumed table:
//   dead_letters (id, agent_id, tenant_id, channel, direction, reason,
//                 from_addr, to_addr, body, external_ref, status,
//                 created_at, acknowledged_at)
// with an index on (agent_id, status, created_at).
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

func (s *SQLStore) Enqueue(ctx context.Context, e Entry) error {
	if e.ID == "" || e.AgentID == "" || e.TenantID == "" {
		return ErrInvalidArgument
	}
	// ON CONFLICT DO NOTHING keeps webhook retries from stacking duplicates
	// when the caller supplies a stable id; duplicates are not fatal either way.
	const q = `
INSERT INTO dead_letters (
  id, agent_id, tenant_id, channel, direction, reason, from_addr, to_addr, body, external_ref, status, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)
ON CONFLICT (id) DO NOTHING
`
	_, err := s.db.ExecContext(ctx, q,
		e.ID,
		e.AgentID,
		e.TenantID,
		e.Channel,
		e.Direction,
		e.Reason,
		e.FromAddr,
		e.ToAddr,
		e.Body,
		e.ExternalRef,
		StatusPending,
		e.CreatedAt,
	)
	return err
}

func (s *SQLStore) ListPending(ctx context.Context, agentID string) ([]Entry, error) {
	const q = `
SELECT id, agent_id, tenant_id, channel, direction, reason, from_addr, to_addr, body, external_ref, status, created_at, acknowledged_at
FROM dead_letters
WHERE agent_id = $1 AND status = $2
ORDER BY created_at
`
	rows, err := s.db.QueryContext(ctx, q, agentID, StatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(
			&e.ID,
			&e.AgentID,
			&e.TenantID,
			&e.Channel,
			&e.Direction,
			&e.Reason,
			&e.FromAddr,
			&e.ToAddr,
			&e.Body,
			&e.ExternalRef,
			&e.Status,
			&e.CreatedAt,
			&e.AcknowledgedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLStore) Acknowledge(ctx context.Context, id string, at time.Time) error {
	const q = `
UPDATE dead_letters SET status = $2, acknowledged_at = $3
WHERE id = $1 AND status = $4
`
	res, err := s.db.ExecContext(ctx, q, id, StatusAcknowledged, at, StatusPending)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) CountPending(ctx context.Context, agentID string) (int64, error) {
	const q = `SELECT COUNT(*) FROM dead_letters WHERE agent_id = $1 AND status = $2`
	var n int64
	err := s.db.QueryRowContext(ctx, q, agentID, StatusPending).Scan(&n)
	return n, err
}

func (s *SQLStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `DELETE FROM dead_letters WHERE created_at < $1`
	res, err := s.db.ExecContext(ctx, q, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
