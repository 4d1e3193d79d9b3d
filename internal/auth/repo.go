package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/95percent-ai/butt-dial-sub003/pkg/utils"
)

// SQLRepo persists credentials in Postgres.
//
// Assumed table:
//   credentials (id, kind, tenant_id, agent_id, label,
//                lookup_hash UNIQUE, verify_hash, salt,
//                revoked_at, last_used_at, created_at)
type SQLRepo struct {
	db *sql.DB
}

func NewSQLRepo(db *sql.DB) *SQLRepo { return &SQLRepo{db: db} }

func (r *SQLRepo) Insert(ctx context.Context, c Credential) error {
	const q = `
INSERT INTO credentials (
  id, kind, tenant_id, agent_id, label, lookup_hash, verify_hash, salt, revoked_at, last_used_at, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
`
	_, err := r.db.ExecContext(ctx, q,
		c.ID,
		c.Kind,
		c.TenantID,
		c.AgentID,
		c.Label,
		c.LookupHash,
		c.VerifyHash,
		c.Salt,
		c.RevokedAt,
		c.LastUsedAt,
		c.CreatedAt,
	)
	return err
}

func (r *SQLRepo) FindByLookupHash(ctx context.Context, lookupHash string) (Credential, bool, error) {
	const q = `
SELECT id, kind, tenant_id, agent_id, label, lookup_hash, verify_hash, salt, revoked_at, last_used_at, created_at
FROM credentials
WHERE lookup_hash = $1
LIMIT 1
`
	var c Credential
	err := r.db.QueryRowContext(ctx, q, lookupHash).Scan(
		&c.ID,
		&c.Kind,
		&c.TenantID,
		&c.AgentID,
		&c.Label,
		&c.LookupHash,
		&c.VerifyHash,
		&c.Salt,
		&c.RevokedAt,
		&c.LastUsedAt,
		&c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Credential{}, false, nil
		}
		return Credential{}, false, err
	}
	return c, true, nil
}

func (r *SQLRepo) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	const q = `UPDATE credentials SET last_used_at = $2 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, q, id, at)
	return err
}

func (r *SQLRepo) Revoke(ctx context.Context, id string, at time.Time) error {
	const q = `UPDATE credentials SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`
	_, err := r.db.ExecContext(ctx, q, id, at)
	return err
}

func (r *SQLRepo) ListByAgent(ctx context.Context, tenantID, agentID string) ([]Credential, error) {
	const q = `
SELECT id, kind, tenant_id, agent_id, label, lookup_hash, verify_hash, salt, revoked_at, last_used_at, created_at
FROM credentials
WHERE tenant_id = $1 AND agent_id = $2
ORDER BY created_at
`
	rows, err := r.db.QueryContext(ctx, q, tenantID, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Credential
	for rows.Next() {
		var c Credential
		if err := rows.Scan(
			&c.ID,
			&c.Kind,
			&c.TenantID,
			&c.AgentID,
			&c.Label,
			&c.LookupHash,
			&c.VerifyHash,
			&c.Salt,
			&c.RevokedAt,
			&c.LastUsedAt,
			&c.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *SQLRepo) RevokeByAgent(ctx context.Context, tenantID, agentID string, at time.Time) error {
	const q = `
UPDATE credentials SET revoked_at = $3
WHERE tenant_id = $1 AND agent_id = $2 AND revoked_at IS NULL
`
	_, err := r.db.ExecContext(ctx, q, tenantID, agentID, at)
	return err
}

// Rotate swaps the agent's credentials in one transaction: a crash between
// revoke and insert would otherwise leave the agent with nothing to
// authenticate with.
func (r *SQLRepo) Rotate(ctx context.Context, tenantID, agentID string, c Credential) error {
	return utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		const revoke = `
UPDATE credentials SET revoked_at = $3
WHERE tenant_id = $1 AND agent_id = $2 AND revoked_at IS NULL
`
		if _, err := tx.ExecContext(ctx, revoke, tenantID, agentID, c.CreatedAt); err != nil {
			return err
		}
		const insert = `
INSERT INTO credentials (
  id, kind, tenant_id, agent_id, label, lookup_hash, verify_hash, salt, revoked_at, last_used_at, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
`
		_, err := tx.ExecContext(ctx, insert,
			c.ID,
			c.Kind,
			c.TenantID,
			c.AgentID,
			c.Label,
			c.LookupHash,
			c.VerifyHash,
			c.Salt,
			c.RevokedAt,
			c.LastUsedAt,
			c.CreatedAt,
		)
		return err
	})
}
