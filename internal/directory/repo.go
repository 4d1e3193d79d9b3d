package directory

import (
	"context"
	"database/sql"
	"errors"
)

var (
	ErrNotFound        = errors.New("directory: not found")
	ErrInvalidArgument = errors.New("directory: invalid argument")
)

type TenantRepo interface {
	Insert(ctx context.Context, t Tenant) error
	Find(ctx context.Context, id string) (Tenant, error)
}

type AgentRepo interface {
	Insert(ctx context.Context, a Agent) error
	Find(ctx context.Context, id string) (Agent, error)
	FindByPhone(ctx context.Context, phone string) (Agent, error)
	FindByEmail(ctx context.Context, email string) (Agent, error)
	Update(ctx context.Context, a Agent) error
	ListByTenant(ctx context.Context, tenantID string) ([]Agent, error)
}

// SQLTenantRepo persists tenants in Postgres.
type SQLTenantRepo struct {
	db *sql.DB
}

func NewSQLTenantRepo(db *sql.DB) *SQLTenantRepo { return &SQLTenantRepo{db: db} }

func (r *SQLTenantRepo) Insert(ctx context.Context, t Tenant) error {
	const q = `INSERT INTO tenants (id, name, active, created_at) VALUES ($1,$2,$3,$4)`
	_, err := r.db.ExecContext(ctx, q, t.ID, t.Name, t.Active, t.CreatedAt)
	return err
}

func (r *SQLTenantRepo) Find(ctx context.Context, id string) (Tenant, error) {
	const q = `SELECT id, name, active, created_at FROM tenants WHERE id = $1`
	var t Tenant
	err := r.db.QueryRowContext(ctx, q, id).Scan(&t.ID, &t.Name, &t.Active, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return Tenant{}, ErrNotFound
	}
	return t, err
}

// SQLAgentRepo persists agents in Postgres.
//
// Assumed table:
//   agents (id, tenant_id, name, phone_number, email_address,
//           cap_phone, cap_voice_ai, cap_email, cap_whatsapp,
//           system_prompt, language, status, created_at, updated_at)
// with unique partial indexes on phone_number and email_address for
// active rows.
type SQLAgentRepo struct {
	db *sql.DB
}

func NewSQLAgentRepo(db *sql.DB) *SQLAgentRepo { return &SQLAgentRepo{db: db} }

const agentColumns = `id, tenant_id, name, phone_number, email_address,
cap_phone, cap_voice_ai, cap_email, cap_whatsapp,
system_prompt, language, status, created_at, updated_at`

func (r *SQLAgentRepo) Insert(ctx context.Context, a Agent) error {
	const q = `
INSERT INTO agents (` + agentColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
`
	_, err := r.db.ExecContext(ctx, q,
		a.ID, a.TenantID, a.Name, a.PhoneNumber, a.EmailAddress,
		a.Capabilities.Phone, a.Capabilities.VoiceAI, a.Capabilities.Email, a.Capabilities.WhatsApp,
		a.SystemPrompt, a.Language, a.Status, a.CreatedAt, a.UpdatedAt)
	return err
}

func (r *SQLAgentRepo) scanAgent(row *sql.Row) (Agent, error) {
	var a Agent
	err := row.Scan(
		&a.ID, &a.TenantID, &a.Name, &a.PhoneNumber, &a.EmailAddress,
		&a.Capabilities.Phone, &a.Capabilities.VoiceAI, &a.Capabilities.Email, &a.Capabilities.WhatsApp,
		&a.SystemPrompt, &a.Language, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return Agent{}, ErrNotFound
	}
	return a, err
}

func (r *SQLAgentRepo) Find(ctx context.Context, id string) (Agent, error) {
	const q = `SELECT ` + agentColumns + ` FROM agents WHERE id = $1`
	return r.scanAgent(r.db.QueryRowContext(ctx, q, id))
}

func (r *SQLAgentRepo) FindByPhone(ctx context.Context, phone string) (Agent, error) {
	const q = `SELECT ` + agentColumns + ` FROM agents WHERE phone_number = $1 AND status = 'active'`
	return r.scanAgent(r.db.QueryRowContext(ctx, q, phone))
}

func (r *SQLAgentRepo) FindByEmail(ctx context.Context, email string) (Agent, error) {
	const q = `SELECT ` + agentColumns + ` FROM agents WHERE email_address = $1 AND status = 'active'`
	return r.scanAgent(r.db.QueryRowContext(ctx, q, email))
}

func (r *SQLAgentRepo) Update(ctx context.Context, a Agent) error {
	const q = `
UPDATE agents SET
  name = $2, phone_number = $3, email_address = $4,
  cap_phone = $5, cap_voice_ai = $6, cap_email = $7, cap_whatsapp = $8,
  system_prompt = $9, language = $10, status = $11, updated_at = $12
WHERE id = $1
`
	res, err := r.db.ExecContext(ctx, q,
		a.ID, a.Name, a.PhoneNumber, a.EmailAddress,
		a.Capabilities.Phone, a.Capabilities.VoiceAI, a.Capabilities.Email, a.Capabilities.WhatsApp,
		a.SystemPrompt, a.Language, a.Status, a.UpdatedAt)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLAgentRepo) ListByTenant(ctx context.Context, tenantID string) ([]Agent, error) {
	const q = `SELECT ` + agentColumns + ` FROM agents WHERE tenant_id = $1 ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, q, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Agent
	for rows.Next() {
		var a Agent
		if err := rows.Scan(
			&a.ID, &a.TenantID, &a.Name, &a.PhoneNumber, &a.EmailAddress,
			&a.Capabilities.Phone, &a.Capabilities.VoiceAI, &a.Capabilities.Email, &a.Capabilities.WhatsApp,
			&a.SystemPrompt, &a.Language, &a.Status, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
