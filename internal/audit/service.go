package audit

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidEvent = errors.New("audit: invalid event")

// Repository is the persistence contract for audit events. Append-only;
// no Update/Delete methods exist by design.
type Repository interface {
	Append(ctx context.Context, e Event) error
	ListByTenant(ctx context.Context, tenantID string, limit int) ([]Event, error)
}

// Service records internal audit information. Callers treat it as
// best-effort: Record logs failures and never returns them.
type Service struct {
	repo   Repository
	logger *slog.Logger
	clock  func() time.Time
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger, clock: time.Now}
}

func (s *Service) Append(ctx context.Context, e Event) error {
	if e.TenantID == "" || e.Type == "" {
		return ErrInvalidEvent
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// Record is the fire-and-forget variant used on request paths.
func (s *Service) Record(ctx context.Context, e Event) {
	if err := s.Append(ctx, e); err != nil {
		s.logger.WarnContext(ctx, "audit append failed",
			slog.String("type", string(e.Type)),
			slog.String("error", err.Error()),
		)
	}
}

// SQLRepo persists audit events in Postgres.
//
// Assumed table:
//   audit_events (id, tenant_id, type, actor_kind, ip_address, agent_id,
//                 message, metadata, created_at)
// INSERT-only; retention handled outside the application.
type SQLRepo struct {
	db *sql.DB
}

func NewSQLRepo(db *sql.DB) *SQLRepo { return &SQLRepo{db: db} }

func (r *SQLRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (id, tenant_id, type, actor_kind, ip_address, agent_id, message, metadata, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID, e.TenantID, e.Type, e.ActorKind, e.IPAddress, e.AgentID, e.Message, e.Metadata, e.CreatedAt)
	return err
}

func (r *SQLRepo) ListByTenant(ctx context.Context, tenantID string, limit int) ([]Event, error) {
	const q = `
SELECT id, tenant_id, type, actor_kind, ip_address, agent_id, message, metadata, created_at
FROM audit_events
WHERE tenant_id = $1
ORDER BY created_at DESC
LIMIT $2
`
	rows, err := r.db.QueryContext(ctx, q, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Type, &e.ActorKind, &e.IPAddress, &e.AgentID, &e.Message, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
